package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/voxgraph/voxgraph/pkg/audio"
)

// Pipeline owns a node/connection graph and executes one routing pass at a
// time. Entry points (declared audio-input nodes) and exit points (declared
// audio-output nodes) are maintained incrementally as nodes are added and
// removed — never recomputed by a full scan during execution.
//
// Lifecycle: created empty -> nodes/connections added -> [Pipeline.Initialize]
// once -> zero or more [Pipeline.Execute] passes -> [Pipeline.Shutdown] once.
type Pipeline struct {
	id   string
	name string

	mu        sync.RWMutex
	nodes     map[string]Node
	nodeOrder []string
	conns     map[string]*Connection
	connOrder []string
	entries   []string // ids of declared entry points, registration order
	exits     []string // ids of declared exit points, registration order

	// execSem grants at most one in-flight Execute pass; waiters block until
	// release, honouring their context.
	execSem *semaphore.Weighted
	running atomic.Bool

	feed eventFeed
}

// New creates an empty pipeline. An empty id is replaced with a generated one.
func New(id, name string) *Pipeline {
	if id == "" {
		id = uuid.NewString()
	}
	return &Pipeline{
		id:      id,
		name:    name,
		nodes:   map[string]Node{},
		conns:   map[string]*Connection{},
		execSem: semaphore.NewWeighted(1),
	}
}

func (p *Pipeline) ID() string   { return p.id }
func (p *Pipeline) Name() string { return p.name }

// Running reports whether a propagation pass is currently in flight.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Subscribe registers a new subscriber on the pipeline's event feed. A
// subscriber that falls behind loses events rather than stalling execution.
func (p *Pipeline) Subscribe(buffer int) <-chan Event {
	return p.feed.subscribe(buffer)
}

// AddNode registers n in the graph. Ownership transfers to the pipeline: the
// node is bound to its event feed and, if its declared capabilities match,
// appended to the entry/exit lists. Fails with a [GraphError] on a duplicate
// id, leaving the graph unchanged.
func (p *Pipeline) AddNode(n Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := n.ID()
	if _, exists := p.nodes[id]; exists {
		return &GraphError{PipelineID: p.id, Op: "add node", ID: id, Reason: "duplicate id"}
	}

	p.nodes[id] = n
	p.nodeOrder = append(p.nodeOrder, id)
	n.base().bind(p.id, p.feed.publish)

	caps := n.Capabilities()
	if caps.Has(CapAudioInput) {
		if _, ok := n.(AudioReceiver); ok {
			p.entries = append(p.entries, id)
		}
	}
	if caps.Has(CapAudioOutput) {
		if _, ok := n.(AudioEmitter); ok {
			p.exits = append(p.exits, id)
		}
	}
	return nil
}

// RemoveNode releases the node with the given id: every connection touching
// it (both directions) is removed first, then the node is dropped from the
// graph and the entry/exit lists. Fails with a [GraphError] on an unknown id.
func (p *Pipeline) RemoveNode(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, exists := p.nodes[id]
	if !exists {
		return &GraphError{PipelineID: p.id, Op: "remove node", ID: id, Reason: "unknown id"}
	}

	for _, connID := range slices.Clone(p.connOrder) {
		c := p.conns[connID]
		if c.source.ID() == id || c.target.ID() == id {
			p.removeConnectionLocked(connID)
		}
	}

	delete(p.nodes, id)
	p.nodeOrder = slices.DeleteFunc(p.nodeOrder, func(x string) bool { return x == id })
	p.entries = slices.DeleteFunc(p.entries, func(x string) bool { return x == id })
	p.exits = slices.DeleteFunc(p.exits, func(x string) bool { return x == id })
	n.base().unbind()
	return nil
}

// ConnectOption configures a connection at creation time.
type ConnectOption func(*Connection)

// WithConnectionID fixes the connection id instead of generating one.
func WithConnectionID(id string) ConnectOption {
	return func(c *Connection) { c.id = id }
}

// WithLabel sets the human-readable edge label.
func WithLabel(label string) ConnectOption {
	return func(c *Connection) { c.label = label }
}

// WithPriority sets the fan-out priority; lower values fire earlier.
func WithPriority(priority int) ConnectOption {
	return func(c *Connection) { c.priority = priority }
}

// WithKind overrides the connection kind (default [KindAudio]).
func WithKind(kind string) ConnectOption {
	return func(c *Connection) { c.kind = kind }
}

// WithConnectionConfig merges entries into the connection's configuration.
func WithConnectionConfig(config map[string]any) ConnectOption {
	return func(c *Connection) {
		for k, v := range config {
			c.config[k] = v
		}
	}
}

// Connect creates a directed edge from sourceID to targetID and registers it.
// The connection id is generated unless fixed via [WithConnectionID]; a
// duplicate or unknown id fails with a [GraphError] and leaves the graph
// unchanged. Connections are not validated here — validation runs during
// [Pipeline.Initialize] or explicitly via [Connection.Validate].
func (p *Pipeline) Connect(sourceID, targetID string, opts ...ConnectOption) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	source, ok := p.nodes[sourceID]
	if !ok {
		return nil, &GraphError{PipelineID: p.id, Op: "connect", ID: sourceID, Reason: "unknown source id"}
	}
	target, ok := p.nodes[targetID]
	if !ok {
		return nil, &GraphError{PipelineID: p.id, Op: "connect", ID: targetID, Reason: "unknown target id"}
	}

	c := &Connection{
		source:  source,
		target:  target,
		kind:    KindAudio,
		enabled: true,
		config:  map[string]any{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if _, exists := p.conns[c.id]; exists {
		return nil, &GraphError{PipelineID: p.id, Op: "connect", ID: c.id, Reason: "duplicate id"}
	}

	p.conns[c.id] = c
	p.connOrder = append(p.connOrder, c.id)
	c.bind(p.id, p.feed.publish)
	source.base().attachOutbound(c)
	target.base().attachInbound(c)
	return c, nil
}

// RemoveConnection drops the connection with the given id from the graph and
// from both endpoints' lists. Fails with a [GraphError] on an unknown id.
func (p *Pipeline) RemoveConnection(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.conns[id]; !exists {
		return &GraphError{PipelineID: p.id, Op: "remove connection", ID: id, Reason: "unknown id"}
	}
	p.removeConnectionLocked(id)
	return nil
}

func (p *Pipeline) removeConnectionLocked(id string) {
	c := p.conns[id]
	c.source.base().detach(c)
	c.target.base().detach(c)
	delete(p.conns, id)
	p.connOrder = slices.DeleteFunc(p.connOrder, func(x string) bool { return x == id })
}

// Node returns the node registered under id.
func (p *Pipeline) Node(id string) (Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[id]
	return n, ok
}

// Nodes returns all nodes in registration order.
func (p *Pipeline) Nodes() []Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Node, 0, len(p.nodeOrder))
	for _, id := range p.nodeOrder {
		out = append(out, p.nodes[id])
	}
	return out
}

// Connection returns the connection registered under id.
func (p *Pipeline) Connection(id string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[id]
	return c, ok
}

// Connections returns all connections in registration order.
func (p *Pipeline) Connections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(p.connOrder))
	for _, id := range p.connOrder {
		out = append(out, p.conns[id])
	}
	return out
}

// EntryPoints returns the registered entry points in registration order.
func (p *Pipeline) EntryPoints() []AudioReceiver {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AudioReceiver, 0, len(p.entries))
	for _, id := range p.entries {
		out = append(out, p.nodes[id].(AudioReceiver))
	}
	return out
}

// ExitPoints returns the registered exit points in registration order.
func (p *Pipeline) ExitPoints() []AudioEmitter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AudioEmitter, 0, len(p.exits))
	for _, id := range p.exits {
		out = append(out, p.nodes[id].(AudioEmitter))
	}
	return out
}

// Initialize runs each node's Initialize hook once and validates every
// connection. Errors are collected and joined so one bad node does not hide
// another.
func (p *Pipeline) Initialize(ctx context.Context) error {
	var errs []error
	for _, n := range p.Nodes() {
		if err := n.Initialize(ctx); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.ID(), err))
		}
	}
	for _, c := range p.Connections() {
		if err := c.Validate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown tears the graph down: streaming nodes are stopped first (stop is
// idempotent), then every node's Shutdown hook runs, then the event feed is
// closed. Errors are joined.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	var errs []error
	for _, n := range p.Nodes() {
		if s, ok := n.(Streamer); ok {
			if err := s.StopStreaming(); err != nil {
				errs = append(errs, fmt.Errorf("node %s: stop streaming: %w", n.ID(), err))
			}
		}
		if err := n.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.ID(), err))
		}
	}
	p.feed.close()
	return errors.Join(errs...)
}

// Reset clears buffered state on every node implementing [Resettable].
// Configured gains and channel setups survive; only buffered audio is
// dropped.
func (p *Pipeline) Reset() {
	for _, n := range p.Nodes() {
		if r, ok := n.(Resettable); ok {
			r.Reset()
		}
	}
}

// Execute runs one propagation pass: it drives every enabled entry point
// with input sequentially (fewest inbound connections first), then pulls the
// most recent output from every enabled exit point in registration order.
//
// Only one pass is in flight at a time; concurrent callers block until the
// guard is released. A nil pctx gets a fresh [ProcessingContext]; a supplied
// one has its transient store wiped so per-pass scratch state cannot leak.
//
// Cancellation via ctx (or the supplied context's signal) is a normal
// outcome: the remaining entry points are skipped and an empty, non-nil
// result list is returned without error. Every other failure during the pass
// is wrapped in an [ExecutionError]; the guard is released unconditionally.
func (p *Pipeline) Execute(ctx context.Context, input audio.Buffer, pctx *ProcessingContext) ([]audio.Buffer, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.execSem.Acquire(ctx, 1); err != nil {
		// Cancelled while waiting for the guard: treat as a cancelled pass.
		p.feed.publish(Event{Kind: EventExecutionCancelled, PipelineID: p.id})
		return []audio.Buffer{}, nil
	}
	p.running.Store(true)
	defer func() {
		p.running.Store(false)
		p.execSem.Release(1)
	}()

	if pctx == nil {
		pctx = NewProcessingContext(ctx, "")
	} else {
		pctx.resetTransient()
	}

	started := time.Now()
	p.feed.publish(Event{Kind: EventExecutionStarted, PipelineID: p.id})

	results, err := p.runPass(ctx, input, pctx, started)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// runPass performs steps 3-5 of the execution algorithm with the guard held.
func (p *Pipeline) runPass(ctx context.Context, input audio.Buffer, pctx *ProcessingContext, started time.Time) ([]audio.Buffer, error) {
	entries := p.EntryPoints()
	entries = slices.DeleteFunc(entries, func(n AudioReceiver) bool { return !n.Enabled() })
	if len(entries) == 0 {
		return nil, &ExecutionError{PipelineID: p.id, Err: ErrNoEntryPoints}
	}

	// Fewer existing inbound connections means a more "primary" entry point.
	// The sort is stable, so equal counts keep registration order — the rule
	// exists for deterministic arrival order at downstream mixers, nothing
	// more.
	slices.SortStableFunc(entries, func(a, b AudioReceiver) int {
		return a.base().inboundCount() - b.base().inboundCount()
	})

	for _, entry := range entries {
		if p.cancelled(ctx, pctx) {
			return p.cancelPass(started), nil
		}
		p.feed.publish(Event{Kind: EventNodeProcessing, PipelineID: p.id, NodeID: entry.ID()})
		if _, err := entry.AcceptAudio(pctx, input); err != nil {
			p.feed.publish(Event{
				Kind:       EventExecutionCompleted,
				PipelineID: p.id,
				Detail:     "failed",
				Elapsed:    time.Since(started),
			})
			return nil, &ExecutionError{PipelineID: p.id, Err: fmt.Errorf("entry point %s: %w", entry.ID(), err)}
		}
	}

	if p.cancelled(ctx, pctx) {
		return p.cancelPass(started), nil
	}

	var results []audio.Buffer
	for _, exit := range p.ExitPoints() {
		if !exit.Enabled() {
			continue
		}
		if out := exit.PullOutput(); out != nil {
			results = append(results, *out)
		}
	}

	p.feed.publish(Event{
		Kind:       EventExecutionCompleted,
		PipelineID: p.id,
		Elapsed:    time.Since(started),
	})
	return results, nil
}

func (p *Pipeline) cancelled(ctx context.Context, pctx *ProcessingContext) bool {
	return ctx.Err() != nil || pctx.Err() != nil
}

// cancelPass publishes the cancellation event and returns the empty (but
// non-nil) result list that marks a cancelled pass.
func (p *Pipeline) cancelPass(started time.Time) []audio.Buffer {
	slog.Debug("pipeline execution cancelled", "pipeline", p.id)
	p.feed.publish(Event{
		Kind:       EventExecutionCancelled,
		PipelineID: p.id,
		Elapsed:    time.Since(started),
	})
	return []audio.Buffer{}
}

// ExecuteMultiple runs one pass per input buffer, in order, reusing pctx
// across passes (session state persists, transient state is wiped per pass).
// The per-pass results are concatenated. A cancelled pass stops the batch and
// returns what has been collected so far without error; any other pass
// failure aborts the batch with that pass's error.
func (p *Pipeline) ExecuteMultiple(ctx context.Context, inputs []audio.Buffer, pctx *ProcessingContext) ([]audio.Buffer, error) {
	if pctx == nil {
		pctx = NewProcessingContext(ctx, "")
	}
	var results []audio.Buffer
	for _, input := range inputs {
		out, err := p.Execute(ctx, input, pctx)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil || pctx.Err() != nil {
			break
		}
		results = append(results, out...)
	}
	return results, nil
}
