// Package pipeline implements the voxgraph processing graph: nodes joined by
// directed, priority-ordered connections, executed one propagation pass at a
// time. An external driver pushes an audio buffer into the graph's entry
// points; each node processes it and forwards the result over its enabled
// outbound connections until the exit points are reached, at which point the
// pipeline collects their latest outputs.
//
// Nodes are capability-polymorphic: a node declares which of the
// [CapAudioInput], [CapAudioOutput], and [CapStreaming] roles it plays in the
// graph, and separately implements the [AudioReceiver], [AudioEmitter],
// [TextReceiver], and [Streamer] interfaces that connections dispatch on.
// Declared capabilities decide entry/exit membership; interface satisfaction
// decides what a connection may deliver.
package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/voxgraph/voxgraph/pkg/audio"
)

// Capability is the declared role set of a node within its pipeline.
type Capability uint8

const (
	// CapNone declares no graph role. Such a node is reached only through
	// connections, never driven or pulled directly by the pipeline.
	CapNone Capability = 0

	// CapAudioInput marks a node that accepts externally supplied audio — an
	// entry point the pipeline drives directly during Execute.
	CapAudioInput Capability = 1 << iota

	// CapAudioOutput marks a node that yields processed audio out of the
	// graph — an exit point the pipeline pulls after every pass.
	CapAudioOutput

	// CapStreaming marks a node that maintains a long-lived transport rather
	// than processing one-shot calls.
	CapStreaming
)

// Has reports whether c includes every capability in want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// String returns a "+"-joined list of capability names.
func (c Capability) String() string {
	var parts []string
	if c.Has(CapAudioInput) {
		parts = append(parts, "audio-input")
	}
	if c.Has(CapAudioOutput) {
		parts = append(parts, "audio-output")
	}
	if c.Has(CapStreaming) {
		parts = append(parts, "streaming")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Status is the small typed state the graph machinery reads back from a node.
// Free-form diagnostics live in the node's diagnostics map instead, which
// core logic never reads.
type Status struct {
	// LastError is the most recent failure message, or empty.
	LastError string

	// LastActivity is when the node last accepted or produced data.
	LastActivity time.Time
}

// Node is the unit of work in a pipeline. Concrete nodes embed [BaseNode],
// which provides everything except processing behaviour, and override the
// lifecycle hooks they need.
type Node interface {
	// ID is unique within the owning pipeline.
	ID() string

	// Name is the human-readable display name.
	Name() string

	// Type is the registry type key this node was constructed under.
	Type() string

	// Capabilities returns the declared role set.
	Capabilities() Capability

	// Enabled reports whether the node participates in routing.
	Enabled() bool
	SetEnabled(bool)

	// Config returns a copy of the node's free-form configuration.
	Config() map[string]any
	ConfigValue(key string) (any, bool)
	SetConfigValue(key string, value any)

	// Inbound and Outbound return the node's connection lists in attach order.
	Inbound() []*Connection
	Outbound() []*Connection

	// Initialize is invoked exactly once by [Pipeline.Initialize].
	Initialize(ctx context.Context) error

	// Shutdown is invoked exactly once by [Pipeline.Shutdown]. Streaming and
	// sockets are torn down before this is called.
	Shutdown(ctx context.Context) error

	// Validate performs a node-level self-check, delegated to by
	// [Connection.Validate].
	Validate(ctx context.Context) error

	// Status returns the typed status snapshot.
	Status() Status

	base() *BaseNode
}

// AudioReceiver is implemented by nodes that can accept an audio buffer —
// from the pipeline when driven as an entry point, or from an inbound
// connection.
type AudioReceiver interface {
	Node

	// AcceptAudio processes buf within the given pass. It reports whether the
	// node considered the buffer delivered (for a processor, whether at least
	// one downstream transfer succeeded).
	AcceptAudio(pctx *ProcessingContext, buf audio.Buffer) (bool, error)

	// SupportedFormats lists the formats the node accepts. An empty list
	// means accept-any.
	SupportedFormats() []audio.Format
}

// AudioEmitter is implemented by nodes that produce audio: connection sources
// and exit points.
type AudioEmitter interface {
	Node

	// OutputFormat declares the format of emitted audio. A zero format means
	// the node cannot state one in advance.
	OutputFormat() audio.Format

	// PullOutput consumes and returns the node's most recent output, or nil
	// when none has been produced since the last pull.
	PullOutput() *audio.Buffer
}

// TextReceiver is implemented by nodes that accept text payloads (e.g.
// transcripts flowing into a response generator). Non-audio delivery is
// node-specific: connections only hand text to targets implementing this.
type TextReceiver interface {
	Node

	// AcceptText processes one text payload within the given pass.
	AcceptText(pctx *ProcessingContext, text string) (bool, error)
}

// Streamer is the streaming lifecycle implemented by [StreamingNode].
type Streamer interface {
	Node

	// StartStreaming transitions the node from idle to streaming. Calling it
	// while already streaming is a no-op.
	StartStreaming(ctx context.Context) error

	// StopStreaming transitions back to idle, cancelling the streaming scope.
	// Calling it while idle is a no-op.
	StopStreaming() error

	// Streaming reports whether the node is currently streaming.
	Streaming() bool
}

// Resettable is implemented by nodes with buffered state that
// [Pipeline.Reset] should clear. Configuration (gains, channel setups) is
// expected to survive a reset; only buffered data is dropped.
type Resettable interface {
	Reset()
}

// BaseNode supplies identity, configuration, connection bookkeeping, status,
// and propagation to every concrete node. Embed it and override the
// lifecycle methods as needed.
type BaseNode struct {
	id       string
	name     string
	nodeType string
	caps     Capability

	mu       sync.RWMutex
	enabled  bool
	config   map[string]any
	inbound  []*Connection
	outbound []*Connection
	status   Status
	diag     map[string]string

	pipelineID string
	publish    func(Event)
}

// NewBaseNode constructs an enabled BaseNode with the given registry type
// key, identity, and declared capabilities.
func NewBaseNode(nodeType, id, name string, caps Capability) BaseNode {
	return BaseNode{
		id:       id,
		name:     name,
		nodeType: nodeType,
		caps:     caps,
		enabled:  true,
		config:   map[string]any{},
		diag:     map[string]string{},
	}
}

func (b *BaseNode) ID() string   { return b.id }
func (b *BaseNode) Name() string { return b.name }
func (b *BaseNode) Type() string { return b.nodeType }

// Capabilities returns the declared role set.
func (b *BaseNode) Capabilities() Capability { return b.caps }

// SetCapabilities overrides the declared role set. Must be called before the
// node is added to a pipeline; entry/exit membership is fixed at add time.
func (b *BaseNode) SetCapabilities(caps Capability) { b.caps = caps }

func (b *BaseNode) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *BaseNode) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

func (b *BaseNode) Config() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.config))
	for k, v := range b.config {
		out[k] = v
	}
	return out
}

func (b *BaseNode) ConfigValue(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.config[key]
	return v, ok
}

func (b *BaseNode) SetConfigValue(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config[key] = value
}

func (b *BaseNode) Inbound() []*Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.inbound)
}

func (b *BaseNode) Outbound() []*Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.outbound)
}

// Initialize is a no-op by default.
func (b *BaseNode) Initialize(ctx context.Context) error { return nil }

// Shutdown is a no-op by default.
func (b *BaseNode) Shutdown(ctx context.Context) error { return nil }

// Validate is a no-op by default.
func (b *BaseNode) Validate(ctx context.Context) error { return nil }

// Status returns a snapshot of the typed status struct.
func (b *BaseNode) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetLastError records err in the typed status. A nil err clears it.
func (b *BaseNode) SetLastError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.status.LastError = ""
		return
	}
	b.status.LastError = err.Error()
}

// MarkActivity stamps the status with the current time.
func (b *BaseNode) MarkActivity() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.LastActivity = time.Now()
}

// SetDiagnostic records an opaque diagnostic value. Core logic never reads
// these back; they exist for operators and tests.
func (b *BaseNode) SetDiagnostic(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diag[key] = value
}

// Diagnostics returns a copy of the diagnostics map.
func (b *BaseNode) Diagnostics() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.diag))
	for k, v := range b.diag {
		out[k] = v
	}
	return out
}

// PropagateToOutputs forwards payload over every enabled outbound connection
// in ascending priority order. The node's output counts as delivered when at
// least one transfer succeeds — fan-out is non-exclusive, so one failing
// branch does not block the others. Branch errors are logged to the pass
// context; an error is returned only when every branch failed with one.
func (b *BaseNode) PropagateToOutputs(pctx *ProcessingContext, payload any) (bool, error) {
	conns := b.Outbound()
	conns = slices.DeleteFunc(conns, func(c *Connection) bool { return !c.Enabled() })
	slices.SortStableFunc(conns, func(a, c *Connection) int { return a.Priority() - c.Priority() })

	delivered := false
	var errs []error
	for _, conn := range conns {
		ok, err := conn.TransferData(pctx, payload)
		if err != nil {
			pctx.Logf("node %s: transfer over %s failed: %v", b.id, conn.ID(), err)
			errs = append(errs, err)
			continue
		}
		if ok {
			delivered = true
		}
	}
	if !delivered && len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return delivered, nil
}

// Emit publishes an event on the owning pipeline's feed, stamping the
// pipeline and node ids. A node outside any pipeline emits nothing.
func (b *BaseNode) Emit(e Event) {
	b.emit(e)
}

// emit publishes an event on the owning pipeline's feed. A node outside any
// pipeline emits nothing.
func (b *BaseNode) emit(e Event) {
	b.mu.RLock()
	publish := b.publish
	e.PipelineID = b.pipelineID
	b.mu.RUnlock()
	if publish == nil {
		return
	}
	if e.NodeID == "" {
		e.NodeID = b.id
	}
	publish(e)
}

// bind attaches the node to a pipeline's event feed.
func (b *BaseNode) bind(pipelineID string, publish func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipelineID = pipelineID
	b.publish = publish
}

// unbind detaches the node from its pipeline.
func (b *BaseNode) unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipelineID = ""
	b.publish = nil
}

func (b *BaseNode) attachOutbound(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = append(b.outbound, c)
}

func (b *BaseNode) attachInbound(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = append(b.inbound, c)
}

func (b *BaseNode) detach(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = slices.DeleteFunc(b.outbound, func(x *Connection) bool { return x == c })
	b.inbound = slices.DeleteFunc(b.inbound, func(x *Connection) bool { return x == c })
}

// inboundCount returns the number of inbound connections. Used for entry
// ordering: fewer inbound connections means a more "primary" entry point.
func (b *BaseNode) inboundCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.inbound)
}

func (b *BaseNode) base() *BaseNode { return b }
