package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogEntry is one line of the per-pass diagnostic log carried by a
// [ProcessingContext].
type LogEntry struct {
	Time    time.Time
	Message string
}

// ProcessingContext is the per-invocation scope that flows through one
// propagation pass. It carries a session-persistent key/value store, a
// call-local transient store, the cancellation signal, and an append-only
// diagnostic log.
//
// Exactly one context flows through one pass. Nodes may stash per-pass
// scratch state in the transient store (e.g. a source identifier for the
// mixer); the pipeline clears it at the start of every pass so it cannot leak
// across passes. All methods are safe for concurrent use.
type ProcessingContext struct {
	sessionID string
	ctx       context.Context

	mu        sync.Mutex
	session   map[string]any
	transient map[string]any
	log       []LogEntry
}

// NewProcessingContext creates a context bound to ctx for cancellation.
// An empty sessionID is replaced with a generated one.
func NewProcessingContext(ctx context.Context, sessionID string) *ProcessingContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &ProcessingContext{
		sessionID: sessionID,
		ctx:       ctx,
		session:   map[string]any{},
		transient: map[string]any{},
	}
}

// SessionID returns the opaque session identifier.
func (p *ProcessingContext) SessionID() string { return p.sessionID }

// Context returns the cancellation context this pass is bound to.
func (p *ProcessingContext) Context() context.Context { return p.ctx }

// Err returns the cancellation cause, or nil while the pass may continue.
func (p *ProcessingContext) Err() error { return p.ctx.Err() }

// SessionValue reads a key from the session-persistent store.
func (p *ProcessingContext) SessionValue(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.session[key]
	return v, ok
}

// SetSessionValue writes a key that survives across passes in the same
// logical session.
func (p *ProcessingContext) SetSessionValue(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session[key] = value
}

// TransientValue reads a key from the call-local store.
func (p *ProcessingContext) TransientValue(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.transient[key]
	return v, ok
}

// SetTransientValue writes per-pass scratch state. The pipeline wipes the
// transient store at the start of each propagation pass.
func (p *ProcessingContext) SetTransientValue(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transient[key] = value
}

// resetTransient discards all call-local state. Called by the pipeline at the
// start of every pass.
func (p *ProcessingContext) resetTransient() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transient = map[string]any{}
}

// Logf appends a formatted line to the diagnostic log.
func (p *ProcessingContext) Logf(format string, args ...any) {
	entry := LogEntry{Time: time.Now(), Message: fmt.Sprintf(format, args...)}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, entry)
}

// LogEntries returns a snapshot of the diagnostic log in append order.
func (p *ProcessingContext) LogEntries() []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LogEntry, len(p.log))
	copy(out, p.log)
	return out
}
