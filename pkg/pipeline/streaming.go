package pipeline

import (
	"context"
	"sync"
)

// StreamingNode layers the Idle -> Streaming -> Idle lifecycle onto
// [BaseNode]. Concrete streaming nodes embed it and assign the hooks in
// their constructor:
//
//   - StartHook runs inside StartStreaming with a [ProcessingContext] bound
//     to the freshly allocated cancellation scope. Background work launched by
//     the hook must watch that context.
//   - StopHook runs inside StopStreaming after the scope is cancelled.
//
// Start and stop are idempotent: re-entrant calls are no-ops and publish no
// events. Shutdown paths rely on this when they call stop unconditionally.
type StreamingNode struct {
	BaseNode

	streamMu  sync.Mutex
	streaming bool
	cancel    context.CancelFunc

	// StartHook and StopHook are set by the embedding node before the first
	// StartStreaming call. Either may be nil.
	StartHook func(pctx *ProcessingContext) error
	StopHook  func()
}

// NewStreamingNode constructs the mixin with the streaming capability added
// to caps.
func NewStreamingNode(nodeType, id, name string, caps Capability) StreamingNode {
	return StreamingNode{BaseNode: NewBaseNode(nodeType, id, name, caps|CapStreaming)}
}

// StartStreaming flips the node from idle to streaming: it allocates a fresh
// cancellation scope derived from ctx, invokes StartHook with a context bound
// to that scope, and publishes exactly one streaming-started event. Calling
// it while already streaming is a no-op.
//
// If StartHook fails, the scope is disposed and the node stays idle.
func (s *StreamingNode) StartStreaming(ctx context.Context) error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if s.streaming {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	scope, cancel := context.WithCancel(ctx)
	pctx := NewProcessingContext(scope, "")

	if s.StartHook != nil {
		if err := s.StartHook(pctx); err != nil {
			cancel()
			s.SetLastError(err)
			return err
		}
	}

	s.streaming = true
	s.cancel = cancel
	s.emit(Event{Kind: EventStreamingStarted})
	return nil
}

// StopStreaming flips the node back to idle: it cancels the current scope,
// invokes StopHook, disposes the scope, and publishes exactly one
// streaming-stopped event. Calling it while idle is a no-op.
func (s *StreamingNode) StopStreaming() error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if !s.streaming {
		return nil
	}

	s.cancel()
	s.cancel = nil
	s.streaming = false

	if s.StopHook != nil {
		s.StopHook()
	}
	s.emit(Event{Kind: EventStreamingStopped})
	return nil
}

// Streaming reports whether the node is currently in the streaming state.
func (s *StreamingNode) Streaming() bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.streaming
}
