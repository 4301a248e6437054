package pipeline

import (
	"sync"
	"time"
)

// EventKind discriminates the notifications published on a pipeline's event
// feed.
type EventKind int

const (
	// EventExecutionStarted marks the beginning of a propagation pass.
	EventExecutionStarted EventKind = iota

	// EventExecutionCompleted marks a pass that ran to completion.
	EventExecutionCompleted

	// EventExecutionCancelled marks a pass aborted by its context. Cancellation
	// is a normal outcome, not a fault.
	EventExecutionCancelled

	// EventDataTransferred fires when a connection delivers a payload.
	EventDataTransferred

	// EventNodeProcessing fires when the pipeline drives an entry point.
	EventNodeProcessing

	// EventStreamingStarted fires when a streaming node leaves the idle state.
	EventStreamingStarted

	// EventStreamingStopped fires when a streaming node returns to idle.
	EventStreamingStopped

	// EventTransportState fires when a transport node's socket changes state.
	// Detail carries "previous -> current".
	EventTransportState

	// EventMessageReceived fires for every frame a transport node receives.
	EventMessageReceived
)

// String returns the snake_case name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventExecutionStarted:
		return "execution_started"
	case EventExecutionCompleted:
		return "execution_completed"
	case EventExecutionCancelled:
		return "execution_cancelled"
	case EventDataTransferred:
		return "data_transferred"
	case EventNodeProcessing:
		return "node_processing"
	case EventStreamingStarted:
		return "streaming_started"
	case EventStreamingStopped:
		return "streaming_stopped"
	case EventTransportState:
		return "transport_state"
	case EventMessageReceived:
		return "message_received"
	default:
		return "unknown"
	}
}

// Event is one notification on the pipeline's outbound feed. Observability
// tooling drains these; core algorithms never read them back.
type Event struct {
	Kind         EventKind
	PipelineID   string
	NodeID       string
	ConnectionID string

	// Detail is a short human-readable supplement, e.g. a transport state
	// transition or a frame size.
	Detail string

	// Elapsed is set on execution_completed and execution_cancelled events.
	Elapsed time.Duration

	Time time.Time
}

// eventFeed fans events out to any number of subscriber channels. Publishing
// never blocks: a subscriber that falls behind loses events rather than
// stalling the graph.
type eventFeed struct {
	mu   sync.Mutex
	subs []chan Event
}

// subscribe registers a new subscriber channel with the given buffer size.
func (f *eventFeed) subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, ch)
	return ch
}

// publish delivers e to every subscriber without blocking.
func (f *eventFeed) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// close closes all subscriber channels and drops them.
func (f *eventFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}
