// Package ws provides the WebSocket transport node: a streaming node that
// owns a socket to a configured endpoint, runs a background receive loop
// bound to the streaming cancellation scope, and hands every inbound frame to
// a node-specific message handler.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// State is the transport connection state.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateOpen
	StateCloseSent
	StateCloseReceived
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateCloseSent:
		return "close-sent"
	case StateCloseReceived:
		return "close-received"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotConnected is returned by Send when the transport is not open.
var ErrNotConnected = errors.New("ws: not connected")

// MessageHandler interprets one complete inbound frame. The data slice is
// owned by the handler; the transport never reuses it.
type MessageHandler func(pctx *pipeline.ProcessingContext, data []byte, kind websocket.MessageType)

// TransportNode is a streaming node that owns one WebSocket. Connect and
// Disconnect are serialized by a per-node lock; on stream start the node
// connects (if not already open) and launches a receive loop bound to the
// streaming scope. The loop exits on a close frame or a socket error and
// never reconnects on its own — the node stays re-connectable via the next
// Connect or stream start.
type TransportNode struct {
	pipeline.StreamingNode

	endpoint string
	resolver EndpointResolver
	dialOpts *websocket.DialOptions
	formats  []audio.Format

	// OnMessage is the node-specific frame interpreter, assigned by the
	// embedding node before the first stream start.
	OnMessage MessageHandler

	connMu sync.Mutex
	conn   *websocket.Conn
	state  State

	sendMu  sync.Mutex
	pending []byte
}

var (
	_ pipeline.Node          = (*TransportNode)(nil)
	_ pipeline.Streamer      = (*TransportNode)(nil)
	_ pipeline.AudioReceiver = (*TransportNode)(nil)
)

// EndpointResolver produces the endpoint URI for one connect attempt, e.g.
// by exchanging credentials with a control-plane service for a join URL.
type EndpointResolver func(ctx context.Context) (string, error)

// Option configures a TransportNode.
type Option func(*TransportNode)

// WithEndpoint sets the endpoint URI the node dials.
func WithEndpoint(uri string) Option {
	return func(n *TransportNode) { n.endpoint = uri }
}

// WithEndpointResolver resolves the endpoint per connect attempt instead of
// using a fixed URI.
func WithEndpointResolver(resolve EndpointResolver) Option {
	return func(n *TransportNode) { n.resolver = resolve }
}

// WithDialOptions sets the options passed to every dial attempt.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(n *TransportNode) { n.dialOpts = opts }
}

// WithSupportedFormats restricts the audio formats the node accepts for
// outward sends. Empty means accept-any.
func WithSupportedFormats(formats ...audio.Format) Option {
	return func(n *TransportNode) { n.formats = formats }
}

// NewTransportNode constructs a transport node. The zero handler discards
// inbound frames.
func NewTransportNode(id, name string, opts ...Option) *TransportNode {
	return NewTransportNodeOfType("ws-transport", id, name, opts...)
}

// NewTransportNodeOfType constructs a transport node registered under a
// custom type key, for nodes that embed the transport.
func NewTransportNodeOfType(nodeType, id, name string, opts ...Option) *TransportNode {
	n := &TransportNode{
		StreamingNode: pipeline.NewStreamingNode(nodeType, id, name, pipeline.CapNone),
	}
	for _, o := range opts {
		o(n)
	}
	n.StartHook = n.onStartStreaming
	n.StopHook = n.onStopStreaming
	return n
}

// Endpoint returns the configured endpoint URI.
func (n *TransportNode) Endpoint() string { return n.endpoint }

// SetEndpoint replaces the endpoint used by the next connect attempt.
func (n *TransportNode) SetEndpoint(uri string) {
	n.connMu.Lock()
	defer n.connMu.Unlock()
	n.endpoint = uri
}

// State returns the current transport state.
func (n *TransportNode) State() State {
	n.connMu.Lock()
	defer n.connMu.Unlock()
	return n.state
}

// setState transitions the transport state and publishes a state-changed
// event carrying the previous and current states. Callers hold connMu.
func (n *TransportNode) setState(next State) {
	prev := n.state
	if prev == next {
		return
	}
	n.state = next
	n.Emit(pipeline.Event{
		Kind:   pipeline.EventTransportState,
		Detail: fmt.Sprintf("%s -> %s", prev, next),
	})
}

// Connect dials the configured endpoint. A no-op when already open. Any
// existing socket in a non-none state is discarded and replaced by a fresh
// one before the new attempt.
func (n *TransportNode) Connect(ctx context.Context) error {
	n.connMu.Lock()
	defer n.connMu.Unlock()
	return n.connectLocked(ctx)
}

func (n *TransportNode) connectLocked(ctx context.Context) error {
	if n.state == StateOpen {
		return nil
	}
	if n.conn != nil {
		n.conn.Close(websocket.StatusGoingAway, "superseded")
		n.conn = nil
		n.setState(StateNone)
	}
	endpoint := n.endpoint
	if n.resolver != nil {
		resolved, err := n.resolver(ctx)
		if err != nil {
			n.SetLastError(err)
			return fmt.Errorf("ws: resolve endpoint: %w", err)
		}
		endpoint = resolved
		n.endpoint = resolved
	}
	if endpoint == "" {
		return fmt.Errorf("ws: node %s: no endpoint configured", n.ID())
	}

	n.setState(StateConnecting)
	conn, _, err := websocket.Dial(ctx, endpoint, n.dialOpts)
	if err != nil {
		n.setState(StateNone)
		n.SetLastError(err)
		return fmt.Errorf("ws: dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(-1)
	n.conn = conn
	n.setState(StateOpen)
	n.SetLastError(nil)
	return nil
}

// Disconnect performs a normal-closure close handshake if the transport is
// open. A no-op otherwise.
func (n *TransportNode) Disconnect() error {
	n.connMu.Lock()
	defer n.connMu.Unlock()
	return n.disconnectLocked(websocket.StatusNormalClosure, "closing")
}

func (n *TransportNode) disconnectLocked(status websocket.StatusCode, reason string) error {
	if n.conn == nil {
		return nil
	}
	if n.state == StateOpen {
		n.setState(StateCloseSent)
	}
	err := n.conn.Close(status, reason)
	n.conn = nil
	n.setState(StateClosed)
	return err
}

// Send writes data to the socket. Frames marked non-final are buffered and
// flushed together with the final frame as one message. Fails with
// [ErrNotConnected] when the transport is not open.
func (n *TransportNode) Send(ctx context.Context, data []byte, kind websocket.MessageType, final bool) error {
	n.connMu.Lock()
	conn := n.conn
	open := n.state == StateOpen
	n.connMu.Unlock()
	if !open || conn == nil {
		return fmt.Errorf("%w: node %s in state %s", ErrNotConnected, n.ID(), n.State())
	}

	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	if !final {
		n.pending = append(n.pending, data...)
		return nil
	}
	payload := data
	if len(n.pending) > 0 {
		payload = append(n.pending, data...)
		n.pending = nil
	}
	if err := conn.Write(ctx, kind, payload); err != nil {
		n.SetLastError(err)
		return fmt.Errorf("ws: send: %w", err)
	}
	n.MarkActivity()
	return nil
}

// SupportedFormats lists the formats accepted for outward audio sends.
func (n *TransportNode) SupportedFormats() []audio.Format { return n.formats }

// AcceptAudio forwards the buffer's raw bytes over the socket as one binary
// message.
func (n *TransportNode) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	if err := n.Send(pctx.Context(), buf.Data, websocket.MessageBinary, true); err != nil {
		return false, err
	}
	return true, nil
}

// onStartStreaming connects if necessary and launches the receive loop.
func (n *TransportNode) onStartStreaming(pctx *pipeline.ProcessingContext) error {
	if err := n.Connect(pctx.Context()); err != nil {
		return err
	}
	go n.receiveLoop(pctx)
	return nil
}

func (n *TransportNode) onStopStreaming() {
	if err := n.Disconnect(); err != nil {
		slog.Debug("ws transport close failed", "node", n.ID(), "error", err)
	}
}

// receiveLoop reads frames until the socket closes, the streaming scope is
// cancelled, or a socket error occurs. Frame data is copied out of the
// library's receive buffer before it is handed on.
func (n *TransportNode) receiveLoop(pctx *pipeline.ProcessingContext) {
	n.connMu.Lock()
	conn := n.conn
	n.connMu.Unlock()
	if conn == nil {
		return
	}

	for {
		kind, data, err := conn.Read(pctx.Context())
		if err != nil {
			if pctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) != -1 {
				// Peer initiated the close handshake.
				n.connMu.Lock()
				if n.state == StateOpen {
					n.setState(StateCloseReceived)
				}
				n.disconnectLocked(websocket.StatusNormalClosure, "peer closed")
				n.connMu.Unlock()
				return
			}
			n.SetLastError(err)
			n.SetDiagnostic("last_transport_error", err.Error())
			slog.Warn("ws receive loop failed", "node", n.ID(), "error", err)
			n.connMu.Lock()
			n.disconnectLocked(websocket.StatusInternalError, "receive failed")
			n.connMu.Unlock()
			return
		}

		frame := make([]byte, len(data))
		copy(frame, data)
		n.MarkActivity()
		n.Emit(pipeline.Event{
			Kind:   pipeline.EventMessageReceived,
			Detail: fmt.Sprintf("%d bytes", len(frame)),
		})
		if n.OnMessage != nil {
			n.OnMessage(pctx, frame, kind)
		}
	}
}

// Shutdown stops streaming (idempotent) and releases the socket.
func (n *TransportNode) Shutdown(ctx context.Context) error {
	if err := n.StopStreaming(); err != nil {
		return err
	}
	return n.Disconnect()
}
