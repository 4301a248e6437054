// Package synthesize provides a streaming text-to-speech node built on the
// WebSocket transport: text goes out as JSON frames, synthesized PCM comes
// back as binary frames and is exposed as exit-point output.
package synthesize

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/node/ws"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// request is the outbound synthesis frame.
type request struct {
	Text string `json:"text"`
}

// Node streams text to a synthesis service and collects the returned PCM.
// Inbound binary frames are wrapped in the node's declared output format,
// retained for the pipeline's exit pull, and propagated downstream.
type Node struct {
	*ws.TransportNode
	format audio.Format

	mu     sync.Mutex
	latest *audio.Buffer
}

var (
	_ pipeline.Node         = (*Node)(nil)
	_ pipeline.Streamer     = (*Node)(nil)
	_ pipeline.TextReceiver = (*Node)(nil)
	_ pipeline.AudioEmitter = (*Node)(nil)
	_ pipeline.Resettable   = (*Node)(nil)
)

// NewNode constructs a synthesis node producing audio in the given format.
func NewNode(id, name string, format audio.Format, opts ...ws.Option) *Node {
	n := &Node{format: format}
	n.TransportNode = ws.NewTransportNodeOfType("synthesize", id, name, opts...)
	n.SetCapabilities(n.Capabilities() | pipeline.CapAudioOutput)
	n.OnMessage = n.handleFrame
	return n
}

// AcceptText sends one synthesis request over the socket.
func (n *Node) AcceptText(pctx *pipeline.ProcessingContext, text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	payload, err := json.Marshal(request{Text: text})
	if err != nil {
		return false, fmt.Errorf("synthesize: marshal: %w", err)
	}
	if err := n.Send(pctx.Context(), payload, websocket.MessageText, true); err != nil {
		return false, err
	}
	return true, nil
}

// handleFrame treats binary frames as synthesized PCM in the node's declared
// format. Text frames are service chatter and are dropped.
func (n *Node) handleFrame(pctx *pipeline.ProcessingContext, data []byte, kind websocket.MessageType) {
	if kind != websocket.MessageBinary || len(data) == 0 {
		return
	}
	buf := audio.NewBuffer(data, n.format)

	n.mu.Lock()
	n.latest = &buf
	n.mu.Unlock()

	if len(n.Outbound()) == 0 {
		return
	}
	if _, err := n.PropagateToOutputs(pctx, buf); err != nil {
		pctx.Logf("synthesize %s: deliver audio: %v", n.ID(), err)
	}
}

// OutputFormat returns the declared synthesis output format.
func (n *Node) OutputFormat() audio.Format { return n.format }

// PullOutput consumes the most recently synthesized buffer.
func (n *Node) PullOutput() *audio.Buffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

// Reset drops buffered synthesis output.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = nil
}
