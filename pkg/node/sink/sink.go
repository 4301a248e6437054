// Package sink provides the latest-output exit node: it retains the most
// recent buffer delivered to it for the pipeline to pull after each pass.
package sink

import (
	"sync"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// Node retains the most recently accepted buffer as the graph's output.
// Pulling consumes the buffer, so a pass without fresh delivery yields
// nothing.
type Node struct {
	pipeline.BaseNode
	formats []audio.Format

	mu     sync.Mutex
	latest *audio.Buffer
}

var (
	_ pipeline.Node          = (*Node)(nil)
	_ pipeline.AudioReceiver = (*Node)(nil)
	_ pipeline.AudioEmitter  = (*Node)(nil)
	_ pipeline.Resettable    = (*Node)(nil)
)

// NewNode constructs a sink. With no formats given, the sink accepts any.
func NewNode(id, name string, formats ...audio.Format) *Node {
	return &Node{
		BaseNode: pipeline.NewBaseNode("sink", id, name, pipeline.CapAudioOutput),
		formats:  formats,
	}
}

func (n *Node) SupportedFormats() []audio.Format { return n.formats }

// OutputFormat reports the retained buffer's format, or the first accepted
// format when nothing is buffered.
func (n *Node) OutputFormat() audio.Format {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.latest != nil {
		return n.latest.Format
	}
	if len(n.formats) > 0 {
		return n.formats[0]
	}
	return audio.Format{}
}

// AcceptAudio retains buf, replacing any previous buffer, and forwards it to
// any outbound connections (a sink may tap through).
func (n *Node) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	n.MarkActivity()
	n.mu.Lock()
	n.latest = &buf
	n.mu.Unlock()
	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return n.PropagateToOutputs(pctx, buf)
}

// PullOutput consumes the retained buffer.
func (n *Node) PullOutput() *audio.Buffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

// Reset drops the retained buffer.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = nil
}
