// Package source provides the externally-fed entry node: the pipeline drives
// it with input audio, which it forwards unchanged into the graph.
package source

import (
	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// Node accepts externally supplied audio and forwards it downstream. It
// declares an output format so audio connections leaving it can validate.
type Node struct {
	pipeline.BaseNode
	format audio.Format
}

var (
	_ pipeline.Node          = (*Node)(nil)
	_ pipeline.AudioReceiver = (*Node)(nil)
	_ pipeline.AudioEmitter  = (*Node)(nil)
)

// NewNode constructs a source declaring the given output format.
func NewNode(id, name string, format audio.Format) *Node {
	return &Node{
		BaseNode: pipeline.NewBaseNode("source", id, name, pipeline.CapAudioInput),
		format:   format,
	}
}

// SupportedFormats restricts accepted input to the declared format when one
// is set.
func (n *Node) SupportedFormats() []audio.Format {
	if n.format.IsZero() {
		return nil
	}
	return []audio.Format{n.format}
}

// OutputFormat returns the declared format.
func (n *Node) OutputFormat() audio.Format { return n.format }

// AcceptAudio forwards buf downstream unchanged.
func (n *Node) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	n.MarkActivity()
	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return n.PropagateToOutputs(pctx, buf)
}

// PullOutput always reports nothing: a source never buffers output of its
// own.
func (n *Node) PullOutput() *audio.Buffer { return nil }
