// Package gain provides a constant-gain processor node for 16-bit integer
// and 32-bit float PCM.
package gain

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// Node multiplies every sample by a configurable gain, clamping to the
// sample representation's range.
type Node struct {
	pipeline.BaseNode

	mu   sync.Mutex
	gain float64

	outMu  sync.Mutex
	latest *audio.Buffer
}

var (
	_ pipeline.Node          = (*Node)(nil)
	_ pipeline.AudioReceiver = (*Node)(nil)
	_ pipeline.AudioEmitter  = (*Node)(nil)
	_ pipeline.Resettable    = (*Node)(nil)
)

// NewNode constructs a gain node.
func NewNode(id, name string, gain float64) *Node {
	return &Node{
		BaseNode: pipeline.NewBaseNode("gain", id, name, pipeline.CapNone),
		gain:     gain,
	}
}

// Gain returns the current multiplier.
func (n *Node) Gain() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gain
}

// SetGain replaces the multiplier used from the next pass on.
func (n *Node) SetGain(gain float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gain = gain
}

func (n *Node) SupportedFormats() []audio.Format { return nil }

func (n *Node) OutputFormat() audio.Format { return audio.Format{} }

// AcceptAudio applies the gain to a copy of buf and forwards the result.
func (n *Node) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	out, err := n.apply(buf)
	if err != nil {
		// Local, non-fatal: forward the buffer unmodified.
		pctx.Logf("gain %s: %v", n.ID(), err)
		n.SetLastError(err)
		out = buf
	}
	n.MarkActivity()

	n.outMu.Lock()
	n.latest = &out
	n.outMu.Unlock()

	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return n.PropagateToOutputs(pctx, out)
}

func (n *Node) apply(buf audio.Buffer) (audio.Buffer, error) {
	g := n.Gain()
	if g == 1.0 {
		return buf, nil
	}
	out := buf.Clone()
	switch {
	case !out.Format.Float && out.Format.BitDepth == audio.Depth16:
		for i := 0; i+1 < len(out.Data); i += 2 {
			s := float64(int16(binary.LittleEndian.Uint16(out.Data[i:]))) * g
			s = math.Max(math.Min(s, math.MaxInt16), math.MinInt16)
			binary.LittleEndian.PutUint16(out.Data[i:], uint16(int16(s)))
		}
	case out.Format.Float && out.Format.BitDepth == audio.Depth32:
		for i := 0; i+3 < len(out.Data); i += 4 {
			s := float64(math.Float32frombits(binary.LittleEndian.Uint32(out.Data[i:]))) * g
			s = math.Max(math.Min(s, 1.0), -1.0)
			binary.LittleEndian.PutUint32(out.Data[i:], math.Float32bits(float32(s)))
		}
	default:
		return audio.Buffer{}, fmt.Errorf("%w: gain on %s", audio.ErrUnsupportedConversion, out.Format)
	}
	return out, nil
}

// PullOutput consumes the most recent result.
func (n *Node) PullOutput() *audio.Buffer {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

// Reset drops the buffered output. The configured gain survives.
func (n *Node) Reset() {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	n.latest = nil
}
