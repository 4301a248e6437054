// Package resample provides a format-bridging processor node: sample-rate,
// channel-count, and int16/float32 representation conversion in one step,
// for graph edges the strict converter alone cannot bridge.
package resample

import (
	"fmt"
	"sync"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// Node converts every accepted buffer to a fixed target format. Rate and
// channel conversion run in the 16-bit integer domain; float input is
// converted down first and back up last when the target is float.
type Node struct {
	pipeline.BaseNode
	target audio.Format

	mu     sync.Mutex
	latest *audio.Buffer
}

var (
	_ pipeline.Node          = (*Node)(nil)
	_ pipeline.AudioReceiver = (*Node)(nil)
	_ pipeline.AudioEmitter  = (*Node)(nil)
	_ pipeline.Resettable    = (*Node)(nil)
)

// NewNode constructs a resample node targeting the given format.
func NewNode(id, name string, target audio.Format) *Node {
	return &Node{
		BaseNode: pipeline.NewBaseNode("resample", id, name, pipeline.CapNone),
		target:   target,
	}
}

func (n *Node) SupportedFormats() []audio.Format { return nil }

// OutputFormat returns the target format.
func (n *Node) OutputFormat() audio.Format { return n.target }

// AcceptAudio converts buf to the target format and forwards the result.
func (n *Node) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	out, err := ToFormat(buf, n.target)
	if err != nil {
		// Local, non-fatal: forward the best-effort (unmodified) buffer.
		pctx.Logf("resample %s: %v", n.ID(), err)
		n.SetLastError(err)
		out = buf
	}
	n.MarkActivity()

	n.mu.Lock()
	n.latest = &out
	n.mu.Unlock()

	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return n.PropagateToOutputs(pctx, out)
}

// PullOutput consumes the most recent conversion result.
func (n *Node) PullOutput() *audio.Buffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

// Reset drops the buffered output.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = nil
}

// ToFormat converts buf to target across sample rate, channel count, and
// int16/float32 representation. Conversions outside those axes (24-bit
// depths, more than two channels) fail with
// [audio.ErrUnsupportedConversion].
func ToFormat(buf audio.Buffer, target audio.Format) (audio.Buffer, error) {
	if buf.Format.Equal(target) {
		return buf, nil
	}
	if err := target.Validate(); err != nil {
		return audio.Buffer{}, err
	}
	src := buf.Format
	if src.BitDepth == audio.Depth24 || target.BitDepth == audio.Depth24 {
		return audio.Buffer{}, fmt.Errorf("%w: 24-bit depth", audio.ErrUnsupportedConversion)
	}
	// 32-bit is float-only here: integer 32-bit samples would be mangled by
	// the int16 rate/channel stages.
	if (!src.Float && src.BitDepth == audio.Depth32) || (!target.Float && target.BitDepth == audio.Depth32) {
		return audio.Buffer{}, fmt.Errorf("%w: 32-bit integer depth", audio.ErrUnsupportedConversion)
	}
	if src.Channels > 2 || target.Channels > 2 {
		return audio.Buffer{}, fmt.Errorf("%w: %d channels", audio.ErrUnsupportedConversion, max(src.Channels, target.Channels))
	}

	work := buf
	// Down to int16 for the rate/channel stages.
	if work.Format.Float {
		converted, err := audio.ToInt16(work)
		if err != nil {
			return audio.Buffer{}, err
		}
		work = converted
	}

	if work.Format.Channels != target.Channels {
		var data []byte
		if work.Format.Channels == 1 {
			data = audio.MonoToStereo(work.Data)
		} else {
			data = audio.StereoToMono(work.Data)
		}
		work = audio.NewBuffer(data, audio.Int16(work.Format.SampleRate, target.Channels))
		work.Metadata = buf.Metadata
	}

	if work.Format.SampleRate != target.SampleRate {
		var data []byte
		if work.Format.Channels == 1 {
			data = audio.ResampleMono16(work.Data, work.Format.SampleRate, target.SampleRate)
		} else {
			data = audio.ResampleStereo16(work.Data, work.Format.SampleRate, target.SampleRate)
		}
		work = audio.NewBuffer(data, audio.Int16(target.SampleRate, target.Channels))
		work.Metadata = buf.Metadata
	}

	if target.Float {
		converted, err := audio.ToFloat32(work)
		if err != nil {
			return audio.Buffer{}, err
		}
		work = converted
	}
	if !work.Format.Equal(target) {
		return audio.Buffer{}, fmt.Errorf("%w: %s to %s", audio.ErrUnsupportedConversion, buf.Format, target)
	}
	return work, nil
}
