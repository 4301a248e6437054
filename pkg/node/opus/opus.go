// Package opus provides Opus encode/decode processor nodes for
// bandwidth-constrained links. Framing follows the common voice setup:
// 48 kHz interleaved 16-bit PCM at 20 ms per packet.
package opus

import (
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

const (
	// SampleRate is the Opus operating rate.
	SampleRate = 48000

	frameMs = 20
	// FrameSamples is the number of samples per channel per 20 ms packet.
	FrameSamples = SampleRate * frameMs / 1000 // 960
)

// CodecMetadataKey marks a buffer as carrying encoded packets rather than
// raw PCM. Encoded buffers keep the PCM format they were encoded from so
// decode targets can validate against it.
const CodecMetadataKey = "codec"

// codecOpus is the value stored under [CodecMetadataKey].
const codecOpus = "opus"

// EncoderNode encodes fixed-size PCM frames into Opus packets. Input buffers
// must hold exactly one 20 ms frame in the node's PCM format.
type EncoderNode struct {
	pipeline.BaseNode
	channels int

	mu     sync.Mutex
	enc    *gopus.Encoder
	latest *audio.Buffer
}

var (
	_ pipeline.Node          = (*EncoderNode)(nil)
	_ pipeline.AudioReceiver = (*EncoderNode)(nil)
	_ pipeline.AudioEmitter  = (*EncoderNode)(nil)
)

// NewEncoderNode constructs an encoder for the given channel count (1 or 2).
func NewEncoderNode(id, name string, channels int) (*EncoderNode, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: %d channels unsupported", channels)
	}
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &EncoderNode{
		BaseNode: pipeline.NewBaseNode("opus-encode", id, name, pipeline.CapNone),
		channels: channels,
		enc:      enc,
	}, nil
}

// SupportedFormats accepts only the node's PCM framing format.
func (n *EncoderNode) SupportedFormats() []audio.Format {
	return []audio.Format{audio.Int16(SampleRate, n.channels)}
}

// OutputFormat reports the PCM format the packets were encoded from.
func (n *EncoderNode) OutputFormat() audio.Format {
	return audio.Int16(SampleRate, n.channels)
}

// AcceptAudio encodes one frame and forwards the packet, tagged as encoded
// via buffer metadata.
func (n *EncoderNode) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	wantBytes := FrameSamples * n.channels * 2
	if len(buf.Data) != wantBytes {
		return false, fmt.Errorf("opus: frame is %d bytes, want %d", len(buf.Data), wantBytes)
	}

	n.mu.Lock()
	packet, err := n.enc.Encode(bytesToInt16s(buf.Data), FrameSamples, len(buf.Data))
	n.mu.Unlock()
	if err != nil {
		n.SetLastError(err)
		return false, fmt.Errorf("opus: encode: %w", err)
	}
	n.MarkActivity()

	out := audio.NewBuffer(packet, buf.Format).WithMetadata(CodecMetadataKey, codecOpus)
	n.mu.Lock()
	n.latest = &out
	n.mu.Unlock()

	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return n.PropagateToOutputs(pctx, out)
}

// PullOutput consumes the most recent packet.
func (n *EncoderNode) PullOutput() *audio.Buffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

// DecoderNode decodes Opus packets back into PCM. Decoder state carries
// across consecutive packets of one stream, so each stream needs its own
// node.
type DecoderNode struct {
	pipeline.BaseNode
	channels int

	mu     sync.Mutex
	dec    *gopus.Decoder
	latest *audio.Buffer
}

var (
	_ pipeline.Node          = (*DecoderNode)(nil)
	_ pipeline.AudioReceiver = (*DecoderNode)(nil)
	_ pipeline.AudioEmitter  = (*DecoderNode)(nil)
)

// NewDecoderNode constructs a decoder for the given channel count (1 or 2).
func NewDecoderNode(id, name string, channels int) (*DecoderNode, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: %d channels unsupported", channels)
	}
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &DecoderNode{
		BaseNode: pipeline.NewBaseNode("opus-decode", id, name, pipeline.CapNone),
		channels: channels,
		dec:      dec,
	}, nil
}

// SupportedFormats accepts the encoder's declared format.
func (n *DecoderNode) SupportedFormats() []audio.Format {
	return []audio.Format{audio.Int16(SampleRate, n.channels)}
}

// OutputFormat reports the decoded PCM format.
func (n *DecoderNode) OutputFormat() audio.Format {
	return audio.Int16(SampleRate, n.channels)
}

// AcceptAudio decodes one packet and forwards the PCM frame.
func (n *DecoderNode) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	if buf.Metadata[CodecMetadataKey] != codecOpus {
		return false, fmt.Errorf("opus: buffer is not an opus packet")
	}

	n.mu.Lock()
	pcm, err := n.dec.Decode(buf.Data, FrameSamples, false)
	n.mu.Unlock()
	if err != nil {
		n.SetLastError(err)
		return false, fmt.Errorf("opus: decode: %w", err)
	}
	n.MarkActivity()

	out := audio.NewBuffer(int16sToBytes(pcm), audio.Int16(SampleRate, n.channels))
	n.mu.Lock()
	n.latest = &out
	n.mu.Unlock()

	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return n.PropagateToOutputs(pctx, out)
}

// PullOutput consumes the most recent decoded frame.
func (n *DecoderNode) PullOutput() *audio.Buffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
