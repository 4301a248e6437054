// Package audio defines the PCM value types shared by every voxgraph node:
// the sample [Format] descriptor, the [Buffer] that carries raw bytes through
// the graph, sample-representation conversion, resampling, and mixing.
//
// Buffers are value-like — once handed to a connection they are logically
// immutable to the receiver. Nodes that need to modify audio must work on a
// [Buffer.Clone].
package audio

import (
	"errors"
	"fmt"
)

// Bit depths supported by [Format]. Only Depth16 integer and Depth32 float
// samples participate in conversion and mixing; Depth24 buffers can be carried
// through the graph but not processed sample-wise.
const (
	Depth16 = 16
	Depth24 = 24
	Depth32 = 32
)

// ErrInvalidFormat is returned when a Format fails validation.
var ErrInvalidFormat = errors.New("audio: invalid format")

// Format describes the shape of PCM data: sample rate, channel count, bit
// depth, and whether samples are floating point. Formats are immutable value
// types; compare them with [Format.Equal].
type Format struct {
	// SampleRate in Hz (e.g., 16000 for STT input, 48000 for Opus links).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitDepth is the bits per sample: 16, 24, or 32.
	BitDepth int

	// Float marks 32-bit IEEE float samples. Bit depth alone does not imply
	// compatibility — a 32-bit integer format is distinct from 32-bit float.
	Float bool
}

// FrameSize returns the byte size of one interleaved sample frame
// (all channels at one sample position).
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// BytesPerSecond returns the byte rate of a stream in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Equal reports structural equality over all four fields.
func (f Format) Equal(other Format) bool {
	return f == other
}

// IsZero reports whether f is the zero value, i.e. no format has been declared.
func (f Format) IsZero() bool {
	return f == Format{}
}

// Validate checks that f describes a usable PCM format.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidFormat, f.Channels)
	}
	switch f.BitDepth {
	case Depth16, Depth24, Depth32:
	default:
		return fmt.Errorf("%w: bit depth %d", ErrInvalidFormat, f.BitDepth)
	}
	if f.Float && f.BitDepth != Depth32 {
		return fmt.Errorf("%w: float samples require 32-bit depth, got %d", ErrInvalidFormat, f.BitDepth)
	}
	return nil
}

// String returns a human-readable description, e.g. "16000Hz mono 16-bit int".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	kind := "int"
	if f.Float {
		kind = "float"
	}
	return fmt.Sprintf("%dHz %s %d-bit %s", f.SampleRate, ch, f.BitDepth, kind)
}

// Int16 returns a 16-bit integer PCM format at the given rate and channels.
func Int16(sampleRate, channels int) Format {
	return Format{SampleRate: sampleRate, Channels: channels, BitDepth: Depth16}
}

// Float32 returns a 32-bit float PCM format at the given rate and channels.
func Float32(sampleRate, channels int) Format {
	return Format{SampleRate: sampleRate, Channels: channels, BitDepth: Depth32, Float: true}
}
