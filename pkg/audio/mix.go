package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedMixFormat is returned when sources cannot be mixed: an
// unsupported sample representation, or mismatched formats in the two-buffer
// [Mix] utility.
var ErrUnsupportedMixFormat = errors.New("audio: unsupported mix format")

// Source pairs a buffer with its mixing weight for [MixSources].
type Source struct {
	// Buffer holds the PCM data to contribute.
	Buffer Buffer

	// Gain, when non-nil, is the uniform multiplier applied to every sample.
	// Nil means unity, so Source{Buffer: b} mixes unchanged; an explicit
	// zero silences the source.
	Gain *float64

	// ChannelGains, when non-nil, replaces Gain with one weight per channel.
	// Its length must equal the buffer's channel count.
	ChannelGains []float64
}

// gainFor returns the weight for the sample at the given channel index.
func (s Source) gainFor(channel int) float64 {
	if s.ChannelGains != nil {
		return s.ChannelGains[channel%len(s.ChannelGains)]
	}
	if s.Gain == nil {
		return 1.0
	}
	return *s.Gain
}

// Mix combines two buffers sample-by-sample with explicit per-call gains and
// raw summation (no normalisation). Both buffers must share a structurally
// equal 16-bit integer or 32-bit float format; the shorter buffer contributes
// silence past its own length. Sums are clamped to the representable range.
func Mix(a, b Buffer, gainA, gainB float64) (Buffer, error) {
	if !a.Format.Equal(b.Format) {
		return Buffer{}, fmt.Errorf("%w: %s vs %s", ErrUnsupportedMixFormat, a.Format, b.Format)
	}
	return MixSources([]Source{
		{Buffer: a, Gain: &gainA},
		{Buffer: b, Gain: &gainB},
	}, false)
}

// MixSources combines any number of sources sample-by-sample. All sources
// must share a structurally equal format (16-bit integer or 32-bit float
// PCM); the output length is the longest source's length and shorter sources
// contribute silence past their own data.
//
// With normalize set, each sample position is divided by the number of
// sources that actually had data at that offset, turning the raw sum into an
// average and preventing clipping. After combination, integer samples clamp
// to the signed 16-bit range and float samples clamp to [-1.0, 1.0].
//
// The result carries the first source's format and a copy of its metadata.
func MixSources(sources []Source, normalize bool) (Buffer, error) {
	if len(sources) == 0 {
		return Buffer{}, fmt.Errorf("%w: no sources", ErrUnsupportedMixFormat)
	}

	format := sources[0].Buffer.Format
	for _, s := range sources[1:] {
		if !s.Buffer.Format.Equal(format) {
			return Buffer{}, fmt.Errorf("%w: %s vs %s", ErrUnsupportedMixFormat, s.Buffer.Format, format)
		}
	}
	for _, s := range sources {
		if s.ChannelGains != nil && len(s.ChannelGains) != format.Channels {
			return Buffer{}, fmt.Errorf("%w: %d channel gains for %d channels", ErrUnsupportedMixFormat, len(s.ChannelGains), format.Channels)
		}
	}

	switch {
	case !format.Float && format.BitDepth == Depth16:
		return mixInt16(sources, format, normalize), nil
	case format.Float && format.BitDepth == Depth32:
		return mixFloat32(sources, format, normalize), nil
	default:
		return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedMixFormat, format)
	}
}

func mixInt16(sources []Source, format Format, normalize bool) Buffer {
	longest := 0
	for _, s := range sources {
		if len(s.Buffer.Data) > longest {
			longest = len(s.Buffer.Data)
		}
	}
	samples := longest / 2

	out := sources[0].Buffer.Clone()
	out.Data = make([]byte, samples*2)

	channels := format.Channels
	for i := range samples {
		var sum float64
		present := 0
		for _, s := range sources {
			if (i+1)*2 > len(s.Buffer.Data) {
				continue
			}
			sample := int16(s.Buffer.Data[i*2]) | int16(s.Buffer.Data[i*2+1])<<8
			sum += float64(sample) * s.gainFor(i%channels)
			present++
		}
		if normalize && present > 1 {
			sum /= float64(present)
		}

		v := int32(sum)
		if v > int16Max {
			v = int16Max
		} else if v < int16Min {
			v = int16Min
		}
		out.Data[i*2] = byte(v)
		out.Data[i*2+1] = byte(v >> 8)
	}
	return out
}

func mixFloat32(sources []Source, format Format, normalize bool) Buffer {
	longest := 0
	for _, s := range sources {
		if len(s.Buffer.Data) > longest {
			longest = len(s.Buffer.Data)
		}
	}
	samples := longest / 4

	out := sources[0].Buffer.Clone()
	out.Data = make([]byte, samples*4)

	channels := format.Channels
	for i := range samples {
		var sum float64
		present := 0
		for _, s := range sources {
			if (i+1)*4 > len(s.Buffer.Data) {
				continue
			}
			sample := math.Float32frombits(binary.LittleEndian.Uint32(s.Buffer.Data[i*4:]))
			sum += float64(sample) * s.gainFor(i%channels)
			present++
		}
		if normalize && present > 1 {
			sum /= float64(present)
		}

		if sum > 1.0 {
			sum = 1.0
		} else if sum < -1.0 {
			sum = -1.0
		}
		binary.LittleEndian.PutUint32(out.Data[i*4:], math.Float32bits(float32(sum)))
	}
	return out
}
