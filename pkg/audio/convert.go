package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedConversion is returned by [Convert], [ToFloat32], and
// [ToInt16] when the requested representation change is not one of the
// supported pairings.
var ErrUnsupportedConversion = errors.New("audio: unsupported conversion")

// int16FullScale is the divisor for signed 16-bit normalisation. Dividing by
// 32768 maps the full int16 range onto [-1.0, 1.0); multiplying by 32767 on
// the way back keeps +1.0 representable.
const (
	int16FullScale = 32768.0
	int16Max       = 32767
	int16Min       = -32768
)

// ToFloat32 converts a 16-bit integer PCM buffer to 32-bit float PCM at the
// same sample rate and channel count. Each sample is divided by 32768 and
// clamped to [-1.0, 1.0]. Any other source representation fails with
// [ErrUnsupportedConversion].
func ToFloat32(b Buffer) (Buffer, error) {
	if b.Format.BitDepth != Depth16 || b.Format.Float {
		return Buffer{}, fmt.Errorf("%w: %s to 32-bit float", ErrUnsupportedConversion, b.Format)
	}

	samples := len(b.Data) / 2
	out := b.Clone()
	out.Format = Float32(b.Format.SampleRate, b.Format.Channels)
	out.Data = make([]byte, samples*4)

	for i := range samples {
		s := int16(b.Data[i*2]) | int16(b.Data[i*2+1])<<8
		v := float32(float64(s) / int16FullScale)
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		binary.LittleEndian.PutUint32(out.Data[i*4:], math.Float32bits(v))
	}
	return out, nil
}

// ToInt16 converts a 32-bit float PCM buffer to 16-bit integer PCM at the
// same sample rate and channel count. Each sample is multiplied by 32767,
// truncated, and clamped to the int16 range. Any other source representation
// fails with [ErrUnsupportedConversion].
func ToInt16(b Buffer) (Buffer, error) {
	if b.Format.BitDepth != Depth32 || !b.Format.Float {
		return Buffer{}, fmt.Errorf("%w: %s to 16-bit int", ErrUnsupportedConversion, b.Format)
	}

	samples := len(b.Data) / 4
	out := b.Clone()
	out.Format = Int16(b.Format.SampleRate, b.Format.Channels)
	out.Data = make([]byte, samples*2)

	for i := range samples {
		f := math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
		v := int32(float64(f) * int16Max) // truncates toward zero
		if v > int16Max {
			v = int16Max
		} else if v < int16Min {
			v = int16Min
		}
		out.Data[i*2] = byte(v)
		out.Data[i*2+1] = byte(v >> 8)
	}
	return out, nil
}

// Convert changes the sample representation of b to target. Only same-rate,
// same-channel-count conversions between 16-bit integer and 32-bit float PCM
// are supported; everything else fails with [ErrUnsupportedConversion].
// A target equal to the source format returns b unchanged.
func Convert(b Buffer, target Format) (Buffer, error) {
	if b.Format.Equal(target) {
		return b, nil
	}
	if b.Format.SampleRate != target.SampleRate || b.Format.Channels != target.Channels {
		return Buffer{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, b.Format, target)
	}
	switch {
	case target.Float && target.BitDepth == Depth32:
		return ToFloat32(b)
	case !target.Float && target.BitDepth == Depth16:
		return ToInt16(b)
	default:
		return Buffer{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, b.Format, target)
	}
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > int16Max {
			avg = int16Max
		} else if avg < int16Min {
			avg = int16Min
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation. Each stereo frame is 4 bytes (L+R interleaved).
// If srcRate == dstRate, the input is returned unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(pcm[srcIdx*4]) | int16(pcm[srcIdx*4+1])<<8
		r0 := int16(pcm[srcIdx*4+2]) | int16(pcm[srcIdx*4+3])<<8

		var l1, r1 int16
		if srcIdx+1 < srcFrames {
			l1 = int16(pcm[(srcIdx+1)*4]) | int16(pcm[(srcIdx+1)*4+1])<<8
			r1 = int16(pcm[(srcIdx+1)*4+2]) | int16(pcm[(srcIdx+1)*4+3])<<8
		} else {
			l1 = l0
			r1 = r0
		}

		lInterp := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		rInterp := int16(float64(r0)*(1-frac) + float64(r1)*frac)

		out[i*4] = byte(lInterp)
		out[i*4+1] = byte(lInterp >> 8)
		out[i*4+2] = byte(rInterp)
		out[i*4+3] = byte(rInterp >> 8)
	}
	return out
}
