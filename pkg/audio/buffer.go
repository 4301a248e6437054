package audio

import (
	"fmt"
	"time"
)

// ErrOutOfRange is returned by [Buffer.Segment] when the requested range does
// not lie within the buffer.
var ErrOutOfRange = fmt.Errorf("audio: segment out of range")

// Buffer pairs raw PCM bytes with their [Format] and free-form string
// metadata. A Buffer is value-like: receivers treat it as immutable and call
// [Buffer.Clone] before modifying data or metadata.
type Buffer struct {
	// Data is the raw little-endian PCM byte sequence.
	Data []byte

	// Format describes how Data is to be interpreted.
	Format Format

	// Metadata carries free-form annotations (codec markers, source labels).
	// Core routing never reads it.
	Metadata map[string]string
}

// NewBuffer constructs a Buffer over data in the given format with empty
// metadata. The data slice is not copied.
func NewBuffer(data []byte, format Format) Buffer {
	return Buffer{Data: data, Format: format, Metadata: map[string]string{}}
}

// Duration returns the playback length of the buffer, derived from the byte
// rate of its format. A zero-rate format yields zero.
func (b Buffer) Duration() time.Duration {
	bps := b.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Data)) / float64(bps) * float64(time.Second))
}

// Clone returns a deep copy of the buffer, including metadata.
func (b Buffer) Clone() Buffer {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	meta := make(map[string]string, len(b.Metadata))
	for k, v := range b.Metadata {
		meta[k] = v
	}
	return Buffer{Data: data, Format: b.Format, Metadata: meta}
}

// Segment returns a deep-copied sub-buffer of length bytes starting at
// offset. The range must lie entirely within [0, len(Data)); otherwise
// [ErrOutOfRange] is returned.
func (b Buffer) Segment(offset, length int) (Buffer, error) {
	if offset < 0 || length < 0 || offset+length > len(b.Data) {
		return Buffer{}, fmt.Errorf("%w: offset %d length %d of %d bytes", ErrOutOfRange, offset, length, len(b.Data))
	}
	seg := b.Clone()
	seg.Data = seg.Data[offset : offset+length]
	return seg, nil
}

// WithMetadata returns a shallow copy of the buffer with key set to value in a
// copied metadata map. Data bytes are shared.
func (b Buffer) WithMetadata(key, value string) Buffer {
	meta := make(map[string]string, len(b.Metadata)+1)
	for k, v := range b.Metadata {
		meta[k] = v
	}
	meta[key] = value
	return Buffer{Data: b.Data, Format: b.Format, Metadata: meta}
}
