package resample

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

func monoBuf(t *testing.T, rate int, samples ...int16) audio.Buffer {
	t.Helper()
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return audio.NewBuffer(data, audio.Int16(rate, 1))
}

func TestToFormatSameFormatIsIdentity(t *testing.T) {
	in := monoBuf(t, 16000, 1, 2, 3)
	out, err := ToFormat(in, audio.Int16(16000, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != len(in.Data) {
		t.Fatal("identity conversion changed length")
	}
}

func TestToFormatUpsampleDoublesLength(t *testing.T) {
	in := monoBuf(t, 8000, 100, 200, 300, 400)
	out, err := ToFormat(in, audio.Int16(16000, 1))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(out.Data); got != 16 {
		t.Fatalf("output = %d bytes, want 16 (8 samples)", got)
	}
	if !out.Format.Equal(audio.Int16(16000, 1)) {
		t.Fatalf("output format = %s", out.Format)
	}
}

func TestToFormatMonoToStereo(t *testing.T) {
	in := monoBuf(t, 16000, 500, -500)
	out, err := ToFormat(in, audio.Int16(16000, 2))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(out.Data); got != 8 {
		t.Fatalf("output = %d bytes, want 8", got)
	}
	// Each mono sample is duplicated across both channels.
	l := int16(binary.LittleEndian.Uint16(out.Data[0:]))
	r := int16(binary.LittleEndian.Uint16(out.Data[2:]))
	if l != 500 || r != 500 {
		t.Fatalf("first frame = [%d %d], want [500 500]", l, r)
	}
}

func TestToFormatIntToFloat(t *testing.T) {
	in := monoBuf(t, 16000, 16384)
	out, err := ToFormat(in, audio.Float32(16000, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Format.Equal(audio.Float32(16000, 1)) {
		t.Fatalf("output format = %s", out.Format)
	}
	if got := len(out.Data); got != 4 {
		t.Fatalf("output = %d bytes, want 4", got)
	}
}

func TestToFormatCombinedAxes(t *testing.T) {
	// 8 kHz mono int16 -> 16 kHz stereo float32 in one step.
	in := monoBuf(t, 8000, 100, 200, 300, 400)
	target := audio.Float32(16000, 2)
	out, err := ToFormat(in, target)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Format.Equal(target) {
		t.Fatalf("output format = %s, want %s", out.Format, target)
	}
	// 4 samples -> stereo (8) -> upsampled x2 (16) -> float32 = 64 bytes.
	if got := len(out.Data); got != 64 {
		t.Fatalf("output = %d bytes, want 64", got)
	}
}

func TestToFormatRejects24Bit(t *testing.T) {
	in := monoBuf(t, 16000, 1)
	_, err := ToFormat(in, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: audio.Depth24})
	if !errors.Is(err, audio.ErrUnsupportedConversion) {
		t.Fatalf("expected ErrUnsupportedConversion, got %v", err)
	}
}

func TestToFormatRejects32BitInt(t *testing.T) {
	// Four bytes per sample; reinterpreting them as int16 pairs in the
	// rate/channel stages would silently corrupt the audio.
	in := audio.NewBuffer(make([]byte, 8), audio.Format{SampleRate: 16000, Channels: 1, BitDepth: audio.Depth32})
	_, err := ToFormat(in, audio.Int16(16000, 2))
	if !errors.Is(err, audio.ErrUnsupportedConversion) {
		t.Fatalf("expected ErrUnsupportedConversion for int32 source, got %v", err)
	}

	_, err = ToFormat(monoBuf(t, 16000, 1), audio.Format{SampleRate: 16000, Channels: 1, BitDepth: audio.Depth32})
	if !errors.Is(err, audio.ErrUnsupportedConversion) {
		t.Fatalf("expected ErrUnsupportedConversion for int32 target, got %v", err)
	}
}

func TestNodeFailurePassesThrough(t *testing.T) {
	n := NewNode("r", "resample", audio.Format{SampleRate: 16000, Channels: 1, BitDepth: audio.Depth24})
	in := monoBuf(t, 16000, 42)
	pctx := pipeline.NewProcessingContext(context.Background(), "")
	ok, err := n.AcceptAudio(pctx, in)
	if err != nil || !ok {
		t.Fatalf("conversion failure must be non-fatal: ok=%v err=%v", ok, err)
	}
	out := n.PullOutput()
	if out == nil || !out.Format.Equal(in.Format) {
		t.Fatal("failed conversion not passed through unmodified")
	}
	if len(pctx.LogEntries()) == 0 {
		t.Fatal("expected a warning logged to the context")
	}
}

func TestNodeConverts(t *testing.T) {
	target := audio.Int16(16000, 1)
	n := NewNode("r", "resample", target)
	pctx := pipeline.NewProcessingContext(context.Background(), "")
	if ok, err := n.AcceptAudio(pctx, monoBuf(t, 8000, 10, 20)); err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}
	out := n.PullOutput()
	if out == nil {
		t.Fatal("no output")
	}
	if !out.Format.Equal(target) {
		t.Fatalf("output format = %s, want %s", out.Format, target)
	}
	if n.PullOutput() != nil {
		t.Fatal("output not consumed on pull")
	}
}
