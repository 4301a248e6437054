package gain

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

func int16Buf(t *testing.T, samples ...int16) audio.Buffer {
	t.Helper()
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return audio.NewBuffer(data, audio.Int16(16000, 1))
}

func process(t *testing.T, n *Node, buf audio.Buffer) audio.Buffer {
	t.Helper()
	pctx := pipeline.NewProcessingContext(context.Background(), "")
	if ok, err := n.AcceptAudio(pctx, buf); err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}
	out := n.PullOutput()
	if out == nil {
		t.Fatal("no output")
	}
	return *out
}

func TestInt16Gain(t *testing.T) {
	n := NewNode("g", "gain", 2.0)
	out := process(t, n, int16Buf(t, 100, -50, 0))
	want := []int16{200, -100, 0}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(out.Data[i*2:])); got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestInt16GainClamps(t *testing.T) {
	n := NewNode("g", "gain", 3.0)
	out := process(t, n, int16Buf(t, 30000, -30000))
	if got := int16(binary.LittleEndian.Uint16(out.Data[0:])); got != math.MaxInt16 {
		t.Fatalf("positive overflow = %d, want %d", got, math.MaxInt16)
	}
	if got := int16(binary.LittleEndian.Uint16(out.Data[2:])); got != math.MinInt16 {
		t.Fatalf("negative overflow = %d, want %d", got, math.MinInt16)
	}
}

func TestFloatGainClamps(t *testing.T) {
	n := NewNode("g", "gain", 4.0)
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-0.5))
	out := process(t, n, audio.NewBuffer(data, audio.Float32(16000, 1)))

	if got := math.Float32frombits(binary.LittleEndian.Uint32(out.Data[0:])); got != 1.0 {
		t.Fatalf("positive clamp = %v, want 1.0", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(out.Data[4:])); got != -1.0 {
		t.Fatalf("negative clamp = %v, want -1.0", got)
	}
}

func TestUnityGainLeavesDataUntouched(t *testing.T) {
	n := NewNode("g", "gain", 1.0)
	in := int16Buf(t, 123, -45)
	out := process(t, n, in)
	for i := range in.Data {
		if out.Data[i] != in.Data[i] {
			t.Fatal("unity gain modified the buffer")
		}
	}
}

func TestUnsupportedFormatPassesThrough(t *testing.T) {
	n := NewNode("g", "gain", 2.0)
	in := audio.NewBuffer([]byte{1, 2, 3, 4, 5, 6}, audio.Format{
		SampleRate: 16000, Channels: 1, BitDepth: audio.Depth24,
	})
	pctx := pipeline.NewProcessingContext(context.Background(), "")
	ok, err := n.AcceptAudio(pctx, in)
	if err != nil || !ok {
		t.Fatalf("unsupported format must be non-fatal: ok=%v err=%v", ok, err)
	}
	out := n.PullOutput()
	if out == nil || out.Data[0] != 1 {
		t.Fatal("unsupported format not passed through unmodified")
	}
	if len(pctx.LogEntries()) == 0 {
		t.Fatal("expected a warning logged to the context")
	}
}

func TestSetGainTakesEffectNextPass(t *testing.T) {
	n := NewNode("g", "gain", 1.0)
	process(t, n, int16Buf(t, 100))
	n.SetGain(0.5)
	out := process(t, n, int16Buf(t, 100))
	if got := int16(binary.LittleEndian.Uint16(out.Data)); got != 50 {
		t.Fatalf("sample = %d, want 50", got)
	}
}
