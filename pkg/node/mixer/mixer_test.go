package mixer

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

func constBuf(t *testing.T, value int16, samples int) audio.Buffer {
	t.Helper()
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}
	return audio.NewBuffer(data, audio.Int16(16000, 1))
}

func samplesOf(t *testing.T, buf audio.Buffer) []int16 {
	t.Helper()
	out := make([]int16, len(buf.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf.Data[i*2:]))
	}
	return out
}

func accept(t *testing.T, n *Node, sourceID string, buf audio.Buffer) audio.Buffer {
	t.Helper()
	pctx := pipeline.NewProcessingContext(context.Background(), "")
	pctx.SetTransientValue(TransientSourceKey, sourceID)
	if ok, err := n.AcceptAudio(pctx, buf); err != nil || !ok {
		t.Fatalf("accept from %s: ok=%v err=%v", sourceID, ok, err)
	}
	out := n.PullOutput()
	if out == nil {
		t.Fatalf("no output after accept from %s", sourceID)
	}
	return *out
}

func TestSingleSourcePassesThrough(t *testing.T) {
	n := NewNode("mix", "mixer")
	in := constBuf(t, 1000, 4)
	out := accept(t, n, "a", in)
	for i, s := range samplesOf(t, out) {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000 (unmixed pass-through)", i, s)
		}
	}
}

func TestNormalizedMixAveragesIdenticalSignals(t *testing.T) {
	n := NewNode("mix", "mixer")
	accept(t, n, "a", constBuf(t, 1000, 4))
	out := accept(t, n, "b", constBuf(t, 1000, 4))
	for i, s := range samplesOf(t, out) {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000 (average of two identical signals)", i, s)
		}
	}
}

func TestRawSumWithoutNormalization(t *testing.T) {
	n := NewNode("mix", "mixer", WithNormalize(false))
	accept(t, n, "a", constBuf(t, 1000, 4))
	out := accept(t, n, "b", constBuf(t, 1000, 4))
	for i, s := range samplesOf(t, out) {
		if s != 2000 {
			t.Fatalf("sample %d = %d, want 2000 (raw sum)", i, s)
		}
	}
}

func TestSourceGainApplied(t *testing.T) {
	n := NewNode("mix", "mixer", WithNormalize(false))
	n.SetSourceGain("quiet", 0.5)
	accept(t, n, "quiet", constBuf(t, 1000, 4))
	out := accept(t, n, "loud", constBuf(t, 1000, 4))
	for i, s := range samplesOf(t, out) {
		if s != 1500 {
			t.Fatalf("sample %d = %d, want 1500 (0.5x + 1.0x)", i, s)
		}
	}
}

func TestSourceGainZeroMutes(t *testing.T) {
	n := NewNode("mix", "mixer", WithNormalize(false))
	n.SetSourceGain("muted", 0)
	accept(t, n, "muted", constBuf(t, 1000, 4))
	out := accept(t, n, "live", constBuf(t, 600, 4))
	for i, s := range samplesOf(t, out) {
		if s != 600 {
			t.Fatalf("sample %d = %d, want 600 (muted source contributed)", i, s)
		}
	}
}

func TestEvictionAfterMaxAge(t *testing.T) {
	now := time.Unix(1000, 0)
	n := NewNode("mix", "mixer",
		WithMaxAge(30*time.Millisecond),
		withClock(func() time.Time { return now }),
	)

	accept(t, n, "old", constBuf(t, 1000, 4))
	now = now.Add(31 * time.Millisecond)

	out := accept(t, n, "fresh", constBuf(t, 200, 4))
	for i, s := range samplesOf(t, out) {
		if s != 200 {
			t.Fatalf("sample %d = %d, want 200: evicted buffer still mixed in", i, s)
		}
	}
}

func TestIncompatibleFormatExcluded(t *testing.T) {
	n := NewNode("mix", "mixer")
	first := constBuf(t, 1000, 4)
	accept(t, n, "ref", first)

	other := audio.NewBuffer(make([]byte, 8), audio.Int16(48000, 2))
	out := accept(t, n, "alien", other)
	// The alien buffer does not match the oldest entry's format, so the pass
	// short-circuits to the single compatible buffer.
	if !out.Format.Equal(first.Format) {
		t.Fatalf("output format = %s", out.Format)
	}
	for i, s := range samplesOf(t, out) {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, s)
		}
	}
}

func TestMissingSourceIDGetsFreshIdentity(t *testing.T) {
	n := NewNode("mix", "mixer")
	pctx := pipeline.NewProcessingContext(context.Background(), "")
	// No transient source id: two calls land as two distinct sources.
	if ok, err := n.AcceptAudio(pctx, constBuf(t, 500, 4)); err != nil || !ok {
		t.Fatal(err)
	}
	n.PullOutput()
	if ok, err := n.AcceptAudio(pctx, constBuf(t, 500, 4)); err != nil || !ok {
		t.Fatal(err)
	}
	out := n.PullOutput()
	if out == nil {
		t.Fatal("no output")
	}
	// Normalized average of two identical signals.
	for i, s := range samplesOf(t, *out) {
		if s != 500 {
			t.Fatalf("sample %d = %d, want 500", i, s)
		}
	}
	n.tableMu.Lock()
	size := len(n.table)
	n.tableMu.Unlock()
	if size != 2 {
		t.Fatalf("table has %d entries, want 2 distinct sources", size)
	}
}

func TestResetClearsTableKeepsGains(t *testing.T) {
	n := NewNode("mix", "mixer")
	n.SetSourceGain("a", 0.25)
	accept(t, n, "a", constBuf(t, 1000, 4))

	n.Reset()
	n.tableMu.Lock()
	size := len(n.table)
	n.tableMu.Unlock()
	if size != 0 {
		t.Fatalf("table has %d entries after reset", size)
	}
	if n.PullOutput() != nil {
		t.Fatal("latest output survived reset")
	}
	if g := n.SourceGain("a"); g != 0.25 {
		t.Fatalf("gain = %v, want 0.25 to survive reset", g)
	}
}
