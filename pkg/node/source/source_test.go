package source_test

import (
	"context"
	"testing"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/node/sink"
	"github.com/voxgraph/voxgraph/pkg/node/source"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

func TestSourceFeedsGraph(t *testing.T) {
	format := audio.Int16(16000, 1)
	p := pipeline.New("p1", "test")
	src := source.NewNode("mic", "microphone", format)
	out := sink.NewNode("out", "speaker")
	if err := p.AddNode(src); err != nil {
		t.Fatal(err)
	}
	if err := p.AddNode(out); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Connect("mic", "out"); err != nil {
		t.Fatal(err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	input := audio.NewBuffer(make([]byte, 100), format)
	results, err := p.Execute(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if len(results[0].Data) != 100 {
		t.Fatalf("result is %d bytes, want the 100 input bytes", len(results[0].Data))
	}
	if !results[0].Format.Equal(format) {
		t.Fatalf("result format = %s", results[0].Format)
	}
}

func TestSourceDeclaresRoleAndFormat(t *testing.T) {
	format := audio.Int16(16000, 1)
	src := source.NewNode("mic", "microphone", format)
	if !src.Capabilities().Has(pipeline.CapAudioInput) {
		t.Fatal("source must declare the audio-input role")
	}
	if !src.OutputFormat().Equal(format) {
		t.Fatal("declared output format lost")
	}
	if src.PullOutput() != nil {
		t.Fatal("source must not buffer output")
	}
}
