package config_test

import (
	"testing"

	"github.com/voxgraph/voxgraph/internal/config"
	"github.com/voxgraph/voxgraph/pkg/node/gain"
	"github.com/voxgraph/voxgraph/pkg/node/splitter"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

func TestBuildPipelines_Graph(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{{
			ID:   "p1",
			Name: "Main",
			Nodes: []config.NodeConfig{
				{ID: "mic", Type: "source"},
				{ID: "boost", Type: "gain", Configuration: map[string]any{"gain": 0.5}},
				{ID: "out", Type: "sink", Disabled: true},
			},
			Connections: []config.ConnectionConfig{
				{Source: "mic", Target: "boost", Priority: 1},
				{ID: "c2", Source: "boost", Target: "out", Label: "monitor"},
			},
		}},
	}

	pipelines, err := config.BuildPipelines(cfg, config.Builtins(cfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pipelines) != 1 {
		t.Fatalf("pipelines = %d, want 1", len(pipelines))
	}

	p := pipelines[0]
	if p.ID() != "p1" || len(p.Nodes()) != 3 || len(p.Connections()) != 2 {
		t.Fatalf("graph shape: id=%s nodes=%d conns=%d", p.ID(), len(p.Nodes()), len(p.Connections()))
	}
	if n, ok := p.Node("out"); !ok || n.Enabled() {
		t.Error("disabled node was not honoured")
	}
	c, ok := p.Connection("c2")
	if !ok || c.Label() != "monitor" {
		t.Fatalf("connection c2 = %+v", c)
	}
	n, _ := p.Node("boost")
	boost, ok := n.(*gain.Node)
	if !ok {
		t.Fatal("boost is not a gain node")
	}
	if got := boost.Gain(); got != 0.5 {
		t.Errorf("gain = %v, want 0.5", got)
	}
}

func TestBuildPipelines_SplitterChannels(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{{
			ID: "p1",
			Nodes: []config.NodeConfig{
				{ID: "split", Type: "splitter", Configuration: map[string]any{
					"channels": []any{"voice", "music"},
				}},
			},
		}},
	}

	pipelines, err := config.BuildPipelines(cfg, config.Builtins(cfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := pipelines[0].Node("split")
	split := n.(*splitter.Node)
	channels := split.Channels()
	if len(channels) != 2 || channels[0].ID != "voice" || channels[1].ID != "music" {
		t.Fatalf("channels = %+v", channels)
	}
	if !channels[0].Enabled || !channels[1].Enabled {
		t.Errorf("declared channels must start enabled: %+v", channels)
	}
}

func TestBuildPipelines_UnknownType(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{{
			ID:    "p1",
			Nodes: []config.NodeConfig{{ID: "x", Type: "teleport"}},
		}},
	}
	if _, err := config.BuildPipelines(cfg, config.Builtins(cfg)); err == nil {
		t.Fatal("expected error for unregistered node type")
	}
}

func TestBuildPipelines_TextEdgeKind(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Services: config.ServicesConfig{
			Respond: config.LLMService{APIKey: "sk-test", Model: "gpt-4o-mini"},
		},
		Pipelines: []config.PipelineConfig{{
			ID: "p1",
			Nodes: []config.NodeConfig{
				{ID: "mic", Type: "source"},
				{ID: "llm", Type: "respond"},
			},
			Connections: []config.ConnectionConfig{
				{ID: "c1", Source: "mic", Target: "llm", Kind: "text"},
			},
		}},
	}

	pipelines, err := config.BuildPipelines(cfg, config.Builtins(cfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := pipelines[0].Connection("c1")
	if !ok {
		t.Fatal("connection c1 missing")
	}
	if c.Kind() != pipeline.KindText {
		t.Errorf("kind = %q, want text", c.Kind())
	}
}
