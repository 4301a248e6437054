package config_test

import (
	"strings"
	"testing"

	"github.com/voxgraph/voxgraph/internal/config"
)

const loaderValidYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
audio:
  sample_rate: 48000
  channels: 2
services:
  transcribe:
    url: ws://stt.local/stream
  respond:
    api_key: sk-test
    model: gpt-4o-mini
pipelines:
  - id: voice
    name: Voice loop
    nodes:
      - id: mic
        type: source
      - id: stt
        type: transcribe
      - id: out
        type: sink
    connections:
      - source: mic
        target: stt
      - id: stt-out
        source: stt
        target: out
        kind: text
        priority: 2
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(loaderValidYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if got := cfg.Audio.Format().SampleRate; got != 48000 {
		t.Errorf("sample rate = %d, want 48000", got)
	}
	if len(cfg.Pipelines) != 1 {
		t.Fatalf("pipelines = %d, want 1", len(cfg.Pipelines))
	}
	p := cfg.Pipelines[0]
	if len(p.Nodes) != 3 || len(p.Connections) != 2 {
		t.Fatalf("graph shape: %d nodes, %d connections", len(p.Nodes), len(p.Connections))
	}
	if p.Connections[1].Kind != "text" || p.Connections[1].Priority != 2 {
		t.Errorf("second connection = %+v", p.Connections[1])
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  unknown_setting: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Server.LogLevel = "bananas"
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_DuplicatePipelineID(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{
			{ID: "p1"},
			{ID: "p1"},
		},
	}
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidate_DanglingConnection(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{{
			ID: "p1",
			Nodes: []config.NodeConfig{
				{ID: "a", Type: "source"},
			},
			Connections: []config.ConnectionConfig{
				{Source: "a", Target: "ghost"},
			},
		}},
	}
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected dangling target error, got %v", err)
	}
}

func TestValidate_InvalidConnectionKind(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{{
			ID: "p1",
			Nodes: []config.NodeConfig{
				{ID: "a", Type: "source"},
				{ID: "b", Type: "sink"},
			},
			Connections: []config.ConnectionConfig{
				{Source: "a", Target: "b", Kind: "video"},
			},
		}},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestValidate_RemoteNodeNeedsService(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Pipelines: []config.PipelineConfig{{
			ID: "p1",
			Nodes: []config.NodeConfig{
				{ID: "llm", Type: "respond"},
			},
		}},
	}
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "services.respond") {
		t.Fatalf("expected missing service error, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Server.LogLevel = "bananas"
	cfg.Audio.Channels = 7
	cfg.Pipelines = []config.PipelineConfig{{
		Nodes: []config.NodeConfig{{ID: "a"}},
	}}

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"log_level", "channels", "pipelines[0].id", "type is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
