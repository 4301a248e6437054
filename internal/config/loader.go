package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// BuiltinNodeTypes lists the node types registered by [Builtins]. Used by
// [Validate] to warn about unrecognised node types, which may still resolve
// against a caller-extended registry.
var BuiltinNodeTypes = []string{
	"source", "sink", "gain", "resample", "mixer", "splitter",
	"opus-encode", "opus-decode", "transcribe", "synthesize", "respond",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}

	// Pipeline duplicate id detection
	pipelineIDsSeen := make(map[string]int, len(cfg.Pipelines))

	for i, pc := range cfg.Pipelines {
		prefix := fmt.Sprintf("pipelines[%d]", i)
		if pc.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := pipelineIDsSeen[pc.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of pipelines[%d]", prefix, pc.ID, prev))
			}
			pipelineIDsSeen[pc.ID] = i
		}

		nodeIDs := make(map[string]int, len(pc.Nodes))
		for j, nc := range pc.Nodes {
			nodePrefix := fmt.Sprintf("%s.nodes[%d]", prefix, j)
			if nc.ID == "" {
				errs = append(errs, fmt.Errorf("%s.id is required", nodePrefix))
			} else {
				if prev, ok := nodeIDs[nc.ID]; ok {
					errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of %s.nodes[%d]", nodePrefix, nc.ID, prefix, prev))
				}
				nodeIDs[nc.ID] = j
			}
			if nc.Type == "" {
				errs = append(errs, fmt.Errorf("%s.type is required", nodePrefix))
			} else if !slices.Contains(BuiltinNodeTypes, nc.Type) {
				slog.Warn("unknown node type — may be a typo or caller-registered type",
					"pipeline", pc.ID,
					"node", nc.ID,
					"type", nc.Type,
				)
			}

			// Service availability for remote node types.
			switch nc.Type {
			case "transcribe":
				if cfg.Services.Transcribe.URL == "" && cfg.Services.Transcribe.ControlPlane == "" {
					errs = append(errs, fmt.Errorf("%s: type %q requires services.transcribe.url or .control_plane", nodePrefix, nc.Type))
				}
			case "synthesize":
				if cfg.Services.Synthesize.URL == "" && cfg.Services.Synthesize.ControlPlane == "" {
					errs = append(errs, fmt.Errorf("%s: type %q requires services.synthesize.url or .control_plane", nodePrefix, nc.Type))
				}
			case "respond":
				if cfg.Services.Respond.APIKey == "" || cfg.Services.Respond.Model == "" {
					errs = append(errs, fmt.Errorf("%s: type %q requires services.respond.api_key and .model", nodePrefix, nc.Type))
				}
			}
		}

		for j, cc := range pc.Connections {
			connPrefix := fmt.Sprintf("%s.connections[%d]", prefix, j)
			if cc.Source == "" {
				errs = append(errs, fmt.Errorf("%s.source is required", connPrefix))
			} else if _, ok := nodeIDs[cc.Source]; !ok {
				errs = append(errs, fmt.Errorf("%s.source %q does not reference a declared node", connPrefix, cc.Source))
			}
			if cc.Target == "" {
				errs = append(errs, fmt.Errorf("%s.target is required", connPrefix))
			} else if _, ok := nodeIDs[cc.Target]; !ok {
				errs = append(errs, fmt.Errorf("%s.target %q does not reference a declared node", connPrefix, cc.Target))
			}
			if cc.Kind != "" && cc.Kind != pipeline.KindAudio && cc.Kind != pipeline.KindText {
				errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: audio, text", connPrefix, cc.Kind))
			}
		}
	}

	return errors.Join(errs...)
}
