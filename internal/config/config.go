// Package config provides the configuration schema, loader, node registry
// wiring, and pipeline builder for the Voxgraph engine.
package config

import (
	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// LogLevel controls log verbosity for the Voxgraph server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxgraph.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Audio     AudioConfig      `yaml:"audio"`
	Services  ServicesConfig   `yaml:"services"`
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

// ServerConfig holds network and logging settings for the Voxgraph server.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin/metrics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig declares the default PCM format used when registering the
// built-in node types. Nodes bound to a fixed format (Opus framing) ignore it.
type AudioConfig struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo. Default: 1.
	Channels int `yaml:"channels"`

	// Float selects 32-bit IEEE float samples instead of 16-bit integers.
	Float bool `yaml:"float"`
}

// Format returns the configured default PCM format, falling back to 16 kHz
// mono int16 for unset fields.
func (a AudioConfig) Format() audio.Format {
	rate := a.SampleRate
	if rate == 0 {
		rate = 16000
	}
	channels := a.Channels
	if channels == 0 {
		channels = 1
	}
	if a.Float {
		return audio.Float32(rate, channels)
	}
	return audio.Int16(rate, channels)
}

// ServicesConfig holds the remote speech and language services the built-in
// transcribe, synthesize, and respond node types connect to.
type ServicesConfig struct {
	Transcribe SpeechService `yaml:"transcribe"`
	Synthesize SpeechService `yaml:"synthesize"`
	Respond    LLMService    `yaml:"respond"`
}

// SpeechService describes one WebSocket speech endpoint. Either URL (direct
// dial) or ControlPlane (session-setup POST returning a join URL) is set.
type SpeechService struct {
	// URL is the WebSocket endpoint dialed directly.
	URL string `yaml:"url"`

	// ControlPlane is an HTTP endpoint that exchanges a session-setup POST
	// for a per-session socket URL before every connect attempt.
	ControlPlane string `yaml:"control_plane"`
}

// LLMService configures the chat-completion backend for respond nodes.
type LLMService struct {
	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the chat model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Persona is the system prompt sent with every request.
	Persona string `yaml:"persona"`

	// Temperature is the sampling temperature. 0 uses the provider default.
	Temperature float64 `yaml:"temperature"`

	// HistoryLimit bounds the rolling conversation window. 0 uses the
	// package default.
	HistoryLimit int `yaml:"history_limit"`
}

// PipelineConfig declares one pipeline graph: nodes by registered type plus
// the connections between them.
type PipelineConfig struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Nodes       []NodeConfig       `yaml:"nodes"`
	Connections []ConnectionConfig `yaml:"connections"`
}

// NodeConfig declares one node in a pipeline graph.
type NodeConfig struct {
	// ID is the graph-unique node identifier.
	ID string `yaml:"id"`

	// Name is the human-readable display name. Defaults to ID.
	Name string `yaml:"name"`

	// Type selects the registered node constructor (e.g., "source", "gain").
	Type string `yaml:"type"`

	// Disabled excludes the node from routing without removing it.
	Disabled bool `yaml:"disabled"`

	// Configuration holds free-form node settings. Well-known keys ("gain",
	// "channels") are applied by the builder; the rest land in the node's
	// configuration map untouched.
	Configuration map[string]any `yaml:"configuration"`
}

// ConnectionConfig declares one directed edge between two declared nodes.
type ConnectionConfig struct {
	// ID is the edge identifier. Generated when empty.
	ID string `yaml:"id"`

	// Source and Target reference node IDs declared in the same pipeline.
	Source string `yaml:"source"`
	Target string `yaml:"target"`

	// Label is the optional human-readable edge label.
	Label string `yaml:"label"`

	// Disabled excludes the edge from propagation without removing it.
	Disabled bool `yaml:"disabled"`

	// Priority orders fan-out; lower values fire earlier.
	Priority int `yaml:"priority"`

	// Kind selects the payload type: "audio" (default) or "text".
	Kind string `yaml:"kind"`

	// Channel tags the edge for splitter routing.
	Channel string `yaml:"channel"`

	// Configuration holds additional free-form edge settings.
	Configuration map[string]any `yaml:"configuration"`
}

// Document converts the declared graph into the pipeline package's
// round-trippable document shape, ready for [pipeline.Restore].
func (pc PipelineConfig) Document() pipeline.Document {
	doc := pipeline.Document{ID: pc.ID, Name: pc.Name}
	for _, nc := range pc.Nodes {
		name := nc.Name
		if name == "" {
			name = nc.ID
		}
		doc.Nodes = append(doc.Nodes, pipeline.NodeDocument{
			ID:            nc.ID,
			Name:          name,
			Type:          nc.Type,
			Enabled:       !nc.Disabled,
			Configuration: nc.Configuration,
		})
	}
	for _, cc := range pc.Connections {
		cfg := make(map[string]any, len(cc.Configuration)+2)
		for k, v := range cc.Configuration {
			cfg[k] = v
		}
		if cc.Kind != "" && cc.Kind != pipeline.KindAudio {
			cfg["kind"] = cc.Kind
		}
		if cc.Channel != "" {
			cfg[pipeline.ConnectionConfigChannel] = cc.Channel
		}
		if len(cfg) == 0 {
			cfg = nil
		}
		doc.Connections = append(doc.Connections, pipeline.ConnectionDocument{
			ID:            cc.ID,
			SourceID:      cc.Source,
			TargetID:      cc.Target,
			Label:         cc.Label,
			Enabled:       !cc.Disabled,
			Priority:      cc.Priority,
			Configuration: cfg,
		})
	}
	return doc
}
