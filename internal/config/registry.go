package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/voxgraph/voxgraph/pkg/node/gain"
	"github.com/voxgraph/voxgraph/pkg/node/mixer"
	"github.com/voxgraph/voxgraph/pkg/node/opus"
	"github.com/voxgraph/voxgraph/pkg/node/resample"
	"github.com/voxgraph/voxgraph/pkg/node/respond"
	"github.com/voxgraph/voxgraph/pkg/node/sink"
	"github.com/voxgraph/voxgraph/pkg/node/source"
	"github.com/voxgraph/voxgraph/pkg/node/splitter"
	"github.com/voxgraph/voxgraph/pkg/node/synthesize"
	"github.com/voxgraph/voxgraph/pkg/node/transcribe"
	"github.com/voxgraph/voxgraph/pkg/node/ws"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// Builtins returns a node registry populated with every built-in node type,
// bound to cfg's default audio format and remote services. Callers may
// register additional types on the returned registry before building.
func Builtins(cfg *Config) *pipeline.Registry {
	format := cfg.Audio.Format()
	reg := pipeline.NewRegistry()

	reg.Register("source", func(id, name string) (pipeline.Node, error) {
		return source.NewNode(id, name, format), nil
	})
	reg.Register("sink", func(id, name string) (pipeline.Node, error) {
		return sink.NewNode(id, name, format), nil
	})
	reg.Register("gain", func(id, name string) (pipeline.Node, error) {
		return gain.NewNode(id, name, 1.0), nil
	})
	reg.Register("resample", func(id, name string) (pipeline.Node, error) {
		return resample.NewNode(id, name, format), nil
	})
	reg.Register("mixer", func(id, name string) (pipeline.Node, error) {
		return mixer.NewNode(id, name), nil
	})
	reg.Register("splitter", func(id, name string) (pipeline.Node, error) {
		return splitter.NewNode(id, name), nil
	})
	reg.Register("opus-encode", func(id, name string) (pipeline.Node, error) {
		return opus.NewEncoderNode(id, name, format.Channels)
	})
	reg.Register("opus-decode", func(id, name string) (pipeline.Node, error) {
		return opus.NewDecoderNode(id, name, format.Channels)
	})

	transcribeSvc := cfg.Services.Transcribe
	reg.Register("transcribe", func(id, name string) (pipeline.Node, error) {
		var opts []transcribe.Option
		switch {
		case transcribeSvc.ControlPlane != "":
			opts = append(opts, transcribe.WithControlPlane(transcribeSvc.ControlPlane, nil))
		case transcribeSvc.URL != "":
			opts = append(opts, transcribe.WithEndpoint(transcribeSvc.URL))
		default:
			return nil, fmt.Errorf("config: node %s: services.transcribe is not configured", id)
		}
		return transcribe.NewNode(id, name, opts...), nil
	})

	synthesizeSvc := cfg.Services.Synthesize
	reg.Register("synthesize", func(id, name string) (pipeline.Node, error) {
		var opts []ws.Option
		switch {
		case synthesizeSvc.ControlPlane != "":
			opts = append(opts, ws.WithEndpointResolver(controlPlaneResolver(synthesizeSvc.ControlPlane)))
		case synthesizeSvc.URL != "":
			opts = append(opts, ws.WithEndpoint(synthesizeSvc.URL))
		default:
			return nil, fmt.Errorf("config: node %s: services.synthesize is not configured", id)
		}
		return synthesize.NewNode(id, name, format, opts...), nil
	})

	llm := cfg.Services.Respond
	reg.Register("respond", func(id, name string) (pipeline.Node, error) {
		var opts []respond.Option
		if llm.BaseURL != "" {
			opts = append(opts, respond.WithBaseURL(llm.BaseURL))
		}
		if llm.Persona != "" {
			opts = append(opts, respond.WithPersona(llm.Persona))
		}
		if llm.Temperature != 0 {
			opts = append(opts, respond.WithTemperature(llm.Temperature))
		}
		if llm.HistoryLimit != 0 {
			opts = append(opts, respond.WithHistoryLimit(llm.HistoryLimit))
		}
		return respond.NewNode(id, name, llm.APIKey, llm.Model, opts...)
	})

	return reg
}

// controlPlaneResolver exchanges a session-setup POST against controlURL for
// the session's socket URL. Same handshake as the transcribe node's control
// plane option.
func controlPlaneResolver(controlURL string) ws.EndpointResolver {
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, nil)
		if err != nil {
			return "", fmt.Errorf("config: session join request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("config: session join: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("config: session join: status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return "", fmt.Errorf("config: session join: %w", err)
		}
		var join struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(body, &join); err != nil {
			return "", fmt.Errorf("config: session join: %w", err)
		}
		if join.URL == "" {
			return "", fmt.Errorf("config: session join: empty session url")
		}
		return join.URL, nil
	}
}
