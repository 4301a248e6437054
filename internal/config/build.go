package config

import (
	"fmt"

	"github.com/voxgraph/voxgraph/pkg/node/gain"
	"github.com/voxgraph/voxgraph/pkg/node/mixer"
	"github.com/voxgraph/voxgraph/pkg/node/splitter"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// BuildPipelines instantiates every declared pipeline graph through the
// registry. Well-known node configuration keys are applied after
// construction; the returned pipelines are not yet initialized.
func BuildPipelines(cfg *Config, registry *pipeline.Registry) ([]*pipeline.Pipeline, error) {
	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		p, err := pipeline.Restore(pc.Document(), registry)
		if err != nil {
			return nil, fmt.Errorf("config: build pipeline %s: %w", pc.ID, err)
		}
		if err := applyNodeSettings(p); err != nil {
			return nil, fmt.Errorf("config: build pipeline %s: %w", pc.ID, err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

// applyNodeSettings maps well-known configuration keys onto typed node
// settings the constructors cannot take through the registry.
func applyNodeSettings(p *pipeline.Pipeline) error {
	for _, n := range p.Nodes() {
		conf := n.Config()
		switch node := n.(type) {
		case *gain.Node:
			if v, ok := conf["gain"]; ok {
				f, err := floatValue(v)
				if err != nil {
					return fmt.Errorf("node %s: gain: %w", n.ID(), err)
				}
				node.SetGain(f)
			}
		case *mixer.Node:
			gains, ok := conf["source_gains"]
			if !ok {
				continue
			}
			m, ok := gains.(map[string]any)
			if !ok {
				return fmt.Errorf("node %s: source_gains must be a mapping", n.ID())
			}
			for src, v := range m {
				f, err := floatValue(v)
				if err != nil {
					return fmt.Errorf("node %s: source_gains[%s]: %w", n.ID(), src, err)
				}
				node.SetSourceGain(src, f)
			}
		case *splitter.Node:
			channels, ok := conf["channels"]
			if !ok {
				continue
			}
			list, ok := channels.([]any)
			if !ok {
				return fmt.Errorf("node %s: channels must be a list", n.ID())
			}
			for _, raw := range list {
				id, ok := raw.(string)
				if !ok {
					return fmt.Errorf("node %s: channels entries must be strings", n.ID())
				}
				node.AddChannel(id, nil)
			}
		}
	}
	return nil
}

func floatValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
