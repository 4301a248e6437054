package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	PipelinesChanged bool           // true if any pipeline graph changed
	PipelineChanges  []PipelineDiff // per-pipeline diffs
	LogLevelChanged  bool
	NewLogLevel      LogLevel
}

// PipelineDiff describes what changed for a single pipeline between two configs.
type PipelineDiff struct {
	ID           string
	GraphChanged bool // nodes or connections differ; requires a rebuild
	Added        bool
	Removed      bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build pipeline lookup maps keyed by id.
	oldPipelines := make(map[string]*PipelineConfig, len(old.Pipelines))
	for i := range old.Pipelines {
		oldPipelines[old.Pipelines[i].ID] = &old.Pipelines[i]
	}
	newPipelines := make(map[string]*PipelineConfig, len(new.Pipelines))
	for i := range new.Pipelines {
		newPipelines[new.Pipelines[i].ID] = &new.Pipelines[i]
	}

	// Detect modified and removed pipelines.
	for id, oldPC := range oldPipelines {
		newPC, exists := newPipelines[id]
		if !exists {
			d.PipelineChanges = append(d.PipelineChanges, PipelineDiff{
				ID:      id,
				Removed: true,
			})
			d.PipelinesChanged = true
			continue
		}
		if !reflect.DeepEqual(oldPC, newPC) {
			d.PipelineChanges = append(d.PipelineChanges, PipelineDiff{
				ID:           id,
				GraphChanged: true,
			})
			d.PipelinesChanged = true
		}
	}

	// Detect added pipelines.
	for id := range newPipelines {
		if _, exists := oldPipelines[id]; !exists {
			d.PipelineChanges = append(d.PipelineChanges, PipelineDiff{
				ID:    id,
				Added: true,
			})
			d.PipelinesChanged = true
		}
	}

	return d
}
