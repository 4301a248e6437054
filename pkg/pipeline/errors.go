package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoEntryPoints is returned by [Pipeline.Execute] when the graph contains
// no enabled audio-input nodes to drive.
var ErrNoEntryPoints = errors.New("pipeline: no entry points")

// GraphError reports a structural graph mutation failure: a duplicate node or
// connection id, or a reference to an unknown id. It is fatal to the specific
// call and the graph is left unchanged.
type GraphError struct {
	// PipelineID identifies the pipeline the mutation targeted.
	PipelineID string

	// Op is the operation that failed, e.g. "add node" or "connect".
	Op string

	// ID is the node or connection id involved.
	ID string

	// Reason is a short human-readable cause, e.g. "duplicate id".
	Reason string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("pipeline %s: %s %q: %s", e.PipelineID, e.Op, e.ID, e.Reason)
}

// IncompatibleError is raised by [Connection.Validate] when the source and
// target cannot exchange data: mismatched audio formats or missing
// capabilities. The connection stays unusable until reconfigured.
type IncompatibleError struct {
	ConnectionID string
	SourceID     string
	TargetID     string
	Cause        string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("connection %s (%s -> %s): %s", e.ConnectionID, e.SourceID, e.TargetID, e.Cause)
}

// ExecutionError wraps any unexpected error raised during a propagation pass.
// The pipeline's running flag is cleared before this is returned, so a
// subsequent Execute call is not blocked.
type ExecutionError struct {
	PipelineID string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("pipeline %s: execution failed: %v", e.PipelineID, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
