package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxgraph/voxgraph/pkg/audio"
)

// Connection kinds. The kind decides which validation contract applies and
// which payload types the connection will carry.
const (
	// KindAudio connections carry [audio.Buffer] payloads between an
	// [AudioEmitter] source and an [AudioReceiver] target.
	KindAudio = "audio"

	// KindText connections carry string payloads to a [TextReceiver] target.
	KindText = "text"
)

// ConnectionConfigChannel is the connection configuration key a splitter node
// reads to decide which named channel's output a connection receives.
const ConnectionConfigChannel = "channel"

// Connection is a directed, labeled edge between two nodes. It carries an
// enable flag, an integer priority (lower fires earlier), a kind, and
// free-form configuration. Connections are constructed by [Pipeline.Connect].
type Connection struct {
	id     string
	source Node
	target Node
	kind   string

	mu       sync.RWMutex
	label    string
	enabled  bool
	priority int
	config   map[string]any

	pipelineID string
	publish    func(Event)
}

func (c *Connection) ID() string   { return c.id }
func (c *Connection) Kind() string { return c.kind }

// Source returns the emitting node of the edge.
func (c *Connection) Source() Node { return c.source }

// Target returns the receiving node of the edge.
func (c *Connection) Target() Node { return c.target }

func (c *Connection) Label() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.label
}

func (c *Connection) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

func (c *Connection) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Priority orders outbound fan-out: lower values fire earlier.
func (c *Connection) Priority() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priority
}

func (c *Connection) SetPriority(priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priority = priority
}

func (c *Connection) ConfigValue(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.config[key]
	return v, ok
}

func (c *Connection) SetConfigValue(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config[key] = value
}

// Config returns a copy of the connection's configuration map.
func (c *Connection) Config() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.config))
	for k, v := range c.config {
		out[k] = v
	}
	return out
}

// Validate checks that the edge can actually carry its kind of data and
// delegates to both endpoints' node-level self-checks.
//
// For audio connections the source must emit audio and the target must accept
// it; the target's supported-format set must be empty (accept-any) or contain
// a format structurally equal to the source's declared output format.
// Incompatibility is reported as a typed [IncompatibleError] so callers can
// distinguish "not yet validated" from "actively incompatible".
func (c *Connection) Validate(ctx context.Context) error {
	if c.kind == KindAudio {
		emitter, ok := c.source.(AudioEmitter)
		if !ok {
			return c.incompatible("source is not audio-output capable")
		}
		receiver, ok := c.target.(AudioReceiver)
		if !ok {
			return c.incompatible("target is not audio-input capable")
		}

		supported := receiver.SupportedFormats()
		if len(supported) > 0 {
			out := emitter.OutputFormat()
			if out.IsZero() {
				return c.incompatible("source declares no output format but target restricts input formats")
			}
			match := false
			for _, f := range supported {
				if f.Equal(out) {
					match = true
					break
				}
			}
			if !match {
				return c.incompatible(fmt.Sprintf("source format %s not in target's supported set", out))
			}
		}
	}

	if c.kind == KindText {
		if _, ok := c.target.(TextReceiver); !ok {
			return c.incompatible("target does not accept text payloads")
		}
	}

	if err := c.source.Validate(ctx); err != nil {
		return fmt.Errorf("connection %s: source %s: %w", c.id, c.source.ID(), err)
	}
	if err := c.target.Validate(ctx); err != nil {
		return fmt.Errorf("connection %s: target %s: %w", c.id, c.target.ID(), err)
	}
	return nil
}

func (c *Connection) incompatible(cause string) *IncompatibleError {
	return &IncompatibleError{
		ConnectionID: c.id,
		SourceID:     c.source.ID(),
		TargetID:     c.target.ID(),
		Cause:        cause,
	}
}

// TransferData forwards a payload to the target node. A disabled connection
// is a no-op returning false. Audio buffers are delivered to targets
// implementing [AudioReceiver]; text payloads to targets implementing
// [TextReceiver]. Anything else is node-specific and reports false without
// error. A data-transferred event is published on success.
func (c *Connection) TransferData(pctx *ProcessingContext, payload any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	var (
		ok  bool
		err error
	)
	switch data := payload.(type) {
	case audio.Buffer:
		receiver, accepts := c.target.(AudioReceiver)
		if !accepts {
			return false, nil
		}
		ok, err = receiver.AcceptAudio(pctx, data)
	case string:
		receiver, accepts := c.target.(TextReceiver)
		if !accepts {
			return false, nil
		}
		ok, err = receiver.AcceptText(pctx, data)
	default:
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("connection %s: deliver to %s: %w", c.id, c.target.ID(), err)
	}
	if ok {
		c.emitTransferred()
	}
	return ok, nil
}

func (c *Connection) emitTransferred() {
	c.mu.RLock()
	publish := c.publish
	pipelineID := c.pipelineID
	c.mu.RUnlock()
	if publish == nil {
		return
	}
	publish(Event{
		Kind:         EventDataTransferred,
		PipelineID:   pipelineID,
		NodeID:       c.target.ID(),
		ConnectionID: c.id,
	})
}

func (c *Connection) bind(pipelineID string, publish func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipelineID = pipelineID
	c.publish = publish
}
