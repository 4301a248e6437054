// Package splitter provides the named-channel fan-out node: each enabled
// channel clones the input, optionally transforms it, and delivers the result
// only to connections tagged with that channel's id.
package splitter

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// Transform rewrites a channel's copy of the input buffer.
type Transform func(ctx context.Context, buf audio.Buffer) (audio.Buffer, error)

// Channel is one named split target.
type Channel struct {
	ID      string
	Enabled bool

	// Transform, when non-nil, is applied to the channel's clone of the
	// input. A nil transform delivers the clone unchanged.
	Transform Transform
}

// Node fans one input out over named channels. Connections tagged with a
// channel id (via the connection configuration key
// [pipeline.ConnectionConfigChannel]) receive that channel's transformed
// buffer; untagged connections always receive the original, unsplit input.
// With no enabled channel the input passes through unmodified.
type Node struct {
	pipeline.BaseNode

	mu       sync.Mutex
	channels []Channel

	outMu  sync.Mutex
	latest *audio.Buffer
}

var (
	_ pipeline.Node          = (*Node)(nil)
	_ pipeline.AudioReceiver = (*Node)(nil)
	_ pipeline.AudioEmitter  = (*Node)(nil)
	_ pipeline.Resettable    = (*Node)(nil)
)

// NewNode constructs a splitter with no channels.
func NewNode(id, name string) *Node {
	return &Node{BaseNode: pipeline.NewBaseNode("splitter", id, name, pipeline.CapNone)}
}

// AddChannel appends an enabled channel. Adding an id twice replaces the
// earlier definition in place, keeping its position.
func (n *Node) AddChannel(id string, transform Transform) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.channels {
		if n.channels[i].ID == id {
			n.channels[i].Transform = transform
			n.channels[i].Enabled = true
			return
		}
	}
	n.channels = append(n.channels, Channel{ID: id, Enabled: true, Transform: transform})
}

// RemoveChannel drops a channel by id.
func (n *Node) RemoveChannel(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = slices.DeleteFunc(n.channels, func(c Channel) bool { return c.ID == id })
}

// SetChannelEnabled flips one channel's enable flag.
func (n *Node) SetChannelEnabled(id string, enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.channels {
		if n.channels[i].ID == id {
			n.channels[i].Enabled = enabled
			return
		}
	}
}

// Channels returns a copy of the channel list in definition order.
func (n *Node) Channels() []Channel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.channels)
}

// SupportedFormats reports accept-any.
func (n *Node) SupportedFormats() []audio.Format { return nil }

// OutputFormat cannot be stated in advance: the node forwards whatever
// format it is fed.
func (n *Node) OutputFormat() audio.Format { return audio.Format{} }

// AcceptAudio runs one split pass. Channel transforms run concurrently; the
// node's own output for default connections and the pull contract is always
// the original input.
func (n *Node) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	n.MarkActivity()
	n.outMu.Lock()
	n.latest = &buf
	n.outMu.Unlock()

	enabled := make([]Channel, 0, 4)
	for _, c := range n.Channels() {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}

	if len(enabled) == 0 {
		if len(n.Outbound()) == 0 {
			return true, nil
		}
		return n.PropagateToOutputs(pctx, buf)
	}

	delivered := false
	var deliveredMu sync.Mutex
	g, ctx := errgroup.WithContext(pctx.Context())
	for _, ch := range enabled {
		g.Go(func() error {
			out := buf.Clone()
			if ch.Transform != nil {
				transformed, err := ch.Transform(ctx, out)
				if err != nil {
					return fmt.Errorf("splitter %s: channel %s: %w", n.ID(), ch.ID, err)
				}
				out = transformed
			}
			ok, err := n.deliverToChannel(pctx, ch.ID, out)
			if err != nil {
				return err
			}
			if ok {
				deliveredMu.Lock()
				delivered = true
				deliveredMu.Unlock()
			}
			return nil
		})
	}

	// Untagged connections receive the original in parallel with the
	// channel deliveries.
	g.Go(func() error {
		ok, err := n.deliverToChannel(pctx, "", buf)
		if err != nil {
			return err
		}
		if ok {
			deliveredMu.Lock()
			delivered = true
			deliveredMu.Unlock()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		n.SetLastError(err)
		if !delivered {
			return false, err
		}
		pctx.Logf("splitter %s: partial delivery: %v", n.ID(), err)
	}
	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return delivered, nil
}

// deliverToChannel transfers out over every enabled outbound connection
// whose channel tag equals channelID (the empty id matches untagged
// connections), in ascending priority order.
func (n *Node) deliverToChannel(pctx *pipeline.ProcessingContext, channelID string, out audio.Buffer) (bool, error) {
	conns := n.Outbound()
	conns = slices.DeleteFunc(conns, func(c *pipeline.Connection) bool {
		if !c.Enabled() {
			return true
		}
		tag := ""
		if v, ok := c.ConfigValue(pipeline.ConnectionConfigChannel); ok {
			tag, _ = v.(string)
		}
		return tag != channelID
	})
	slices.SortStableFunc(conns, func(a, b *pipeline.Connection) int { return a.Priority() - b.Priority() })

	delivered := false
	var firstErr error
	for _, conn := range conns {
		ok, err := conn.TransferData(pctx, out)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			delivered = true
		}
	}
	if !delivered && firstErr != nil {
		return false, firstErr
	}
	return delivered, nil
}

// PullOutput consumes the original input of the most recent pass.
func (n *Node) PullOutput() *audio.Buffer {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

// Reset drops the buffered output. The channel set survives.
func (n *Node) Reset() {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	n.latest = nil
}
