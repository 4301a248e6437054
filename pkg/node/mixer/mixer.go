// Package mixer provides the N-source mixing node: it admits buffers from
// multiple sources into a time-windowed table and combines everything still
// inside the window into one output per pass.
package mixer

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxgraph/voxgraph/pkg/audio"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// TransientSourceKey is the processing-context transient key under which a
// caller identifies which source an accepted buffer belongs to. Absent a
// value, every call is treated as a fresh source.
const TransientSourceKey = "mixer.source"

// DefaultMaxAge is the buffer-table window: entries older than this are
// evicted before every mix pass.
const DefaultMaxAge = 5 * time.Second

type entry struct {
	buf audio.Buffer
	at  time.Time
}

// Node mixes buffers from N sources. Each accepted buffer is timestamped and
// keyed by its source id; before every pass, stale entries are evicted and
// the survivors whose format matches the oldest entry's format are combined
// under the node's normalize setting. With zero or one compatible buffer the
// pass short-circuits and forwards that buffer unmixed.
//
// The buffer table has its own lock so admission from one source is never
// starved by a pipeline pass driven elsewhere.
type Node struct {
	pipeline.BaseNode

	maxAge    time.Duration
	normalize bool
	now       func() time.Time

	tableMu sync.Mutex
	table   map[string]entry
	order   []string

	gainMu       sync.Mutex
	sourceGains  map[string]float64
	channelGains []float64

	outMu  sync.Mutex
	latest *audio.Buffer
}

var (
	_ pipeline.Node          = (*Node)(nil)
	_ pipeline.AudioReceiver = (*Node)(nil)
	_ pipeline.AudioEmitter  = (*Node)(nil)
	_ pipeline.Resettable    = (*Node)(nil)
)

// Option configures a mixer node.
type Option func(*Node)

// WithMaxAge sets the buffer-table window.
func WithMaxAge(d time.Duration) Option {
	return func(n *Node) { n.maxAge = d }
}

// WithNormalize controls whether mixed samples are averaged over the number
// of contributing sources. On by default; raw summation clips sooner.
func WithNormalize(normalize bool) Option {
	return func(n *Node) { n.normalize = normalize }
}

// WithChannelGains sets a per-channel weight vector applied to every source.
func WithChannelGains(gains ...float64) Option {
	return func(n *Node) { n.channelGains = gains }
}

func withClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// NewNode constructs a mixer with normalization on and the default window.
func NewNode(id, name string, opts ...Option) *Node {
	n := &Node{
		BaseNode:    pipeline.NewBaseNode("mixer", id, name, pipeline.CapNone),
		maxAge:      DefaultMaxAge,
		normalize:   true,
		now:         time.Now,
		table:       map[string]entry{},
		sourceGains: map[string]float64{},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SetSourceGain sets the uniform gain applied to one source's contribution.
func (n *Node) SetSourceGain(sourceID string, gain float64) {
	n.gainMu.Lock()
	defer n.gainMu.Unlock()
	n.sourceGains[sourceID] = gain
}

// SourceGain returns the configured gain for a source, defaulting to 1.0.
func (n *Node) SourceGain(sourceID string) float64 {
	n.gainMu.Lock()
	defer n.gainMu.Unlock()
	if g, ok := n.sourceGains[sourceID]; ok {
		return g
	}
	return 1.0
}

// SupportedFormats reports accept-any: format filtering happens inside the
// mix pass, where incompatible buffers are excluded rather than rejected.
func (n *Node) SupportedFormats() []audio.Format { return nil }

// OutputFormat cannot be stated in advance: it follows the oldest admitted
// buffer of the current window.
func (n *Node) OutputFormat() audio.Format { return audio.Format{} }

// AcceptAudio admits buf under the calling source's id, evicts stale
// entries, mixes the window, and forwards the result downstream.
func (n *Node) AcceptAudio(pctx *pipeline.ProcessingContext, buf audio.Buffer) (bool, error) {
	sourceID := ""
	if v, ok := pctx.TransientValue(TransientSourceKey); ok {
		if s, ok := v.(string); ok {
			sourceID = s
		}
	}
	if sourceID == "" {
		sourceID = uuid.NewString()
	}

	mixed, err := n.admitAndMix(sourceID, buf)
	if err != nil {
		// Local, non-fatal: pass the newest buffer through unmodified.
		pctx.Logf("mixer %s: %v", n.ID(), err)
		n.SetLastError(err)
		mixed = buf
	}
	n.MarkActivity()

	n.outMu.Lock()
	n.latest = &mixed
	n.outMu.Unlock()

	if len(n.Outbound()) == 0 {
		return true, nil
	}
	return n.PropagateToOutputs(pctx, mixed)
}

// admitAndMix performs table admission, eviction, and the mix pass under the
// table lock.
func (n *Node) admitAndMix(sourceID string, buf audio.Buffer) (audio.Buffer, error) {
	n.tableMu.Lock()
	defer n.tableMu.Unlock()

	now := n.now()
	if _, known := n.table[sourceID]; !known {
		n.order = append(n.order, sourceID)
	}
	n.table[sourceID] = entry{buf: buf, at: now}

	cutoff := now.Add(-n.maxAge)
	for id, e := range n.table {
		if e.at.Before(cutoff) {
			delete(n.table, id)
			n.order = slices.DeleteFunc(n.order, func(x string) bool { return x == id })
		}
	}

	// Only buffers matching the oldest surviving entry's format participate.
	ref := n.table[n.order[0]].buf.Format
	var sources []audio.Source
	for _, id := range n.order {
		e := n.table[id]
		if !e.buf.Format.Equal(ref) {
			continue
		}
		n.gainMu.Lock()
		src := audio.Source{
			Buffer:       e.buf,
			ChannelGains: n.channelGains,
		}
		if g, ok := n.sourceGains[id]; ok {
			src.Gain = &g
		}
		n.gainMu.Unlock()
		sources = append(sources, src)
	}

	if len(sources) <= 1 {
		if len(sources) == 1 {
			return sources[0].Buffer, nil
		}
		return buf, nil
	}
	return audio.MixSources(sources, n.normalize)
}

// PullOutput consumes the most recent mix result.
func (n *Node) PullOutput() *audio.Buffer {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	out := n.latest
	n.latest = nil
	return out
}

// Reset drops all buffered audio. Configured gains survive.
func (n *Node) Reset() {
	n.tableMu.Lock()
	n.table = map[string]entry{}
	n.order = nil
	n.tableMu.Unlock()

	n.outMu.Lock()
	n.latest = nil
	n.outMu.Unlock()
}
