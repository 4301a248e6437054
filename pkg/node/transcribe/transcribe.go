// Package transcribe provides a streaming speech-to-text node built on the
// WebSocket transport: PCM audio goes out as binary frames, transcription
// results come back as JSON, and final transcripts flow downstream as text
// payloads.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxgraph/voxgraph/pkg/node/ws"
	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// result is the service's transcription frame.
type result struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// joinResponse is the control-plane session handshake response.
type joinResponse struct {
	URL string `json:"url"`
}

// Node streams audio to a transcription service. Partial results update the
// node's interim transcript; final results are appended to the transcript
// history and propagated to downstream text consumers.
type Node struct {
	*ws.TransportNode

	mu      sync.Mutex
	interim string
	finals  []string
}

var (
	_ pipeline.Node          = (*Node)(nil)
	_ pipeline.Streamer      = (*Node)(nil)
	_ pipeline.AudioReceiver = (*Node)(nil)
)

// Option configures a transcribe node.
type Option func(*config)

type config struct {
	transport  []ws.Option
	controlURL string
	httpClient *http.Client
}

// WithEndpoint dials the transcription socket directly.
func WithEndpoint(uri string) Option {
	return func(c *config) { c.transport = append(c.transport, ws.WithEndpoint(uri)) }
}

// WithControlPlane exchanges a session-setup POST against url for a join URL
// before every connect attempt.
func WithControlPlane(url string, client *http.Client) Option {
	return func(c *config) {
		c.controlURL = url
		c.httpClient = client
	}
}

// WithDialOptions sets the socket dial options.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *config) { c.transport = append(c.transport, ws.WithDialOptions(opts)) }
}

// NewNode constructs a transcription node.
func NewNode(id, name string, opts ...Option) *Node {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	n := &Node{}
	if cfg.controlURL != "" {
		client := cfg.httpClient
		if client == nil {
			client = http.DefaultClient
		}
		cfg.transport = append(cfg.transport, ws.WithEndpointResolver(func(ctx context.Context) (string, error) {
			return joinSession(ctx, client, cfg.controlURL)
		}))
	}
	n.TransportNode = ws.NewTransportNodeOfType("transcribe", id, name, cfg.transport...)
	n.OnMessage = n.handleFrame
	return n
}

// joinSession asks the control plane for this session's socket URL.
func joinSession(ctx context.Context, client *http.Client, controlURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: join request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: join: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: join: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("transcribe: join: %w", err)
	}
	var join joinResponse
	if err := json.Unmarshal(body, &join); err != nil {
		return "", fmt.Errorf("transcribe: join: %w", err)
	}
	if join.URL == "" {
		return "", fmt.Errorf("transcribe: join: empty session url")
	}
	return join.URL, nil
}

// handleFrame interprets one inbound service frame. Binary frames are not
// part of the transcription protocol and are dropped.
func (n *Node) handleFrame(pctx *pipeline.ProcessingContext, data []byte, kind websocket.MessageType) {
	if kind != websocket.MessageText {
		return
	}
	var res result
	if err := json.Unmarshal(data, &res); err != nil {
		pctx.Logf("transcribe %s: malformed frame: %v", n.ID(), err)
		return
	}
	if res.Text == "" {
		return
	}

	n.mu.Lock()
	if res.IsFinal {
		n.finals = append(n.finals, res.Text)
		n.interim = ""
	} else {
		n.interim = res.Text
	}
	n.mu.Unlock()

	if !res.IsFinal {
		return
	}
	if _, err := n.PropagateToOutputs(pctx, res.Text); err != nil {
		pctx.Logf("transcribe %s: deliver transcript: %v", n.ID(), err)
	}
}

// Interim returns the most recent non-final transcript.
func (n *Node) Interim() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interim
}

// Transcripts returns the final transcripts in arrival order.
func (n *Node) Transcripts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.finals))
	copy(out, n.finals)
	return out
}

// Reset drops interim and final transcripts.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interim = ""
	n.finals = nil
}
