// Package respond provides the reply-generation node: final transcripts flow
// in as text, a chat-completion model produces the agent's reply, and the
// reply flows downstream as text.
package respond

import (
	"fmt"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxgraph/voxgraph/pkg/pipeline"
)

// DefaultHistoryLimit bounds the rolling conversation window (user and
// assistant turns combined) sent with each request.
const DefaultHistoryLimit = 20

// Node generates text replies with a chat-completion model. It keeps a
// bounded rolling history so replies stay in context across turns of one
// session.
type Node struct {
	pipeline.BaseNode

	client       oai.Client
	model        string
	persona      string
	historyLimit int
	temperature  float64

	mu        sync.Mutex
	history   []oai.ChatCompletionMessageParamUnion
	lastReply string
}

var (
	_ pipeline.Node         = (*Node)(nil)
	_ pipeline.TextReceiver = (*Node)(nil)
	_ pipeline.Resettable   = (*Node)(nil)
)

// config holds optional construction settings.
type config struct {
	baseURL     string
	persona     string
	history     int
	temperature float64
}

// Option configures a respond node.
type Option func(*config)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithPersona sets the system prompt sent with every request.
func WithPersona(persona string) Option {
	return func(c *config) { c.persona = persona }
}

// WithHistoryLimit bounds the rolling conversation window.
func WithHistoryLimit(limit int) Option {
	return func(c *config) { c.history = limit }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// NewNode constructs a respond node.
func NewNode(id, name, apiKey, model string, opts ...Option) (*Node, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("respond: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("respond: model must not be empty")
	}
	cfg := &config{history: DefaultHistoryLimit}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Node{
		BaseNode:     pipeline.NewBaseNode("respond", id, name, pipeline.CapNone),
		client:       oai.NewClient(reqOpts...),
		model:        model,
		persona:      cfg.persona,
		historyLimit: cfg.history,
		temperature:  cfg.temperature,
	}, nil
}

// AcceptText generates a reply to one user turn and forwards it downstream.
func (n *Node) AcceptText(pctx *pipeline.ProcessingContext, text string) (bool, error) {
	if text == "" {
		return false, nil
	}

	n.mu.Lock()
	n.history = append(n.history, oai.UserMessage(text))
	n.trimHistoryLocked()
	params := n.buildParamsLocked()
	n.mu.Unlock()

	resp, err := n.client.Chat.Completions.New(pctx.Context(), params)
	if err != nil {
		n.SetLastError(err)
		return false, fmt.Errorf("respond: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("respond: completion returned no choices")
	}
	reply := resp.Choices[0].Message.Content
	n.MarkActivity()

	n.mu.Lock()
	n.history = append(n.history, oai.AssistantMessage(reply))
	n.trimHistoryLocked()
	n.lastReply = reply
	n.mu.Unlock()

	if reply == "" || len(n.Outbound()) == 0 {
		return reply != "", nil
	}
	if _, err := n.PropagateToOutputs(pctx, reply); err != nil {
		pctx.Logf("respond %s: deliver reply: %v", n.ID(), err)
	}
	return true, nil
}

func (n *Node) buildParamsLocked() oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if n.persona != "" {
		messages = append(messages, oai.SystemMessage(n.persona))
	}
	messages = append(messages, n.history...)

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(n.model),
		Messages: messages,
	}
	if n.temperature != 0 {
		params.Temperature = param.NewOpt(n.temperature)
	}
	return params
}

func (n *Node) trimHistoryLocked() {
	if n.historyLimit > 0 && len(n.history) > n.historyLimit {
		n.history = n.history[len(n.history)-n.historyLimit:]
	}
}

// LastReply returns the most recent generated reply.
func (n *Node) LastReply() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastReply
}

// Reset drops the conversation history. The persona survives.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = nil
	n.lastReply = ""
}
