// Package openaicompat adapts any OpenAI-compatible chat completions API to
// the anvil provider contract. It works with OpenAI, OpenRouter, Groq,
// Together, DeepSeek, Mistral, Ollama, vLLM, LM Studio, Azure OpenAI, and any
// other endpoint implementing the same wire protocol.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	anvil "github.com/nevindra/anvil"
)

// Provider implements anvil.Provider over the OpenAI SSE wire protocol.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	name    string
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithName overrides the provider name reported in errors.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New creates a provider. baseURL is the API base, e.g.
// "https://api.openai.com/v1"; the /chat/completions path is appended.
func New(apiKey, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Chat starts a streaming completion and returns the decoded chunk channel.
func (p *Provider) Chat(ctx context.Context, model string, c anvil.Context) (<-chan anvil.CompletionChunk, error) {
	body := buildBody(model, c)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &anvil.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &anvil.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &anvil.ErrLLM{Provider: p.name, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, &anvil.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	ch := make(chan anvil.CompletionChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		streamSSE(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// buildBody converts an anvil context into the OpenAI request shape.
func buildBody(model string, c anvil.Context) chatRequest {
	req := chatRequest{
		Model:       model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		ToolChoice:  c.ToolChoice,
		Stream:      true,
		StreamOptions: &streamOptions{
			IncludeUsage: true,
		},
	}
	for _, t := range c.Tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	for _, m := range c.Messages {
		req.Messages = append(req.Messages, toWireMessage(m))
	}
	return req
}

func toWireMessage(m anvil.ContextMessage) wireMessage {
	switch {
	case m.IsImage():
		return wireMessage{
			Role: "user",
			Content: []wireContentPart{{
				Type:     "image_url",
				ImageURL: &wireImageURL{URL: m.ImageURL},
			}},
		}
	case m.IsToolResult():
		return wireMessage{
			Role:       "tool",
			Content:    m.Content,
			ToolCallID: m.CallID,
			Name:       m.ToolName,
		}
	default:
		out := wireMessage{Role: m.Role, Content: m.Content}
		for i, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, wireToolCall{
				Index: i,
				ID:    tc.CallID,
				Type:  "function",
				Function: wireCallFunc{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return out
	}
}

// parseRetryAfter parses a Retry-After header value (seconds form).
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

var _ anvil.Provider = (*Provider)(nil)
