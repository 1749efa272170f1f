// Package anthropic adapts the Anthropic Messages API (SSE) to the anvil
// provider contract.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	anvil "github.com/nevindra/anvil"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Provider implements anvil.Provider over the Anthropic Messages SSE
// protocol.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates an Anthropic provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return "anthropic" }

// --- wire types ---

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image
	Source *wireImageSource `json:"source,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// defaultMaxTokens applies when the context sets no completion cap; the
// Messages API requires max_tokens.
const defaultMaxTokens = 8192

// Chat starts a streaming completion and returns the decoded chunk channel.
func (p *Provider) Chat(ctx context.Context, model string, c anvil.Context) (<-chan anvil.CompletionChunk, error) {
	body := p.buildBody(model, c)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &anvil.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &anvil.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &anvil.ErrLLM{Provider: p.Name(), Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, &anvil.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("retry-after")),
		}
	}

	ch := make(chan anvil.CompletionChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		streamEvents(ctx, resp.Body, ch)
	}()
	return ch, nil
}

func (p *Provider) buildBody(model string, c anvil.Context) messagesRequest {
	req := messagesRequest{
		Model:       model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Stream:      true,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	for _, t := range c.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		req.Tools = append(req.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	for _, m := range c.Messages {
		switch {
		case m.HasRole(anvil.RoleSystem):
			// The Messages API takes the system prompt out of band.
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
		case m.IsImage():
			req.Messages = append(req.Messages, wireMessage{
				Role:    "user",
				Content: []wireBlock{imageBlock(m.ImageURL)},
			})
		case m.IsToolResult():
			req.Messages = append(req.Messages, wireMessage{
				Role: "user",
				Content: []wireBlock{{
					Type:      "tool_result",
					ToolUseID: m.CallID,
					Content:   m.Content,
					IsError:   m.IsError,
				}},
			})
		default:
			blocks := []wireBlock{}
			if m.Content != "" {
				blocks = append(blocks, wireBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, wireBlock{
					Type:  "tool_use",
					ID:    tc.CallID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			req.Messages = append(req.Messages, wireMessage{Role: m.Role, Content: blocks})
		}
	}
	return req
}

func imageBlock(url string) wireBlock {
	if data, ok := strings.CutPrefix(url, "data:"); ok {
		if mediaType, b64, found := strings.Cut(data, ";base64,"); found {
			return wireBlock{Type: "image", Source: &wireImageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      b64,
			}}
		}
	}
	return wireBlock{Type: "image", Source: &wireImageSource{Type: "url", URL: url}}
}

// --- SSE decoding ---

type blockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"` // "text" or "tool_use"
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type blockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"` // "text_delta" or "input_json_delta"
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type messageStart struct {
	Message struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
}

type messageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage wireUsage `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// streamEvents decodes Anthropic SSE events into completion chunks. Tool-use
// blocks become tool-call parts: the block start carries the name and id, the
// input_json_delta events carry argument fragments.
func streamEvents(ctx context.Context, body io.Reader, ch chan<- anvil.CompletionChunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	emit := func(chunk anvil.CompletionChunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var eventType string
	var usage anvil.Usage
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "event: "); ok {
			eventType = after
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		switch eventType {
		case "message_start":
			var ev messageStart
			if json.Unmarshal([]byte(data), &ev) == nil {
				usage.PromptTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			var ev blockStart
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			if ev.ContentBlock.Type == "tool_use" {
				ok := emit(anvil.CompletionChunk{ToolCallParts: []anvil.ToolCallPart{{
					Name:   ev.ContentBlock.Name,
					CallID: ev.ContentBlock.ID,
				}}})
				if !ok {
					return
				}
			}
		case "content_block_delta":
			var ev blockDelta
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" && !emit(anvil.CompletionChunk{Content: ev.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if ev.Delta.PartialJSON != "" {
					ok := emit(anvil.CompletionChunk{ToolCallParts: []anvil.ToolCallPart{{
						ArgumentsPart: ev.Delta.PartialJSON,
					}}})
					if !ok {
						return
					}
				}
			}
		case "message_delta":
			var ev messageDelta
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			usage.CompletionTokens = ev.Usage.OutputTokens
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			final := usage
			chunk := anvil.CompletionChunk{Usage: &final}
			chunk.FinishReason = mapStopReason(ev.Delta.StopReason)
			if !emit(chunk) {
				return
			}
		case "error":
			var ev errorEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				emit(anvil.CompletionChunk{Err: &anvil.ErrLLM{
					Provider: "anthropic",
					Message:  ev.Error.Type + ": " + ev.Error.Message,
				}})
				return
			}
		case "message_stop":
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(anvil.CompletionChunk{Err: err})
	}
}

func mapStopReason(reason string) anvil.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return anvil.FinishStop
	case "tool_use":
		return anvil.FinishToolCalls
	case "max_tokens":
		return anvil.FinishLength
	default:
		return ""
	}
}

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
