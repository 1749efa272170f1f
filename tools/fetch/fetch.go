// Package fetch provides the fetch tool: HTTP GET with readable-text
// extraction for HTML pages.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	anvil "github.com/nevindra/anvil"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 * 1024 * 1024

// maxContentChars caps the text returned to the model.
const maxContentChars = 40_000

// Tool fetches URLs over HTTP.
type Tool struct {
	client *http.Client
}

// Option configures the fetch tool.
type Option func(*Tool)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates the fetch tool with a 30s client timeout.
func New(opts ...Option) *Tool {
	t := &Tool{client: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Definitions() []anvil.ToolDefinition {
	return []anvil.ToolDefinition{{
		Name:        "fetch",
		Description: "Fetch a URL over HTTP. HTML pages are reduced to their readable text; pass raw=true for the unprocessed body.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"},"raw":{"type":"boolean","description":"Return the raw body instead of extracted text"}},"required":["url"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (anvil.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
		Raw bool   `json:"raw"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return anvil.ToolResult{Content: "invalid args: " + err.Error(), IsError: true}, nil
	}
	parsed, err := url.Parse(params.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return anvil.ToolResult{Content: "url must be http or https", IsError: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return anvil.ToolResult{
			Content: fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(string(body), 2000)),
			IsError: true,
		}, nil
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if !params.Raw && strings.Contains(contentType, "text/html") {
		article, err := readability.FromReader(strings.NewReader(content), parsed)
		if err == nil && strings.TrimSpace(article.TextContent) != "" {
			content = article.TextContent
			if article.Title != "" {
				content = article.Title + "\n\n" + content
			}
		}
	}

	return anvil.ToolResult{Content: truncate(content, maxContentChars)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n\n[truncated]"
}

var _ anvil.Tool = (*Tool)(nil)
