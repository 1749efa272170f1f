package anvil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContextMessage is one entry in an agent's conversation context. It is a
// tagged variant: a content message (system/user/assistant, optionally
// carrying tool calls), a tool result, or an image reference.
//
// An assistant message carrying tool calls must be followed, eventually and
// in order, by one tool-result message per call, matched by call id when the
// provider supplies ids.
type ContextMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCallFull `json:"tool_calls,omitempty"`

	// Tool-result fields, set when Role == RoleTool.
	ToolName string `json:"tool_name,omitempty"`
	CallID   string `json:"call_id,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`

	// ImageURL marks an image message (data URL or remote URL).
	ImageURL string `json:"image_url,omitempty"`
}

// SystemMessage builds a system content message.
func SystemMessage(text string) ContextMessage {
	return ContextMessage{Role: RoleSystem, Content: text}
}

// UserMessage builds a user content message.
func UserMessage(text string) ContextMessage {
	return ContextMessage{Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant content message with optional tool calls.
func AssistantMessage(text string, toolCalls []ToolCallFull) ContextMessage {
	return ContextMessage{Role: RoleAssistant, Content: text, ToolCalls: toolCalls}
}

// ToolResultMessage builds the context entry for an executed tool call.
func ToolResultMessage(r ToolResult) ContextMessage {
	return ContextMessage{
		Role:     RoleTool,
		Content:  r.Content,
		ToolName: r.Name,
		CallID:   r.CallID,
		IsError:  r.IsError,
	}
}

// ImageMessage builds an image message from a URL or data URL.
func ImageMessage(url string) ContextMessage {
	return ContextMessage{Role: RoleUser, ImageURL: url}
}

// IsToolResult reports whether the message is a tool result.
func (m ContextMessage) IsToolResult() bool { return m.Role == RoleTool }

// IsImage reports whether the message is an image reference.
func (m ContextMessage) IsImage() bool { return m.ImageURL != "" }

// HasToolCalls reports whether the message carries assistant tool calls.
func (m ContextMessage) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// HasRole reports whether the message is a content message with the given role.
func (m ContextMessage) HasRole(role string) bool { return m.Role == role && !m.IsImage() }

// ToolDefinition describes one callable tool: its name, what it does, and the
// JSON Schema of its input (and, optionally, its output).
type ToolDefinition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Context is the ordered message sequence sent to the provider, plus the
// declared tools and sampling parameters. Contexts are immutable by
// convention: operations return a new Context sharing no message slice with
// the receiver.
type Context struct {
	Messages    []ContextMessage `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// NewContext creates an empty context declaring the given tools.
func NewContext(tools []ToolDefinition) Context {
	return Context{Tools: tools}
}

func (c Context) clone() Context {
	c.Messages = append([]ContextMessage(nil), c.Messages...)
	return c
}

// AddMessage returns a copy of the context with msg appended.
func (c Context) AddMessage(msg ContextMessage) Context {
	out := c.clone()
	out.Messages = append(out.Messages, msg)
	return out
}

// AddToolResults returns a copy of the context with one tool-result message
// appended per result, preserving order.
func (c Context) AddToolResults(results []ToolResult) Context {
	out := c.clone()
	for _, r := range results {
		out.Messages = append(out.Messages, ToolResultMessage(r))
	}
	return out
}

// AppendTurn appends one assistant message bearing all tool calls of the turn
// followed by one tool-result message per execution, preserving call ordering
// and id pairing.
func (c Context) AppendTurn(content string, records []ToolCallRecord) Context {
	calls := make([]ToolCallFull, 0, len(records))
	results := make([]ToolResult, 0, len(records))
	for _, rec := range records {
		calls = append(calls, rec.Call)
		results = append(results, rec.Result)
	}
	out := c.AddMessage(AssistantMessage(content, calls))
	return out.AddToolResults(results)
}

// SetFirstSystemMessage returns a copy with the system message at index 0 set
// to content — replaced in place when one exists, inserted otherwise.
func (c Context) SetFirstSystemMessage(content string) Context {
	out := c.clone()
	if len(out.Messages) > 0 && out.Messages[0].HasRole(RoleSystem) {
		out.Messages[0].Content = content
		return out
	}
	out.Messages = append([]ContextMessage{SystemMessage(content)}, out.Messages...)
	return out
}

// WithTemperature returns a copy with the sampling temperature set.
func (c Context) WithTemperature(t float64) Context {
	out := c.clone()
	out.Temperature = &t
	return out
}

// WithMaxTokens returns a copy with the completion token limit set.
func (c Context) WithMaxTokens(n int) Context {
	out := c.clone()
	out.MaxTokens = n
	return out
}

// EstimateTokens estimates the prompt token count of the context using the
// usual chars/4 heuristic. Used as a fallback when the provider reports no
// usage, and by the compaction trigger.
func (c Context) EstimateTokens() int {
	var chars int
	for _, m := range c.Messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}
	return chars / 4
}

// ToText renders the context as a flat XML-ish transcript, the form fed to
// the compaction summarizer.
func (c Context) ToText() string {
	var b strings.Builder
	b.WriteString("<chat_history>")
	for _, m := range c.Messages {
		switch {
		case m.IsImage():
			fmt.Fprintf(&b, "<file_attachment path=%q>", m.ImageURL)
		case m.IsToolResult():
			b.WriteString(`<message role="tool">`)
			fmt.Fprintf(&b, "<tool_result name=%q><![CDATA[%s]]></tool_result>", m.ToolName, m.Content)
			b.WriteString("</message>")
		default:
			fmt.Fprintf(&b, "<message role=%q>", m.Role)
			fmt.Fprintf(&b, "<content>%s</content>", m.Content)
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "<tool_call name=%q><![CDATA[%s]]></tool_call>", tc.Name, string(tc.Arguments))
			}
			b.WriteString("</message>")
		}
	}
	b.WriteString("</chat_history>")
	return b.String()
}
