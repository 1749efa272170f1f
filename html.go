package anvil

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
)

// ToHTML renders the conversation as a standalone HTML document for
// inspection: agent roster, variables, the event log, and each agent's
// context with assistant markdown rendered.
func (c *Conversation) ToHTML() string {
	md := goldmark.New()
	renderMarkdown := func(src string) string {
		var out strings.Builder
		if err := md.Convert([]byte(src), &out); err != nil {
			return "<pre>" + html.EscapeString(src) + "</pre>"
		}
		return out.String()
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>Conversation %s</title>", html.EscapeString(c.ID))
	b.WriteString("<style>body{font-family:sans-serif;max-width:60rem;margin:2rem auto}" +
		".msg{border:1px solid #ddd;border-radius:4px;padding:.5rem 1rem;margin:.5rem 0}" +
		".role{font-weight:bold;color:#555}pre{overflow-x:auto;background:#f6f6f6;padding:.5rem}" +
		".error{border-color:#c00}</style></head><body>")

	fmt.Fprintf(&b, "<h1>Conversation %s</h1>", html.EscapeString(c.ID))
	if c.Archived {
		b.WriteString("<p><em>archived</em></p>")
	}

	if len(c.Variables) > 0 {
		b.WriteString("<h2>Variables</h2><ul>")
		for k, v := range c.Variables {
			encoded, _ := json.Marshal(v)
			fmt.Fprintf(&b, "<li><code>%s</code> = <code>%s</code></li>",
				html.EscapeString(k), html.EscapeString(string(encoded)))
		}
		b.WriteString("</ul>")
	}

	if len(c.Events) > 0 {
		b.WriteString("<h2>Events</h2><ol>")
		for _, e := range c.Events {
			fmt.Fprintf(&b, "<li><code>%s</code> %s</li>",
				html.EscapeString(e.Name), html.EscapeString(e.ValueString()))
		}
		b.WriteString("</ol>")
	}

	for _, agent := range c.Agents {
		state, ok := c.State[agent.ID]
		if !ok || state.Context == nil {
			continue
		}
		fmt.Fprintf(&b, "<h2>Agent %s (turn %d)</h2>", html.EscapeString(agent.ID), state.TurnCount)
		for _, m := range state.Context.Messages {
			switch {
			case m.IsImage():
				fmt.Fprintf(&b, "<div class=\"msg\"><span class=\"role\">image</span><br><img src=%q></div>", m.ImageURL)
			case m.IsToolResult():
				class := "msg"
				if m.IsError {
					class = "msg error"
				}
				fmt.Fprintf(&b, "<div class=%q><span class=\"role\">tool %s</span><pre>%s</pre></div>",
					class, html.EscapeString(m.ToolName), html.EscapeString(m.Content))
			default:
				fmt.Fprintf(&b, "<div class=\"msg\"><span class=\"role\">%s</span>", html.EscapeString(m.Role))
				if m.Role == RoleAssistant {
					b.WriteString(renderMarkdown(m.Content))
				} else {
					fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(m.Content))
				}
				for _, tc := range m.ToolCalls {
					fmt.Fprintf(&b, "<pre>%s(%s)</pre>",
						html.EscapeString(tc.Name), html.EscapeString(string(tc.Arguments)))
				}
				b.WriteString("</div>")
			}
		}
	}

	b.WriteString("</body></html>")
	return b.String()
}
