package anvil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Environment describes the workspace an agent operates against.
type Environment struct {
	CWD   string `json:"cwd"`
	OS    string `json:"os"`
	Shell string `json:"shell"`
}

// SystemContext is the variable set system prompt templates render against.
// ToolInformation is populated only when the agent's provider lacks
// structured tool support; Files is a sorted listing from a bounded-depth
// walk of the environment's working directory.
type SystemContext struct {
	CurrentTime     string         `json:"current_time"`
	Env             Environment    `json:"env"`
	ToolInformation string         `json:"tool_information,omitempty"`
	ToolSupported   bool           `json:"tool_supported"`
	Files           []string       `json:"files"`
	CustomRules     string         `json:"custom_rules,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
}

// EventContext is the variable set user prompt templates render against.
type EventContext struct {
	Event     Event          `json:"event"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Value renders the event value as a string, for use inside templates as
// {{.Value}}.
func (ec EventContext) Value() string { return ec.Event.ValueString() }

// Renderer renders {{…}} templates against structured variable objects.
type Renderer struct {
	funcs template.FuncMap
}

// NewRenderer creates a renderer with the default helper functions.
func NewRenderer() *Renderer {
	return &Renderer{funcs: defaultFuncMap()}
}

// Render parses and executes the template text against data.
func (r *Renderer) Render(text string, data any) (string, error) {
	t, err := template.New("prompt").Funcs(r.funcs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

func defaultFuncMap() template.FuncMap {
	titler := cases.Title(language.English)
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": titler.String,
		"trim":  strings.TrimSpace,
		"join":  strings.Join,
		"json": func(v any) string {
			b, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(b)
		},
		"default": func(fallback, value string) string {
			if value == "" {
				return fallback
			}
			return value
		},
	}
}

// toolRequiredNudge is appended as a user message whenever the model answers
// without calling any tool but the agent still has work to do.
const toolRequiredNudge = "No tool call was found in your response. " +
	"You must respond with a tool call to make progress on the task. " +
	"Pick exactly one of the available tools and call it."

// defaultSummarizationPrompt renders the compaction request sent to the
// summarizer model. Context is the XML-ish transcript of the sequence being
// compacted; SummaryTag, when set, names the tag the summary must be wrapped
// in so the engine can extract it.
const defaultSummarizationPrompt = `Summarize the following conversation segment between an AI coding agent and its tools. Preserve key facts, decisions, file paths, code changes, and unresolved problems. Omit pleasantries and redundant tool output.

{{if .SummaryTag}}Wrap your summary in <{{.SummaryTag}}> and </{{.SummaryTag}}> tags.{{end}}

<conversation>
{{.Context}}
</conversation>`

// summaryPreamble prefixes the assistant message a compacted sequence is
// replaced with.
const summaryPreamble = "Continuing from a prior analysis. Below is a compacted summary of the conversation so far:\n\n<summary>\n%s\n</summary>"
