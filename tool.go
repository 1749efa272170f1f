package anvil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolResult is the outcome message paired to a prior tool call. Failures are
// carried in-band: IsError true with the stringified error as Content.
type ToolResult struct {
	Name    string `json:"name"`
	CallID  string `json:"call_id,omitempty"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// ToolCallRecord pairs an executed tool call with its result.
type ToolCallRecord struct {
	Call   ToolCallFull `json:"call"`
	Result ToolResult   `json:"result"`
}

// ToolService is the tool surface the orchestrator consumes. Call never
// returns an error; any failure is encoded into the ToolResult so the model
// can react to it.
type ToolService interface {
	// List returns the definitions of every available tool.
	List() []ToolDefinition
	// Call executes one tool call and returns its result.
	Call(ctx context.Context, call ToolCallFull) ToolResult
	// UsagePrompt renders instructions teaching a model without structured
	// tool support how to emit the XML tool-call form.
	UsagePrompt() string
}

// Tool is one pluggable capability exposing one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolRegistry holds registered tools and dispatches execution. It implements
// ToolService.
type ToolRegistry struct {
	tools   []Tool
	schemas sync.Map // schema text -> *jsonschema.Schema
}

// NewToolRegistry creates a registry holding the given tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{}
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// List returns tool definitions from all registered tools.
func (r *ToolRegistry) List() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Call dispatches a tool call by name. Execution failures and unknown tools
// come back as ToolResult{IsError: true}.
func (r *ToolRegistry) Call(ctx context.Context, call ToolCallFull) ToolResult {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name != call.Name {
				continue
			}
			result, err := t.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				return errorResult(call, err.Error())
			}
			result.Name = call.Name
			result.CallID = call.CallID
			return result
		}
	}
	return errorResult(call, "unknown tool: "+call.Name)
}

func errorResult(call ToolCallFull, msg string) ToolResult {
	return ToolResult{Name: call.Name, CallID: call.CallID, Content: msg, IsError: true}
}

// Validate checks the call's arguments against the named tool's declared
// input schema. A mismatch is an ErrToolCallArgument (retryable parse-class);
// unknown tools and tools without a schema validate vacuously — Call reports
// those as in-band tool errors instead.
func (r *ToolRegistry) Validate(call ToolCallFull) error {
	def, ok := r.definition(call.Name)
	if !ok || len(def.InputSchema) == 0 {
		return nil
	}
	schema, err := r.compile(def.InputSchema)
	if err != nil {
		return &ErrToolCallArgument{Tool: call.Name, Message: "compile schema: " + err.Error()}
	}
	var decoded any
	if err := json.Unmarshal(call.Arguments, &decoded); err != nil {
		return &ErrToolCallParse{Message: err.Error()}
	}
	if err := schema.Validate(decoded); err != nil {
		return &ErrToolCallArgument{Tool: call.Name, Message: err.Error()}
	}
	return nil
}

func (r *ToolRegistry) definition(name string) (ToolDefinition, bool) {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return d, true
			}
		}
	}
	return ToolDefinition{}, false
}

func (r *ToolRegistry) compile(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := r.schemas.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	r.schemas.Store(key, compiled)
	return compiled, nil
}

// UsagePrompt renders the XML tool-call instructions for every registered
// tool, injected into system prompts when the model lacks structured tool
// support.
func (r *ToolRegistry) UsagePrompt() string {
	return RenderUsagePrompt(r.List())
}

// RenderUsagePrompt builds the XML tool-call teaching text for the given
// definitions.
func RenderUsagePrompt(defs []ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You do not have access to structured tool calling. ")
	b.WriteString("To use a tool, emit exactly one block of this form at the very end of your message:\n\n")
	b.WriteString("<tool_call>\n<TOOL_NAME>\n<ARG_NAME>value</ARG_NAME>\n</TOOL_NAME>\n</tool_call>\n\n")
	b.WriteString("Available tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "\n## %s\n%s\n", d.Name, d.Description)
		if len(d.InputSchema) > 0 {
			fmt.Fprintf(&b, "Input schema: %s\n", string(d.InputSchema))
		}
	}
	return b.String()
}

// AllowedTools filters defs to those whose name appears in allowed.
func AllowedTools(defs []ToolDefinition, allowed []string) []ToolDefinition {
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	var out []ToolDefinition
	for _, d := range defs {
		if _, ok := set[d.Name]; ok {
			out = append(out, d)
		}
	}
	return out
}
