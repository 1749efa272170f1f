package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	anvil "github.com/nevindra/anvil"
)

// Tool exposes search/replace patching as the fs_replace tool.
type Tool struct {
	workspacePath string
}

// New creates the patch tool rooted at workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

func (t *Tool) Definitions() []anvil.ToolDefinition {
	return []anvil.ToolDefinition{{
		Name:        "fs_replace",
		Description: "Apply search/replace blocks to a file. Each block replaces the first exact match of its search text. Use <<<<<<< SEARCH, =======, and >>>>>>> REPLACE markers, each at the start of a line.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File to patch"},"diff":{"type":"string","description":"One or more search/replace blocks"}},"required":["path","diff"]}`),
	}}
}

func (t *Tool) Execute(_ context.Context, _ string, args json.RawMessage) (anvil.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
		Diff string `json:"diff"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return anvil.ToolResult{Content: "invalid args: " + err.Error(), IsError: true}, nil
	}
	if params.Path == "" || params.Diff == "" {
		return anvil.ToolResult{Content: "path and diff are required", IsError: true}, nil
	}

	blocks, err := Parse(params.Diff)
	if err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	resolved := params.Path
	if !filepath.IsAbs(resolved) && t.workspacePath != "" {
		resolved = filepath.Join(t.workspacePath, resolved)
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return anvil.ToolResult{Content: "read " + params.Path + ": " + err.Error(), IsError: true}, nil
	}

	patched, err := Apply(string(raw), blocks)
	if err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	if err := os.WriteFile(resolved, []byte(patched), 0o644); err != nil {
		return anvil.ToolResult{Content: "write " + params.Path + ": " + err.Error(), IsError: true}, nil
	}
	return anvil.ToolResult{
		Content: fmt.Sprintf("applied %d block(s) to %s", len(blocks), params.Path),
	}, nil
}

var _ anvil.Tool = (*Tool)(nil)
