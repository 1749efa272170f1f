// Package fs provides the filesystem tools: fs_read, fs_write, and
// fs_search.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	anvil "github.com/nevindra/anvil"
)

// maxReadChars caps how much of a file fs_read returns.
const maxReadChars = 40_000

// maxSearchMatches caps fs_search output lines.
const maxSearchMatches = 200

// Tool implements the filesystem tool surface rooted at a workspace path.
type Tool struct {
	workspacePath string
}

// New creates the filesystem tool. Relative paths resolve against
// workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

func (t *Tool) Definitions() []anvil.ToolDefinition {
	return []anvil.ToolDefinition{
		{
			Name:        "fs_read",
			Description: "Read a file. Returns its content, truncated when very large. Use start_line/end_line to read a range.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"start_line":{"type":"integer"},"end_line":{"type":"integer"}},"required":["path"]}`),
		},
		{
			Name:        "fs_write",
			Description: "Write content to a file, creating parent directories. Refuses to replace an existing file unless overwrite is true.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"},"overwrite":{"type":"boolean"}},"required":["path","content"]}`),
		},
		{
			Name:        "fs_search",
			Description: "Search file contents under a directory with a regular expression. Optionally filter files with a glob pattern. Returns matching lines as path:line:text.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"regex":{"type":"string"},"file_pattern":{"type":"string"}},"required":["path","regex"]}`),
		},
	}
}

func (t *Tool) Execute(_ context.Context, name string, args json.RawMessage) (anvil.ToolResult, error) {
	switch name {
	case "fs_read":
		return t.read(args)
	case "fs_write":
		return t.write(args)
	case "fs_search":
		return t.search(args)
	}
	return anvil.ToolResult{Content: "unknown tool: " + name, IsError: true}, nil
}

func (t *Tool) resolve(path string) string {
	if !filepath.IsAbs(path) && t.workspacePath != "" {
		return filepath.Join(t.workspacePath, path)
	}
	return path
}

func (t *Tool) read(args json.RawMessage) (anvil.ToolResult, error) {
	var params struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return anvil.ToolResult{Content: "invalid args: " + err.Error(), IsError: true}, nil
	}
	raw, err := os.ReadFile(t.resolve(params.Path))
	if err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	content := string(raw)

	if params.StartLine > 0 || params.EndLine > 0 {
		lines := strings.Split(content, "\n")
		start := max(params.StartLine, 1)
		end := params.EndLine
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		if start > len(lines) {
			return anvil.ToolResult{Content: fmt.Sprintf("start_line %d beyond end of file (%d lines)", start, len(lines)), IsError: true}, nil
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n\n[truncated — file is longer]"
	}
	return anvil.ToolResult{Content: content}, nil
}

func (t *Tool) write(args json.RawMessage) (anvil.ToolResult, error) {
	var params struct {
		Path      string `json:"path"`
		Content   string `json:"content"`
		Overwrite bool   `json:"overwrite"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return anvil.ToolResult{Content: "invalid args: " + err.Error(), IsError: true}, nil
	}
	resolved := t.resolve(params.Path)

	if _, err := os.Stat(resolved); err == nil && !params.Overwrite {
		return anvil.ToolResult{Content: params.Path + " already exists; pass overwrite=true to replace it", IsError: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if err := os.WriteFile(resolved, []byte(params.Content), 0o644); err != nil {
		return anvil.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return anvil.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path)}, nil
}

func (t *Tool) search(args json.RawMessage) (anvil.ToolResult, error) {
	var params struct {
		Path        string `json:"path"`
		Regex       string `json:"regex"`
		FilePattern string `json:"file_pattern"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return anvil.ToolResult{Content: "invalid args: " + err.Error(), IsError: true}, nil
	}
	re, err := regexp.Compile(params.Regex)
	if err != nil {
		return anvil.ToolResult{Content: "invalid regex: " + err.Error(), IsError: true}, nil
	}

	root := t.resolve(params.Path)
	var out strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return fs.SkipDir
			}
			return nil
		}
		if params.FilePattern != "" {
			ok, _ := filepath.Match(params.FilePattern, d.Name())
			if !ok {
				return nil
			}
		}
		raw, err := os.ReadFile(path)
		if err != nil || !isText(raw) {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(raw), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&out, "%s:%d:%s\n", rel, i+1, line)
				matches++
				if matches >= maxSearchMatches {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return anvil.ToolResult{Content: walkErr.Error(), IsError: true}, nil
	}
	if matches == 0 {
		return anvil.ToolResult{Content: "no matches found"}, nil
	}
	result := out.String()
	if matches >= maxSearchMatches {
		result += fmt.Sprintf("[stopped after %d matches]\n", maxSearchMatches)
	}
	return anvil.ToolResult{Content: result}, nil
}

// isText rejects files with NUL bytes in their first KB.
func isText(raw []byte) bool {
	probe := raw
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return true
}

var _ anvil.Tool = (*Tool)(nil)
