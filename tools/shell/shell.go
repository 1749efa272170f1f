// Package shell provides the shell_exec tool: command execution in the
// workspace directory with a per-command timeout.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	anvil "github.com/nevindra/anvil"
)

// maxOutputChars caps captured command output.
const maxOutputChars = 30_000

// blockedCommands is a static denylist of destructive command fragments.
// Matched case-insensitively against the whole command line before execution.
var blockedCommands = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

// Tool executes shell commands in a workspace directory.
type Tool struct {
	workspacePath  string
	defaultTimeout int // seconds
}

// New creates a shell tool. Commands run in workspacePath with the given
// default timeout in seconds (30 when zero).
func New(workspacePath string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Tool{workspacePath: workspacePath, defaultTimeout: defaultTimeout}
}

func (t *Tool) Definitions() []anvil.ToolDefinition {
	return []anvil.ToolDefinition{{
		Name:        "shell_exec",
		Description: "Execute a shell command in the workspace directory. Returns stdout + stderr. Use for running builds, tests, or inspecting the system.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"},"timeout":{"type":"integer","description":"Timeout in seconds (default 30)"}},"required":["command"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (anvil.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return anvil.ToolResult{Content: "invalid args: " + err.Error(), IsError: true}, nil
	}
	if params.Command == "" {
		return anvil.ToolResult{Content: "command is required", IsError: true}, nil
	}

	lower := strings.ToLower(params.Command)
	for _, b := range blockedCommands {
		if strings.Contains(lower, b) {
			return anvil.ToolResult{Content: "command blocked for safety: " + b, IsError: true}, nil
		}
	}

	timeout := t.defaultTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var output strings.Builder
	output.WriteString(stdout.String())
	if stderr.Len() > 0 {
		if output.Len() > 0 {
			output.WriteString("\n--- stderr ---\n")
		}
		output.WriteString(stderr.String())
	}

	content := output.String()
	if len(content) > maxOutputChars {
		content = content[:maxOutputChars] + "\n\n[output truncated]"
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		return anvil.ToolResult{Content: "command timed out\n" + content, IsError: true}, nil
	}
	if runErr != nil {
		return anvil.ToolResult{Content: runErr.Error() + "\n" + content, IsError: true}, nil
	}
	if content == "" {
		content = "(no output)"
	}
	return anvil.ToolResult{Content: content}, nil
}

var _ anvil.Tool = (*Tool)(nil)
