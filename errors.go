package anvil

import (
	"errors"
	"fmt"
	"time"
)

// ErrLLM reports a provider-level failure (request building, decoding).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-200 response from a provider endpoint.
// RetryAfter carries the parsed Retry-After header when present.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrToolCallParse reports a tool call whose assembled arguments could not be
// parsed (malformed JSON from streamed parts, or a malformed XML block).
type ErrToolCallParse struct {
	Message string
}

func (e *ErrToolCallParse) Error() string {
	return "tool call parse: " + e.Message
}

// ErrToolCallArgument reports arguments that parsed but did not conform to
// the tool's declared input schema.
type ErrToolCallArgument struct {
	Tool    string
	Message string
}

func (e *ErrToolCallArgument) Error() string {
	return fmt.Sprintf("tool call %q argument: %s", e.Tool, e.Message)
}

// ErrToolCallMissingName is returned when a streamed tool-call group carries
// no tool name by the time the provider declares the calls finished.
var ErrToolCallMissingName = errors.New("tool call missing name")

// ErrAgentUndefined reports a reference to an agent id absent from the
// conversation.
type ErrAgentUndefined struct {
	AgentID string
}

func (e *ErrAgentUndefined) Error() string {
	return fmt.Sprintf("agent %q is not defined in the conversation", e.AgentID)
}

// ErrMissingModel reports an agent with no model configured at turn start.
type ErrMissingModel struct {
	AgentID string
}

func (e *ErrMissingModel) Error() string {
	return fmt.Sprintf("agent %q has no model configured", e.AgentID)
}

// ErrNoProgress is returned when the model repeatedly answers without
// calling any tool and the turn is abandoned.
var ErrNoProgress = errors.New("Model is unable to follow instructions, consider retrying or switching to a bigger model.")

// isParseError reports whether err belongs to the retryable parse class:
// malformed tool-call JSON, a missing tool name, or an argument schema
// mismatch. All other errors propagate without retry.
func isParseError(err error) bool {
	var parse *ErrToolCallParse
	var arg *ErrToolCallArgument
	return errors.As(err, &parse) ||
		errors.As(err, &arg) ||
		errors.Is(err, ErrToolCallMissingName)
}
