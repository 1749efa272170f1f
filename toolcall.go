package anvil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ToolCallFull is a completely assembled tool call: the tool name, an
// optional provider-assigned call id, and arguments as a JSON document.
type ToolCallFull struct {
	Name      string          `json:"name"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallPart is a streaming fragment of a tool call. The first part of a
// group carries the name (and usually the call id); subsequent parts carry
// argument fragments that concatenate into a JSON document.
type ToolCallPart struct {
	Name          string `json:"name,omitempty"`
	CallID        string `json:"call_id,omitempty"`
	ArgumentsPart string `json:"arguments_part"`
}

// AssembleToolCalls combines streamed parts into full tool calls. Parts are
// grouped on the boundary where a new name or a new call id appears; argument
// fragments within a group are concatenated and must parse as JSON. A group
// without a name fails with ErrToolCallMissingName; malformed arguments fail
// with ErrToolCallParse. Both are retryable parse-class errors.
func AssembleToolCalls(parts []ToolCallPart) ([]ToolCallFull, error) {
	if len(parts) == 0 {
		return nil, nil
	}

	type group struct {
		name   string
		callID string
		args   strings.Builder
	}

	var groups []*group
	var cur *group
	for _, p := range parts {
		starts := cur == nil ||
			(p.Name != "" && p.Name != cur.name) ||
			(p.CallID != "" && p.CallID != cur.callID)
		if starts {
			cur = &group{name: p.Name, callID: p.CallID}
			groups = append(groups, cur)
		}
		if p.Name != "" {
			cur.name = p.Name
		}
		if p.CallID != "" {
			cur.callID = p.CallID
		}
		cur.args.WriteString(p.ArgumentsPart)
	}

	calls := make([]ToolCallFull, 0, len(groups))
	for _, g := range groups {
		if g.name == "" {
			return nil, ErrToolCallMissingName
		}
		raw := strings.TrimSpace(g.args.String())
		if raw == "" {
			raw = "{}"
		}
		if !json.Valid([]byte(raw)) {
			return nil, &ErrToolCallParse{Message: "invalid JSON arguments for " + g.name + ": " + raw}
		}
		calls = append(calls, ToolCallFull{
			Name:      g.name,
			CallID:    g.callID,
			Arguments: json.RawMessage(raw),
		})
	}
	return calls, nil
}

// CanonicalArguments re-encodes the call's arguments into canonical JSON
// (compact, object keys sorted). Parsing a call, canonicalizing, and
// re-parsing yields an equal value.
func (tc ToolCallFull) CanonicalArguments() (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(tc.Arguments, &v); err != nil {
		return nil, &ErrToolCallParse{Message: err.Error()}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, &ErrToolCallParse{Message: err.Error()}
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
