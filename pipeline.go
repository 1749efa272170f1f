package anvil

import (
	"context"
	"strings"
)

// feedbackNotice is appended to an assistant message that was cut short by an
// XML tool-call interruption, so the model learns the boundary it violated.
const feedbackNotice = "<forge_feedback>Response interrupted by tool result. Use only one tool at the end of the message</forge_feedback>"

// internalTagPrefix marks tags stripped from user-visible text.
const internalTagPrefix = "forge_"

// completionResult is what one pass over a provider stream produces: the full
// assistant text, every assembled tool call, and the last usage observed.
type completionResult struct {
	content   string
	toolCalls []ToolCallFull
	usage     *Usage
}

// collectStream consumes a provider delta stream and reassembles it into a
// completionResult, delivering incremental text and tool-call progress to the
// consumer as it goes.
//
// When the agent's provider lacks structured tool support, every content
// update is scanned for a complete XML <tool_call> block; on detection the
// remaining deltas are discarded, the accumulated text is truncated to the
// closing tag, and the feedback notice is appended so the assistant message
// keeps a clean boundary.
func (o *Orchestrator) collectStream(ctx context.Context, agent *Agent, c Context, chunks <-chan CompletionChunk) (completionResult, error) {
	var (
		textAccum   strings.Builder
		parts       []ToolCallPart
		fulls       []ToolCallFull
		xmlTool     *ToolCallFull
		usageLast   *Usage
		finish      FinishReason
		interrupted bool
	)

	interruptForXML := !agent.IsToolSupported()

	for chunk := range chunks {
		if chunk.Err != nil {
			drainChunks(chunks)
			return completionResult{}, chunk.Err
		}

		if chunk.Usage != nil {
			usage := *chunk.Usage
			usage.EstimatedTokens = c.EstimateTokens()
			usageLast = &usage
			if err := o.send(agent, ChatEvent{Type: EventUsage, Usage: &usage}); err != nil {
				drainChunks(chunks)
				return completionResult{}, err
			}
		}

		if chunk.Content != "" {
			textAccum.WriteString(chunk.Content)
			if err := o.send(agent, ChatEvent{Type: EventText, Text: chunk.Content}); err != nil {
				drainChunks(chunks)
				return completionResult{}, err
			}
			if interruptForXML {
				if calls, err := ParseXMLToolCalls(textAccum.String()); err == nil && len(calls) > 0 {
					call := calls[0]
					xmlTool = &call
					interrupted = true
					drainChunks(chunks)
					break
				}
			}
		}

		for _, part := range chunk.ToolCallParts {
			if part.Name != "" {
				if err := o.send(agent, ChatEvent{Type: EventToolCallDetected, ToolName: part.Name}); err != nil {
					drainChunks(chunks)
					return completionResult{}, err
				}
			}
			if part.ArgumentsPart != "" {
				if err := o.send(agent, ChatEvent{Type: EventToolCallArgPart, ArgsPart: part.ArgumentsPart}); err != nil {
					drainChunks(chunks)
					return completionResult{}, err
				}
			}
			parts = append(parts, part)
		}

		fulls = append(fulls, chunk.ToolCallFulls...)

		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	content := textAccum.String()
	if interrupted && !strings.HasSuffix(strings.TrimSpace(content), xmlToolCallClose) {
		if idx := strings.LastIndex(content, xmlToolCallClose); idx >= 0 {
			content = content[:idx+len(xmlToolCallClose)] + "\n" + feedbackNotice
		}
	}

	visible := removeTagWithPrefix(content, internalTagPrefix)
	if err := o.send(agent, ChatEvent{Type: EventText, Text: visible, IsComplete: true, IsMD: true}); err != nil {
		return completionResult{}, err
	}

	assembled, err := AssembleToolCalls(parts)
	if err != nil {
		return completionResult{}, err
	}
	if finish == FinishToolCalls && len(fulls) == 0 && len(assembled) == 0 && xmlTool == nil {
		return completionResult{}, ErrToolCallMissingName
	}

	toolCalls := make([]ToolCallFull, 0, len(fulls)+len(assembled)+1)
	toolCalls = append(toolCalls, fulls...)
	toolCalls = append(toolCalls, assembled...)
	if xmlTool != nil {
		toolCalls = append(toolCalls, *xmlTool)
	}

	return completionResult{content: content, toolCalls: toolCalls, usage: usageLast}, nil
}

// toolValidator is implemented by tool services that can check assembled
// arguments against a declared input schema before execution.
type toolValidator interface {
	Validate(call ToolCallFull) error
}

// executeToolCalls runs the turn's tool calls strictly sequentially. Each
// call emits a start event, executes, and emits an end event carrying the
// result. Execution failures become error results and feed back into context;
// schema violations abort the turn with a retryable parse-class error.
func (o *Orchestrator) executeToolCalls(ctx context.Context, agent *Agent, calls []ToolCallFull) ([]ToolCallRecord, error) {
	allowed := make(map[string]struct{}, len(agent.Tools))
	for _, name := range agent.Tools {
		allowed[name] = struct{}{}
	}

	validator, _ := o.tools.(toolValidator)

	records := make([]ToolCallRecord, 0, len(calls))
	for _, call := range calls {
		if validator != nil {
			if err := validator.Validate(call); err != nil {
				return nil, err
			}
		}

		if err := o.send(agent, ChatEvent{Type: EventToolCallStart, ToolName: call.Name, ToolCall: &call}); err != nil {
			return nil, err
		}

		var result ToolResult
		if _, ok := allowed[call.Name]; !ok {
			result = errorResult(call, "tool not available to this agent: "+call.Name)
		} else {
			result = o.tools.Call(ctx, call)
			result.Name = call.Name
			result.CallID = call.CallID
		}
		if o.meter != nil {
			o.meter.CountToolExecution(ctx, call.Name, result.IsError)
		}

		if err := o.send(agent, ChatEvent{Type: EventToolCallEnd, ToolName: call.Name, Result: &result}); err != nil {
			return nil, err
		}
		records = append(records, ToolCallRecord{Call: call, Result: result})
	}
	return records, nil
}
