package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	anvil "github.com/nevindra/anvil"
)

// streamSSE reads an SSE stream from body and emits decoded completion
// chunks. The caller owns closing the channel; a scanner failure surfaces as
// an in-band errored chunk.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- anvil.CompletionChunk) {
	scanner := bufio.NewScanner(body)
	// Large tool-call argument payloads can exceed the default token size.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	emit := func(chunk anvil.CompletionChunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var decoded chatChunk
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			// Skip malformed keep-alive payloads.
			continue
		}

		out := anvil.CompletionChunk{}
		if decoded.Usage != nil {
			out.Usage = &anvil.Usage{
				PromptTokens:     decoded.Usage.PromptTokens,
				CompletionTokens: decoded.Usage.CompletionTokens,
				TotalTokens:      decoded.Usage.TotalTokens,
			}
		}
		if len(decoded.Choices) > 0 {
			choice := decoded.Choices[0]
			if choice.Delta != nil {
				out.Content = choice.Delta.Content
				for _, tc := range choice.Delta.ToolCalls {
					out.ToolCallParts = append(out.ToolCallParts, anvil.ToolCallPart{
						Name:          tc.Function.Name,
						CallID:        tc.ID,
						ArgumentsPart: tc.Function.Arguments,
					})
				}
			}
			out.FinishReason = mapFinishReason(choice.FinishReason)
		}

		if out.Content == "" && out.ToolCallParts == nil && out.Usage == nil && out.FinishReason == "" {
			continue
		}
		if !emit(out) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(anvil.CompletionChunk{Err: err})
	}
}

func mapFinishReason(reason string) anvil.FinishReason {
	switch reason {
	case "stop":
		return anvil.FinishStop
	case "tool_calls", "function_call":
		return anvil.FinishToolCalls
	case "length":
		return anvil.FinishLength
	case "":
		return ""
	default:
		return anvil.FinishReason(reason)
	}
}
