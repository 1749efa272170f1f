package anvil

import "context"

// Meter counts runtime events: token usage per provider exchange, completed
// turns, tool executions, and compaction passes. The observer package
// provides an OTEL-backed implementation; when no Meter is configured,
// counting is skipped (nil check).
type Meter interface {
	// CountTokens records token usage for one provider exchange.
	CountTokens(ctx context.Context, agentID string, usage Usage)
	// CountTurn records one completed agent turn.
	CountTurn(ctx context.Context, agentID string)
	// CountToolExecution records one tool call by name and error status.
	CountToolExecution(ctx context.Context, tool string, isError bool)
	// CountCompaction records one compaction pass.
	CountCompaction(ctx context.Context)
}
