package observer

import (
	"context"

	anvil "github.com/nevindra/anvil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments implements anvil.Meter on top of the OTEL counters created by
// Init. Pass it to the orchestrator via anvil.WithMeter.

func (i *Instruments) CountTokens(ctx context.Context, agentID string, usage anvil.Usage) {
	agent := attribute.String("agent", agentID)
	i.TokenUsage.Add(ctx, int64(usage.PromptTokens),
		metric.WithAttributes(agent, attribute.String("direction", "prompt")))
	i.TokenUsage.Add(ctx, int64(usage.CompletionTokens),
		metric.WithAttributes(agent, attribute.String("direction", "completion")))
}

func (i *Instruments) CountTurn(ctx context.Context, agentID string) {
	i.TurnCount.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agentID)))
}

func (i *Instruments) CountToolExecution(ctx context.Context, tool string, isError bool) {
	i.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("error", isError)))
}

func (i *Instruments) CountCompaction(ctx context.Context) {
	i.CompactionCount.Add(ctx, 1)
}

var _ anvil.Meter = (*Instruments)(nil)
