// Package observer provides OTEL-based observability for anvil agent runs.
//
// It implements the anvil.Tracer contract on top of OpenTelemetry and wires
// token-usage metrics for provider exchanges. Users export to any
// OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scopeName = "github.com/nevindra/anvil/observer"

// Instruments holds the OTEL instruments used across the runtime.
type Instruments struct {
	Meter metric.Meter

	// TokenUsage counts prompt/completion tokens by direction attribute.
	TokenUsage metric.Int64Counter
	// TurnCount counts completed agent turns.
	TurnCount metric.Int64Counter
	// ToolExecutions counts tool calls by tool name and error status.
	ToolExecutions metric.Int64Counter
	// CompactionCount counts compaction passes.
	CompactionCount metric.Int64Counter
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that must
// be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("anvil")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(scopeName)
	inst := &Instruments{Meter: meter}

	inst.TokenUsage, err = meter.Int64Counter("anvil.tokens",
		metric.WithDescription("Token usage by direction"))
	if err == nil {
		inst.TurnCount, err = meter.Int64Counter("anvil.turns",
			metric.WithDescription("Completed agent turns"))
	}
	if err == nil {
		inst.ToolExecutions, err = meter.Int64Counter("anvil.tool_executions",
			metric.WithDescription("Tool calls by tool name"))
	}
	if err == nil {
		inst.CompactionCount, err = meter.Int64Counter("anvil.compactions",
			metric.WithDescription("Context compaction passes"))
	}
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}
