// Package tracing wires OpenTelemetry spans around chat turns, backend calls
// and tool executions. Without a collector endpoint the global no-op
// provider is left in place and spans cost next to nothing.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/user/chatagent"

// Config selects where spans are exported.
type Config struct {
	ServiceName string
	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	// Empty disables export.
	Endpoint string
	// SampleRate is the fraction of turns recorded, 0 < rate <= 1.
	SampleRate float64
	Insecure   bool
}

// Setup installs a global tracer provider exporting to cfg.Endpoint and
// returns its shutdown func. With no endpoint it installs nothing.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return noop, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chatagent"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return noop, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

// StartTurn opens the root span of one chat turn.
func StartTurn(ctx context.Context, mode, sessionID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("chat.mode", mode),
		attribute.String("chat.session_id", sessionID),
	))
}

// StartLLM opens a span for one backend request.
func StartLLM(ctx context.Context, op string, round int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "llm."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("llm.round", round)))
}

// StartTool opens a span for one tool execution.
func StartTool(ctx context.Context, name, callID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "tool."+name, trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
	))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
