package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the flashckpt tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("flashckpt")

// SpanManager handles trace span lifecycle for checkpoint operations.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSaveSpan starts a span for one staged write attempt.
	StartSaveSpan(ctx context.Context, step uint64) (context.Context, trace.Span)

	// StartLoadSpan starts a span for one shared-memory load attempt.
	StartLoadSpan(ctx context.Context) (context.Context, trace.Span)

	// StartDrainSpan starts a span for one saver drain.
	StartDrainSpan(ctx context.Context, shardID int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartSaveSpan starts a span for one staged write attempt.
func (m *otelSpanManager) StartSaveSpan(ctx context.Context, step uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "flashckpt.save_to_memory",
		trace.WithAttributes(
			attribute.Int64("checkpoint.step", int64(step)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartLoadSpan starts a span for one shared-memory load attempt.
func (m *otelSpanManager) StartLoadSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "flashckpt.load_from_memory",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDrainSpan starts a span for one saver drain.
func (m *otelSpanManager) StartDrainSpan(ctx context.Context, shardID int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "flashckpt.drain",
		trace.WithAttributes(
			attribute.Int("shard.id", shardID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
