package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records checkpoint engine and saver metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordSave records a staged write with its duration and payload size.
	RecordSave(ctx context.Context, duration time.Duration, sizeBytes int64)

	// RecordSkip records a staged write abandoned because the replica
	// group could not act atomically.
	RecordSkip(ctx context.Context, reason string)

	// RecordLoad records a load attempt from the staging region.
	// hit is false when the memory copy was empty or untrusted.
	RecordLoad(ctx context.Context, duration time.Duration, hit bool)

	// RecordDrain records a saver drain to durable storage.
	RecordDrain(ctx context.Context, duration time.Duration, sizeBytes int64, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	saves        metric.Int64Counter
	skips        metric.Int64Counter
	saveLatency  metric.Float64Histogram
	stagedBytes  metric.Int64Histogram
	loads        metric.Int64Counter
	loadLatency  metric.Float64Histogram
	drains       metric.Int64Counter
	drainErrors  metric.Int64Counter
	drainLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flashckpt")

	saves, err := meter.Int64Counter("flashckpt.save.count",
		metric.WithDescription("Number of checkpoints staged in shared memory"),
	)
	if err != nil {
		return nil, err
	}
	skips, err := meter.Int64Counter("flashckpt.save.skipped",
		metric.WithDescription("Number of staged writes abandoned on group disagreement"),
	)
	if err != nil {
		return nil, err
	}
	saveLatency, err := meter.Float64Histogram("flashckpt.save.latency_ms",
		metric.WithDescription("Staged write latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}
	stagedBytes, err := meter.Int64Histogram("flashckpt.save.bytes",
		metric.WithDescription("Staged checkpoint payload size in bytes"),
	)
	if err != nil {
		return nil, err
	}
	loads, err := meter.Int64Counter("flashckpt.load.count",
		metric.WithDescription("Number of load attempts from shared memory"),
	)
	if err != nil {
		return nil, err
	}
	loadLatency, err := meter.Float64Histogram("flashckpt.load.latency_ms",
		metric.WithDescription("Shared memory load latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}
	drains, err := meter.Int64Counter("flashckpt.drain.count",
		metric.WithDescription("Number of saver drains to durable storage"),
	)
	if err != nil {
		return nil, err
	}
	drainErrors, err := meter.Int64Counter("flashckpt.drain.errors",
		metric.WithDescription("Number of failed saver drains"),
	)
	if err != nil {
		return nil, err
	}
	drainLatency, err := meter.Float64Histogram("flashckpt.drain.latency_ms",
		metric.WithDescription("Saver drain latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		saves:        saves,
		skips:        skips,
		saveLatency:  saveLatency,
		stagedBytes:  stagedBytes,
		loads:        loads,
		loadLatency:  loadLatency,
		drains:       drains,
		drainErrors:  drainErrors,
		drainLatency: drainLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordSave records a staged write.
func (m *otelMetrics) RecordSave(ctx context.Context, duration time.Duration, sizeBytes int64) {
	m.saves.Add(ctx, 1)
	m.saveLatency.Record(ctx, float64(duration.Milliseconds()))
	m.stagedBytes.Record(ctx, sizeBytes)
}

// RecordSkip records an abandoned staged write.
func (m *otelMetrics) RecordSkip(ctx context.Context, reason string) {
	m.skips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLoad records a load attempt from shared memory.
func (m *otelMetrics) RecordLoad(ctx context.Context, duration time.Duration, hit bool) {
	m.loads.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
	m.loadLatency.Record(ctx, float64(duration.Milliseconds()))
}

// RecordDrain records a saver drain.
func (m *otelMetrics) RecordDrain(ctx context.Context, duration time.Duration, sizeBytes int64, err error) {
	m.drains.Add(ctx, 1)
	m.drainLatency.Record(ctx, float64(duration.Milliseconds()))
	if err != nil {
		m.drainErrors.Add(ctx, 1)
		return
	}
	m.stagedBytes.Record(ctx, sizeBytes)
}
