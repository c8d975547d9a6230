package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byName := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			byName[m.Name] = m
		}
	}
	return byName
}

func counterValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 counter", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestOtelMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSave(ctx, 5*time.Millisecond, 1024)
	m.RecordSkip(ctx, "lock_unavailable")
	m.RecordSkip(ctx, "lock_unavailable")
	m.RecordLoad(ctx, time.Millisecond, true)
	m.RecordLoad(ctx, time.Millisecond, false)
	m.RecordDrain(ctx, 2*time.Millisecond, 2048, nil)
	m.RecordDrain(ctx, 2*time.Millisecond, 0, errors.New("disk full"))

	byName := collectNames(t, reader)

	assert.Equal(t, int64(1), counterValue(t, byName["flashckpt.save.count"]))
	assert.Equal(t, int64(2), counterValue(t, byName["flashckpt.save.skipped"]))
	assert.Equal(t, int64(2), counterValue(t, byName["flashckpt.load.count"]))
	assert.Equal(t, int64(2), counterValue(t, byName["flashckpt.drain.count"]))
	assert.Equal(t, int64(1), counterValue(t, byName["flashckpt.drain.errors"]))

	for _, histogram := range []string{
		"flashckpt.save.latency_ms",
		"flashckpt.save.bytes",
		"flashckpt.load.latency_ms",
		"flashckpt.drain.latency_ms",
	} {
		assert.Contains(t, byName, histogram)
	}
}

func TestNewMetricsRecorderNeverNil(t *testing.T) {
	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	// Safe to use regardless of what the global provider is.
	recorder.RecordSave(context.Background(), time.Millisecond, 1)
}
