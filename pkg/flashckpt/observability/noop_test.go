package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	m := NoopMetrics{}
	m.RecordSave(ctx, time.Millisecond, 1)
	m.RecordSkip(ctx, "lock_unavailable")
	m.RecordLoad(ctx, time.Millisecond, false)
	m.RecordDrain(ctx, time.Millisecond, 1, errors.New("x"))
}

func TestNoopSpanManager(t *testing.T) {
	ctx := context.Background()
	sm := NoopSpanManager{}

	saveCtx, span := sm.StartSaveSpan(ctx, 5)
	assert.Equal(t, ctx, saveCtx, "no-op spans must not rewrite the context")
	sm.EndSpanWithError(span, nil)

	_, span = sm.StartLoadSpan(ctx)
	sm.EndSpanWithError(span, errors.New("x"))

	_, span = sm.StartDrainSpan(ctx, 0)
	sm.EndSpanWithError(span, nil)
}

func TestOtelSpanManagerEndNilSpan(t *testing.T) {
	NewSpanManager().EndSpanWithError(nil, errors.New("x"))
}
