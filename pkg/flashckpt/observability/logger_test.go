package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilLoggerSafety(t *testing.T) {
	// Every helper must be a no-op on a nil logger; the engine runs
	// without logging by default.
	assert.Nil(t, EnrichLogger(nil, 0, 0, 0))
	LogSaveComplete(nil, 1, 0.5, 10)
	LogSaveSkipped(nil, 0, 1)
	LogLoadFromMemory(nil, 1)
	LogStepDivergence(nil, 1)
	LogForceRelease(nil, "lock", 1)
	LogBootstrapSent(nil, "single_file", "/tmp")
	LogDrainComplete(nil, 0, 1, 0.5, 10)
	LogDrainError(nil, 0, errors.New("x"))
	LogEventDropped(nil, "save_to_storage", errors.New("x"))
}

func TestEnrichLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := EnrichLogger(slog.New(slog.NewTextHandler(&buf, nil)), 3, 1, 1)

	LogSaveComplete(logger, 42, 1.5, 2048)

	out := buf.String()
	assert.Contains(t, out, "rank=3")
	assert.Contains(t, out, "local_rank=1")
	assert.Contains(t, out, "shard_id=1")
	assert.Contains(t, out, "step=42")
	assert.Contains(t, out, "size_bytes=2048")
}

func TestLogForceReleaseIsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogForceRelease(logger, "dlrover_flash_lock_0", 2)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "dlrover_flash_lock_0")
	assert.Contains(t, out, "restart_count=2")
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	assert.GreaterOrEqual(t, done(), 0.0)
}
