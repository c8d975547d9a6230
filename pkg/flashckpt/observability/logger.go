// Package observability provides structured logging, metrics, and
// tracing for the flash checkpoint engine and saver.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds checkpoint-engine context to a logger.
// Returns a new logger with rank, local_rank, and shard_id fields.
func EnrichLogger(logger *slog.Logger, rank, localRank, shardID int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.Int("rank", rank),
		slog.Int("local_rank", localRank),
		slog.Int("shard_id", shardID),
	)
}

// LogSaveComplete logs a successful staged write.
func LogSaveComplete(logger *slog.Logger, step uint64, durationMs float64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Info("checkpoint staged in shared memory",
		slog.Uint64("step", step),
		slog.Float64("duration_ms", durationMs),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogSaveSkipped logs a skipped staged write. Skips are expected,
// high-frequency control flow while the saver is draining.
func LogSaveSkipped(logger *slog.Logger, rank int, step uint64) {
	if logger == nil {
		return
	}
	logger.Info("skipping staged write, a rank's shard is still draining to storage",
		slog.Int("rank", rank),
		slog.Uint64("step", step),
	)
}

// LogLoadFromMemory logs a successful load from the staging region.
func LogLoadFromMemory(logger *slog.Logger, step uint64) {
	if logger == nil {
		return
	}
	logger.Info("loaded checkpoint from shared memory",
		slog.Uint64("step", step),
	)
}

// LogStepDivergence logs ranks disagreeing on the staged step; the
// memory copy is not trusted and the caller falls back to storage.
func LogStepDivergence(logger *slog.Logger, step uint64) {
	if logger == nil {
		return
	}
	logger.Warn("staged step differs across ranks, falling back to storage",
		slog.Uint64("step", step),
	)
}

// LogForceRelease logs the crash-recovery lock release on restart.
func LogForceRelease(logger *slog.Logger, lockName string, restartCount int) {
	if logger == nil {
		return
	}
	logger.Warn("force-releasing shard lock left by a previous instance",
		slog.String("lock", lockName),
		slog.Int("restart_count", restartCount),
	)
}

// LogBootstrapSent logs the one-shot saver bootstrap.
func LogBootstrapSent(logger *slog.Logger, saverType, checkpointDir string) {
	if logger == nil {
		return
	}
	logger.Info("saver bootstrap descriptor sent",
		slog.String("saver_type", saverType),
		slog.String("checkpoint_dir", checkpointDir),
	)
}

// LogDrainComplete logs a saver drain to durable storage.
func LogDrainComplete(logger *slog.Logger, shardID int, step uint64, durationMs float64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Info("drained staged checkpoint to storage",
		slog.Int("shard_id", shardID),
		slog.Uint64("step", step),
		slog.Float64("duration_ms", durationMs),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogDrainError logs a failed drain (non-fatal; retried on the next event).
func LogDrainError(logger *slog.Logger, shardID int, err error) {
	if logger == nil {
		return
	}
	logger.Error("drain to storage failed",
		slog.Int("shard_id", shardID),
		slog.String("error", err.Error()),
	)
}

// LogEventDropped logs a control event that could not be enqueued.
func LogEventDropped(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("control event dropped",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
