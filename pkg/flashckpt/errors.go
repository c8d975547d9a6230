package flashckpt

import (
	"errors"
	"fmt"
)

// Sentinel errors for the checkpoint engine.
var (
	// ErrReservedStateKey indicates the caller's state dict already
	// contains the engine's reserved config key.
	ErrReservedStateKey = errors.New("state contains reserved checkpoint config key")

	// ErrStepZero indicates a save was attempted with step 0, which the
	// staging header reserves as the nothing-staged marker.
	ErrStepZero = errors.New("checkpoint step 0 is reserved for empty staging")

	// ErrStepRegression indicates a save was attempted for a step older
	// than the last successfully staged step.
	ErrStepRegression = errors.New("checkpoint step older than last staged step")

	// ErrEngineClosed indicates the engine has been closed.
	ErrEngineClosed = errors.New("checkpoint engine closed")

	// ErrSerializeState indicates state serialization failed.
	ErrSerializeState = errors.New("failed to serialize state")

	// ErrDeserializeState indicates state deserialization failed.
	ErrDeserializeState = errors.New("failed to deserialize state")
)

// CollectiveError wraps a communication-layer failure from a collective
// operation. These are fatal: a broken collective channel means
// training itself cannot proceed reliably, so they propagate instead of
// being absorbed as skips.
type CollectiveError struct {
	// Op is the collective operation that failed ("all_agree",
	// "all_equal", "barrier").
	Op string
	// Err is the underlying transport error.
	Err error
}

// Error implements the error interface.
func (e *CollectiveError) Error() string {
	return fmt.Sprintf("collective %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CollectiveError) Unwrap() error {
	return e.Err
}

// StagingError wraps errors from the shared staging region or lock.
type StagingError struct {
	// Op is the operation that failed ("save", "load", "bind").
	Op string
	// Shard is the local shard ID.
	Shard int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s on shard %d: %v", e.Op, e.Shard, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StagingError) Unwrap() error {
	return e.Err
}
