// Package storage provides durable checkpoint storage behind a single
// Store interface. The saver drains staged shared-memory checkpoints
// into a Store; the engine's synchronous fallback path writes to the
// same Store directly.
//
// The payload is opaque: serialization belongs to the training backend,
// storage only keys blobs by step.
package storage

import (
	"errors"
	"time"
)

// Store persists checkpoint payloads keyed by step.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint payload for a step.
	// Overwrites if a payload for the step already exists. path is an
	// optional caller-chosen destination hint; empty means the store
	// picks its own location.
	Save(step uint64, data []byte, path string) error

	// Load retrieves the payload for a step.
	// Returns ErrNotFound if no payload exists.
	Load(step uint64) ([]byte, error)

	// Latest returns metadata for the highest stored step.
	// Returns ErrNotFound if the store is empty.
	Latest() (Info, error)

	// List returns all stored checkpoints ordered by step.
	// Returns an empty slice (not an error) when the store is empty.
	List() ([]Info, error)

	// Delete removes the payload for a step.
	// Returns nil if no payload exists.
	Delete(step uint64) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides checkpoint metadata without loading the payload.
type Info struct {
	Step      uint64
	Path      string
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for storage operations.
var (
	// ErrNotFound indicates no checkpoint exists for the step.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
