package shm

import (
	"errors"
	"fmt"
)

// Sentinel errors for shared-memory primitives.
var (
	// ErrClosed indicates the handle has been closed.
	ErrClosed = errors.New("shm: handle closed")

	// ErrNotStaged indicates the segment holds no checkpoint generation yet.
	ErrNotStaged = errors.New("shm: no checkpoint staged")

	// ErrTornRead indicates the staged generation changed while the payload
	// was being read without the lock.
	ErrTornRead = errors.New("shm: staged step changed during read")

	// ErrQueueFull indicates the event queue lacks space for the frame.
	ErrQueueFull = errors.New("shm: event queue full")

	// ErrBadSegment indicates the mapped file is not a valid segment
	// (wrong magic, version, or size).
	ErrBadSegment = errors.New("shm: invalid segment")
)

// CapacityError reports a payload that does not fit the staging segment.
type CapacityError struct {
	// Need is the number of bytes required, including the header.
	Need uint64
	// Capacity is the total segment size.
	Capacity uint64
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("shm: payload needs %d bytes, segment capacity is %d", e.Need, e.Capacity)
}
