/*
Package shm provides the cross-process shared-memory primitives used by
the flash checkpoint engine: named staging segments, a named lock, and a
named FIFO event queue.

All three primitives are backed by memory-mapped files under /dev/shm
(falling back to the system temporary directory when /dev/shm is not
available). Two processes that agree on a name bind to the same
underlying bytes, which is the only coupling between a training worker
and the checkpoint saver on the same node.

Creation and binding are split deliberately:

  - Create* functions build a fresh segment file (O_EXCL) and initialize
    its header. The saver process owns creation.
  - Open* functions bind to an existing segment and validate its header.
    The training-side engine only ever opens.

# Staging segment

A Segment holds one checkpoint generation: a fixed 64-byte header
followed by a small JSON config blob and the opaque serialized payload.
The step field in the header is written last with an atomic store, so a
reader that observes step N is guaranteed the lengths for generation N
were visible first. Readers that load the payload outside the lock
detect torn generations by re-reading the step afterwards.

# Lock

A Lock is a single owner word in its own tiny mapping. TryAcquire is a
compare-and-swap of 0 to the caller's pid, Release swaps it back, and
ForceRelease unconditionally clears the word. ForceRelease exists for
crash recovery: a restarted writer assumes a held lock is orphaned.

# Event queue

A Queue is a single-producer/single-consumer byte ring carrying
length-prefixed frames. Both Put and Get are non-blocking; the consumer
polls. Capacity is rounded up to a power of two.

Thread safety: a Segment, Lock, or Queue handle is not safe for
concurrent use by multiple goroutines within one process. The
cross-process discipline (who may touch which primitive when) is the
engine's and saver's responsibility.
*/
package shm
