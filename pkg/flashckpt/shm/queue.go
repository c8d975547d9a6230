package shm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Queue ring layout constants.
const (
	// queueHeaderSize is the fixed ring header size.
	queueHeaderSize = 64

	// MinQueueCapacity is the smallest ring data capacity.
	MinQueueCapacity = 4096

	// DefaultQueueCapacity is the default ring data capacity.
	DefaultQueueCapacity = 64 * 1024

	// frameLenSize is the length-prefix size of each frame.
	frameLenSize = 4
)

// Ring header field offsets.
const (
	qOffCapacity = 0  // uint64, power of two
	qOffWrite    = 8  // uint64, monotonic byte counter, producer-owned
	qOffRead     = 16 // uint64, monotonic byte counter, consumer-owned
	qOffClosed   = 24 // uint32
	// 28..63 reserved
)

// Queue is a named cross-process FIFO message channel: a
// single-producer/single-consumer byte ring carrying length-prefixed
// frames. Put and Get never block; the consumer polls.
type Queue struct {
	name string
	path string
	file *os.File
	mem  []byte
}

// roundUpPowerOfTwo returns the next power of two >= n.
func roundUpPowerOfTwo(n int) uint64 {
	x := uint64(n)
	if x&(x-1) == 0 {
		return x
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

// CreateQueue creates a named queue with at least the requested data
// capacity, rounded up to a power of two.
func CreateQueue(name string, capacity int) (*Queue, error) {
	if capacity < MinQueueCapacity {
		capacity = MinQueueCapacity
	}
	ringCap := roundUpPowerOfTwo(capacity)
	file, mem, path, err := createMapping(name, queueHeaderSize+int(ringCap))
	if err != nil {
		return nil, err
	}
	q := &Queue{name: name, path: path, file: file, mem: mem}
	atomic.StoreUint64(q.u64(qOffCapacity), ringCap)
	atomic.StoreUint64(q.u64(qOffWrite), 0)
	atomic.StoreUint64(q.u64(qOffRead), 0)
	return q, nil
}

// OpenQueue binds to an existing named queue.
func OpenQueue(name string) (*Queue, error) {
	file, mem, path, err := openMapping(name, queueHeaderSize+MinQueueCapacity)
	if err != nil {
		return nil, err
	}
	q := &Queue{name: name, path: path, file: file, mem: mem}
	c := atomic.LoadUint64(q.u64(qOffCapacity))
	if c == 0 || c&(c-1) != 0 || queueHeaderSize+int(c) > len(mem) {
		closeMapping(file, mem)
		return nil, fmt.Errorf("%w: queue capacity %d does not match file size %d", ErrBadSegment, c, len(mem))
	}
	return q, nil
}

// Name returns the queue's shared name.
func (q *Queue) Name() string { return q.name }

// Capacity returns the ring data capacity in bytes.
func (q *Queue) Capacity() uint64 {
	if q.mem == nil {
		return 0
	}
	return atomic.LoadUint64(q.u64(qOffCapacity))
}

// Put appends one frame. It returns ErrQueueFull when the ring lacks
// space for the whole frame; delivery is then the caller's problem
// (typically: log and move on).
func (q *Queue) Put(msg []byte) error {
	if q.mem == nil {
		return ErrClosed
	}
	if atomic.LoadUint32(q.u32(qOffClosed)) != 0 {
		return ErrClosed
	}
	capacity := q.Capacity()
	need := uint64(frameLenSize + len(msg))
	if need > capacity {
		return fmt.Errorf("%w: frame of %d bytes exceeds ring capacity %d", ErrQueueFull, len(msg), capacity)
	}

	w := atomic.LoadUint64(q.u64(qOffWrite))
	r := atomic.LoadUint64(q.u64(qOffRead))
	if capacity-(w-r) < need {
		return ErrQueueFull
	}

	var lenBuf [frameLenSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(msg)))
	q.copyIn(w, lenBuf[:])
	q.copyIn(w+frameLenSize, msg)
	atomic.StoreUint64(q.u64(qOffWrite), w+need)
	return nil
}

// Get removes and returns the oldest frame. ok is false when the queue
// is empty.
func (q *Queue) Get() (msg []byte, ok bool, err error) {
	if q.mem == nil {
		return nil, false, ErrClosed
	}
	w := atomic.LoadUint64(q.u64(qOffWrite))
	r := atomic.LoadUint64(q.u64(qOffRead))
	if w == r {
		if atomic.LoadUint32(q.u32(qOffClosed)) != 0 {
			return nil, false, ErrClosed
		}
		return nil, false, nil
	}

	var lenBuf [frameLenSize]byte
	q.copyOut(r, lenBuf[:])
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if uint64(frameLenSize)+uint64(n) > w-r {
		return nil, false, fmt.Errorf("%w: frame length %d exceeds queued bytes", ErrBadSegment, n)
	}
	msg = make([]byte, n)
	q.copyOut(r+frameLenSize, msg)
	atomic.StoreUint64(q.u64(qOffRead), r+frameLenSize+uint64(n))
	return msg, true, nil
}

// CloseWrite marks the queue closed for the consumer: Get drains any
// remaining frames and then returns ErrClosed.
func (q *Queue) CloseWrite() {
	if q.mem == nil {
		return
	}
	atomic.StoreUint32(q.u32(qOffClosed), 1)
}

// Close unmaps the queue. The backing file is left in place.
func (q *Queue) Close() error {
	if q.mem == nil {
		return nil
	}
	err := closeMapping(q.file, q.mem)
	q.file, q.mem = nil, nil
	return err
}

// Unlink removes the backing file. Only the creating side should call
// this, after all binders have closed.
func (q *Queue) Unlink() error {
	if q.path == "" {
		return nil
	}
	return os.Remove(q.path)
}

// copyIn writes p into the ring at logical position pos, wrapping as
// needed.
func (q *Queue) copyIn(pos uint64, p []byte) {
	mask := q.Capacity() - 1
	data := q.mem[queueHeaderSize:]
	off := pos & mask
	n := copy(data[off:], p)
	if n < len(p) {
		copy(data, p[n:])
	}
}

// copyOut reads len(p) bytes from the ring at logical position pos,
// wrapping as needed.
func (q *Queue) copyOut(pos uint64, p []byte) {
	mask := q.Capacity() - 1
	data := q.mem[queueHeaderSize:]
	off := pos & mask
	n := copy(p, data[off:])
	if n < len(p) {
		copy(p[n:], data[:uint64(len(p))-uint64(n)])
	}
}

func (q *Queue) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&q.mem[off]))
}

func (q *Queue) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&q.mem[off]))
}
