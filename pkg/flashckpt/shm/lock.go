package shm

import (
	"os"
	"sync/atomic"
	"unsafe"
)

// lockSize is the size of a lock's backing mapping. A single owner word
// is all the state; the rest is padding to a cache line.
const lockSize = 64

// Lock is a named cross-process mutual-exclusion primitive. Multiple
// processes binding to the same name share the same owner word, so at
// most one holder exists at any instant. Acquisition is non-blocking
// only; contention is a control-flow outcome for callers, not a wait.
type Lock struct {
	name string
	path string
	file *os.File
	mem  []byte
	pid  uint32
}

// CreateLock creates a named lock in the released state. The saver
// process is the creating side.
func CreateLock(name string) (*Lock, error) {
	file, mem, path, err := createMapping(name, lockSize)
	if err != nil {
		return nil, err
	}
	l := &Lock{name: name, path: path, file: file, mem: mem, pid: uint32(os.Getpid())}
	atomic.StoreUint32(l.owner(), 0)
	return l, nil
}

// OpenLock binds to an existing named lock.
func OpenLock(name string) (*Lock, error) {
	file, mem, path, err := openMapping(name, lockSize)
	if err != nil {
		return nil, err
	}
	return &Lock{name: name, path: path, file: file, mem: mem, pid: uint32(os.Getpid())}, nil
}

// Name returns the lock's shared name.
func (l *Lock) Name() string { return l.name }

// TryAcquire attempts to take the lock without blocking. It returns
// false if any process currently holds it.
func (l *Lock) TryAcquire() bool {
	if l.mem == nil {
		return false
	}
	return atomic.CompareAndSwapUint32(l.owner(), 0, l.pid)
}

// Release releases the lock if this process holds it. Releasing a lock
// held by another process is a no-op; use ForceRelease for recovery.
func (l *Lock) Release() {
	if l.mem == nil {
		return
	}
	atomic.CompareAndSwapUint32(l.owner(), l.pid, 0)
}

// ForceRelease unconditionally clears the owner word. This is the
// crash-recovery path: a restarted writer assumes a held lock was
// orphaned by its crashed predecessor and favors liveness over strict
// mutual exclusion across the crash boundary.
func (l *Lock) ForceRelease() {
	if l.mem == nil {
		return
	}
	atomic.StoreUint32(l.owner(), 0)
}

// Holder returns the pid recorded in the owner word, or 0 when released.
func (l *Lock) Holder() uint32 {
	if l.mem == nil {
		return 0
	}
	return atomic.LoadUint32(l.owner())
}

// Close unmaps the lock. The backing file is left in place.
func (l *Lock) Close() error {
	if l.mem == nil {
		return nil
	}
	err := closeMapping(l.file, l.mem)
	l.file, l.mem = nil, nil
	return err
}

// Unlink removes the backing file. Only the creating side should call
// this, after all binders have closed.
func (l *Lock) Unlink() error {
	if l.path == "" {
		return nil
	}
	return os.Remove(l.path)
}

func (l *Lock) owner() *uint32 {
	return (*uint32)(unsafe.Pointer(&l.mem[0]))
}
