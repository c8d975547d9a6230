package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Segment layout constants.
const (
	// SegmentMagic identifies a staging segment file.
	SegmentMagic = "DLCKPT\x00\x00"

	// SegmentVersion is the current header layout version.
	SegmentVersion = uint32(1)

	// SegmentHeaderSize is the fixed header size in bytes.
	SegmentHeaderSize = 64

	// DefaultSegmentSize is the default staging capacity (64 MiB).
	DefaultSegmentSize = 64 * 1024 * 1024

	// MinSegmentSize is the smallest usable staging capacity.
	MinSegmentSize = SegmentHeaderSize + 64
)

// Header field offsets.
const (
	offMagic      = 0  // [8]byte
	offVersion    = 8  // uint32
	offFlags      = 12 // uint32, reserved
	offStep       = 16 // uint64, 0 = nothing staged
	offConfigLen  = 24 // uint64
	offPayloadLen = 32 // uint64
	offCapacity   = 40 // uint64, total segment size
	offWriteSeq   = 48 // uint64, odd while a Save is in flight
	// 56..63 reserved
)

// Header is a snapshot of the staging segment's fixed-layout metadata.
type Header struct {
	// Step is the staged checkpoint version; 0 means nothing staged.
	Step uint64
	// ConfigLen is the length of the staged config blob in bytes.
	ConfigLen uint64
	// PayloadLen is the length of the staged payload in bytes.
	PayloadLen uint64
}

// Segment is a named shared-memory staging region holding one checkpoint
// generation. One writer process and one saver process bind to the same
// segment by name; mutation requires holding the shard's Lock.
type Segment struct {
	name string
	path string
	file *os.File
	mem  []byte
}

// CreateSegment creates and initializes a staging segment. The saver
// process is the creating side. capacity is the total file size
// including the header.
func CreateSegment(name string, capacity int) (*Segment, error) {
	if capacity < MinSegmentSize {
		return nil, fmt.Errorf("shm: segment capacity %d below minimum %d", capacity, MinSegmentSize)
	}
	file, mem, path, err := createMapping(name, capacity)
	if err != nil {
		return nil, err
	}
	s := &Segment{name: name, path: path, file: file, mem: mem}
	copy(s.mem[offMagic:offMagic+8], SegmentMagic)
	atomic.StoreUint32(s.u32(offVersion), SegmentVersion)
	atomic.StoreUint64(s.u64(offCapacity), uint64(capacity))
	atomic.StoreUint64(s.u64(offStep), 0)
	atomic.StoreUint64(s.u64(offWriteSeq), 0)
	return s, nil
}

// OpenSegment binds to an existing staging segment and validates its
// header. The training-side engine is the opening side.
func OpenSegment(name string) (*Segment, error) {
	file, mem, path, err := openMapping(name, MinSegmentSize)
	if err != nil {
		return nil, err
	}
	s := &Segment{name: name, path: path, file: file, mem: mem}
	if string(s.mem[offMagic:offMagic+8]) != SegmentMagic {
		closeMapping(file, mem)
		return nil, fmt.Errorf("%w: bad magic in %s", ErrBadSegment, path)
	}
	if v := atomic.LoadUint32(s.u32(offVersion)); v != SegmentVersion {
		closeMapping(file, mem)
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadSegment, v, SegmentVersion)
	}
	if c := atomic.LoadUint64(s.u64(offCapacity)); c != uint64(len(mem)) {
		closeMapping(file, mem)
		return nil, fmt.Errorf("%w: header capacity %d, file size %d", ErrBadSegment, c, len(mem))
	}
	return s, nil
}

// Name returns the segment's shared name.
func (s *Segment) Name() string { return s.name }

// Capacity returns the total segment size in bytes.
func (s *Segment) Capacity() uint64 {
	if s.mem == nil {
		return 0
	}
	return atomic.LoadUint64(s.u64(offCapacity))
}

// ReadHeader returns a snapshot of the staging header. It may be called
// without holding the lock; callers treat the result as advisory.
func (s *Segment) ReadHeader() (Header, error) {
	if s.mem == nil {
		return Header{}, ErrClosed
	}
	return Header{
		Step:       atomic.LoadUint64(s.u64(offStep)),
		ConfigLen:  atomic.LoadUint64(s.u64(offConfigLen)),
		PayloadLen: atomic.LoadUint64(s.u64(offPayloadLen)),
	}, nil
}

// Save overwrites the staged generation as a single logical unit: config
// blob, payload, then header. The caller must hold the shard's Lock for
// the whole call.
//
// The step is cleared first and stored last, so a reader without the
// lock either observes the previous generation's step or the new one,
// never the new step with stale lengths. The write-sequence word is
// bumped on entry and exit (odd while in flight), so an unlocked reader
// can detect an overwrite even when the step value repeats.
func (s *Segment) Save(step uint64, config, payload []byte) error {
	if s.mem == nil {
		return ErrClosed
	}
	need := uint64(SegmentHeaderSize) + uint64(len(config)) + uint64(len(payload))
	if cap := s.Capacity(); need > cap {
		return &CapacityError{Need: need, Capacity: cap}
	}

	atomic.AddUint64(s.u64(offWriteSeq), 1)
	atomic.StoreUint64(s.u64(offStep), 0)
	copy(s.mem[SegmentHeaderSize:], config)
	copy(s.mem[SegmentHeaderSize+len(config):], payload)
	atomic.StoreUint64(s.u64(offConfigLen), uint64(len(config)))
	atomic.StoreUint64(s.u64(offPayloadLen), uint64(len(payload)))
	atomic.StoreUint64(s.u64(offStep), step)
	atomic.AddUint64(s.u64(offWriteSeq), 1)
	return nil
}

// Load copies out the staged config and payload. It may be called
// without the lock: the write-sequence word is checked before and after
// the copy and ErrTornRead is returned if a Save overlapped, even one
// that restaged the same step. Callers discard instead of trusting a
// torn generation. Returns ErrNotStaged when no generation is present.
func (s *Segment) Load() (config, payload []byte, err error) {
	if s.mem == nil {
		return nil, nil, ErrClosed
	}
	seq := atomic.LoadUint64(s.u64(offWriteSeq))
	if seq&1 == 1 {
		return nil, nil, ErrTornRead
	}
	step := atomic.LoadUint64(s.u64(offStep))
	if step == 0 {
		return nil, nil, ErrNotStaged
	}
	configLen := atomic.LoadUint64(s.u64(offConfigLen))
	payloadLen := atomic.LoadUint64(s.u64(offPayloadLen))
	if uint64(SegmentHeaderSize)+configLen+payloadLen > s.Capacity() {
		return nil, nil, fmt.Errorf("%w: staged lengths exceed capacity", ErrBadSegment)
	}

	config = make([]byte, configLen)
	copy(config, s.mem[SegmentHeaderSize:uint64(SegmentHeaderSize)+configLen])
	payload = make([]byte, payloadLen)
	copy(payload, s.mem[uint64(SegmentHeaderSize)+configLen:uint64(SegmentHeaderSize)+configLen+payloadLen])

	if atomic.LoadUint64(s.u64(offWriteSeq)) != seq {
		return nil, nil, ErrTornRead
	}
	return config, payload, nil
}

// Close unmaps the segment. The backing file is left in place for other
// processes; see Unlink.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}
	err := closeMapping(s.file, s.mem)
	s.file, s.mem = nil, nil
	return err
}

// Unlink removes the backing file. Only the creating side should call
// this, after all binders have closed.
func (s *Segment) Unlink() error {
	if s.path == "" {
		return nil
	}
	return os.Remove(s.path)
}

func (s *Segment) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[off]))
}

func (s *Segment) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.mem[off]))
}
