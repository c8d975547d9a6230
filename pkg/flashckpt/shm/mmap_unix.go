//go:build unix

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// filePrefix namespaces segment files so unrelated tenants of /dev/shm
// never collide with ours.
const filePrefix = "dlrover_"

// segmentPath returns the backing file path for a named mapping.
// /dev/shm is preferred on Linux; anything else falls back to the
// system temporary directory.
func segmentPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", filePrefix+name)
	}
	return filepath.Join(os.TempDir(), filePrefix+name)
}

// createMapping creates the backing file with exclusive access, sizes it,
// and maps it shared.
func createMapping(name string, size int) (*os.File, []byte, string, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, nil, "", fmt.Errorf("create segment file %s: %w", path, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, nil, "", fmt.Errorf("resize segment file: %w", err)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, nil, "", fmt.Errorf("mmap segment: %w", err)
	}
	return file, mem, path, nil
}

// openMapping maps an existing backing file shared, at its current size.
func openMapping(name string, minSize int) (*os.File, []byte, string, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, "", fmt.Errorf("open segment file %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, "", fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < int64(minSize) {
		file.Close()
		return nil, nil, "", fmt.Errorf("%w: file %s is %d bytes, need at least %d",
			ErrBadSegment, path, info.Size(), minSize)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, nil, "", fmt.Errorf("mmap segment: %w", err)
	}
	return file, mem, path, nil
}

// closeMapping unmaps and closes a mapping. Safe on a nil/empty mapping.
func closeMapping(file *os.File, mem []byte) error {
	var err error
	if len(mem) > 0 {
		err = unix.Munmap(mem)
	}
	if file != nil {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
