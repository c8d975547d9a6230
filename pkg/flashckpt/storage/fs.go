package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// checkpoint file naming: zero-padded so lexical order is step order.
const (
	fsFilePrefix = "checkpoint-"
	fsFileSuffix = ".ckpt"
)

// FSStore persists checkpoints as one file per step under a directory.
// Writes go through a temporary file and rename, so a crashed write
// never leaves a partial checkpoint behind.
type FSStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFSStore creates a filesystem checkpoint store rooted at dir,
// creating the directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *FSStore) Dir() string { return s.dir }

// Save implements Store.
func (s *FSStore) Save(step uint64, data []byte, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	dest := path
	if dest == "" {
		dest = s.stepPath(step)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	// When the caller chose a custom path, leave a step-named link in
	// the store directory so Load/Latest still find the checkpoint.
	if path != "" && dest != s.stepPath(step) {
		if err := copyFile(dest, s.stepPath(step)); err != nil {
			return fmt.Errorf("index checkpoint: %w", err)
		}
	}
	return nil
}

// Load implements Store.
func (s *FSStore) Load(step uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.stepPath(step))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// Latest implements Store.
func (s *FSStore) Latest() (Info, error) {
	infos, err := s.List()
	if err != nil {
		return Info{}, err
	}
	if len(infos) == 0 {
		return Info{}, ErrNotFound
	}
	return infos[len(infos)-1], nil
}

// List implements Store.
func (s *FSStore) List() ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, fsFilePrefix) || !strings.HasSuffix(name, fsFileSuffix) {
			continue
		}
		step, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, fsFilePrefix), fsFileSuffix), 10, 64)
		if err != nil {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Step:      step,
			Path:      filepath.Join(s.dir, name),
			Timestamp: fi.ModTime().UTC(),
			Size:      fi.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Step < infos[j].Step })
	return infos, nil
}

// Delete implements Store.
func (s *FSStore) Delete(step uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.stepPath(step))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *FSStore) stepPath(step uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", fsFilePrefix, step, fsFileSuffix))
}

// copyFile copies src to dst atomically via a temp file and rename.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ckpt-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}
