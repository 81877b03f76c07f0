package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Artifact is one rendered exposition body and the time it was produced.
// Artifacts are replaced whole, never modified.
type Artifact struct {
	Body      []byte
	CreatedAt time.Time
}

// Store persists the single current artifact.
type Store interface {
	// Load returns the stored artifact; ok is false when there is none.
	Load() (a Artifact, ok bool, err error)
	// Save replaces the stored artifact. Readers never observe a partial write.
	Save(a Artifact) error
}

// FileStore keeps the artifact in one file; its mtime is the creation time.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path. Parent directories are
// created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store.
func (s *FileStore) Load() (Artifact, bool, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return Artifact{}, false, fmt.Errorf("stat cache file: %w", err)
	}
	body, err := io.ReadAll(f)
	if err != nil {
		return Artifact{}, false, fmt.Errorf("reading cache file: %w", err)
	}
	return Artifact{Body: body, CreatedAt: info.ModTime()}, true, nil
}

// Save writes a to a temporary sibling file and renames it into place.
func (s *FileStore) Save(a Artifact) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(a.Body); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("syncing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err := os.Chtimes(tmp.Name(), a.CreatedAt, a.CreatedAt); err != nil {
		return fmt.Errorf("stamping temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

const memoryKey = "artifact"

// MemoryStore keeps the artifact in process memory. Entries drop out on
// their own after retention, bounding how long a dead exporter's data lingers.
type MemoryStore struct {
	lru *expirable.LRU[string, Artifact]
}

// NewMemoryStore returns a MemoryStore. A retention of zero or less keeps
// the artifact until it is replaced.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{lru: expirable.NewLRU[string, Artifact](1, nil, retention)}
}

// Load implements Store.
func (s *MemoryStore) Load() (Artifact, bool, error) {
	a, ok := s.lru.Get(memoryKey)
	return a, ok, nil
}

// Save implements Store.
func (s *MemoryStore) Save(a Artifact) error {
	s.lru.Add(memoryKey, a)
	return nil
}
