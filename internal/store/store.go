// Package store persists small engine state documents. Every save is
// atomic: content goes to a temp file, is fsynced, and is renamed over
// the target while an advisory lock on a sidecar file is held, so a
// crash mid-write never leaves a torn document behind.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store reads and writes named documents under a single state directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory the store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of the named document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Load returns the content of the named document. A document that does
// not exist yet yields (nil, nil); callers treat that as empty state.
func (s *Store) Load(name string) ([]byte, error) {
	blob, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return blob, nil
}

// Save atomically replaces the named document with blob. The content is
// written to a temp file in the same directory, flushed to disk, and
// renamed over the target while an exclusive advisory lock on a sidecar
// lock file is held.
func (s *Store) Save(name string, blob []byte) error {
	target := s.Path(name)

	lockFile, err := os.OpenFile(target+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file for %s: %w", name, err)
	}
	defer lockFile.Close()

	if err := lockExclusive(lockFile); err != nil {
		return fmt.Errorf("failed to lock %s: %w", name, err)
	}
	defer unlock(lockFile)

	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// LoadJSON decodes the named document into v. It reports found=false and
// leaves v untouched when the document does not exist.
func (s *Store) LoadJSON(name string, v any) (bool, error) {
	blob, err := s.Load(name)
	if err != nil {
		return false, err
	}
	if blob == nil {
		return false, nil
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

// SaveJSON encodes v with indentation and saves it under name.
func (s *Store) SaveJSON(name string, v any) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.Save(name, blob)
}
