// Package filestore provides a [kv.Store] persisted as a single JSON object in
// a local file. It survives process restarts, which lets a scheduled call
// outlive the process that scheduled it.
//
// The file is rewritten on every mutation (write to a temporary file, then
// rename) so a crash never leaves a truncated document behind. It is meant for
// one process; use the postgres store when several processes share state.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/ringer/pkg/kv"
)

// Compile-time interface checks.
var (
	_ kv.Store             = (*Store)(nil)
	_ kv.CompareAndDeleter = (*Store)(nil)
)

// Store persists key-value pairs as JSON in a local file.
// Thread-safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// New opens the store at path, loading existing contents. A missing file is
// treated as an empty store and created on the first write.
func New(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	return s, nil
}

// Get implements [kv.Store].
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	return v, nil
}

// Set implements [kv.Store].
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Delete implements [kv.Store].
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			removed[k] = v
			delete(s.values, k)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := s.flush(); err != nil {
		for k, v := range removed {
			s.values[k] = v
		}
		return err
	}
	return nil
}

// CompareAndDelete implements [kv.CompareAndDeleter].
func (s *Store) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || v != expected {
		return false, nil
	}
	delete(s.values, key)
	if err := s.flush(); err != nil {
		s.values[key] = v
		return false, err
	}
	return true, nil
}

// flush writes the current map to disk. Callers hold s.mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ringer-kv-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}
