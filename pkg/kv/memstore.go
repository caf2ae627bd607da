package kv

import (
	"context"
	"maps"
	"sync"
)

// Compile-time assertions that MemStore satisfies the store interfaces.
var (
	_ Store             = (*MemStore)(nil)
	_ CompareAndDeleter = (*MemStore)(nil)
)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
// The zero value is ready to use.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements [Store.Set].
func (s *MemStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// CompareAndDelete implements [CompareAndDeleter].
func (s *MemStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || v != expected {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

// Snapshot returns a copy of all stored values.
func (s *MemStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}
