// Package mock provides an in-memory [kv.Store] with error injection for unit
// tests.
//
// [Store] deliberately does not implement [kv.CompareAndDeleter], so code
// under test exercises its local single-flight path. Wrap it with
// [Atomic] to get a store that does.
package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/MrWong99/ringer/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

// Store is a mock implementation of [kv.Store].
// Set the exported *Err fields to inject failures; inspect the call counts
// after.
type Store struct {
	mu sync.Mutex

	// GetErr is returned by Get when non-nil.
	GetErr error

	// SetErr is returned by Set when non-nil. Nothing is stored.
	SetErr error

	// DeleteErr is returned by Delete when non-nil. Nothing is deleted.
	DeleteErr error

	// CallCountGet records how many times Get was called.
	CallCountGet int

	// CallCountSet records how many times Set was called.
	CallCountSet int

	// CallCountDelete records how many times Delete was called.
	CallCountDelete int

	values map[string]string
}

// Get implements [kv.Store].
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountGet++
	if s.GetErr != nil {
		return "", s.GetErr
	}
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
	s.CallCountSet++
	if s.SetErr != nil {
		return s.SetErr
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

// Delete implements [kv.Store].
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDelete++
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// SetErrors replaces the injected errors under the lock.
func (s *Store) SetErrors(get, set, del error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetErr, s.SetErr, s.DeleteErr = get, set, del
}

// Values returns a copy of the stored values.
func (s *Store) Values() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

// Atomic wraps a [Store] and adds [kv.CompareAndDeleter].
type Atomic struct {
	*Store

	// CallCountCompareAndDelete records how many times CompareAndDelete was
	// called.
	CallCountCompareAndDelete int
}

var _ kv.CompareAndDeleter = (*Atomic)(nil)

// CompareAndDelete implements [kv.CompareAndDeleter]. It honours DeleteErr.
func (a *Atomic) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s := a.Store
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CallCountCompareAndDelete++
	if s.DeleteErr != nil {
		return false, s.DeleteErr
	}
	v, ok := s.values[key]
	if !ok || v != expected {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}
