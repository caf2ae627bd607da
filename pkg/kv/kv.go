// Package kv defines the small string key-value store the engine persists its
// call trigger, stopping marker and credentials in.
//
// Values are opaque strings with last-write-wins semantics. Stores that can
// delete a key only if it still holds an expected value implement
// [CompareAndDeleter]; callers use it to consume a value exactly once when
// several processes share the store.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Get] when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key or [ErrNotFound].
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes keys. Absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// CompareAndDeleter is implemented by stores that can atomically delete a key
// only if it currently holds expected.
type CompareAndDeleter interface {
	// CompareAndDelete deletes key if its value equals expected and reports
	// whether it did. An absent key reports false and a nil error.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}
