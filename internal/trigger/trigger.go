// Package trigger persists the single pending call trigger and the stopping
// marker in a [kv.Store].
//
// The trigger is the epoch-millisecond time a call is due, stored as a
// decimal string under [TriggerKey]. [Store.PollDue] consumes it exactly
// once: when the backing store implements [kv.CompareAndDeleter] the read
// value is deleted only if it is still current, so pollers in different
// processes cannot both fire it. Within one process a semaphore makes
// concurrent PollDue calls single-flight; a poll that finds another one in
// progress reports not due instead of waiting.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/ringer/pkg/kv"
)

// Persisted keys.
const (
	TriggerKey  = "call_trigger_time"
	StoppingKey = "call_stopping"
)

// ErrInvalidDelay is returned by [Store.Schedule] for negative delays.
var ErrInvalidDelay = errors.New("trigger: delay must not be negative")

// Store reads and writes the call trigger. Safe for concurrent use.
type Store struct {
	kv  kv.Store
	clk clock.Clock
	sem *semaphore.Weighted
}

// New returns a Store over s. A nil clk means the wall clock.
func New(s kv.Store, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{kv: s, clk: clk, sem: semaphore.NewWeighted(1)}
}

// Schedule persists a trigger due delay from now, replacing any pending one.
// Sub-millisecond precision is dropped.
func (s *Store) Schedule(ctx context.Context, delay time.Duration) (time.Time, error) {
	if delay < 0 {
		return time.Time{}, ErrInvalidDelay
	}
	due := s.clk.Now().Add(delay)
	ms := due.UnixMilli()
	if err := s.kv.Set(ctx, TriggerKey, strconv.FormatInt(ms, 10)); err != nil {
		return time.Time{}, fmt.Errorf("trigger: schedule: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// Pending returns the due time of the pending trigger. ok is false when no
// trigger is stored.
func (s *Store) Pending(ctx context.Context) (due time.Time, ok bool, err error) {
	raw, err := s.kv.Get(ctx, TriggerKey)
	if errors.Is(err, kv.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("trigger: read: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("trigger: parse %q: %w", raw, err)
	}
	return time.UnixMilli(ms), true, nil
}

// PollDue reports whether the pending trigger is due and, if so, removes it.
// It returns true at most once per scheduled trigger.
//
// A stored value that is not a valid timestamp is removed and reported as not
// due.
func (s *Store) PollDue(ctx context.Context) (bool, error) {
	if !s.sem.TryAcquire(1) {
		slog.Debug("trigger: poll already in progress, skipping")
		return false, nil
	}
	defer s.sem.Release(1)

	raw, err := s.kv.Get(ctx, TriggerKey)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("trigger: read: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("trigger: discarding malformed trigger", "value", raw, "err", err)
		if _, derr := s.consume(ctx, raw); derr != nil {
			return false, errors.Join(fmt.Errorf("trigger: parse %q: %w", raw, err), derr)
		}
		return false, nil
	}
	if s.clk.Now().UnixMilli() < ms {
		return false, nil
	}
	return s.consume(ctx, raw)
}

// consume deletes the trigger if it still holds raw.
func (s *Store) consume(ctx context.Context, raw string) (bool, error) {
	if cad, ok := s.kv.(kv.CompareAndDeleter); ok {
		deleted, err := cad.CompareAndDelete(ctx, TriggerKey, raw)
		if err != nil {
			return false, fmt.Errorf("trigger: consume: %w", err)
		}
		return deleted, nil
	}
	if err := s.kv.Delete(ctx, TriggerKey); err != nil {
		return false, fmt.Errorf("trigger: consume: %w", err)
	}
	return true, nil
}

// Cancel removes the pending trigger unconditionally.
func (s *Store) Cancel(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TriggerKey); err != nil {
		return fmt.Errorf("trigger: cancel: %w", err)
	}
	return nil
}

// MarkStopping records that a stop is in progress.
func (s *Store) MarkStopping(ctx context.Context) error {
	if err := s.kv.Set(ctx, StoppingKey, strconv.FormatInt(s.clk.Now().UnixMilli(), 10)); err != nil {
		return fmt.Errorf("trigger: mark stopping: %w", err)
	}
	return nil
}

// Stopping reports whether the stopping marker is present.
func (s *Store) Stopping(ctx context.Context) (bool, error) {
	_, err := s.kv.Get(ctx, StoppingKey)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("trigger: read stopping marker: %w", err)
	}
	return true, nil
}

// ClearStopping removes the stopping marker.
func (s *Store) ClearStopping(ctx context.Context) error {
	if err := s.kv.Delete(ctx, StoppingKey); err != nil {
		return fmt.Errorf("trigger: clear stopping marker: %w", err)
	}
	return nil
}

// Clear removes both the trigger and the stopping marker.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TriggerKey, StoppingKey); err != nil {
		return fmt.Errorf("trigger: clear: %w", err)
	}
	return nil
}
