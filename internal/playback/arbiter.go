package playback

import (
	"context"
	"log/slog"
	"sync"
)

// Priority orders sessions competing for the audio output.
type Priority int

const (
	// PriorityAmbient is used for transition chimes.
	PriorityAmbient Priority = iota

	// PriorityCall is used for the ringing call. It preempts ambient sessions.
	PriorityCall
)

// Arbiter grants the audio output to one session at a time. A session with
// a higher priority preempts the holder; a session with a lower priority is
// refused with [ErrPreempted].
//
// The arbiter never holds its own lock while calling into a session, so
// sessions may call [Arbiter.Release] from their teardown.
type Arbiter struct {
	mu     sync.Mutex
	holder *Session
}

// NewArbiter returns an arbiter with no holder.
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// acquire makes s the holder. A lower-priority holder is stopped after the
// switch; an equal or higher-priority holder other than s causes
// [ErrPreempted].
func (a *Arbiter) acquire(ctx context.Context, s *Session) error {
	a.mu.Lock()
	prev := a.holder
	if prev != nil && prev != s && prev.priority >= s.priority {
		a.mu.Unlock()
		return ErrPreempted
	}
	a.holder = s
	a.mu.Unlock()

	if prev != nil && prev != s {
		slog.Debug("playback: preempting session", "holder", prev.name, "by", s.name)
		if err := prev.Stop(ctx); err != nil {
			slog.Warn("playback: failed to stop preempted session", "session", prev.name, "err", err)
		}
	}
	return nil
}

// Release drops s as the holder. It is a no-op if s does not hold the output.
func (a *Arbiter) Release(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == s {
		a.holder = nil
	}
}

// Holder returns the name of the current holder, or "" if the output is free.
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == nil {
		return ""
	}
	return a.holder.name
}
