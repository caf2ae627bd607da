// Package playback owns live audio handles for synthesised tones.
//
// A [Session] starts a tone by walking an ordered list of [Tier] strategies
// and keeping the first one that renders, loads and plays. While a session is
// active, a keep-alive loop calls [Session.Poll] to resume a handle that the
// host silently paused. Polls and starts run through the session's
// [guard.Guard], so nothing resumes or starts while a stop window is open.
//
// Sessions that share an [Arbiter] never hold the audio output at the same
// time: a call session preempts an ambient one.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/ringer/internal/guard"
	"github.com/MrWong99/ringer/internal/observe"
	"github.com/MrWong99/ringer/internal/resilience"
	"github.com/MrWong99/ringer/pkg/audio"
)

var (
	// ErrAllTiersFailed is returned by [Session.Start] when no tier could be
	// started. It is always accompanied by [resilience.ErrAllFailed].
	ErrAllTiersFailed = errors.New("playback: all tone tiers failed")

	// ErrPreempted is returned by [Session.Start] when a session of equal or
	// higher priority holds the audio output.
	ErrPreempted = errors.New("playback: audio output held by another session")

	// ErrGuarded is returned by [Session.Start] while the session's stop guard
	// is active.
	ErrGuarded = errors.New("playback: stop in progress")
)

// Config configures a [Session].
type Config struct {
	// Name identifies the session in logs and metrics (e.g. "call").
	Name string

	// Backend creates audio handles. Required.
	Backend audio.Backend

	// Tiers are tried in order by Start. At least one is required.
	Tiers []Tier

	// Guard, if set, gates Start and Poll.
	Guard *guard.Guard

	// Arbiter, if set, is shared with the other sessions of the engine.
	Arbiter *Arbiter

	// Priority of this session on the Arbiter.
	Priority Priority

	// Metrics records tier failures. Nil disables recording.
	Metrics *observe.Metrics

	// Breaker is the circuit breaker template applied per tier.
	Breaker resilience.CircuitBreakerConfig
}

// Session owns at most one live audio handle. All methods are safe for
// concurrent use.
type Session struct {
	name     string
	backend  audio.Backend
	tiers    *resilience.TierGroup[Tier]
	guard    *guard.Guard
	arbiter  *Arbiter
	priority Priority
	metrics  *observe.Metrics

	mu     sync.Mutex
	handle audio.Handle
	tier   string
}

// NewSession validates cfg and returns an idle session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Backend == nil {
		return nil, errors.New("playback: backend is required")
	}
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("playback: at least one tier is required")
	}
	s := &Session{
		name:     cfg.Name,
		backend:  cfg.Backend,
		guard:    cfg.Guard,
		arbiter:  cfg.Arbiter,
		priority: cfg.Priority,
		metrics:  cfg.Metrics,
	}
	s.tiers = resilience.NewTierGroup[Tier](resilience.TierConfig{
		CircuitBreaker: cfg.Breaker,
		OnFailure: func(tier string, err error) {
			if s.metrics != nil {
				s.metrics.RecordTierFailure(context.Background(), tier)
			}
		},
	})
	for _, t := range cfg.Tiers {
		s.tiers.Add(t.Name, t)
	}
	return s, nil
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Start tears down any handle the session holds and starts a new tone,
// returning the name of the tier that succeeded. It fails with [ErrGuarded]
// while the stop guard is active, with [ErrPreempted] if the output is held
// by a session it may not preempt, and with [ErrAllTiersFailed] if no tier
// worked.
func (s *Session) Start(ctx context.Context, looping bool) (string, error) {
	var (
		tier string
		err  error
	)
	run := func() { tier, err = s.start(ctx, looping) }
	if s.guard == nil {
		run()
	} else if !s.guard.Do(run) {
		return "", ErrGuarded
	}
	return tier, err
}

func (s *Session) start(ctx context.Context, looping bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		if err := s.teardownLocked(ctx); err != nil {
			slog.Warn("playback: failed to tear down previous handle", "session", s.name, "err", err)
		}
	}
	if s.arbiter != nil {
		if err := s.arbiter.acquire(ctx, s); err != nil {
			return "", err
		}
	}

	h, tier, err := resilience.FirstSuccess(ctx, s.tiers, func(ctx context.Context, t Tier) (audio.Handle, error) {
		return s.tryTier(ctx, t, looping)
	})
	if err != nil {
		if s.arbiter != nil {
			s.arbiter.Release(s)
		}
		return "", fmt.Errorf("%w: %w", ErrAllTiersFailed, err)
	}
	s.handle = h
	s.tier = tier
	slog.Debug("playback: started", "session", s.name, "tier", tier, "looping", looping)
	return tier, nil
}

// tryTier renders, loads and plays one tier. A handle that loads but fails
// to play is unloaded before the error is returned.
func (s *Session) tryTier(ctx context.Context, t Tier, looping bool) (audio.Handle, error) {
	data, err := t.render()
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	h, err := s.backend.Load(ctx, data, audio.LoadOptions{
		Looping: looping,
		Volume:  t.Volume,
		Label:   t.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if err := h.Play(ctx); err != nil {
		if uerr := h.Unload(ctx); uerr != nil {
			slog.Debug("playback: unload after failed play", "tier", t.Name, "err", uerr)
		}
		return nil, fmt.Errorf("play: %w", err)
	}
	return h, nil
}

// Poll resumes the handle if the host paused it and reports whether it did.
// It does nothing while the stop guard is active, when no handle is held, or
// when a non-looping tone has finished. Callers record resume metrics.
func (s *Session) Poll(ctx context.Context) (bool, error) {
	var (
		resumed bool
		err     error
	)
	run := func() { resumed, err = s.resume(ctx) }
	if s.guard == nil {
		run()
	} else if !s.guard.Do(run) {
		return false, nil
	}
	return resumed, err
}

func (s *Session) resume(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return false, nil
	}
	st, err := s.handle.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("playback: %s: status: %w", s.name, err)
	}
	if !st.Paused() {
		return false, nil
	}
	if err := s.handle.Play(ctx); err != nil {
		return false, fmt.Errorf("playback: %s: resume: %w", s.name, err)
	}
	slog.Info("playback: resumed paused handle", "session", s.name, "tier", s.tier)
	return true, nil
}

// Stop stops and unloads the handle. Every step runs even if an earlier one
// fails; the errors are joined. Stopping an idle session is a no-op.
//
// If a step fails and the handle still reports playing, the session keeps
// it so that [Session.IsActive] stays truthful and a later Stop can retry.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardownLocked(ctx)
}

func (s *Session) teardownLocked(ctx context.Context) error {
	h := s.handle
	if h == nil {
		return nil
	}

	var errs []error
	if err := h.Stop(ctx); err != nil && !errors.Is(err, audio.ErrUnloaded) {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := h.Unload(ctx); err != nil && !errors.Is(err, audio.ErrUnloaded) {
		errs = append(errs, fmt.Errorf("unload: %w", err))
	}
	if len(errs) > 0 {
		if st, err := h.Status(ctx); err == nil && st.Playing {
			return fmt.Errorf("playback: %s: handle still playing: %w", s.name, errors.Join(errs...))
		}
	}

	s.handle = nil
	s.tier = ""
	if s.arbiter != nil {
		s.arbiter.Release(s)
	}
	if len(errs) > 0 {
		return fmt.Errorf("playback: %s: %w", s.name, errors.Join(errs...))
	}
	return nil
}

// IsActive reports whether the held handle is playing. A failed status query
// counts as not playing.
func (s *Session) IsActive(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return false
	}
	st, err := s.handle.Status(ctx)
	if err != nil {
		slog.Debug("playback: status query failed", "session", s.name, "err", err)
		return false
	}
	return st.Playing
}

// Held reports whether the session holds a handle, playing or not.
func (s *Session) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Tier returns the name of the tier currently held, or "".
func (s *Session) Tier() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}
