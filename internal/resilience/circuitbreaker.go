// Package resilience provides the ordered fallback primitives behind the
// tiered tone playback.
//
// [TierGroup] tries an ordered list of strategies and returns the first
// success. Each tier has its own [CircuitBreaker], so a tier that keeps
// failing to initialise is skipped on later calls until its reset timeout has
// passed.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen

	// StateHalfOpen lets a single trial call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults. A tier that fails three starts in a row sits out for
// about one call length.
const (
	DefaultMaxFailures  = 3
	DefaultResetTimeout = 10 * time.Second
)

// CircuitBreakerConfig configures a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines, usually the tier name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default [DefaultMaxFailures].
	MaxFailures int

	// ResetTimeout is how long an open breaker rejects calls before it lets a
	// trial call through. Default [DefaultResetTimeout].
	ResetTimeout time.Duration

	// Clock measures the reset timeout. Default: the wall clock.
	Clock clock.Clock
}

// CircuitBreaker counts consecutive failures of one tier.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the breaker rejects it, in which case it returns
// [ErrCircuitOpen] without calling fn. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.acquire() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

// acquire decides whether a call may proceed. Moving from open to half-open
// hands the single trial slot to the caller.
func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		if cb.cfg.Clock.Since(cb.openedAt) < cb.cfg.ResetTimeout {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probing = false
		if ok {
			cb.failures = 0
			cb.setState(StateClosed)
		} else {
			cb.trip()
		}
		return
	}
	if ok {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures {
		cb.trip()
	}
}

// trip opens the breaker. Callers hold mu.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.cfg.Clock.Now()
	cb.setState(StateOpen)
}

// setState logs transitions. Callers hold mu.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	slog.Debug("circuit breaker state change", "tier", cb.cfg.Name, "from", cb.state, "to", s, "failures", cb.failures)
	cb.state = s
}

// State returns the breaker's state. An open breaker whose reset timeout has
// passed reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Clock.Since(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.setState(StateClosed)
}
