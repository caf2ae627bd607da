// Package guard implements the stopping guard: a timed window during which
// resume attempts are refused after a stop has been requested.
//
// A stop path calls [Guard.Arm] before it touches any audio or storage. Every
// keep-alive tick and trigger attempt checks [Guard.Active] under the same
// mutex, so a tick that was already in flight when the stop began observes
// the guard and declines to resume.
//
// Arming extends the window to max(current deadline, now+window); a later
// short stop never shortens a longer window armed by a force stop. While a
// teardown holds a [Release] the guard stays active regardless of the
// deadline.
package guard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Guard windows for the different stop paths.
const (
	StopWindow    = time.Second
	ForceWindow   = 3 * time.Second
	DisableWindow = 5 * time.Second
)

// Release ends a teardown started with [Guard.Arm]. It is safe to call more
// than once.
type Release func()

// Guard is safe for concurrent use. Use [New] to construct one.
type Guard struct {
	clk clock.Clock

	mu         sync.Mutex
	armedUntil time.Time
	teardowns  int
	timer      *clock.Timer
	gen        uint64
	onClear    func()
}

// Option configures a [Guard].
type Option func(*Guard)

// WithClock sets the clock the guard measures windows with.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clk = c }
}

// WithOnClear registers fn to run once the guard becomes inactive: when the
// window lapses, or when the last teardown is released after it lapsed.
func WithOnClear(fn func()) Option {
	return func(g *Guard) { g.onClear = fn }
}

// New returns an inactive guard.
func New(opts ...Option) *Guard {
	g := &Guard{}
	for _, o := range opts {
		o(g)
	}
	if g.clk == nil {
		g.clk = clock.New()
	}
	return g
}

// Arm activates the guard for at least window from now and marks a teardown
// in progress until the returned [Release] is called. The window is measured
// from the moment of the call, not from the release.
func (g *Guard) Arm(window time.Duration) Release {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()
	if until := now.Add(window); until.After(g.armedUntil) {
		g.armedUntil = until
		g.resetTimerLocked(window)
	}
	g.teardowns++

	var once sync.Once
	return func() {
		once.Do(g.release)
	}
}

// Active reports whether a stop window is open or a teardown is running.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeLocked()
}

// Until returns the current deadline. The zero time means never armed.
func (g *Guard) Until() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armedUntil
}

// Do runs fn while holding the guard's lock if the guard is inactive, and
// reports whether fn ran. A concurrent Arm blocks until fn returns, so fn
// sees a consistent "not stopping" view for its whole duration. fn must not
// call back into the guard.
func (g *Guard) Do(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeLocked() {
		return false
	}
	fn()
	return true
}

// Stop cancels the pending clear timer. The guard's state is kept.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Guard) release() {
	g.mu.Lock()
	g.teardowns--
	cleared := g.timer == nil && !g.activeLocked()
	fn := g.onClear
	g.mu.Unlock()

	if cleared && fn != nil {
		fn()
	}
}

func (g *Guard) activeLocked() bool {
	return g.teardowns > 0 || g.clk.Now().Before(g.armedUntil)
}

// resetTimerLocked (re)schedules the clear notification. Callers hold g.mu.
func (g *Guard) resetTimerLocked(d time.Duration) {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.gen++
	gen := g.gen
	g.timer = g.clk.AfterFunc(d, func() { g.expire(gen) })
}

func (g *Guard) expire(gen uint64) {
	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	active := g.activeLocked()
	fn := g.onClear
	g.mu.Unlock()

	if active {
		return
	}
	slog.Debug("guard: stop window cleared")
	if fn != nil {
		fn()
	}
}
