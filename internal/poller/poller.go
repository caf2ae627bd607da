// Package poller checks whether the persisted call trigger is due and, if so,
// hands over to the call controller.
//
// A [Poller] runs from two sources: its own internal timer ([Poller.Start])
// and the host's background-execution facility ([Poller.Register]). Host
// registration is best effort. When the host refuses it, the poller keeps
// working from the internal timer and from explicit [Poller.RunOnce] calls,
// but it cannot fire while the host process is suspended. [Poller.Degraded]
// reports that state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/ringer/internal/observe"
	"github.com/MrWong99/ringer/internal/playback"
)

// TaskName is the name the poller registers with a [HostScheduler].
const TaskName = "ringer-background-call-check"

// DefaultHostMinInterval is the minimum interval requested from the host.
const DefaultHostMinInterval = 15 * time.Second

// Result is the outcome of one poll.
type Result struct {
	// Fired is true when a due trigger was consumed and the call started.
	Fired bool
}

// Due reports whether the pending trigger is due, consuming it if so.
type Due interface {
	PollDue(ctx context.Context) (bool, error)
}

// Engine is the part of the call controller the poller drives.
type Engine interface {
	TriggerCall(ctx context.Context) error
	IsCallStopping() bool
}

// HostScheduler is the host's background-execution facility. The host calls
// run at most once per minInterval while the application is backgrounded.
type HostScheduler interface {
	RegisterBackgroundTask(name string, minInterval time.Duration, run func(ctx context.Context) Result) error
	UnregisterBackgroundTask(name string) error
}

// Config configures a [Poller].
type Config struct {
	// Due is the trigger store. Required.
	Due Due

	// Engine starts the call. Required.
	Engine Engine

	// Interval of the internal timer. Default 1s.
	Interval time.Duration

	// HostMinInterval is requested from the host scheduler. Default 15s.
	HostMinInterval time.Duration

	// Clock drives the internal timer. Default the wall clock.
	Clock clock.Clock

	// Metrics records poll results. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Poller is safe for concurrent use.
type Poller struct {
	due             Due
	engine          Engine
	interval        time.Duration
	hostMinInterval time.Duration
	clk             clock.Clock
	metrics         *observe.Metrics

	mu       sync.Mutex
	task     *playback.Task
	host     HostScheduler
	degraded bool
}

// New validates cfg and returns a stopped poller.
func New(cfg Config) (*Poller, error) {
	if cfg.Due == nil || cfg.Engine == nil {
		return nil, errors.New("poller: trigger store and engine are required")
	}
	p := &Poller{
		due:             cfg.Due,
		engine:          cfg.Engine,
		interval:        cfg.Interval,
		hostMinInterval: cfg.HostMinInterval,
		clk:             cfg.Clock,
		metrics:         cfg.Metrics,
	}
	if p.interval <= 0 {
		p.interval = time.Second
	}
	if p.hostMinInterval <= 0 {
		p.hostMinInterval = DefaultHostMinInterval
	}
	if p.clk == nil {
		p.clk = clock.New()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// RunOnce checks the trigger once. It never panics; internal failures are
// logged and reported as not fired.
func (p *Poller) RunOnce(ctx context.Context) (res Result) {
	result := "idle"
	defer func() {
		if r := recover(); r != nil {
			slog.Error("poller: run panicked", "panic", r, "stack", string(debug.Stack()))
			res, result = Result{}, "error"
		}
		p.metrics.RecordPoll(ctx, result)
	}()

	if p.engine.IsCallStopping() {
		slog.Debug("poller: stop in progress, skipping")
		result = "skipped"
		return Result{}
	}
	due, err := p.due.PollDue(ctx)
	if err != nil {
		slog.Warn("poller: could not read trigger", "err", err)
		result = "error"
		return Result{}
	}
	if !due {
		return Result{}
	}

	slog.Info("poller: trigger due, starting call")
	if err := p.engine.TriggerCall(ctx); err != nil {
		slog.Error("poller: call did not start", "err", err)
		result = "error"
		return Result{}
	}
	result = "fired"
	return Result{Fired: true}
}

// Start runs RunOnce on the internal timer until ctx ends or Stop is called.
// Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.task.Stopped() {
		return
	}
	p.task = playback.Every(ctx, p.clk, "poller", p.interval, func(ctx context.Context) {
		p.RunOnce(ctx)
	})
	slog.Debug("poller: internal timer started", "interval", p.interval)
}

// Stop ends the internal timer and unregisters from the host scheduler.
func (p *Poller) Stop() error {
	p.mu.Lock()
	task, host := p.task, p.host
	p.task, p.host = nil, nil
	p.mu.Unlock()

	task.Stop()
	if host == nil {
		return nil
	}
	if err := host.UnregisterBackgroundTask(TaskName); err != nil {
		return fmt.Errorf("poller: unregister: %w", err)
	}
	return nil
}

// Register asks host to invoke the poller in the background. A refusal is
// logged and leaves the poller in degraded mode; it is returned for callers
// that want to surface it, but the poller stays usable.
func (p *Poller) Register(host HostScheduler) error {
	err := host.RegisterBackgroundTask(TaskName, p.hostMinInterval, p.RunOnce)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.degraded = true
		slog.Warn("poller: background registration unavailable, calls only fire while the internal timer runs",
			"err", err)
		return fmt.Errorf("poller: register: %w", err)
	}
	p.host = host
	p.degraded = false
	slog.Info("poller: registered with host scheduler", "min_interval", p.hostMinInterval)
	return nil
}

// Degraded reports whether the last host registration attempt failed.
func (p *Poller) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}
