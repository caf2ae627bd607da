// Package call implements the simulated incoming-call lifecycle:
// schedule, trigger, ring with self-healing playback, and the stop paths.
//
// State machine:
//
//	Idle → Scheduled → Ringing → Stopping → Idle
//
// Every stop path arms the stopping guard before it performs any I/O. Keep-alive
// ticks and trigger attempts run through the same guard, so a stop always wins
// over a resume that was already in flight. The guard stays armed for a grace
// window measured from the start of the stop, independent of the state
// transition back to Idle.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/ringer/internal/guard"
	"github.com/MrWong99/ringer/internal/observe"
	"github.com/MrWong99/ringer/internal/phase"
	"github.com/MrWong99/ringer/internal/playback"
	"github.com/MrWong99/ringer/internal/trigger"
	"github.com/MrWong99/ringer/pkg/audio"
	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/notify"
	"github.com/MrWong99/ringer/pkg/tone"
)

var (
	// ErrStopping is returned when a call cannot start because a stop window
	// is open.
	ErrStopping = errors.New("call: stop in progress")

	// ErrStillPlaying is returned by [Controller.StopCall] when the call
	// handle still reports playing after teardown.
	ErrStillPlaying = errors.New("call: call may still be playing")

	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("call: controller closed")
)

// Notification texts.
const (
	titleScheduled = "Call Scheduled"
	titleIncoming  = "Incoming Call"
	bodyIncoming   = "You have an incoming call!"
)

// AudioStopper is implemented by the ambient notifier. The force, disable
// and stop-all paths use it to silence ambient tones too.
type AudioStopper interface {
	StopSound(ctx context.Context) error
}

// Timing holds the controller's intervals and guard windows. Zero fields take
// the defaults shown.
type Timing struct {
	// CallDuration is how long a call rings before it stops itself. Default 10s.
	CallDuration time.Duration

	// CallKeepAlive is the resume check interval while ringing. Default 2s.
	CallKeepAlive time.Duration

	// BackgroundKeepAlive is the resume check interval while the host is
	// backgrounded. Default 1s.
	BackgroundKeepAlive time.Duration

	// StopWindow guards a plain stop. Default [guard.StopWindow].
	StopWindow time.Duration

	// ForceWindow guards the force and stop-all paths. Default [guard.ForceWindow].
	ForceWindow time.Duration

	// DisableWindow guards disable-all. Default [guard.DisableWindow].
	DisableWindow time.Duration
}

func (t *Timing) applyDefaults() {
	if t.CallDuration <= 0 {
		t.CallDuration = 10 * time.Second
	}
	if t.CallKeepAlive <= 0 {
		t.CallKeepAlive = 2 * time.Second
	}
	if t.BackgroundKeepAlive <= 0 {
		t.BackgroundKeepAlive = time.Second
	}
	if t.StopWindow <= 0 {
		t.StopWindow = guard.StopWindow
	}
	if t.ForceWindow <= 0 {
		t.ForceWindow = guard.ForceWindow
	}
	if t.DisableWindow <= 0 {
		t.DisableWindow = guard.DisableWindow
	}
}

func (t Timing) window(k windowKind) time.Duration {
	switch k {
	case windowForce:
		return t.ForceWindow
	case windowDisable:
		return t.DisableWindow
	default:
		return t.StopWindow
	}
}

// Config configures a [Controller].
type Config struct {
	// Store persists the trigger. Required.
	Store kv.Store

	// Backend plays the call tone. Required.
	Backend audio.Backend

	// Notifier receives the scheduled and incoming notifications. Optional.
	Notifier notify.Channel

	// Phases delivers host phase changes. Optional.
	Phases phase.Source

	// Arbiter is shared with the ambient notifier's session. Optional.
	Arbiter *playback.Arbiter

	// RingFrequency is the base frequency of the call tiers. Default 800Hz.
	RingFrequency float64

	// Tiers overrides the call tiers built from RingFrequency.
	Tiers []playback.Tier

	Timing Timing
}

// Option configures optional [Controller] dependencies.
type Option func(*Controller)

// WithClock sets the clock used for timers and trigger timestamps.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clk = c }
}

// WithMetrics sets the metrics recorder. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// Controller drives one simulated call at a time. All methods are safe for
// concurrent use.
type Controller struct {
	clk      clock.Clock
	metrics  *observe.Metrics
	timing   Timing
	triggers *trigger.Store
	notifier notify.Channel
	guard    *guard.Guard
	session  *playback.Session

	// ctx outlives individual requests; keep-alive tasks and the duration
	// timer run under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	callID      string
	rangAt      time.Time
	stopGen     uint64
	keepAlive   *playback.Task
	bgKeepAlive *playback.Task
	timer       *clock.Timer
	phase       phase.Phase
	ambient     AudioStopper
	unsubscribe func()
	closed      bool
}

// New builds a controller. The controller subscribes to cfg.Phases, if set,
// until [Controller.Close].
func New(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("call: store is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("call: audio backend is required")
	}
	c := &Controller{
		timing:   cfg.Timing,
		notifier: cfg.Notifier,
	}
	for _, o := range opts {
		o(c)
	}
	if c.clk == nil {
		c.clk = clock.New()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.timing.applyDefaults()

	tiers := cfg.Tiers
	if len(tiers) == 0 {
		freq := cfg.RingFrequency
		if freq <= 0 {
			freq = tone.RingFrequency
		}
		tiers = playback.CallTiers(freq)
	}

	c.guard = guard.New(guard.WithClock(c.clk), guard.WithOnClear(c.onStopWindowClosed))
	c.triggers = trigger.New(cfg.Store, c.clk)
	session, err := playback.NewSession(playback.Config{
		Name:     "call",
		Backend:  cfg.Backend,
		Tiers:    tiers,
		Guard:    c.guard,
		Arbiter:  cfg.Arbiter,
		Priority: playback.PriorityCall,
		Metrics:  c.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	c.session = session
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if cfg.Phases != nil {
		c.unsubscribe = cfg.Phases.OnPhaseChange(c.onPhaseChange)
	}
	return c, nil
}

// SetAmbient registers the ambient notifier silenced by the force, disable
// and stop-all paths.
func (c *Controller) SetAmbient(a AudioStopper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ambient = a
}

// Guard returns the stopping guard shared with the ambient notifier.
func (c *Controller) Guard() *guard.Guard { return c.guard }

// Triggers returns the trigger store.
func (c *Controller) Triggers() *trigger.Store { return c.triggers }

// ScheduleCall persists a trigger due after delay and posts the "scheduled"
// notification. A store failure is returned and leaves the state unchanged.
func (c *Controller) ScheduleCall(ctx context.Context, delay time.Duration) error {
	ctx, span := observe.StartSpan(ctx, observe.SpanSchedule, attribute.String("delay", delay.String()))
	defer span.End()

	if c.isClosed() {
		return ErrClosed
	}
	due, err := c.triggers.Schedule(ctx, delay)
	if err != nil {
		observe.Logger(ctx).Error("call: could not schedule", "delay", delay, "err", err)
		observe.Fail(span, err)
		return fmt.Errorf("call: schedule: %w", err)
	}

	c.mu.Lock()
	if c.state == Idle {
		c.state = Scheduled
	}
	c.mu.Unlock()

	c.metrics.CallsScheduled.Add(ctx, 1)
	observe.Logger(ctx).Info("call: scheduled", "delay", delay, "due", due)

	secs := strconv.FormatFloat(delay.Seconds(), 'f', -1, 64)
	c.notify(ctx, notify.New(notify.TypeCall, titleScheduled,
		"Incoming call in "+secs+" seconds", notify.SoundOn, notify.PriorityNormal))
	return nil
}

// TriggerTestCall starts ringing immediately, without a persisted trigger.
func (c *Controller) TriggerTestCall(ctx context.Context) error {
	slog.Info("call: test call requested")
	return c.TriggerCall(ctx)
}

// TriggerCall posts the incoming-call notification and starts the call tone.
// It fails with [ErrStopping] while a stop window is open. Triggering while
// already ringing restarts the tone and the duration timer.
func (c *Controller) TriggerCall(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, observe.SpanTrigger)
	defer span.End()

	if c.isClosed() {
		return ErrClosed
	}
	if c.guard.Active() {
		slog.Info("call: trigger ignored, stop in progress")
		return ErrStopping
	}

	c.mu.Lock()
	gen := c.stopGen
	c.mu.Unlock()

	c.notify(ctx, notify.New(notify.TypeCall, titleIncoming, bodyIncoming,
		notify.SoundDefault, notify.PriorityHigh))

	tier, err := c.session.Start(ctx, true)
	switch {
	case errors.Is(err, playback.ErrGuarded):
		return ErrStopping
	case err != nil:
		observe.Logger(ctx).Error("call: no tone tier could start", "err", err)
		observe.Fail(span, err)
		c.mu.Lock()
		if c.state == Scheduled {
			c.state = Idle
		}
		c.mu.Unlock()
		return fmt.Errorf("call: trigger: %w", err)
	}

	c.mu.Lock()
	if c.stopGen != gen || c.closed {
		// A stop began while the tone was starting; it wins.
		c.mu.Unlock()
		if err := c.session.Stop(ctx); err != nil {
			slog.Warn("call: failed to stop tone started during a stop", "err", err)
		}
		return ErrStopping
	}
	wasRinging := c.state == Ringing
	c.cancelTimersLocked()
	id := uuid.NewString()
	c.state = Ringing
	c.callID = id
	if !wasRinging {
		c.rangAt = c.clk.Now()
	}
	c.keepAlive = playback.Every(c.ctx, c.clk, "call-keepalive", c.timing.CallKeepAlive, c.keepAliveFunc("call"))
	if !c.phase.Foreground() {
		c.bgKeepAlive = playback.Every(c.ctx, c.clk, "background-keepalive", c.timing.BackgroundKeepAlive, c.keepAliveFunc("background"))
	}
	c.timer = c.clk.AfterFunc(c.timing.CallDuration, func() { c.expire(id) })
	c.mu.Unlock()

	if !wasRinging {
		c.metrics.RecordCallTriggered(ctx, tier)
	}
	span.SetAttributes(attribute.String("tier", tier), attribute.String("call_id", id))
	observe.Logger(ctx).Info("call: ringing", "call_id", id, "tier", tier)
	return nil
}

// StopCall stops the call. It returns [ErrStillPlaying] if the handle still
// plays afterwards; other failures are logged.
func (c *Controller) StopCall(ctx context.Context) error {
	return c.stop(ctx, kindStop)
}

// ForceStopCall tears the call down, tolerating every failure.
func (c *Controller) ForceStopCall(ctx context.Context) error {
	return c.stop(ctx, kindForce)
}

// ForceStopAnyAudio force-stops the call and the ambient tone.
func (c *Controller) ForceStopAnyAudio(ctx context.Context) error {
	return c.stop(ctx, kindForceAny)
}

// DisableAllAudio force-stops everything and holds the guard for the longest
// window.
func (c *Controller) DisableAllAudio(ctx context.Context) error {
	return c.stop(ctx, kindDisableAll)
}

// StopAllAudio stops the call and the ambient tone.
func (c *Controller) StopAllAudio(ctx context.Context) error {
	return c.stop(ctx, kindStopAll)
}

// IsCallActive reports whether the call tone is playing.
func (c *Controller) IsCallActive(ctx context.Context) bool {
	return c.session.IsActive(ctx)
}

// IsCallStopping reports whether a stop window is open.
func (c *Controller) IsCallStopping() bool {
	return c.guard.Active()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CallID returns the identifier of the ringing call, or "".
func (c *Controller) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// Tier returns the name of the tone tier the call is playing, or "".
func (c *Controller) Tier() string {
	return c.session.Tier()
}

// Close stops any call, unsubscribes from phase changes and cancels the
// controller's background work. Safe to call more than once.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	err := c.stop(ctx, kindClose)
	c.cancel()
	c.guard.Stop()
	if cerr := c.triggers.Clear(ctx); cerr != nil {
		slog.Warn("call: could not clear trigger state on close", "err", cerr)
	}
	return err
}

// onStopWindowClosed removes the stopping marker once the guard has lapsed,
// so the marker in the store spans the same window as [Controller.IsCallStopping].
func (c *Controller) onStopWindowClosed() {
	if c.guard.Active() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
	defer cancel()
	if err := c.triggers.ClearStopping(ctx); err != nil {
		slog.Warn("call: could not clear stopping marker", "err", err)
		return
	}
	slog.Debug("call: stop window closed")
}

// stop runs one stop path. The guard is armed before anything else happens.
func (c *Controller) stop(ctx context.Context, kind stopKind) error {
	release := c.guard.Arm(c.timing.window(kind.window))
	defer release()

	ctx, span := observe.StartSpan(ctx, observe.SpanStop, attribute.String("kind", kind.name))
	defer span.End()
	log := observe.Logger(ctx).With("kind", kind.name)

	c.mu.Lock()
	c.stopGen++
	var rang time.Duration
	if c.state == Ringing {
		rang = c.clk.Since(c.rangAt)
	}
	callID := c.callID
	c.state = Stopping
	c.callID = ""
	c.cancelTimersLocked()
	ambient := c.ambient
	c.mu.Unlock()

	var errs []error
	if err := c.triggers.MarkStopping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mark stopping: %w", err))
	}
	if err := c.session.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if kind.ambient && ambient != nil {
		if err := ambient.StopSound(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ambient: %w", err))
		}
	}
	if err := c.triggers.Cancel(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cancel trigger: %w", err))
	}

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()

	for _, err := range errs {
		log.Warn("call: teardown step failed", "call_id", callID, "err", err)
	}
	c.metrics.RecordCallStopped(ctx, kind.name, rang)
	if callID != "" {
		log.Info("call: stopped", "call_id", callID, "rang", rang)
	}

	if c.session.IsActive(ctx) {
		observe.Fail(span, ErrStillPlaying)
		if kind.forced() {
			log.Error("call: handle still playing after forced teardown", "call_id", callID)
			return nil
		}
		return ErrStillPlaying
	}
	return nil
}

// cancelTimersLocked stops both keep-alive tasks and the duration timer.
// Callers hold c.mu.
func (c *Controller) cancelTimersLocked() {
	c.keepAlive.Stop()
	c.keepAlive = nil
	c.bgKeepAlive.Stop()
	c.bgKeepAlive = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// expire is the duration timer callback for call id.
func (c *Controller) expire(id string) {
	c.mu.Lock()
	current := c.callID == id && c.state == Ringing
	c.mu.Unlock()
	if !current {
		return
	}
	slog.Info("call: duration elapsed, stopping", "call_id", id)
	if err := c.stop(c.ctx, kindTimeout); err != nil {
		slog.Warn("call: auto-stop incomplete", "call_id", id, "err", err)
	}
}

func (c *Controller) keepAliveFunc(loop string) func(context.Context) {
	return func(ctx context.Context) {
		c.resume(ctx, loop)
	}
}

// resume polls the call session once on behalf of loop.
func (c *Controller) resume(ctx context.Context, loop string) {
	resumed, err := c.session.Poll(ctx)
	if err != nil {
		slog.Warn("call: keep-alive check failed", "loop", loop, "err", err)
		return
	}
	if resumed {
		c.metrics.RecordResume(ctx, loop)
	}
}

// onPhaseChange starts the background keep-alive when the host leaves the
// foreground during a call and stops it when the host returns.
func (c *Controller) onPhaseChange(p phase.Phase) {
	c.mu.Lock()
	prev := c.phase
	c.phase = p
	ringing := c.state == Ringing

	if p.Foreground() {
		if c.bgKeepAlive != nil {
			slog.Debug("call: host in foreground, stopping background keep-alive")
		}
		c.bgKeepAlive.Stop()
		c.bgKeepAlive = nil
		c.mu.Unlock()
		return
	}
	start := ringing && c.bgKeepAlive == nil
	if start {
		c.bgKeepAlive = playback.Every(c.ctx, c.clk, "background-keepalive", c.timing.BackgroundKeepAlive, c.keepAliveFunc("background"))
	}
	c.mu.Unlock()

	if start && prev.Foreground() {
		slog.Info("call: host backgrounded while ringing, checking playback")
		c.resume(c.ctx, "background")
	}
}

func (c *Controller) notify(ctx context.Context, n notify.Notification) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(ctx, n); err != nil {
		slog.Warn("call: notification failed", "title", n.Title, "err", err)
		c.metrics.RecordNotifyError(ctx, n.Type())
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
