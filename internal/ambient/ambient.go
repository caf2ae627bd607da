// Package ambient plays short transition tones when the host application
// moves between foreground and background.
//
// The notifier is the lower-priority audio user of the engine. Before acting
// on an edge it asks the call controller whether a call is ringing or
// stopping and, if so, does nothing. Its sessions share the controller's
// stopping guard and audio arbiter, so a call that starts while a chime is
// playing preempts the chime.
package ambient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/ringer/internal/guard"
	"github.com/MrWong99/ringer/internal/observe"
	"github.com/MrWong99/ringer/internal/phase"
	"github.com/MrWong99/ringer/internal/playback"
	"github.com/MrWong99/ringer/pkg/audio"
	"github.com/MrWong99/ringer/pkg/notify"
	"github.com/MrWong99/ringer/pkg/tone"
)

// Tone kinds. The edge kinds double as the direction label in metrics.
const (
	KindForeground = "foreground"
	KindBackground = "background"
	KindTest       = "test"
)

// Volume is the playback volume of the transition tones.
const Volume = 0.7

// Fallback tone used when a kind's own tone cannot start.
var (
	fallbackTone   = Tone{Frequency: 500, Duration: 300 * time.Millisecond}
	fallbackVolume = 0.5
)

// Tone is a transition tone's pitch and length.
type Tone struct {
	Frequency float64
	Duration  time.Duration
}

func (t Tone) orDefault(def Tone) Tone {
	if t.Frequency <= 0 {
		t.Frequency = def.Frequency
	}
	if t.Duration <= 0 {
		t.Duration = def.Duration
	}
	return t
}

// CallState is the part of the call controller the notifier defers to.
type CallState interface {
	IsCallActive(ctx context.Context) bool
	IsCallStopping() bool
}

// Config configures a [Notifier].
type Config struct {
	// Backend plays the tones. Required.
	Backend audio.Backend

	// Calls is consulted before every edge. Required.
	Calls CallState

	// Guard is the controller's stopping guard. Optional.
	Guard *guard.Guard

	// Arbiter is shared with the call session. Optional.
	Arbiter *playback.Arbiter

	// Notifier receives the transition notifications. Optional.
	Notifier notify.Channel

	// Phases delivers host phase changes. Optional.
	Phases phase.Source

	// Initial is the phase assumed before the first change. Default Active.
	Initial phase.Phase

	// Foreground defaults to 800Hz for 500ms.
	Foreground Tone

	// Background defaults to 400Hz for 800ms.
	Background Tone

	// Test defaults to 600Hz for 600ms.
	Test Tone

	// Disabled turns edge handling off. TriggerTestTone still works.
	Disabled bool

	// Metrics records tone outcomes. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Notifier is safe for concurrent use.
type Notifier struct {
	calls    CallState
	notifier notify.Channel
	metrics  *observe.Metrics
	sessions map[string]*playback.Session

	// playMu serialises stop-then-start so two edges never overlap.
	playMu sync.Mutex

	mu          sync.Mutex
	last        phase.Phase
	enabled     bool
	unsubscribe func()
}

// New builds a notifier and subscribes it to cfg.Phases.
func New(cfg Config) (*Notifier, error) {
	if cfg.Backend == nil {
		return nil, errors.New("ambient: audio backend is required")
	}
	if cfg.Calls == nil {
		return nil, errors.New("ambient: call state is required")
	}
	n := &Notifier{
		calls:    cfg.Calls,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		sessions: make(map[string]*playback.Session, 3),
		last:     cfg.Initial,
		enabled:  !cfg.Disabled,
	}
	if n.metrics == nil {
		n.metrics = observe.DefaultMetrics()
	}

	tones := map[string]Tone{
		KindForeground: cfg.Foreground.orDefault(Tone{Frequency: 800, Duration: 500 * time.Millisecond}),
		KindBackground: cfg.Background.orDefault(Tone{Frequency: 400, Duration: 800 * time.Millisecond}),
		KindTest:       cfg.Test.orDefault(Tone{Frequency: 600, Duration: 600 * time.Millisecond}),
	}
	for kind, t := range tones {
		s, err := playback.NewSession(playback.Config{
			Name:    "ambient-" + kind,
			Backend: cfg.Backend,
			Tiers: []playback.Tier{
				{Name: kind, Spec: tone.Short(t.Frequency, t.Duration), Volume: Volume},
				{Name: kind + "-fallback", Spec: tone.Short(fallbackTone.Frequency, fallbackTone.Duration), Volume: fallbackVolume},
			},
			Guard:    cfg.Guard,
			Arbiter:  cfg.Arbiter,
			Priority: playback.PriorityAmbient,
			Metrics:  n.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("ambient: %w", err)
		}
		n.sessions[kind] = s
	}

	if cfg.Phases != nil {
		n.unsubscribe = cfg.Phases.OnPhaseChange(n.onPhaseChange)
	}
	return n, nil
}

// SetEnabled turns edge handling on or off.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Enabled reports whether edge handling is on.
func (n *Notifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

func (n *Notifier) onPhaseChange(p phase.Phase) {
	n.mu.Lock()
	prev := n.last
	n.last = p
	enabled := n.enabled
	n.mu.Unlock()

	var kind string
	switch {
	case !prev.Foreground() && p.Foreground():
		kind = KindForeground
	case prev.Foreground() && !p.Foreground():
		kind = KindBackground
	default:
		return
	}
	if !enabled {
		slog.Debug("ambient: disabled, ignoring edge", "from", prev, "to", p)
		return
	}
	if err := n.HandleEdge(context.Background(), kind); err != nil {
		slog.Debug("ambient: edge not played", "kind", kind, "err", err)
	}
}

// ErrDeferred is returned by [Notifier.HandleEdge] when a call is ringing or
// stopping.
var ErrDeferred = errors.New("ambient: call ringing or stopping")

// HandleEdge plays the tone for kind and posts its notification, unless a
// call is ringing or stopping. A tone that fails to play does not suppress
// the notification; its error is returned after the notification is sent.
func (n *Notifier) HandleEdge(ctx context.Context, kind string) error {
	if n.calls.IsCallStopping() || n.calls.IsCallActive(ctx) {
		slog.Info("ambient: call ringing or stopping, skipping transition tone", "kind", kind)
		n.metrics.RecordAmbient(ctx, kind, "deferred")
		return ErrDeferred
	}
	playErr := n.play(ctx, kind)
	if errors.Is(playErr, ErrDeferred) {
		return playErr
	}
	switch kind {
	case KindForeground:
		n.notify(ctx, "App Active", "Welcome back! App is now in foreground.")
	case KindBackground:
		n.notify(ctx, "App Background", "App is now running in background.")
	}
	return playErr
}

// TriggerTestTone plays the test tone. It defers to a call like an edge does.
func (n *Notifier) TriggerTestTone(ctx context.Context) error {
	return n.HandleEdge(ctx, KindTest)
}

// play stops whatever ambient tone is playing and starts kind's tone.
func (n *Notifier) play(ctx context.Context, kind string) error {
	s, ok := n.sessions[kind]
	if !ok {
		return fmt.Errorf("ambient: unknown tone %q", kind)
	}
	n.playMu.Lock()
	defer n.playMu.Unlock()

	if err := n.StopSound(ctx); err != nil {
		slog.Warn("ambient: failed to stop previous tone", "err", err)
	}

	tier, err := s.Start(ctx, false)
	switch {
	case errors.Is(err, playback.ErrGuarded), errors.Is(err, playback.ErrPreempted):
		n.metrics.RecordAmbient(ctx, kind, "deferred")
		return fmt.Errorf("%w: %w", ErrDeferred, err)
	case err != nil:
		slog.Warn("ambient: transition tone failed", "kind", kind, "err", err)
		n.metrics.RecordAmbient(ctx, kind, "failed")
		return err
	}
	slog.Debug("ambient: playing transition tone", "kind", kind, "tier", tier)
	n.metrics.RecordAmbient(ctx, kind, "played")
	return nil
}

// StopSound stops and unloads every ambient tone. Stopping when nothing plays
// is a no-op.
func (n *Notifier) StopSound(ctx context.Context) error {
	var errs []error
	for _, s := range n.sessions {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Playing reports whether any ambient tone is playing.
func (n *Notifier) Playing(ctx context.Context) bool {
	for _, s := range n.sessions {
		if s.IsActive(ctx) {
			return true
		}
	}
	return false
}

// Close unsubscribes from phase changes and stops any tone.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	unsub := n.unsubscribe
	n.unsubscribe = nil
	n.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return n.StopSound(ctx)
}

func (n *Notifier) notify(ctx context.Context, title, body string) {
	if n.notifier == nil {
		return
	}
	if err := n.notifier.Send(ctx, notify.New(notify.TypeAmbient, title, body, notify.SoundOn, notify.PriorityNormal)); err != nil {
		slog.Warn("ambient: notification failed", "title", title, "err", err)
		n.metrics.RecordNotifyError(ctx, notify.TypeAmbient)
	}
}
