// Package phase models the host application's visibility state and a
// subscription interface for its changes.
//
// The host reports its phase (for example over the host bridge websocket).
// Engine components subscribe through [Source] and keep their own last-seen
// copy to detect edges.
package phase

import (
	"fmt"
	"strings"
	"sync"
)

// Phase is the host application's visibility state.
type Phase int

const (
	// Active means the application is in the foreground.
	Active Phase = iota

	// Inactive means the application is visible but not receiving input
	// (e.g. a system dialog is shown over it).
	Inactive

	// Background means the application is not visible.
	Background
)

// String implements [fmt.Stringer].
func (p Phase) String() string {
	switch p {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Foreground reports whether p is [Active].
func (p Phase) Foreground() bool { return p == Active }

// Parse converts a host phase name into a [Phase]. It is case-insensitive.
func Parse(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return Active, nil
	case "inactive":
		return Inactive, nil
	case "background":
		return Background, nil
	default:
		return Active, fmt.Errorf("phase: unknown phase %q", s)
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (p Phase) MarshalText() ([]byte, error) {
	if p < Active || p > Background {
		return nil, fmt.Errorf("phase: cannot marshal %s", p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (p *Phase) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Source delivers phase changes to subscribers. The returned function
// removes the handler; it is safe to call more than once.
type Source interface {
	OnPhaseChange(handler func(Phase)) (unsubscribe func())
}

// Broadcaster is a [Source] fed by [Broadcaster.Set]. Handlers run
// synchronously on the goroutine calling Set, in subscription order, and only
// when the phase actually changes.
//
// All methods are safe for concurrent use.
type Broadcaster struct {
	mu       sync.Mutex
	current  Phase
	nextID   uint64
	handlers []subscriber
}

type subscriber struct {
	id uint64
	fn func(Phase)
}

var _ Source = (*Broadcaster)(nil)

// NewBroadcaster returns a Broadcaster whose current phase is initial.
func NewBroadcaster(initial Phase) *Broadcaster {
	return &Broadcaster{current: initial}
}

// OnPhaseChange implements [Source].
func (b *Broadcaster) OnPhaseChange(handler func(Phase)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscriber{id: id, fn: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Set records p as the current phase and notifies subscribers if it differs
// from the previous one. It returns the previous phase.
func (b *Broadcaster) Set(p Phase) (prev Phase) {
	b.mu.Lock()
	prev = b.current
	if prev == p {
		b.mu.Unlock()
		return prev
	}
	b.current = p
	subs := make([]subscriber, len(b.handlers))
	copy(subs, b.handlers)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(p)
	}
	return prev
}

// Current returns the last phase passed to Set.
func (b *Broadcaster) Current() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribers returns the number of registered handlers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}
