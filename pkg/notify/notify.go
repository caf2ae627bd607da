// Package notify defines the one-shot alert channel the engine reports call
// and app-phase events through.
//
// Delivery is best effort. The engine logs and counts a failed [Channel.Send]
// but never lets it block ringing or stopping a call.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// Priority is the urgency of a [Notification].
type Priority int

const (
	// PriorityNormal is used for informational alerts.
	PriorityNormal Priority = iota

	// PriorityHigh is used for the incoming-call alert.
	PriorityHigh
)

// String returns "normal" or "high".
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// MarshalText encodes the priority as its name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes "normal" or "high". Anything else is normal.
func (p *Priority) UnmarshalText(b []byte) error {
	if string(b) == "high" {
		*p = PriorityHigh
	} else {
		*p = PriorityNormal
	}
	return nil
}

// Sound values understood by host notification channels.
const (
	SoundOn      = "true"
	SoundDefault = "default"
)

// Notification types carried in Data["type"].
const (
	TypeCall    = "call"
	TypeAmbient = "ambient"
)

// Notification is a single alert.
type Notification struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Sound    string            `json:"sound,omitempty"`
	Priority Priority          `json:"priority"`
	Data     map[string]string `json:"data,omitempty"`
}

// Type returns Data["type"].
func (n Notification) Type() string {
	return n.Data["type"]
}

// New returns a notification with a fresh ID and Data["type"] set to typ.
func New(typ, title, body, sound string, p Priority) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Title:    title,
		Body:     body,
		Sound:    sound,
		Priority: p,
		Data:     map[string]string{"type": typ},
	}
}

// Channel delivers notifications.
//
// Implementations must be safe for concurrent use.
type Channel interface {
	Send(ctx context.Context, n Notification) error
}

// ChannelFunc adapts a function to [Channel].
type ChannelFunc func(ctx context.Context, n Notification) error

// Send implements [Channel].
func (f ChannelFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
