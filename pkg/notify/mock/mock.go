// Package mock provides a recording [notify.Channel] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ringer/pkg/notify"
)

var _ notify.Channel = (*Channel)(nil)

// Channel records every notification it receives.
type Channel struct {
	mu sync.Mutex

	// SendErr is returned by Send when non-nil. The notification is still
	// recorded.
	SendErr error

	sent []notify.Notification
}

// Send implements [notify.Channel].
func (c *Channel) Send(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.SendErr
}

// Sent returns a snapshot of the recorded notifications.
func (c *Channel) Sent() []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Notification, len(c.sent))
	copy(out, c.sent)
	return out
}

// ByTitle returns the recorded notifications with the given title.
func (c *Channel) ByTitle(title string) []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Notification
	for _, n := range c.sent {
		if n.Title == title {
			out = append(out, n)
		}
	}
	return out
}

// SetErr replaces SendErr under the lock.
func (c *Channel) SetErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendErr = err
}

// Reset clears the recorded notifications.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
