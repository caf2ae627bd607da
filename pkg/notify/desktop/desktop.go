// Package desktop delivers notifications as operating-system desktop alerts
// through github.com/gen2brain/beeep.
package desktop

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"

	"github.com/MrWong99/ringer/pkg/notify"
)

var _ notify.Channel = (*Channel)(nil)

// Channel shows each notification as a desktop alert. High priority
// notifications use beeep.Alert, which also plays the system sound.
type Channel struct {
	notifyFn func(title, body string) error
	alertFn  func(title, body string) error
}

// New returns a desktop channel. A non-empty appName sets the application
// name the OS shows next to the alert.
func New(appName string) *Channel {
	if appName != "" {
		beeep.AppName = appName
	}
	return &Channel{
		notifyFn: func(title, body string) error { return beeep.Notify(title, body, "") },
		alertFn:  func(title, body string) error { return beeep.Alert(title, body, "") },
	}
}

// Send implements [notify.Channel].
func (c *Channel) Send(ctx context.Context, n notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	show := c.notifyFn
	if n.Priority == notify.PriorityHigh {
		show = c.alertFn
	}
	if err := show(n.Title, n.Body); err != nil {
		return fmt.Errorf("desktop: show %q: %w", n.Title, err)
	}
	return nil
}
