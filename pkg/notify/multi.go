package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Named pairs a [Channel] with the name used in logs and errors.
type Named struct {
	Name    string
	Channel Channel
}

// Multi sends every notification to all of its channels. One failing channel
// does not stop delivery to the others.
type Multi struct {
	channels []Named
}

var _ Channel = (*Multi)(nil)

// NewMulti returns a fan-out over channels.
func NewMulti(channels ...Named) *Multi {
	return &Multi{channels: channels}
}

// Add appends a channel. It is not safe to call concurrently with Send.
func (m *Multi) Add(name string, ch Channel) {
	m.channels = append(m.channels, Named{Name: name, Channel: ch})
}

// Len returns the number of channels.
func (m *Multi) Len() int {
	return len(m.channels)
}

// Send implements [Channel]. The returned error joins the failures of every
// channel, each prefixed with the channel name.
func (m *Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, c := range m.channels {
		if err := c.Channel.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Log is a [Channel] that writes notifications to a [slog.Logger].
type Log struct {
	Logger *slog.Logger
}

var _ Channel = Log{}

// Send implements [Channel].
func (l Log) Send(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Priority == PriorityHigh {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "notification",
		"id", n.ID,
		"title", n.Title,
		"body", n.Body,
		"priority", n.Priority.String(),
		"type", n.Type(),
	)
	return nil
}
