// Package discord delivers notifications to a Discord channel through an
// incoming webhook.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/ringer/pkg/notify"
)

// Embed colours by priority.
const (
	colorNormal = 0x5865F2
	colorHigh   = 0xED4245
)

// WebhookExecutor is the subset of *discordgo.Session used by [Channel].
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ notify.Channel = (*Channel)(nil)

// Channel posts each notification as an embed via a webhook.
type Channel struct {
	exec      WebhookExecutor
	webhookID string
	token     string
	username  string
}

// Option configures a [Channel].
type Option func(*Channel)

// WithUsername overrides the webhook's display name.
func WithUsername(name string) Option {
	return func(c *Channel) { c.username = name }
}

// WithExecutor replaces the discordgo session. Used by tests.
func WithExecutor(exec WebhookExecutor) Option {
	return func(c *Channel) { c.exec = exec }
}

// New returns a webhook channel. Webhook execution needs no bot token, so
// the underlying session is created without one.
func New(webhookID, token string, opts ...Option) (*Channel, error) {
	if webhookID == "" || token == "" {
		return nil, fmt.Errorf("discord: webhook id and token are required")
	}
	c := &Channel{webhookID: webhookID, token: token}
	for _, o := range opts {
		o(c)
	}
	if c.exec == nil {
		s, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		c.exec = s
	}
	return c, nil
}

// Send implements [notify.Channel].
func (c *Channel) Send(ctx context.Context, n notify.Notification) error {
	params := &discordgo.WebhookParams{
		Username: c.username,
		Embeds:   []*discordgo.MessageEmbed{embed(n)},
	}
	if n.Priority == notify.PriorityHigh {
		params.Content = "@here"
	}
	if _, err := c.exec.WebhookExecute(c.webhookID, c.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: execute webhook: %w", err)
	}
	return nil
}

func embed(n notify.Notification) *discordgo.MessageEmbed {
	color := colorNormal
	if n.Priority == notify.PriorityHigh {
		color = colorHigh
	}
	e := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       color,
	}
	if t := n.Type(); t != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Type", Value: t, Inline: true})
	}
	e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Priority", Value: n.Priority.String(), Inline: true})
	return e
}
