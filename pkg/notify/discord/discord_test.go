package discord_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/ringer/pkg/notify"
	"github.com/MrWong99/ringer/pkg/notify/discord"
)

type fakeExecutor struct {
	calls []*discordgo.WebhookParams
	ids   []string
	err   error
}

func (f *fakeExecutor) WebhookExecute(webhookID, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.ids = append(f.ids, webhookID)
	f.calls = append(f.calls, data)
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: "m1"}, nil
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := discord.New("", "tok"); err == nil {
		t.Error("expected error for empty webhook id")
	}
	if _, err := discord.New("123", ""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestChannel_Send(t *testing.T) {
	exec := &fakeExecutor{}
	c, err := discord.New("123", "tok", discord.WithExecutor(exec), discord.WithUsername("ringer"))
	if err != nil {
		t.Fatal(err)
	}

	n := notify.New(notify.TypeCall, "Incoming Call", "You have an incoming call!", notify.SoundDefault, notify.PriorityHigh)
	if err := c.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected 1 webhook call, got %d", len(exec.calls))
	}
	p := exec.calls[0]
	if exec.ids[0] != "123" || p.Username != "ringer" || p.Content != "@here" {
		t.Errorf("params = %+v (id %q)", p, exec.ids[0])
	}
	if len(p.Embeds) != 1 || p.Embeds[0].Title != "Incoming Call" || p.Embeds[0].Description != "You have an incoming call!" {
		t.Errorf("embed = %+v", p.Embeds)
	}
}

func TestChannel_NormalPriorityHasNoMention(t *testing.T) {
	exec := &fakeExecutor{}
	c, _ := discord.New("123", "tok", discord.WithExecutor(exec))
	_ = c.Send(context.Background(), notify.New(notify.TypeCall, "Call Scheduled", "Incoming call in 5 seconds", notify.SoundOn, notify.PriorityNormal))
	if exec.calls[0].Content != "" {
		t.Errorf("content = %q, want empty", exec.calls[0].Content)
	}
}

func TestChannel_SendError(t *testing.T) {
	boom := errors.New("429")
	c, _ := discord.New("123", "tok", discord.WithExecutor(&fakeExecutor{err: boom}))
	if err := c.Send(context.Background(), notify.Notification{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
