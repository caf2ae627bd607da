package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/ringer/internal/config"
	"github.com/MrWong99/ringer/pkg/tone"
)

func TestBuildBackends(t *testing.T) {
	ctx := context.Background()
	reg := config.NewRegistry()
	registerBuiltins(reg)

	cfg := &config.Config{
		Audio:  config.AudioConfig{Backend: config.AudioDiscard},
		Store:  config.StoreConfig{Backend: config.StoreFile, Path: filepath.Join(t.TempDir(), "store.json")},
		Notify: []config.SinkConfig{{Name: config.SinkLog}, {Name: config.SinkHost}},
	}
	config.ApplyDefaults(cfg)

	b, err := buildBackends(ctx, cfg, reg)
	if err != nil {
		t.Fatalf("buildBackends: %v", err)
	}
	if b.Audio == nil || b.Store == nil {
		t.Fatalf("backends = %+v", b)
	}
	if len(b.Notifiers) != 1 || b.Notifiers[0].Name != config.SinkLog {
		t.Errorf("notifiers = %+v, want only log (host is added by the engine)", b.Notifiers)
	}

	if err := b.Store.Set(ctx, "k", "v"); err != nil {
		t.Errorf("file store unusable: %v", err)
	}

	cfg.Audio.Backend = "alsa"
	if _, err := buildBackends(ctx, cfg, reg); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("unknown audio backend err = %v", err)
	}
}

func TestToneCommand(t *testing.T) {
	tests := []struct {
		args    []string
		wantDur time.Duration
	}{
		{[]string{"--preset", "quick-beep"}, time.Second},
		{[]string{"--preset", "long-ring"}, 5 * time.Second},
		{[]string{"--preset", "short", "--frequency", "600", "--duration", "600ms"}, 600 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "tone.wav")
			cmd := newCommand()
			var stdout bytes.Buffer
			cmd.Writer = &stdout
			args := append([]string{"ringer", "tone", "--out", out}, tt.args...)
			if err := cmd.Run(context.Background(), args); err != nil {
				t.Fatalf("Run: %v", err)
			}
			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatal(err)
			}
			h, pcm, err := tone.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			want := tone.Spec{Duration: tt.wantDur, SampleRate: int(h.SampleRate)}.SampleCount()
			if len(pcm) != want {
				t.Errorf("samples = %d, want %d", len(pcm), want)
			}
			if !strings.Contains(stdout.String(), "wrote") {
				t.Errorf("output = %q", stdout.String())
			}
		})
	}
}

func TestToneCommand_UnknownPreset(t *testing.T) {
	cmd := newCommand()
	cmd.Writer = &bytes.Buffer{}
	cmd.ErrWriter = &bytes.Buffer{}
	err := cmd.Run(context.Background(), []string{"ringer", "tone", "--out", filepath.Join(t.TempDir(), "x.wav"), "--preset", "siren"})
	if err == nil || !strings.Contains(err.Error(), "siren") {
		t.Errorf("err = %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	if slogLevel(config.LogDebug).String() != "DEBUG" || slogLevel("").String() != "INFO" {
		t.Error("unexpected level mapping")
	}
}
