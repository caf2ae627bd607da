package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/ringer/internal/app"
	"github.com/MrWong99/ringer/internal/config"
	"github.com/MrWong99/ringer/pkg/audio"
	"github.com/MrWong99/ringer/pkg/audio/oto"
	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/kv/filestore"
	"github.com/MrWong99/ringer/pkg/kv/postgres"
	"github.com/MrWong99/ringer/pkg/notify"
	"github.com/MrWong99/ringer/pkg/notify/desktop"
	"github.com/MrWong99/ringer/pkg/notify/discord"
)

// registerBuiltins wires the backends that ship with ringer into reg. The
// "host" sink is not registered here; the engine provides it.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterAudio(config.AudioOto, func(ctx context.Context, cfg config.AudioConfig) (audio.Backend, error) {
		b, err := oto.New(ctx, oto.Options{Format: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}})
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	reg.RegisterAudio(config.AudioDiscard, func(context.Context, config.AudioConfig) (audio.Backend, error) {
		return &audio.Discard{}, nil
	})

	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (kv.Store, error) {
		return kv.NewMemStore(), nil
	})
	reg.RegisterStore(config.StoreFile, func(_ context.Context, cfg config.StoreConfig) (kv.Store, error) {
		s, err := filestore.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	reg.RegisterStore(config.StorePostgres, func(ctx context.Context, cfg config.StoreConfig) (kv.Store, error) {
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterNotify(config.SinkLog, func(context.Context, config.SinkConfig) (notify.Channel, error) {
		return notify.Log{}, nil
	})
	reg.RegisterNotify(config.SinkDesktop, func(_ context.Context, cfg config.SinkConfig) (notify.Channel, error) {
		return desktop.New(cfg.AppName), nil
	})
	reg.RegisterNotify(config.SinkDiscord, func(_ context.Context, cfg config.SinkConfig) (notify.Channel, error) {
		var opts []discord.Option
		if cfg.Username != "" {
			opts = append(opts, discord.WithUsername(cfg.Username))
		}
		ch, err := discord.New(cfg.WebhookID, cfg.WebhookToken, opts...)
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
}

// buildBackends instantiates the backends named in cfg.
func buildBackends(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Backends, error) {
	b := &app.Backends{}

	store, err := reg.CreateStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	b.Store = store

	backend, err := reg.CreateAudio(ctx, cfg.Audio)
	if errors.Is(err, config.ErrNotRegistered) {
		return nil, fmt.Errorf("create audio backend: %w (registered: %v)", err, reg.Names("audio"))
	}
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	b.Audio = backend

	for _, s := range cfg.Notify {
		if s.Name == config.SinkHost {
			continue
		}
		ch, err := reg.CreateNotify(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("create notify sink %q: %w", s.Name, err)
		}
		b.Notifiers = append(b.Notifiers, notify.Named{Name: s.Name, Channel: ch})
	}
	return b, nil
}
