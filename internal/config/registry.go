package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/ringer/pkg/audio"
	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/notify"
)

// ErrNotRegistered is returned by the Create methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: backend not registered")

// Factory signatures.
type (
	AudioFactory  func(ctx context.Context, cfg AudioConfig) (audio.Backend, error)
	StoreFactory  func(ctx context.Context, cfg StoreConfig) (kv.Store, error)
	NotifyFactory func(ctx context.Context, cfg SinkConfig) (notify.Channel, error)
)

// Registry maps backend names to constructors. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	audio  map[string]AudioFactory
	store  map[string]StoreFactory
	notify map[string]NotifyFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		audio:  make(map[string]AudioFactory),
		store:  make(map[string]StoreFactory),
		notify: make(map[string]NotifyFactory),
	}
}

// RegisterAudio registers an audio backend factory. A later registration
// under the same name replaces the earlier one.
func (r *Registry) RegisterAudio(name string, f AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = f
}

// RegisterStore registers a key-value store factory.
func (r *Registry) RegisterStore(name string, f StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[name] = f
}

// RegisterNotify registers a notification channel factory.
func (r *Registry) RegisterNotify(name string, f NotifyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify[name] = f
}

// CreateAudio builds the backend named by cfg.Backend.
func (r *Registry) CreateAudio(ctx context.Context, cfg AudioConfig) (audio.Backend, error) {
	r.mu.RLock()
	f, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrNotRegistered, cfg.Backend)
	}
	return f(ctx, cfg)
}

// CreateStore builds the store named by cfg.Backend.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (kv.Store, error) {
	r.mu.RLock()
	f, ok := r.store[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrNotRegistered, cfg.Backend)
	}
	return f(ctx, cfg)
}

// CreateNotify builds the channel named by cfg.Name.
func (r *Registry) CreateNotify(ctx context.Context, cfg SinkConfig) (notify.Channel, error) {
	r.mu.RLock()
	f, ok := r.notify[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: notify/%q", ErrNotRegistered, cfg.Name)
	}
	return f(ctx, cfg)
}

// Names returns the registered names of kind ("audio", "store" or "notify"),
// sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "audio":
		for n := range r.audio {
			names = append(names, n)
		}
	case "store":
		for n := range r.store {
			names = append(names, n)
		}
	case "notify":
		for n := range r.notify {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
