package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/ringer/internal/app"
	"github.com/MrWong99/ringer/internal/config"
	audiomock "github.com/MrWong99/ringer/pkg/audio/mock"
	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/notify"
	notifymock "github.com/MrWong99/ringer/pkg/notify/mock"
)

// closingStore counts Close calls.
type closingStore struct {
	*kv.MemStore
	closed atomic.Int32
}

func (s *closingStore) Close() error {
	s.closed.Add(1)
	return nil
}

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := &config.Config{
		Audio:  config.AudioConfig{Backend: config.AudioDiscard},
		Notify: []config.SinkConfig{{Name: config.SinkLog}, {Name: config.SinkHost}},
	}
	if mutate != nil {
		mutate(cfg)
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type fixture struct {
	app      *app.App
	store    *closingStore
	notifier *notifymock.Channel
	url      string
}

func newApp(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		store:    &closingStore{MemStore: kv.NewMemStore()},
		notifier: &notifymock.Channel{},
		url:      "http://" + l.Addr().String(),
	}
	a, err := app.New(context.Background(), testConfig(mutate), &app.Backends{
		Audio:     &audiomock.Backend{},
		Store:     f.store,
		Notifiers: []notify.Named{{Name: "test", Channel: f.notifier}},
	}, app.WithListener(l), app.WithClock(clock.NewMock()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return f
}

// run starts Run and returns a function that cancels it and returns its
// error.
func (f *fixture) run(t *testing.T) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.app.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(f.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
}

func getJSON(t *testing.T, method, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, err := app.New(ctx, nil, &app.Backends{}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := app.New(ctx, testConfig(nil), &app.Backends{Store: kv.NewMemStore()}); err == nil {
		t.Error("expected error without audio backend")
	}
	if _, err := app.New(ctx, testConfig(nil), nil); err == nil {
		t.Error("expected error without backends")
	}
}

func TestRun_ServesEngine(t *testing.T) {
	t.Parallel()
	f := newApp(t, nil)
	stop := f.run(t)

	code, body := getJSON(t, http.MethodGet, f.url+"/readyz")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("readyz = %d %v", code, body)
	}

	code, body = getJSON(t, http.MethodPost, f.url+"/v1/call/test")
	if code != http.StatusOK || body["state"] != "ringing" {
		t.Fatalf("test call = %d %v", code, body)
	}
	if !f.app.Controller().IsCallActive(context.Background()) {
		t.Error("call not active")
	}
	if got := f.notifier.ByTitle("Incoming Call"); len(got) != 1 {
		t.Errorf("incoming-call notifications = %d, want 1", len(got))
	}

	if code, _ := getJSON(t, http.MethodPost, f.url+"/v1/audio/stop-all"); code != http.StatusOK {
		t.Errorf("stop-all = %d", code)
	}
	if code, _ := getJSON(t, http.MethodGet, f.url+"/metrics"); code != http.StatusOK {
		t.Errorf("metrics = %d", code)
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestNew_HostBackgroundDisabled(t *testing.T) {
	t.Parallel()
	f := newApp(t, func(c *config.Config) { c.Engine.DisableHostBackground = true })
	stop := f.run(t)
	defer func() { _ = stop() }()

	code, body := getJSON(t, http.MethodGet, f.url+"/readyz")
	if code != http.StatusOK || body["status"] != "warn" {
		t.Errorf("readyz = %d %v, want 200 with warn", code, body)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	f := newApp(t, nil)
	old := testConfig(nil)
	next := testConfig(func(c *config.Config) {
		off := false
		c.Ambient.Enabled = &off
		c.Server.LogLevel = config.LogDebug
	})

	d := f.app.Reload(old, next)
	if !d.AmbientChanged || !d.LogLevelChanged {
		t.Errorf("diff = %+v", d)
	}
	if f.app.Ambient().Enabled() {
		t.Error("ambient still enabled after reload")
	}
}

func TestShutdown_ClosesStoreOnce(t *testing.T) {
	t.Parallel()
	f := newApp(t, nil)
	ctx := context.Background()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if got := f.store.closed.Load(); got != 1 {
		t.Errorf("store closed %d times, want 1", got)
	}
	if err := f.app.Controller().TriggerTestCall(ctx); err == nil {
		t.Error("controller still accepts calls after shutdown")
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()
	f := newApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.app.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}
