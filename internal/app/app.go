// Package app wires the ringer subsystems into a running engine.
//
// New builds everything from the config and the backends the caller created
// through the config registry. Run serves the host bridge and drives the
// background poller until its context ends. Shutdown tears everything down in
// reverse order.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ringer/internal/ambient"
	"github.com/MrWong99/ringer/internal/call"
	"github.com/MrWong99/ringer/internal/config"
	"github.com/MrWong99/ringer/internal/credentials"
	"github.com/MrWong99/ringer/internal/health"
	"github.com/MrWong99/ringer/internal/hostbridge"
	"github.com/MrWong99/ringer/internal/observe"
	"github.com/MrWong99/ringer/internal/phase"
	"github.com/MrWong99/ringer/internal/playback"
	"github.com/MrWong99/ringer/internal/poller"
	"github.com/MrWong99/ringer/internal/trigger"
	"github.com/MrWong99/ringer/pkg/audio"
	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/notify"
)

// shutdownGrace bounds the HTTP server's graceful shutdown inside Run.
const shutdownGrace = 5 * time.Second

// Backends holds the externally created collaborators. main.go fills it
// through the config registry.
type Backends struct {
	// Audio plays the tones. Required.
	Audio audio.Backend

	// Store holds the trigger and credentials. Required.
	Store kv.Store

	// Notifiers are the configured notification sinks. The "host" sink is
	// added by New because it is the bridge's own hub.
	Notifiers []notify.Named
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	backends *Backends
	clk      clock.Clock
	metrics  *observe.Metrics
	promh    http.Handler
	listener net.Listener

	phases     *phase.Broadcaster
	arbiter    *playback.Arbiter
	notifiers  *notify.Multi
	controller *call.Controller
	ambient    *ambient.Notifier
	poller     *poller.Poller
	hub        *hostbridge.Hub
	creds      *credentials.Store
	server     *http.Server

	// closers run in reverse registration order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option configures optional [App] dependencies.
type Option func(*App)

// WithClock replaces the wall clock in every timed subsystem.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clk = c }
}

// WithMetrics replaces the default metrics and the /metrics handler.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.promh = h
	}
}

// WithListener serves the bridge on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// New builds the engine. On error, everything already built is closed.
func New(ctx context.Context, cfg *config.Config, backends *Backends, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if backends == nil || backends.Audio == nil || backends.Store == nil {
		return nil, errors.New("app: audio backend and store are required")
	}
	a := &App{cfg: cfg, backends: backends}
	for _, o := range opts {
		o(a)
	}
	if a.clk == nil {
		a.clk = clock.New()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.promh == nil {
		a.promh = promhttp.Handler()
	}

	a.closers = append(a.closers, a.closeBackends)

	a.phases = phase.NewBroadcaster(phase.Active)
	a.arbiter = playback.NewArbiter()
	a.hub = hostbridge.NewHub(hostbridge.HubConfig{
		Phases:           a.phases,
		RefuseBackground: cfg.Engine.DisableHostBackground,
		OriginPatterns:   cfg.Server.OriginPatterns,
		Clock:            a.clk,
	})
	a.closers = append(a.closers, func(context.Context) error { a.hub.Close(); return nil })

	a.initNotifiers()

	if err := a.initEngine(); err != nil {
		_ = a.Shutdown(ctx)
		return nil, err
	}
	if err := a.initPoller(); err != nil {
		_ = a.Shutdown(ctx)
		return nil, err
	}
	a.creds = credentials.New(backends.Store)

	if err := a.initServer(); err != nil {
		_ = a.Shutdown(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) initNotifiers() {
	a.notifiers = notify.NewMulti(a.backends.Notifiers...)
	if slices.ContainsFunc(a.cfg.Notify, func(s config.SinkConfig) bool { return s.Name == config.SinkHost }) {
		a.notifiers.Add(config.SinkHost, a.hub)
	}
}

func (a *App) initEngine() error {
	e := a.cfg.Engine
	ctl, err := call.New(call.Config{
		Store:         a.backends.Store,
		Backend:       a.backends.Audio,
		Notifier:      a.notifiers,
		Phases:        a.phases,
		Arbiter:       a.arbiter,
		RingFrequency: e.RingFrequency,
		Timing: call.Timing{
			CallDuration:        e.CallDuration,
			CallKeepAlive:       e.CallKeepAlive,
			BackgroundKeepAlive: e.BackgroundKeepAlive,
			StopWindow:          e.StopWindow,
			ForceWindow:         e.ForceStopWindow,
			DisableWindow:       e.DisableWindow,
		},
	}, call.WithClock(a.clk), call.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("app: init call controller: %w", err)
	}
	a.controller = ctl
	a.closers = append(a.closers, ctl.Close)

	amb := a.cfg.Ambient
	n, err := ambient.New(ambient.Config{
		Backend:    a.backends.Audio,
		Calls:      ctl,
		Guard:      ctl.Guard(),
		Arbiter:    a.arbiter,
		Notifier:   a.notifiers,
		Phases:     a.phases,
		Initial:    a.phases.Current(),
		Foreground: ambient.Tone(amb.Foreground),
		Background: ambient.Tone(amb.Background),
		Test:       ambient.Tone(amb.Test),
		Disabled:   !amb.IsEnabled(),
		Metrics:    a.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: init ambient notifier: %w", err)
	}
	a.ambient = n
	ctl.SetAmbient(n)
	a.closers = append(a.closers, n.Close)
	return nil
}

func (a *App) initPoller() error {
	p, err := poller.New(poller.Config{
		Due:             a.controller.Triggers(),
		Engine:          a.controller,
		Interval:        a.cfg.Engine.PollInterval,
		HostMinInterval: a.cfg.Engine.HostMinInterval,
		Clock:           a.clk,
		Metrics:         a.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: init poller: %w", err)
	}
	a.poller = p
	a.closers = append(a.closers, func(context.Context) error { return p.Stop() })
	if err := p.Register(a.hub); err != nil {
		slog.Warn("app: host background scheduling unavailable, relying on the internal timer", "err", err)
	}
	return nil
}

func (a *App) initServer() error {
	checks := health.New(
		health.Checker{Name: "store", Check: a.checkStore},
		health.Checker{Name: "host_background", Check: a.checkHostBackground, Optional: true},
	)
	srv, err := hostbridge.NewServer(hostbridge.Config{
		Engine:         a.controller,
		Ambient:        a.ambient,
		Credentials:    a.creds,
		Hub:            a.hub,
		Phases:         a.phases,
		Health:         checks,
		MetricsHandler: a.promh,
		Metrics:        a.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: init host bridge: %w", err)
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
		a.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) checkStore(ctx context.Context) error {
	if p, ok := a.backends.Store.(pinger); ok {
		return p.Ping(ctx)
	}
	_, err := a.backends.Store.Get(ctx, trigger.TriggerKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

func (a *App) checkHostBackground(context.Context) error {
	if a.poller.Degraded() {
		return errors.New("host refused background scheduling; internal timer only")
	}
	return nil
}

// Controller returns the call controller.
func (a *App) Controller() *call.Controller { return a.controller }

// Ambient returns the ambient notifier.
func (a *App) Ambient() *ambient.Notifier { return a.ambient }

// Handler returns the host bridge handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves the host bridge and runs the internal poll timer until ctx is
// done. It returns the first serving error, or ctx's error.
func (a *App) Run(ctx context.Context) error {
	l := a.listener
	if l == nil {
		var err error
		l, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = a.server.ServeTLS(l, t.CertFile, t.KeyFile)
		} else {
			err = a.server.Serve(l)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		a.poller.Start(gctx)
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		a.hub.Close()
		return a.server.Shutdown(sctx)
	})

	slog.Info("app running", "addr", l.Addr().String(), "poller_degraded", a.poller.Degraded())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Reload applies the hot-reloadable part of a config change and returns the
// diff so the caller can adjust the log level.
func (a *App) Reload(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.AmbientChanged {
		a.ambient.SetEnabled(d.AmbientEnabled)
		slog.Info("app: ambient tones toggled", "enabled", d.AmbientEnabled)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config sections changed that apply only after a restart", "sections", d.RestartRequired)
	}
	return d
}

// Shutdown stops the engine in reverse-init order and closes the backends.
// Remaining closers are skipped once ctx is done.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeBackends(context.Context) error {
	var errs []error
	for _, v := range []any{a.backends.Store, a.backends.Audio} {
		switch c := v.(type) {
		case io.Closer:
			errs = append(errs, c.Close())
		case interface{ Close() }:
			c.Close()
		}
	}
	return errors.Join(errs...)
}
