// Command ringer runs the simulated incoming-call engine and its host bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/MrWong99/ringer/internal/app"
	"github.com/MrWong99/ringer/internal/config"
	"github.com/MrWong99/ringer/internal/observe"
	"github.com/MrWong99/ringer/pkg/tone"
)

var version = "dev"

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ringer: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "ringer",
		Usage:   "simulated incoming-call engine",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the engine and the host bridge",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Value:   "ringer.yaml",
						Usage:   "path to the YAML configuration file",
						Sources: cli.EnvVars("RINGER_CONFIG"),
					},
					&cli.DurationFlag{
						Name:  "watch-interval",
						Value: 5 * time.Second,
						Usage: "how often the config file is checked for changes (0 disables)",
					},
				},
				Action: serve,
			},
			{
				Name:  "tone",
				Usage: "render a call tone to a WAV file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "preset",
						Value: "quick-beep",
						Usage: "quick-beep, long-ring, minimal or short",
					},
					&cli.FloatFlag{
						Name:  "frequency",
						Value: tone.RingFrequency,
						Usage: "base frequency in Hz",
					},
					&cli.DurationFlag{
						Name:  "duration",
						Value: 600 * time.Millisecond,
						Usage: "length of the short preset",
					},
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "output file",
						Required: true,
					},
				},
				Action: renderTone,
			},
		},
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found", path)
		}
		return err
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("ringer starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltins(reg)
	backends, err := buildBackends(ctx, cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, backends)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	if interval := c.Duration("watch-interval"); interval > 0 {
		w, err := config.NewWatcher(path, func(old, new *config.Config) {
			if d := application.Reload(old, new); d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
		}, config.WithInterval(interval))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("engine ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func renderTone(_ context.Context, c *cli.Command) error {
	freq := c.Float("frequency")
	var spec tone.Spec
	switch p := c.String("preset"); p {
	case "quick-beep":
		spec = tone.QuickBeep(freq)
	case "long-ring":
		spec = tone.LongRing(freq)
	case "minimal":
		spec = tone.Minimal(freq)
	case "short":
		spec = tone.Short(freq, c.Duration("duration"))
	default:
		return fmt.Errorf("unknown preset %q", p)
	}
	data, err := tone.Encode(spec)
	if err != nil {
		return err
	}
	out := c.String("out")
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(c.Root().Writer, "wrote %s (%d bytes, %v %s at %v Hz)\n", out, len(data), spec.Duration, spec.Waveform, spec.Frequency)
	return nil
}

func printStartupSummary(cfg *config.Config) {
	sinks := make([]string, 0, len(cfg.Notify))
	for _, s := range cfg.Notify {
		sinks = append(sinks, s.Name)
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         ringer · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", cfg.Audio.Backend)
	printRow("Store", cfg.Store.Backend)
	printRow("Notify", fmt.Sprint(sinks))
	printRow("Ambient", fmt.Sprint(cfg.Ambient.IsEnabled()))
	printRow("Call length", cfg.Engine.CallDuration.String())
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
