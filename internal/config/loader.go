package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/ringer/pkg/tone"
)

// KnownBackends lists the built-in backend names per kind. [Validate] warns
// about other names, which may belong to third-party registrations.
var KnownBackends = map[string][]string{
	"audio":  {AudioOto, AudioDiscard},
	"store":  {StoreMemory, StoreFile, StorePostgres},
	"notify": {SinkLog, SinkDesktop, SinkDiscord, SinkHost},
}

// Defaults.
const (
	DefaultListenAddr          = ":8470"
	DefaultCallDuration        = 10 * time.Second
	DefaultCallKeepAlive       = 2 * time.Second
	DefaultBackgroundKeepAlive = time.Second
	DefaultPollInterval        = time.Second
	DefaultHostMinInterval     = 15 * time.Second
	DefaultStopWindow          = time.Second
	DefaultForceStopWindow     = 3 * time.Second
	DefaultDisableWindow       = 5 * time.Second
	DefaultRingFrequency       = 800.0
	DefaultServiceName         = "ringer"
)

// Load reads the YAML file at path and returns a defaulted, validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates the
// result. Unknown keys are errors. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	e := &cfg.Engine
	setDuration(&e.CallDuration, DefaultCallDuration)
	setDuration(&e.CallKeepAlive, DefaultCallKeepAlive)
	setDuration(&e.BackgroundKeepAlive, DefaultBackgroundKeepAlive)
	setDuration(&e.PollInterval, DefaultPollInterval)
	setDuration(&e.HostMinInterval, DefaultHostMinInterval)
	setDuration(&e.StopWindow, DefaultStopWindow)
	setDuration(&e.ForceStopWindow, DefaultForceStopWindow)
	setDuration(&e.DisableWindow, DefaultDisableWindow)
	if e.RingFrequency == 0 {
		e.RingFrequency = DefaultRingFrequency
	}

	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = AudioOto
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Notify == nil {
		cfg.Notify = []SinkConfig{{Name: SinkLog}, {Name: SinkHost}}
	}
	if cfg.Ambient.Enabled == nil {
		on := true
		cfg.Ambient.Enabled = &on
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}

	e := cfg.Engine
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"call_duration", e.CallDuration},
		{"call_keepalive", e.CallKeepAlive},
		{"background_keepalive", e.BackgroundKeepAlive},
		{"poll_interval", e.PollInterval},
		{"host_min_interval", e.HostMinInterval},
		{"stop_window", e.StopWindow},
		{"force_stop_window", e.ForceStopWindow},
		{"disable_window", e.DisableWindow},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("engine.%s %v must not be negative", d.name, d.v))
		}
	}
	if e.CallKeepAlive >= e.CallDuration && e.CallDuration > 0 {
		slog.Warn("engine.call_keepalive is not shorter than engine.call_duration; keep-alive will never run",
			"call_keepalive", e.CallKeepAlive, "call_duration", e.CallDuration)
	}
	if e.StopWindow > e.ForceStopWindow || e.ForceStopWindow > e.DisableWindow {
		slog.Warn("engine stop windows are usually ordered stop <= force <= disable",
			"stop", e.StopWindow, "force", e.ForceStopWindow, "disable", e.DisableWindow)
	}
	if err := validateFrequency("engine.ring_frequency", e.RingFrequency); err != nil {
		errs = append(errs, err)
	}

	checkBackendName("audio", cfg.Audio.Backend)
	if cfg.Audio.SampleRate < 0 || cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio: sample_rate %d / channels %d out of range", cfg.Audio.SampleRate, cfg.Audio.Channels))
	}

	checkBackendName("store", cfg.Store.Backend)
	switch cfg.Store.Backend {
	case StoreFile:
		if cfg.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required when store.backend is file"))
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
		}
	}

	seen := make(map[string]int, len(cfg.Notify))
	for i, s := range cfg.Notify {
		prefix := fmt.Sprintf("notify[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[s.Name]; ok && s.Name != SinkDiscord {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of notify[%d]", prefix, s.Name, prev))
		}
		seen[s.Name] = i
		checkBackendName("notify", s.Name)
		if s.Name == SinkDiscord && (s.WebhookID == "" || s.WebhookToken == "") {
			errs = append(errs, fmt.Errorf("%s: discord requires webhook_id and webhook_token", prefix))
		}
	}

	for name, t := range map[string]ToneConfig{
		"foreground": cfg.Ambient.Foreground,
		"background": cfg.Ambient.Background,
		"test":       cfg.Ambient.Test,
	} {
		if t.Frequency != 0 {
			if err := validateFrequency("ambient."+name+".frequency", t.Frequency); err != nil {
				errs = append(errs, err)
			}
		}
		if t.Duration < 0 {
			errs = append(errs, fmt.Errorf("ambient.%s.duration %v must not be negative", name, t.Duration))
		}
	}

	return errors.Join(errs...)
}

func validateFrequency(field string, hz float64) error {
	if hz <= 0 || hz >= tone.DefaultSampleRate/2 {
		return fmt.Errorf("%s %v is out of range (0, %d)", field, hz, tone.DefaultSampleRate/2)
	}
	return nil
}

// checkBackendName logs a warning if name is not a built-in backend of kind.
func checkBackendName(kind, name string) {
	if name == "" || slices.Contains(KnownBackends[kind], name) {
		return
	}
	slog.Warn("unknown backend name, may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", KnownBackends[kind],
	)
}
