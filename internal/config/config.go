// Package config provides the configuration schema, loader, watcher and
// backend registry for the ringer engine.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend names understood by the built-in registry.
const (
	AudioOto     = "oto"
	AudioDiscard = "discard"

	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"

	SinkLog     = "log"
	SinkDesktop = "desktop"
	SinkDiscord = "discord"
	SinkHost    = "host"
)

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Audio     AudioConfig     `yaml:"audio"`
	Store     StoreConfig     `yaml:"store"`
	Notify    []SinkConfig    `yaml:"notify"`
	Ambient   AmbientConfig   `yaml:"ambient"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the host bridge listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the host bridge. Default ":8470".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// OriginPatterns lists extra origins allowed to open the host websocket
	// (e.g. "localhost:*").
	OriginPatterns []string `yaml:"origin_patterns"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate and key paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// EngineConfig holds the call timing.
type EngineConfig struct {
	CallDuration        time.Duration `yaml:"call_duration"`
	CallKeepAlive       time.Duration `yaml:"call_keepalive"`
	BackgroundKeepAlive time.Duration `yaml:"background_keepalive"`

	// PollInterval is the internal timer's period.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HostMinInterval is the minimum interval requested from the host's
	// background scheduler.
	HostMinInterval time.Duration `yaml:"host_min_interval"`

	// DisableHostBackground refuses host background registration so the
	// engine relies on its internal timer only.
	DisableHostBackground bool `yaml:"disable_host_background"`

	StopWindow      time.Duration `yaml:"stop_window"`
	ForceStopWindow time.Duration `yaml:"force_stop_window"`
	DisableWindow   time.Duration `yaml:"disable_window"`

	// RingFrequency is the call tone's pitch in Hz.
	RingFrequency float64 `yaml:"ring_frequency"`
}

// AudioConfig selects the playback backend.
type AudioConfig struct {
	// Backend is "oto" (system device) or "discard" (silent).
	Backend string `yaml:"backend"`

	// SampleRate and Channels describe the device format for "oto".
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// StoreConfig selects the key-value store holding triggers and credentials.
type StoreConfig struct {
	// Backend is "memory", "file" or "postgres".
	Backend string `yaml:"backend"`

	// Path is the JSON file for the "file" backend.
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the "postgres" backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SinkConfig configures one notification channel.
type SinkConfig struct {
	// Name is "log", "desktop", "discord" or "host".
	Name string `yaml:"name"`

	// AppName titles desktop notifications.
	AppName string `yaml:"app_name"`

	// WebhookID and WebhookToken address a Discord webhook.
	WebhookID    string `yaml:"webhook_id"`
	WebhookToken string `yaml:"webhook_token"`

	// Username overrides the Discord webhook's display name.
	Username string `yaml:"username"`
}

// AmbientConfig configures the transition tones.
type AmbientConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`

	Foreground ToneConfig `yaml:"foreground"`
	Background ToneConfig `yaml:"background"`
	Test       ToneConfig `yaml:"test"`
}

// IsEnabled reports whether edge tones are on.
func (a AmbientConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// ToneConfig is a tone's pitch and length. Zero fields use the defaults.
type ToneConfig struct {
	Frequency float64       `yaml:"frequency"`
	Duration  time.Duration `yaml:"duration"`
}

// TelemetryConfig names the service in metrics.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}
