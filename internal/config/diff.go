package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// and the ambient switch apply without a restart; other changed sections are
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AmbientChanged bool
	AmbientEnabled bool

	// RestartRequired names the top-level sections that changed but are
	// only read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AmbientChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Ambient.IsEnabled() != new.Ambient.IsEnabled() {
		d.AmbientChanged = true
		d.AmbientEnabled = new.Ambient.IsEnabled()
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldAmbient, newAmbient := old.Ambient, new.Ambient
	oldAmbient.Enabled, newAmbient.Enabled = nil, nil

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"engine", old.Engine, new.Engine},
		{"audio", old.Audio, new.Audio},
		{"store", old.Store, new.Store},
		{"notify", old.Notify, new.Notify},
		{"ambient", oldAmbient, newAmbient},
		{"telemetry", old.Telemetry, new.Telemetry},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}
