package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listen address, database DSN, audio devices) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ReconnectChanged is set when the reconnect budget or delays changed.
	// New sessions pick the new values up; running sessions keep theirs.
	ReconnectChanged bool

	// PersistChanged is set when the write-behind debounce changed.
	PersistChanged bool

	// ICD10TopKChanged is set when the default lookup result count changed.
	ICD10TopKChanged bool
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ReconnectChanged && !d.PersistChanged && !d.ICD10TopKChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Reconnect.MaxAttempts != new.Reconnect.MaxAttempts ||
		!slices.Equal(old.Reconnect.Delays, new.Reconnect.Delays) {
		d.ReconnectChanged = true
	}

	if old.Persist.Debounce != new.Persist.Debounce {
		d.PersistChanged = true
	}

	if old.ICD10.TopK != new.ICD10.TopK {
		d.ICD10TopKChanged = true
	}

	return d
}
