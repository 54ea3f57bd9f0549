package config

import (
	"reflect"
)

// ConfigDiff describes what changed between two configs.
//
// Analysis, detection and log level changes can be applied to a running
// process: the capture controller picks up a new VAD config when it opens the
// next segment. Everything else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProfileChanged is set when capture.profile differs. The profile only
	// matters through the analysis and detection values it contributed, so a
	// profile change normally also sets DetectionChanged.
	ProfileChanged bool

	// DetectionChanged is set when any field feeding the VAD config, or the
	// per-tick frame limit, differs.
	DetectionChanged bool

	// RestartRequired lists the top-level sections that changed but cannot
	// be hot-reloaded.
	RestartRequired []string
}

// Changed reports whether d carries any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ProfileChanged || d.DetectionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Capture.Profile != new.Capture.Profile {
		d.ProfileChanged = true
	}
	if !reflect.DeepEqual(old.VAD(), new.VAD()) {
		d.DetectionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Capture.Source, new.Capture.Source) {
		d.RestartRequired = append(d.RestartRequired, "capture.source")
	}
	if old.Capture.MaxFramesPerTick != new.Capture.MaxFramesPerTick {
		d.DetectionChanged = true
	}
	if old.Capture.TickInterval != new.Capture.TickInterval {
		d.RestartRequired = append(d.RestartRequired, "capture.tick_interval")
	}
	if old.Render != new.Render {
		d.RestartRequired = append(d.RestartRequired, "render")
	}
	if !reflect.DeepEqual(old.Sinks, new.Sinks) {
		d.RestartRequired = append(d.RestartRequired, "sinks")
	}

	return d
}
