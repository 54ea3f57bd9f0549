package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/uttercap/pkg/dsp"
)

// Environment variables consulted by [ApplyEnv].
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvWebSocketURL = "UTTERCAP_WEBSOCKET_URL"
)

// KnownSources and KnownSinks list the built-in component names. [Validate]
// warns about other names, which may still be registered by the caller.
var (
	KnownSources = []string{"portaudio", "wav"}
	KnownSinks   = []string{"wavdir", "websocket", "whisper", "openai"}
)

// ProfileDefaults holds the values a [Profile] contributes.
type ProfileDefaults struct {
	WindowSize            int
	SilenceThreshold      float64
	SilenceTimeoutSeconds float64
	Gain                  float64
}

// Profiles maps every known profile to its defaults.
var Profiles = map[Profile]ProfileDefaults{
	ProfileResponsive: {
		WindowSize:            256,
		SilenceThreshold:      5,
		SilenceTimeoutSeconds: 0.1,
		Gain:                  0.9,
	},
	ProfileConservative: {
		WindowSize:            2048,
		SilenceThreshold:      5,
		SilenceTimeoutSeconds: 0.5,
		Gain:                  1,
	},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment overrides applied.
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

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given .env files (default
// ".env") into the process environment. Variables that are already set are
// not overridden and missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded environment file", "path", p)
	}
	return nil
}

// ApplyEnv fills secrets left empty in the file from the environment:
// OPENAI_API_KEY for openai sinks and UTTERCAP_WEBSOCKET_URL for websocket
// sinks.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for i := range cfg.Sinks {
		applySinkEnv(&cfg.Sinks[i], lookup)
	}
}

func applySinkEnv(e *SinkEntry, lookup func(string) (string, bool)) {
	switch e.Name {
	case "openai":
		if v, ok := lookup(EnvOpenAIAPIKey); ok && e.APIKey == "" {
			e.APIKey = v
		}
	case "websocket":
		if v, ok := lookup(EnvWebSocketURL); ok && e.URL == "" {
			e.URL = v
		}
	}
	for i := range e.Fallback {
		applySinkEnv(&e.Fallback[i], lookup)
	}
}

// ApplyDefaults fills zero-valued fields from the selected profile and the
// package defaults. An unknown or missing profile contributes nothing;
// [Validate] reports it.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Capture.TickInterval <= 0 {
		cfg.Capture.TickInterval = time.Second / 60
	}

	if p, ok := Profiles[cfg.Capture.Profile]; ok {
		if cfg.Analysis.WindowSize == 0 {
			cfg.Analysis.WindowSize = p.WindowSize
		}
		if cfg.Analysis.Gain == 0 {
			cfg.Analysis.Gain = p.Gain
		}
		if cfg.Detection.SilenceThreshold == 0 {
			cfg.Detection.SilenceThreshold = p.SilenceThreshold
		}
		if cfg.Detection.SilenceTimeoutSeconds == 0 {
			cfg.Detection.SilenceTimeoutSeconds = p.SilenceTimeoutSeconds
		}
	}

	a := &cfg.Analysis
	if a.Scale == "" {
		a.Scale = ScaleByte
	}
	if a.Smoothing == nil {
		s := dsp.DefaultSmoothing
		a.Smoothing = &s
	}
	if a.MinDecibels == 0 && a.MaxDecibels == 0 {
		a.MinDecibels = dsp.DefaultMinDecibels
		a.MaxDecibels = dsp.DefaultMaxDecibels
	}

	d := &cfg.Detection
	if d.MinVoiceFrequency == 0 {
		d.MinVoiceFrequency = dsp.DefaultMinVoiceFrequency
	}
	if d.MaxVoiceFrequency == 0 {
		d.MaxVoiceFrequency = dsp.DefaultMaxVoiceFrequency
	}

	r := &cfg.Render
	if r.TargetSampleRate == 0 {
		r.TargetSampleRate = 16000
	}
	if r.MaxConcurrent == 0 {
		r.MaxConcurrent = 2
	}
	if r.DeliveryTimeout == 0 {
		r.DeliveryTimeout = 30 * time.Second
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	switch {
	case cfg.Capture.Profile == "":
		errs = append(errs, errors.New("capture.profile is required; valid values: responsive, conservative"))
	case !cfg.Capture.Profile.IsValid():
		errs = append(errs, fmt.Errorf("capture.profile %q is invalid; valid values: responsive, conservative", cfg.Capture.Profile))
	}
	if cfg.Capture.Source.Name == "" {
		errs = append(errs, errors.New("capture.source.name is required"))
	} else {
		warnUnknown("source", cfg.Capture.Source.Name, KnownSources)
	}
	if cfg.Capture.Source.Name == "wav" && cfg.Capture.Source.Options["path"] == "" {
		errs = append(errs, errors.New("capture.source.options.path is required for the wav source"))
	}
	if cfg.Capture.MaxFramesPerTick < 0 {
		errs = append(errs, fmt.Errorf("capture.max_frames_per_tick %d must not be negative", cfg.Capture.MaxFramesPerTick))
	}

	// Analysis
	a := cfg.Analysis
	if n := a.WindowSize; n < 32 || n > 32768 || bits.OnesCount(uint(n)) != 1 {
		errs = append(errs, fmt.Errorf("analysis.window_size %d must be a power of two in [32, 32768]", n))
	}
	if a.Scale != "" && !a.Scale.IsValid() {
		errs = append(errs, fmt.Errorf("analysis.scale %q is invalid; valid values: byte, linear", a.Scale))
	}
	if a.Smoothing != nil && (*a.Smoothing < 0 || *a.Smoothing >= 1) {
		errs = append(errs, fmt.Errorf("analysis.smoothing %.2f is out of range [0, 1)", *a.Smoothing))
	}
	if a.MinDecibels >= a.MaxDecibels {
		errs = append(errs, fmt.Errorf("analysis.min_decibels %.1f must be below max_decibels %.1f", a.MinDecibels, a.MaxDecibels))
	}
	if a.Gain < 0 {
		errs = append(errs, fmt.Errorf("analysis.gain %.2f must not be negative", a.Gain))
	}

	// Detection
	d := cfg.Detection
	if d.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("detection.silence_threshold %.2f must not be negative", d.SilenceThreshold))
	}
	if d.SilenceTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("detection.silence_timeout_seconds %.3f must be positive", d.SilenceTimeoutSeconds))
	}
	if d.MinVoiceFrequency < 0 || d.MaxVoiceFrequency <= d.MinVoiceFrequency {
		errs = append(errs, fmt.Errorf("detection voice band [%.0f, %.0f] is invalid", d.MinVoiceFrequency, d.MaxVoiceFrequency))
	}
	if d.NoiseGate < 0 {
		errs = append(errs, fmt.Errorf("detection.noise_gate %.2f must not be negative", d.NoiseGate))
	}

	// Render
	r := cfg.Render
	if r.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("render.target_sample_rate %d must be positive", r.TargetSampleRate))
	} else if d.MaxVoiceFrequency >= float64(r.TargetSampleRate)/2 {
		errs = append(errs, fmt.Errorf("detection.max_voice_frequency %.0f must be below the Nyquist frequency of render.target_sample_rate %d", d.MaxVoiceFrequency, r.TargetSampleRate))
	}
	if r.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("render.max_concurrent %d must not be negative", r.MaxConcurrent))
	}
	if r.MinRMS < 0 {
		errs = append(errs, fmt.Errorf("render.min_rms %.1f must not be negative", r.MinRMS))
	}

	// Sinks
	if len(cfg.Sinks) == 0 {
		slog.Warn("no sinks configured; utterances will be rendered and discarded")
	}
	for i, s := range cfg.Sinks {
		errs = append(errs, validateSink(fmt.Sprintf("sinks[%d]", i), s)...)
	}

	return errors.Join(errs...)
}

func validateSink(prefix string, s SinkEntry) []error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if len(s.Fallback) > 0 {
		for i, f := range s.Fallback {
			if len(f.Fallback) > 0 {
				errs = append(errs, fmt.Errorf("%s.fallback[%d]: fallback groups cannot be nested", prefix, i))
				continue
			}
			errs = append(errs, validateSink(fmt.Sprintf("%s.fallback[%d]", prefix, i), f)...)
		}
		return errs
	}
	switch s.Name {
	case "wavdir":
		if s.Options["dir"] == "" {
			errs = append(errs, fmt.Errorf("%s.options.dir is required for wavdir", prefix))
		}
	case "websocket", "whisper":
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required for %s", prefix, s.Name))
		}
	case "openai":
		if s.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for openai (or set %s)", prefix, EnvOpenAIAPIKey))
		}
	case "":
	default:
		warnUnknown("sink", s.Name, KnownSinks)
	}
	if cb := s.CircuitBreaker; cb != nil && (cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0) {
		errs = append(errs, fmt.Errorf("%s.circuit_breaker values must not be negative", prefix))
	}
	return errs
}

// warnUnknown logs a warning if name is not in known.
func warnUnknown(kind, name string, known []string) {
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
