// Package config provides the configuration schema, loader, hot-reload
// watcher and component registry for uttercap.
package config

import (
	"log/slog"
	"time"
)

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

// Level maps l to the slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Profile names a bundle of analysis and detection defaults.
type Profile string

const (
	// ProfileResponsive uses a 256-sample window, a 0.1 s silence timeout and
	// a 0.9 input gain stage. Utterances end quickly.
	ProfileResponsive Profile = "responsive"

	// ProfileConservative uses a 2048-sample window, a 0.5 s silence timeout
	// and no gain stage. Fewer, longer utterances.
	ProfileConservative Profile = "conservative"
)

// IsValid reports whether p is a known profile.
func (p Profile) IsValid() bool {
	return p == ProfileResponsive || p == ProfileConservative
}

// Scale selects the analyser's magnitude scale.
type Scale string

const (
	ScaleByte   Scale = "byte"
	ScaleLinear Scale = "linear"
)

// IsValid reports whether s is a known scale.
func (s Scale) IsValid() bool {
	return s == ScaleByte || s == ScaleLinear
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Detection DetectionConfig `yaml:"detection"`
	Render    RenderConfig    `yaml:"render"`
	Sinks     []SinkEntry     `yaml:"sinks"`
}

// ServerConfig holds network and logging settings for the status server.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status server (e.g., ":9090").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig selects the input and drives the capture loop.
type CaptureConfig struct {
	// Profile is required. It supplies defaults for the analysis and
	// detection sections.
	Profile Profile `yaml:"profile"`

	// AutoStart begins capturing as soon as the process starts. When false,
	// capture waits for POST /capture/start.
	AutoStart bool `yaml:"auto_start"`

	// TickInterval is the analysis period. Default: 1/60 s.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxFramesPerTick bounds how many source frames one tick drains. Zero
	// drains everything available.
	MaxFramesPerTick int `yaml:"max_frames_per_tick"`

	// Source selects the registered audio source.
	Source SourceEntry `yaml:"source"`
}

// SourceEntry configures the audio source. Name selects the constructor in
// the [Registry].
type SourceEntry struct {
	// Name is "portaudio" or "wav".
	Name string `yaml:"name"`

	// SampleRate requests a device rate in Hz. Ignored by file sources.
	SampleRate int `yaml:"sample_rate"`

	// Channels requests a device channel count. Ignored by file sources.
	Channels int `yaml:"channels"`

	// FramesPerBuffer is the device buffer size in samples per channel.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// Options holds source-specific values (e.g. path, realtime, loop for the
	// wav source).
	Options map[string]string `yaml:"options"`
}

// AnalysisConfig configures the spectrum analyser. Zero values take the
// profile default.
type AnalysisConfig struct {
	// WindowSize is the FFT size; a power of two.
	WindowSize int `yaml:"window_size"`

	// Scale is "byte" (0..255 decibel scale) or "linear". Default: byte.
	Scale Scale `yaml:"scale"`

	// Smoothing is the time-smoothing constant in [0, 1). Default: 0.8.
	Smoothing *float64 `yaml:"smoothing"`

	// MinDecibels and MaxDecibels bound the byte scale. Defaults: -100, -30.
	MinDecibels float64 `yaml:"min_decibels"`
	MaxDecibels float64 `yaml:"max_decibels"`

	// Gain is the static input gain applied before analysis.
	Gain float64 `yaml:"gain"`
}

// DetectionConfig configures voice activity detection. Zero values take the
// profile default.
type DetectionConfig struct {
	// SilenceThreshold is the voice-energy level at or above which a tick
	// counts as voice.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceTimeoutSeconds is the continuous silence that ends an utterance.
	SilenceTimeoutSeconds float64 `yaml:"silence_timeout_seconds"`

	// MinVoiceFrequency and MaxVoiceFrequency bound the voice band in Hz.
	// Defaults: 300 and 3400.
	MinVoiceFrequency float64 `yaml:"min_voice_frequency"`
	MaxVoiceFrequency float64 `yaml:"max_voice_frequency"`

	// NoiseGate forces the voice energy to zero when it is not above this
	// level. Default: 0.
	NoiseGate float64 `yaml:"noise_gate"`
}

// RenderConfig configures offline rendering and delivery.
type RenderConfig struct {
	// TargetSampleRate is the output rate. Default: 16000.
	TargetSampleRate int `yaml:"target_sample_rate"`

	// MaxConcurrent bounds parallel segment processing. Default: 2.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MinRMS drops rendered segments quieter than this RMS level on the int16
	// scale. Zero disables the gate.
	MinRMS float64 `yaml:"min_rms"`

	// DeliveryTimeout bounds each sink delivery. Default: 30s.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// SinkEntry configures one output. Name selects the constructor in the
// [Registry]; an entry with Fallback set instead builds a failover group of
// the listed sinks, tried in order.
type SinkEntry struct {
	// Name is "wavdir", "websocket", "whisper" or "openai", or any label for
	// a fallback group.
	Name string `yaml:"name"`

	// URL is the endpoint for websocket and whisper sinks or the API base URL
	// for openai.
	URL string `yaml:"url"`

	// APIKey authenticates against remote APIs. May come from the environment.
	APIKey string `yaml:"api_key"`

	// Model selects a transcription model.
	Model string `yaml:"model"`

	// Language is a transcription language hint.
	Language string `yaml:"language"`

	// Options holds sink-specific values (e.g. dir for wavdir).
	Options map[string]string `yaml:"options"`

	// CircuitBreaker guards remote sinks. Nil uses the breaker defaults.
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Fallback lists the members of a failover group.
	Fallback []SinkEntry `yaml:"fallback"`
}

// CircuitBreakerConfig tunes a sink's circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}
