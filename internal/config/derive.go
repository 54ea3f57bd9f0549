package config

import (
	"log/slog"

	"github.com/MrWong99/uttercap/internal/resilience"
	"github.com/MrWong99/uttercap/pkg/dsp"
	"github.com/MrWong99/uttercap/pkg/vad"
)

// VAD converts the analysis and detection sections into a [vad.Config].
// Analysis.SampleRate is left at zero; the capture controller fills it in
// from the opened stream.
func (c *Config) VAD() vad.Config {
	a := c.Analysis
	smoothing := dsp.DefaultSmoothing
	if a.Smoothing != nil {
		smoothing = *a.Smoothing
	}
	return vad.Config{
		Analysis: dsp.AnalyzerConfig{
			WindowSize:  a.WindowSize,
			Scale:       dsp.Scale(a.Scale),
			Smoothing:   smoothing,
			MinDecibels: a.MinDecibels,
			MaxDecibels: a.MaxDecibels,
			Gain:        a.Gain,
		},
		Band: dsp.Band{
			MinFrequency: c.Detection.MinVoiceFrequency,
			MaxFrequency: c.Detection.MaxVoiceFrequency,
			NoiseGate:    c.Detection.NoiseGate,
		},
		SilenceThreshold:      c.Detection.SilenceThreshold,
		SilenceTimeoutSeconds: c.Detection.SilenceTimeoutSeconds,
	}
}

// breakerConfig converts the entry's circuit breaker settings. Zero fields
// take the resilience defaults.
func (e SinkEntry) breakerConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.CircuitBreakerConfig{
		Name:          "sink/" + e.Name,
		OnStateChange: logBreakerChange,
	}
	if cb := e.CircuitBreaker; cb != nil {
		cfg.MaxFailures = cb.MaxFailures
		cfg.ResetTimeout = cb.ResetTimeout
		cfg.HalfOpenMax = cb.HalfOpenMax
	}
	return cfg
}

func (e SinkEntry) fallbackConfig() resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: e.breakerConfig()}
}

func logBreakerChange(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
}
