// Package vad defines the voice-activity detection contract used by the
// capture controller, plus the silence/voice hysteresis detector shared by all
// engines.
//
// A VAD engine turns a stream of mono sample blocks into per-tick [Event]
// values. Each capture segment gets its own session so that analysis state
// (sample window, smoothing history, silent-frame count) never leaks from one
// utterance into the next.
//
// ProcessFrame is synchronous by design: it returns immediately with a
// detection result, making it suitable for the non-blocking analysis tick.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"

	"github.com/MrWong99/uttercap/pkg/dsp"
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Defaults taken from the responsive capture profile.
const (
	DefaultSilenceThreshold      = 5.0
	DefaultSilenceTimeoutSeconds = 0.1
)

// Config holds the parameters for a VAD session.
type Config struct {
	// Analysis configures the spectrum analyser. Analysis.SampleRate must match
	// the rate of the samples passed to ProcessFrame.
	Analysis dsp.AnalyzerConfig

	// Band selects the voice band and the noise gate.
	Band dsp.Band

	// SilenceThreshold is the voice-energy level at or above which a tick counts
	// as voice. Expressed on the analyser's magnitude scale.
	SilenceThreshold float64

	// SilenceTimeoutSeconds is the amount of continuous silence that ends an
	// utterance. It is converted to ticks with [TimeoutFrames].
	SilenceTimeoutSeconds float64
}

// Validate reports every invalid field in cfg.
func (c Config) Validate() error {
	var errs []error
	if err := c.Analysis.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Band.MinFrequency < 0 || c.Band.MaxFrequency <= c.Band.MinFrequency {
		errs = append(errs, fmt.Errorf("vad: invalid voice band [%g, %g]", c.Band.MinFrequency, c.Band.MaxFrequency))
	}
	if c.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad: silence threshold must not be negative, got %g", c.SilenceThreshold))
	}
	if c.SilenceTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("vad: silence timeout must be positive, got %g", c.SilenceTimeoutSeconds))
	}
	return errors.Join(errs...)
}

// TimeoutFrames returns the configured silence timeout in ticks.
func (c Config) TimeoutFrames() float64 {
	return TimeoutFrames(c.SilenceTimeoutSeconds, c.Analysis.SampleRate, c.Analysis.WindowSize)
}

// SessionHandle represents an active VAD session for a single capture segment.
type SessionHandle interface {
	// ProcessFrame feeds one block of mono samples (which may be empty when no
	// audio arrived since the previous tick), analyses the current window and
	// advances the detector by one tick.
	ProcessFrame(samples []float32) (Event, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns [ErrSessionClosed]. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new session. Returns an error if cfg is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
