// Package dsp provides the signal-processing primitives used for voice
// activity analysis and offline rendering: a sliding-window spectrum
// analyser, the voice-band energy reduction and a band-pass biquad filter.
//
// The analyser reproduces the behaviour of a Web Audio AnalyserNode so that
// thresholds tuned against a browser capture keep their meaning: a Blackman
// window is applied to the most recent WindowSize samples, the FFT magnitude
// is normalised by the window size, smoothed over time and (for
// [ScaleByte]) mapped from [MinDecibels, MaxDecibels] onto 0..255.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Scale selects how spectrum magnitudes are reported.
type Scale string

const (
	// ScaleByte maps smoothed magnitudes to decibels and then linearly onto
	// 0..255, clamped. This is the scale silence thresholds are tuned on.
	ScaleByte Scale = "byte"

	// ScaleLinear reports smoothed |X[k]|/N directly.
	ScaleLinear Scale = "linear"
)

// Defaults matching the browser analyser.
const (
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	minWindowSize = 32
	maxWindowSize = 32768
)

// AnalyzerConfig configures an [Analyzer].
type AnalyzerConfig struct {
	// SampleRate of the samples passed to Write, in Hz.
	SampleRate int

	// WindowSize is the FFT length. Must be a power of two in [32, 32768].
	WindowSize int

	// Scale selects the magnitude scale. Empty means [ScaleByte].
	Scale Scale

	// Smoothing is the time-averaging constant in [0, 1).
	Smoothing float64

	// MinDecibels and MaxDecibels bound the byte scale.
	MinDecibels float64
	MaxDecibels float64

	// Gain is a static linear gain applied to samples before analysis. Zero
	// means unity.
	Gain float64
}

// DefaultAnalyzerConfig returns a byte-scale configuration with the browser
// analyser's smoothing and decibel range.
func DefaultAnalyzerConfig(sampleRate, windowSize int) AnalyzerConfig {
	return AnalyzerConfig{
		SampleRate:  sampleRate,
		WindowSize:  windowSize,
		Scale:       ScaleByte,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		Gain:        1,
	}
}

// Validate reports every invalid field in cfg.
func (c AnalyzerConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("dsp: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.WindowSize < minWindowSize || c.WindowSize > maxWindowSize || c.WindowSize&(c.WindowSize-1) != 0 {
		errs = append(errs, fmt.Errorf("dsp: window size must be a power of two in [%d, %d], got %d", minWindowSize, maxWindowSize, c.WindowSize))
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		errs = append(errs, fmt.Errorf("dsp: smoothing must be in [0, 1), got %g", c.Smoothing))
	}
	switch c.Scale {
	case "", ScaleByte:
		if c.MinDecibels >= c.MaxDecibels {
			errs = append(errs, fmt.Errorf("dsp: min decibels (%g) must be below max decibels (%g)", c.MinDecibels, c.MaxDecibels))
		}
	case ScaleLinear:
	default:
		errs = append(errs, fmt.Errorf("dsp: unknown scale %q", c.Scale))
	}
	if c.Gain < 0 {
		errs = append(errs, fmt.Errorf("dsp: gain must not be negative, got %g", c.Gain))
	}
	return errors.Join(errs...)
}

// Analyzer computes the magnitude spectrum of the most recent WindowSize mono
// samples. It is not safe for concurrent use; each capture session owns one.
type Analyzer struct {
	cfg    AnalyzerConfig
	gain   float64
	fft    *fourier.FFT
	window []float64

	ring []float64
	pos  int

	scratch  []float64
	coeffs   []complex128
	smoothed []float64
	out      []float64
}

// NewAnalyzer validates cfg and returns a ready analyser. The window starts
// out filled with silence.
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.Scale == "" {
		cfg.Scale = ScaleByte
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gain := cfg.Gain
	if gain == 0 {
		gain = 1
	}
	n := cfg.WindowSize
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return &Analyzer{
		cfg:      cfg,
		gain:     gain,
		fft:      fourier.NewFFT(n),
		window:   window.Blackman(w),
		ring:     make([]float64, n),
		scratch:  make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
		smoothed: make([]float64, n/2),
		out:      make([]float64, n/2),
	}, nil
}

// Config returns the analyser's configuration.
func (a *Analyzer) Config() AnalyzerConfig { return a.cfg }

// BinCount returns the number of frequency bins, WindowSize/2.
func (a *Analyzer) BinCount() int { return a.cfg.WindowSize / 2 }

// BinFrequency returns the frequency of bin i in Hz.
func (a *Analyzer) BinFrequency(i int) float64 {
	return BinFrequency(i, a.cfg.SampleRate, a.cfg.WindowSize)
}

// Write appends mono samples to the analysis window, applying the input gain.
// Only the most recent WindowSize samples are retained.
func (a *Analyzer) Write(samples []float32) {
	n := len(a.ring)
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s) * a.gain
		a.pos = (a.pos + 1) % n
	}
}

// Magnitudes computes the spectrum of the current window and advances the
// smoothing state. The returned slice has [Analyzer.BinCount] entries and is
// reused by the next call.
func (a *Analyzer) Magnitudes() []float64 {
	n := len(a.ring)
	for i := range n {
		a.scratch[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	coeffs := a.fft.Coefficients(a.coeffs, a.scratch)

	tau := a.cfg.Smoothing
	scale := 1 / float64(n)
	for k := range a.smoothed {
		mag := cmplx.Abs(coeffs[k]) * scale
		s := tau*a.smoothed[k] + (1-tau)*mag
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		a.smoothed[k] = s
	}

	if a.cfg.Scale == ScaleLinear {
		copy(a.out, a.smoothed)
		return a.out
	}

	rangeScale := 1 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	for k, s := range a.smoothed {
		db := 20 * math.Log10(s)
		v := 255 * (db - a.cfg.MinDecibels) * rangeScale
		// -Inf dB (silent bin) lands below zero and clamps there.
		a.out[k] = math.Floor(max(0, min(255, v)))
	}
	return a.out
}

// Reset clears the sample window and the smoothing state.
func (a *Analyzer) Reset() {
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// BinFrequency returns i·sampleRate/windowSize.
func BinFrequency(i, sampleRate, windowSize int) float64 {
	return float64(i) * float64(sampleRate) / float64(windowSize)
}
