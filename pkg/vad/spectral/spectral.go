// Package spectral implements [vad.Engine] with the FFT voice-band analyser.
//
// Every tick, the session appends the newly captured mono samples to the
// analyser window, reduces the spectrum to voice-band energy and feeds that
// energy to the hysteresis detector.
package spectral

import (
	"fmt"
	"sync"

	"github.com/MrWong99/uttercap/pkg/dsp"
	"github.com/MrWong99/uttercap/pkg/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Engine creates spectral VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a spectral VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a session in the Silence state.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("spectral: %w", err)
	}
	a, err := dsp.NewAnalyzer(cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("spectral: %w", err)
	}
	return &session{
		analyzer: a,
		band:     cfg.Band,
		detector: vad.NewDetector(cfg.SilenceThreshold, cfg.TimeoutFrames()),
	}, nil
}

type session struct {
	mu       sync.Mutex
	analyzer *dsp.Analyzer
	band     dsp.Band
	detector *vad.Detector
	closed   bool
}

func (s *session) ProcessFrame(samples []float32) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, vad.ErrSessionClosed
	}
	s.analyzer.Write(samples)
	return s.detector.Observe(s.analyzer.VoiceEnergy(s.band)), nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzer.Reset()
	s.detector.Reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
