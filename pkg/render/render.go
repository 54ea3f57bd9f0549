// Package render turns a finalised capture segment into the mono voice-band
// waveform that is encoded and delivered downstream.
//
// Rendering is offline and deterministic: the segment is validated, reduced
// to its first channel, resampled to the target rate and passed through a
// band-pass biquad centred on the voice band.
package render

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/uttercap/pkg/audio"
	"github.com/MrWong99/uttercap/pkg/dsp"
)

// Sentinel errors. Both are per-segment and non-fatal: the caller drops the
// segment and carries on capturing.
var (
	// ErrDecode reports a malformed or empty captured segment.
	ErrDecode = errors.New("render: decode failed")

	// ErrRender reports a filter or output failure.
	ErrRender = errors.New("render: filter render failed")
)

// DefaultTargetSampleRate is the output rate of every rendered segment.
const DefaultTargetSampleRate = 16000

// Renderer renders captured segments. The zero value is not usable; use
// [New] or fill every field.
type Renderer struct {
	// TargetSampleRate is the output rate in Hz.
	TargetSampleRate int

	// MinFrequency and MaxFrequency bound the voice band in Hz. The filter is
	// centred at their midpoint with Q = (max−min)/(min+max).
	MinFrequency float64
	MaxFrequency float64
}

// New returns a renderer producing 16 kHz output for the 300–3400 Hz band.
func New() *Renderer {
	return &Renderer{
		TargetSampleRate: DefaultTargetSampleRate,
		MinFrequency:     dsp.DefaultMinVoiceFrequency,
		MaxFrequency:     dsp.DefaultMaxVoiceFrequency,
	}
}

// Render validates the interleaved samples in format f and returns the
// band-passed mono waveform at the target rate.
func (r *Renderer) Render(samples []float32, f audio.Format) ([]float32, error) {
	if err := decodeCheck(samples, f); err != nil {
		return nil, err
	}

	mono := audio.FirstChannel(samples, f.Channels)
	resampled := audio.Resample(mono, f.SampleRate, r.TargetSampleRate)
	if len(resampled) == 0 {
		return nil, fmt.Errorf("%w: %d samples at %d Hz is shorter than one output sample", ErrDecode, len(mono), f.SampleRate)
	}

	filter, err := dsp.VoiceBandPass(float64(r.TargetSampleRate), r.MinFrequency, r.MaxFrequency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	out := filter.Process(resampled)
	for i, s := range out {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, fmt.Errorf("%w: non-finite output at sample %d", ErrRender, i)
		}
	}
	return out, nil
}

func decodeCheck(samples []float32, f audio.Format) error {
	if !f.Valid() {
		return fmt.Errorf("%w: invalid format %s", ErrDecode, f)
	}
	if len(samples) == 0 {
		return fmt.Errorf("%w: empty segment", ErrDecode)
	}
	if len(samples)%f.Channels != 0 {
		return fmt.Errorf("%w: %d samples do not divide into %d channels", ErrDecode, len(samples), f.Channels)
	}
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return fmt.Errorf("%w: non-finite sample at index %d", ErrDecode, i)
		}
	}
	return nil
}
