package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Biquad is a second-order IIR filter in direct form I. Coefficients are
// normalised so that a0 == 1.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64

	sampleRate float64
}

// NewBandPass returns a constant 0 dB peak gain band-pass filter centred on
// center Hz with quality factor q (the Web Audio "bandpass" biquad).
func NewBandPass(sampleRate, center, q float64) (*Biquad, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("dsp: band-pass: sample rate must be positive, got %g", sampleRate)
	}
	if center <= 0 || center >= sampleRate/2 {
		return nil, fmt.Errorf("dsp: band-pass: centre %g Hz outside (0, %g)", center, sampleRate/2)
	}
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return nil, fmt.Errorf("dsp: band-pass: q must be positive and finite, got %g", q)
	}

	w0 := 2 * math.Pi * center / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha

	return &Biquad{
		b0:         alpha / a0,
		b1:         0,
		b2:         -alpha / a0,
		a1:         -2 * math.Cos(w0) / a0,
		a2:         (1 - alpha) / a0,
		sampleRate: sampleRate,
	}, nil
}

// VoiceBandPass returns the band-pass filter for [minFreq, maxFreq]: centre
// (min+max)/2 and Q = (max−min)/(min+max).
func VoiceBandPass(sampleRate, minFreq, maxFreq float64) (*Biquad, error) {
	if minFreq <= 0 || maxFreq <= minFreq {
		return nil, fmt.Errorf("dsp: band-pass: invalid band [%g, %g]", minFreq, maxFreq)
	}
	return NewBandPass(sampleRate, (minFreq+maxFreq)/2, (maxFreq-minFreq)/(minFreq+maxFreq))
}

// Process filters samples and returns a new slice. Filter state carries over
// between calls.
func (b *Biquad) Process(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		x := float64(s)
		y := b.b0*x + b.b1*b.x1 + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
		b.x2, b.x1 = b.x1, x
		b.y2, b.y1 = b.y1, y
		out[i] = float32(y)
	}
	return out
}

// Reset clears the filter's delay line.
func (b *Biquad) Reset() {
	b.x1, b.x2, b.y1, b.y2 = 0, 0, 0, 0
}

// Response returns the magnitude of the filter's frequency response at freq Hz.
func (b *Biquad) Response(freq float64) float64 {
	w := 2 * math.Pi * freq / b.sampleRate
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	num := complex(b.b0, 0) + complex(b.b1, 0)*z1 + complex(b.b2, 0)*z2
	den := 1 + complex(b.a1, 0)*z1 + complex(b.a2, 0)*z2
	return cmplx.Abs(num / den)
}
