package audio

import "fmt"

// FirstChannel extracts channel 0 from interleaved samples. For mono input
// the slice is returned unchanged (zero allocation). Trailing samples that do
// not form a complete frame are ignored.
func FirstChannel(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		out[i] = samples[i*channels]
	}
	return out
}

// Resample resamples mono float samples from srcRate to dstRate using linear
// interpolation. The output holds floor(len(samples)·dstRate/srcRate)
// samples. If srcRate == dstRate, the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	srcSamples := len(samples)
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := float64(samples[srcIdx])
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = float64(samples[srcIdx+1])
		}
		out[i] = float32(s0*(1-frac) + s1*frac)
	}
	return out
}

// ApplyGain returns a copy of samples scaled by gain. A gain of exactly 1
// returns the input unchanged.
func ApplyGain(samples []float32, gain float64) []float32 {
	if gain == 1 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) * gain)
	}
	return out
}

// Concat joins frames captured from one stream into a single interleaved
// buffer. All frames must share the format of the first frame.
func Concat(frames []Frame) ([]float32, Format, error) {
	if len(frames) == 0 {
		return nil, Format{}, nil
	}
	f := frames[0].Format()
	n := 0
	for i, fr := range frames {
		if fr.Format() != f {
			return nil, Format{}, fmt.Errorf("audio: concat: frame %d is %s, want %s", i, fr.Format(), f)
		}
		n += len(fr.Samples)
	}
	out := make([]float32, 0, n)
	for _, fr := range frames {
		out = append(out, fr.Samples...)
	}
	return out, f, nil
}
