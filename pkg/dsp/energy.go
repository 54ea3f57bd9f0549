package dsp

// Voice band edges in Hz.
const (
	DefaultMinVoiceFrequency = 300.0
	DefaultMaxVoiceFrequency = 3400.0
)

// Band selects the bins that contribute to voice energy and the noise gate
// applied to their mean.
type Band struct {
	MinFrequency float64
	MaxFrequency float64

	// NoiseGate forces the energy to zero unless the band mean is strictly
	// greater than it.
	NoiseGate float64
}

// VoiceBand returns the 300–3400 Hz band with the given gate.
func VoiceBand(gate float64) Band {
	return Band{
		MinFrequency: DefaultMinVoiceFrequency,
		MaxFrequency: DefaultMaxVoiceFrequency,
		NoiseGate:    gate,
	}
}

// VoiceEnergyFromBins returns the mean of bins whose centre frequency
// i·sampleRate/windowSize lies in [band.MinFrequency, band.MaxFrequency].
// Bins outside the band never contribute. If no bin falls inside the band, or
// the mean does not exceed the gate, the result is 0.
func VoiceEnergyFromBins(bins []float64, sampleRate, windowSize int, band Band) float64 {
	if sampleRate <= 0 || windowSize <= 0 {
		return 0
	}
	var sum float64
	var count int
	for i, m := range bins {
		f := BinFrequency(i, sampleRate, windowSize)
		if f < band.MinFrequency || f > band.MaxFrequency {
			continue
		}
		sum += m
		count++
	}
	if count == 0 {
		return 0
	}
	avg := sum / float64(count)
	if avg > band.NoiseGate {
		return avg
	}
	return 0
}

// VoiceEnergy analyses the current window and reduces it to voice-band energy.
func (a *Analyzer) VoiceEnergy(band Band) float64 {
	return VoiceEnergyFromBins(a.Magnitudes(), a.cfg.SampleRate, a.cfg.WindowSize, band)
}
