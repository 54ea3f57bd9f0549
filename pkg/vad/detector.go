package vad

// TimeoutFrames converts a silence timeout to ticks:
// seconds·sampleRate/windowSize. The result is fractional; the detector fires
// on the first whole tick count at or above it.
func TimeoutFrames(seconds float64, sampleRate, windowSize int) float64 {
	if windowSize <= 0 {
		return 0
	}
	return seconds * float64(sampleRate) / float64(windowSize)
}

// Detector is the Silence/Voice hysteresis state machine. It is not safe for
// concurrent use.
type Detector struct {
	threshold     float64
	timeoutFrames float64

	state  State
	silent int
}

// NewDetector returns a detector in the [Silence] state.
func NewDetector(threshold, timeoutFrames float64) *Detector {
	return &Detector{threshold: threshold, timeoutFrames: timeoutFrames}
}

// Observe advances the detector by one tick.
//
// Energy at or above the threshold is voice and resets the silent count.
// Anything below increments it; while in [Voice], reaching the timeout emits
// [EventEndOfUtterance] and returns to [Silence].
func (d *Detector) Observe(energy float64) Event {
	if energy >= d.threshold {
		typ := EventVoice
		if d.state == Silence {
			typ = EventVoiceStart
		}
		d.state = Voice
		d.silent = 0
		return Event{Type: typ, State: d.state, Energy: energy}
	}

	d.silent++
	if d.state != Voice {
		return Event{Type: EventSilence, State: d.state, Energy: energy, SilentFrames: d.silent}
	}
	if float64(d.silent) >= d.timeoutFrames {
		d.state = Silence
		return Event{Type: EventEndOfUtterance, State: d.state, Energy: energy, SilentFrames: d.silent}
	}
	return Event{Type: EventVoice, State: d.state, Energy: energy, SilentFrames: d.silent}
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// SilentFrames returns the number of consecutive sub-threshold ticks.
func (d *Detector) SilentFrames() int { return d.silent }

// Reset returns the detector to [Silence] with a zero silent count.
func (d *Detector) Reset() {
	d.state = Silence
	d.silent = 0
}
