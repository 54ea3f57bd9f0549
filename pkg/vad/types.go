package vad

// State is the detector's activity state.
type State int

const (
	// Silence is the initial state: no utterance in progress.
	Silence State = iota

	// Voice means an utterance is in progress, including the silent hangover
	// before the timeout elapses.
	Voice
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Silence:
		return "silence"
	case Voice:
		return "voice"
	default:
		return "unknown"
	}
}

// EventType enumerates per-tick detection results.
type EventType int

const (
	// EventSilence is a sub-threshold tick outside an utterance.
	EventSilence EventType = iota

	// EventVoiceStart is the first voice tick of an utterance.
	EventVoiceStart

	// EventVoice is any other tick inside an utterance, voiced or not.
	EventVoice

	// EventEndOfUtterance fires once when accumulated silence reaches the
	// timeout. The detector is back in [Silence] afterwards.
	EventEndOfUtterance
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventSilence:
		return "silence"
	case EventVoiceStart:
		return "voice_start"
	case EventVoice:
		return "voice"
	case EventEndOfUtterance:
		return "end_of_utterance"
	default:
		return "unknown"
	}
}

// Event is the detection result for one analysis tick.
type Event struct {
	// Type is the detection result.
	Type EventType

	// State is the detector state after this tick.
	State State

	// Energy is the voice energy observed on this tick.
	Energy float64

	// SilentFrames is the number of consecutive sub-threshold ticks.
	SilentFrames int
}
