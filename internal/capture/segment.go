package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/uttercap/pkg/audio"
)

// Reason records why a segment was finalised.
type Reason string

const (
	// ReasonEndOfUtterance means the detector's silence timeout elapsed.
	ReasonEndOfUtterance Reason = "end_of_utterance"

	// ReasonStopped means Stop was called.
	ReasonStopped Reason = "stopped"

	// ReasonStreamEnded means the source stopped delivering frames, either at
	// end of input or because the device failed.
	ReasonStreamEnded Reason = "stream_ended"
)

// Segment is one finalised utterance as captured: native format, interleaved
// samples.
type Segment struct {
	ID        uuid.UUID
	Format    audio.Format
	Samples   []float32
	StartedAt time.Time
	EndedAt   time.Time
	Reason    Reason
}

// Empty reports whether no samples were captured.
func (s Segment) Empty() bool { return len(s.Samples) == 0 }

// Duration returns the captured audio length derived from the sample count.
func (s Segment) Duration() time.Duration {
	if !s.Format.Valid() {
		return 0
	}
	frames := len(s.Samples) / s.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(s.Format.SampleRate)
}

// Handler receives finalised, non-empty segments. HandleSegment is called
// from the capture loop and must not block; hand the work off to another
// goroutine.
type Handler interface {
	HandleSegment(Segment)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(Segment)

// HandleSegment implements [Handler].
func (f HandlerFunc) HandleSegment(s Segment) { f(s) }

// segmentBuffer accumulates frames for the live segment.
type segmentBuffer struct {
	id        uuid.UUID
	format    audio.Format
	samples   []float32
	startedAt time.Time
}

func newSegmentBuffer(f audio.Format, now time.Time) *segmentBuffer {
	return &segmentBuffer{id: uuid.New(), format: f, startedAt: now}
}

func (b *segmentBuffer) append(fr audio.Frame) {
	b.samples = append(b.samples, fr.Samples...)
}

func (b *segmentBuffer) finalize(reason Reason, now time.Time) Segment {
	return Segment{
		ID:        b.id,
		Format:    b.format,
		Samples:   b.samples,
		StartedAt: b.startedAt,
		EndedAt:   now,
		Reason:    reason,
	}
}
