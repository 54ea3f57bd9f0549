// Package sink defines where finished utterances go.
//
// A [Sink] receives one [Utterance] per finalised segment: 16-bit
// little-endian mono PCM at the render rate plus capture metadata. Concrete
// sinks live in sub-packages (wavdir, websink, whisper, openai). This package
// provides the composition helpers: [Multi] fans out to several sinks,
// [Guard] puts a sink behind a circuit breaker and [Fallback] tries sinks in
// order until one accepts the utterance.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/uttercap/internal/observe"
	"github.com/MrWong99/uttercap/internal/resilience"
	"github.com/MrWong99/uttercap/pkg/audio"
)

// Utterance is a rendered, encoded segment ready for delivery.
type Utterance struct {
	// ID is the segment ID assigned at capture time.
	ID uuid.UUID

	// PCM is mono signed 16-bit little-endian audio. It must not be modified;
	// the same slice is shared by every sink.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int

	// StartedAt is when capture of the segment began.
	StartedAt time.Time

	// Duration is the length of PCM.
	Duration time.Duration
}

// NewUtterance builds an Utterance and derives Duration from the PCM length.
func NewUtterance(id uuid.UUID, pcm []byte, sampleRate int, startedAt time.Time) Utterance {
	u := Utterance{ID: id, PCM: pcm, SampleRate: sampleRate, StartedAt: startedAt}
	if sampleRate > 0 {
		u.Duration = time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
	}
	return u
}

// Samples returns the number of PCM samples.
func (u Utterance) Samples() int { return len(u.PCM) / 2 }

// Format returns the mono format of PCM.
func (u Utterance) Format() audio.Format {
	return audio.Format{SampleRate: u.SampleRate, Channels: 1}
}

// WAV wraps PCM in a WAV container.
func (u Utterance) WAV() ([]byte, error) {
	return audio.EncodeWAV(u.PCM, u.Format())
}

// Sink receives finished utterances.
//
// Implementations must be safe for concurrent use: the render pool may
// deliver several utterances at once.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver hands u to the sink. It blocks until the sink has accepted or
	// rejected the utterance, or ctx is done.
	Deliver(ctx context.Context, u Utterance) error
}

// TranscriptFunc receives the text recognised for an utterance by a
// transcribing sink.
type TranscriptFunc func(ctx context.Context, u Utterance, text string)

// ─── Func ─────────────────────────────────────────────────────────────────────

type funcSink struct {
	name string
	fn   func(context.Context, Utterance) error
}

// Func adapts fn to a [Sink] called name.
func Func(name string, fn func(context.Context, Utterance) error) Sink {
	return funcSink{name: name, fn: fn}
}

func (f funcSink) Name() string { return f.name }

func (f funcSink) Deliver(ctx context.Context, u Utterance) error { return f.fn(ctx, u) }

// ─── Multi ────────────────────────────────────────────────────────────────────

// Multi delivers every utterance to all of its sinks concurrently.
type Multi struct {
	sinks   []Sink
	metrics *observe.Metrics
}

// MultiOption is a functional option for [NewMulti].
type MultiOption func(*Multi)

// WithMetrics records per-sink delivery counts and latency.
func WithMetrics(m *observe.Metrics) MultiOption {
	return func(mu *Multi) { mu.metrics = m }
}

// NewMulti returns a fan-out sink over sinks.
func NewMulti(sinks []Sink, opts ...MultiOption) *Multi {
	m := &Multi{sinks: sinks}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements [Sink].
func (m *Multi) Name() string { return "multi" }

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Deliver implements [Sink]. A failing sink does not stop the others; all
// errors are joined.
func (m *Multi) Deliver(ctx context.Context, u Utterance) error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			start := time.Now()
			err := s.Deliver(ctx, u)
			if m.metrics != nil {
				m.metrics.RecordSinkDelivery(ctx, s.Name(), time.Since(start).Seconds(), err)
			}
			if err != nil {
				errs[i] = fmt.Errorf("sink %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// ─── Guard ────────────────────────────────────────────────────────────────────

type guarded struct {
	Sink
	breaker *resilience.CircuitBreaker
}

// Guard wraps s in a circuit breaker named after the sink. While the breaker
// is open, Deliver fails fast with [resilience.ErrCircuitOpen].
func Guard(s Sink, cfg resilience.CircuitBreakerConfig) Sink {
	cfg.Name = s.Name()
	return &guarded{Sink: s, breaker: resilience.NewCircuitBreaker(cfg)}
}

func (g *guarded) Deliver(ctx context.Context, u Utterance) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Sink.Deliver(ctx, u)
	})
}

// ─── Fallback ─────────────────────────────────────────────────────────────────

type fallback struct {
	name  string
	group *resilience.FallbackGroup[Sink]
}

// Fallback returns a sink that delivers to the first of sinks that succeeds.
// Each entry gets its own circuit breaker from cfg. It panics if sinks is
// empty.
func Fallback(name string, cfg resilience.FallbackConfig, sinks ...Sink) Sink {
	if len(sinks) == 0 {
		panic("sink: Fallback needs at least one sink")
	}
	g := resilience.NewFallbackGroup(sinks[0].Name(), sinks[0], cfg)
	for _, s := range sinks[1:] {
		g.AddFallback(s.Name(), s)
	}
	return &fallback{name: name, group: g}
}

func (f *fallback) Name() string { return f.name }

func (f *fallback) Deliver(ctx context.Context, u Utterance) error {
	_, err := f.group.Execute(ctx, func(ctx context.Context, s Sink) error {
		return s.Deliver(ctx, u)
	})
	return err
}
