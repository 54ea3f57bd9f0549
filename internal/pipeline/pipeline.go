// Package pipeline turns finalised capture segments into delivered
// utterances: render, loudness gate, PCM encode, sink delivery.
//
// [Pipeline] implements [capture.Handler]. HandleSegment returns immediately
// and the work runs on a bounded pool, so the capture loop never waits for
// rendering or for a slow sink. A segment that fails to decode or render is
// logged and dropped; capture carries on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/uttercap/internal/capture"
	"github.com/MrWong99/uttercap/internal/observe"
	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/pkg/audio"
	"github.com/MrWong99/uttercap/pkg/render"
)

// Defaults for [Config].
const (
	DefaultMaxConcurrent   = 2
	DefaultDeliveryTimeout = 30 * time.Second
)

// Compile-time interface assertion.
var _ capture.Handler = (*Pipeline)(nil)

// Config holds the pipeline tunables.
type Config struct {
	// MaxConcurrent bounds how many segments are processed at once.
	MaxConcurrent int

	// MinRMS drops rendered segments whose RMS level (int16 scale) is below
	// it. Zero disables the gate.
	MinRMS float64

	// DeliveryTimeout bounds each sink delivery.
	DeliveryTimeout time.Duration
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithMetrics records segment outcomes and render latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline renders, encodes and delivers segments.
type Pipeline struct {
	renderer *render.Renderer
	sink     sink.Sink
	cfg      Config
	metrics  *observe.Metrics

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a pipeline delivering to s.
func New(r *render.Renderer, s sink.Sink, cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	p := &Pipeline{
		renderer: r,
		sink:     s,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// HandleSegment implements [capture.Handler]. It queues seg for asynchronous
// processing and returns immediately. Segments arriving after [Pipeline.Close]
// are dropped.
func (p *Pipeline) HandleSegment(seg capture.Segment) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		slog.Warn("pipeline: closed, segment dropped", "segment_id", seg.ID.String())
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		ctx := context.Background()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		_, _ = p.Process(ctx, seg)
	}()
}

// Process renders, gates, encodes and delivers seg synchronously. It returns
// the segment outcome (one of the observe.Outcome* constants) and the error
// that caused a non-delivered outcome, if any.
func (p *Pipeline) Process(ctx context.Context, seg capture.Segment) (string, error) {
	ctx = observe.WithSegmentID(ctx, seg.ID.String())
	ctx, span := observe.StartSegmentSpan(ctx, "pipeline.process",
		attribute.Int("segment.samples", len(seg.Samples)),
		attribute.String("segment.reason", string(seg.Reason)),
	)
	defer span.End()
	log := observe.Logger(ctx)

	outcome, err := p.process(ctx, seg, log)
	span.SetAttributes(attribute.String("segment.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if p.metrics != nil {
		p.metrics.RecordSegment(ctx, outcome, seg.Duration().Seconds())
	}
	return outcome, err
}

func (p *Pipeline) process(ctx context.Context, seg capture.Segment, log *slog.Logger) (string, error) {
	start := time.Now()
	rendered, err := p.renderer.Render(seg.Samples, seg.Format)
	if err != nil {
		outcome := observe.OutcomeRenderFailed
		if errors.Is(err, render.ErrDecode) {
			outcome = observe.OutcomeDecodeFailed
		}
		log.Warn("pipeline: segment dropped", "outcome", outcome, "err", err)
		return outcome, err
	}

	if p.cfg.MinRMS > 0 {
		if rms := audio.RMS(rendered); rms < p.cfg.MinRMS {
			log.Debug("pipeline: segment below loudness gate", "rms", rms, "min_rms", p.cfg.MinRMS)
			return observe.OutcomeEmpty, nil
		}
	}

	pcm := audio.EncodePCM16(rendered)
	if p.metrics != nil {
		p.metrics.RenderDuration.Record(ctx, time.Since(start).Seconds())
	}

	u := sink.NewUtterance(seg.ID, pcm, p.renderer.TargetSampleRate, seg.StartedAt)
	dctx, cancel := context.WithTimeout(ctx, p.cfg.DeliveryTimeout)
	defer cancel()
	if err := p.sink.Deliver(dctx, u); err != nil {
		log.Error("pipeline: delivery failed", "sink", p.sink.Name(), "err", err)
		return observe.OutcomeSinkFailed, fmt.Errorf("pipeline: deliver: %w", err)
	}
	log.Info("pipeline: utterance delivered",
		"sink", p.sink.Name(),
		"samples", u.Samples(),
		"duration", u.Duration,
	)
	return observe.OutcomeDelivered, nil
}

// Close stops accepting new segments. In-flight segments keep running; use
// [Pipeline.Wait] to drain them.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Wait blocks until every queued segment has been processed or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline: wait: %w", ctx.Err())
	}
}
