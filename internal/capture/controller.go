// Package capture implements the segment controller: it owns the audio
// source and the live recording segment, drives the analysis tick loop, and
// splits the input into utterances by restarting capture whenever the voice
// activity detector reports the end of an utterance.
//
// Finalised, non-empty segments are handed to a [Handler] which is expected to
// render and deliver them asynchronously. All exported methods of
// [Controller] are safe for concurrent use.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/uttercap/internal/observe"
	"github.com/MrWong99/uttercap/pkg/audio"
	"github.com/MrWong99/uttercap/pkg/vad"
)

// DefaultTickInterval is one analysis tick per display frame at 60 Hz.
const DefaultTickInterval = time.Second / 60

// ErrAlreadyRecording is returned by [Controller.Start] when a segment is
// live or a start is still pending.
var ErrAlreadyRecording = errors.New("capture: already recording")

// Status is the controller's lifecycle state.
type Status int

const (
	// StatusIdle means no source is open.
	StatusIdle Status = iota

	// StatusOpening means a Start is waiting for the source to open.
	StatusOpening

	// StatusRecording means a segment is live and the tick loop is running.
	StatusRecording

	// StatusFailed means the last open or the live stream failed. Start may be
	// called again.
	StatusFailed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusOpening:
		return "opening"
	case StatusRecording:
		return "recording"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the tunables of a [Controller].
type Config struct {
	// VAD configures each segment's detection session. VAD.Analysis.SampleRate
	// is overwritten with the opened stream's rate.
	VAD vad.Config

	// TickInterval is the period of the analysis loop. Zero means
	// [DefaultTickInterval].
	TickInterval time.Duration

	// MaxFramesPerTick bounds how many frames are drained per tick. Zero means
	// drain everything available. Set it when replaying files faster than
	// real time so that each tick sees a bounded slice of audio.
	MaxFramesPerTick int
}

// Snapshot is a point-in-time view of the controller, as served by the
// status endpoint.
type Snapshot struct {
	Status    Status
	SegmentID string
	StartedAt time.Time
	Segments  int
	Empty     int
	LastError error
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithTicker replaces the analysis ticker factory. Tests use
// [ManualTicker.Factory] to step the loop.
func WithTicker(f TickerFactory) Option {
	return func(c *Controller) { c.newTicker = f }
}

// WithMetrics records tick, capture and segment metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the wall clock used for segment timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the segment controller. Create it with [New].
type Controller struct {
	source  audio.Source
	engine  vad.Engine
	handler Handler

	newTicker TickerFactory
	metrics   *observe.Metrics
	now       func() time.Time

	mu            sync.Mutex
	cfg           Config
	status        Status
	stopRequested bool
	cancel        context.CancelFunc
	done          chan struct{}
	lastErr       error
	segmentID     string
	startedAt     time.Time
	segments      int
	empty         int
}

// New creates an idle controller. handler receives every finalised non-empty
// segment.
func New(source audio.Source, engine vad.Engine, handler Handler, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		source:    source,
		engine:    engine,
		handler:   handler,
		cfg:       cfg,
		newTicker: NewTimeTicker,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetConfig replaces the configuration. The change takes effect when the next
// segment opens, including automatic restarts.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the current state and counters.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Status:    c.status,
		SegmentID: c.segmentID,
		StartedAt: c.startedAt,
		Segments:  c.segments,
		Empty:     c.empty,
		LastError: c.lastErr,
	}
}

// Start opens the source and begins capturing. It returns
// [ErrAlreadyRecording] when a segment is live or another Start is still
// opening the source. If a Stop arrived while that open is pending, Start
// cancels the Stop instead and returns nil: the most recent request wins.
//
// The tick loop outlives ctx; only [Controller.Stop] or a stream failure ends
// it. ctx bounds the open itself.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusOpening:
		if c.stopRequested {
			c.stopRequested = false
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return ErrAlreadyRecording
	case StatusRecording:
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.status = StatusOpening
	c.stopRequested = false
	c.lastErr = nil
	cfg := c.cfg
	c.mu.Unlock()

	stream, sess, err := c.open(ctx, cfg)

	c.mu.Lock()
	if err != nil {
		if c.stopRequested {
			c.status = StatusIdle
		} else {
			c.status = StatusFailed
		}
		c.stopRequested = false
		c.lastErr = err
		c.mu.Unlock()
		slog.Warn("capture: open failed", "err", err)
		return err
	}
	if c.stopRequested {
		c.stopRequested = false
		c.status = StatusIdle
		c.mu.Unlock()
		c.release(ctx, stream, sess)
		slog.Info("capture: stop requested during open, source released")
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	seg := newSegmentBuffer(stream.Format(), c.now())
	c.cancel = cancel
	c.done = done
	c.status = StatusRecording
	c.beginSegment(seg)
	c.mu.Unlock()

	slog.Info("capture: started", "format", stream.Format().String(), "segment_id", seg.id.String())
	go c.run(loopCtx, cfg, stream, sess, seg, done)
	return nil
}

// Stop ends capture: the live segment is finalised (and handed off when
// non-empty), the source is closed and no restart follows. When an open is
// pending, the stop is recorded and applied as soon as the open resolves.
// Stop is a no-op when idle.
//
// Stop waits for the tick loop to exit or for ctx to be done.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusOpening:
		c.stopRequested = true
		c.mu.Unlock()
		slog.Debug("capture: stop deferred until open resolves")
		return nil
	case StatusRecording:
	default:
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture: stop: %w", ctx.Err())
	}
}

// Wait blocks until the current tick loop exits or ctx is done. It returns
// immediately when no loop is running.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// open acquires the source and a fresh detection session for it. On session
// failure the already opened stream is closed.
func (c *Controller) open(ctx context.Context, cfg Config) (audio.Stream, vad.SessionHandle, error) {
	stream, err := c.source.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("capture: open source: %w", err)
	}
	vcfg := cfg.VAD
	vcfg.Analysis.SampleRate = stream.Format().SampleRate
	sess, err := c.engine.NewSession(vcfg)
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("capture: close stream after session failure", "err", cerr)
		}
		return nil, nil, fmt.Errorf("capture: new vad session: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordCaptureActive(ctx, 1)
	}
	return stream, sess, nil
}

// release closes the detection session and the stream.
func (c *Controller) release(ctx context.Context, stream audio.Stream, sess vad.SessionHandle) {
	if err := sess.Close(); err != nil {
		slog.Warn("capture: close vad session", "err", err)
	}
	if err := stream.Close(); err != nil {
		slog.Warn("capture: close stream", "err", err)
	}
	if c.metrics != nil {
		c.metrics.RecordCaptureActive(ctx, -1)
	}
}

// beginSegment records seg as the live segment. Caller holds c.mu.
func (c *Controller) beginSegment(seg *segmentBuffer) {
	c.segmentID = seg.id.String()
	c.startedAt = seg.startedAt
}

// run is the tick loop. It owns stream, sess and seg until it returns.
func (c *Controller) run(ctx context.Context, cfg Config, stream audio.Stream, sess vad.SessionHandle, seg *segmentBuffer, done chan struct{}) {
	ticker := c.newTicker(cmpDuration(cfg.TickInterval, DefaultTickInterval))
	defer ticker.Stop()

	status, err := StatusIdle, error(nil)
	defer func() {
		c.mu.Lock()
		c.status = status
		c.lastErr = err
		c.cancel = nil
		c.done = nil
		c.segmentID = ""
		c.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			c.finalize(ctx, seg, ReasonStopped)
			c.release(ctx, stream, sess)
			slog.Info("capture: stopped")
			return

		case <-ticker.C():
			mono, ended := c.drain(stream, seg, cfg.MaxFramesPerTick)
			if ended {
				c.finalize(ctx, seg, ReasonStreamEnded)
				c.release(ctx, stream, sess)
				if serr := stream.Err(); serr != nil {
					status, err = StatusFailed, fmt.Errorf("capture: stream: %w", serr)
					slog.Error("capture: stream failed", "err", serr)
				} else {
					slog.Info("capture: stream ended")
				}
				return
			}

			ev, perr := sess.ProcessFrame(mono)
			if perr != nil {
				slog.Warn("capture: analysis failed", "err", perr)
				continue
			}
			if c.metrics != nil {
				c.metrics.RecordTick(ctx, ev.Type.String(), ev.Energy)
			}
			if ev.Type != vad.EventEndOfUtterance {
				continue
			}

			slog.Debug("capture: end of utterance", "segment_id", seg.id.String(), "samples", len(seg.samples))
			c.finalize(ctx, seg, ReasonEndOfUtterance)
			c.release(ctx, stream, sess)

			// The old device is closed before the next one opens, so no two
			// segments ever overlap.
			c.mu.Lock()
			cfg = c.cfg
			c.mu.Unlock()
			if ctx.Err() != nil {
				slog.Info("capture: stopped")
				return
			}
			stream, sess, err = c.open(ctx, cfg)
			if err != nil {
				if ctx.Err() != nil {
					err = nil
					slog.Info("capture: stopped during restart")
					return
				}
				status = StatusFailed
				slog.Error("capture: restart failed", "err", err)
				return
			}
			if ctx.Err() != nil {
				c.release(ctx, stream, sess)
				slog.Info("capture: stopped")
				return
			}
			seg = newSegmentBuffer(stream.Format(), c.now())
			c.mu.Lock()
			c.beginSegment(seg)
			c.mu.Unlock()
		}
	}
}

// drain moves every frame currently buffered in the stream into seg without
// blocking and returns the first channel of the drained audio. ended reports
// that the frame channel was closed.
func (c *Controller) drain(stream audio.Stream, seg *segmentBuffer, limit int) (mono []float32, ended bool) {
	frames := stream.Frames()
	for n := 0; limit <= 0 || n < limit; n++ {
		select {
		case fr, ok := <-frames:
			if !ok {
				return mono, true
			}
			seg.append(fr)
			mono = append(mono, audio.FirstChannel(fr.Samples, fr.Channels)...)
		default:
			return mono, false
		}
	}
	return mono, false
}

// finalize hands the segment to the handler when it holds audio.
func (c *Controller) finalize(ctx context.Context, seg *segmentBuffer, reason Reason) {
	s := seg.finalize(reason, c.now())

	c.mu.Lock()
	if s.Empty() {
		c.empty++
	} else {
		c.segments++
	}
	c.mu.Unlock()

	if s.Empty() {
		slog.Debug("capture: empty segment discarded", "segment_id", s.ID.String(), "reason", string(reason))
		if c.metrics != nil {
			c.metrics.RecordSegment(ctx, observe.OutcomeEmpty, -1)
		}
		return
	}
	slog.Info("capture: segment finalised",
		"segment_id", s.ID.String(),
		"reason", string(reason),
		"samples", len(s.Samples),
		"duration", s.Duration(),
	)
	if c.handler != nil {
		c.handler.HandleSegment(s)
	}
}

func cmpDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
