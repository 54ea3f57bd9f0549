// Package app wires the uttercap subsystems into a running application.
//
// The App owns the full lifecycle: New connects the capture controller to the
// render pipeline and the configured sinks, Run serves the status endpoints
// (and optionally starts capturing) until its context is cancelled, and
// Shutdown stops capture, drains in-flight segments and releases resources.
//
// For testing, pass mock components in [Components] and inject a manual
// ticker with [WithTicker].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/uttercap/internal/capture"
	"github.com/MrWong99/uttercap/internal/config"
	"github.com/MrWong99/uttercap/internal/health"
	"github.com/MrWong99/uttercap/internal/observe"
	"github.com/MrWong99/uttercap/internal/pipeline"
	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/pkg/audio"
	"github.com/MrWong99/uttercap/pkg/render"
	"github.com/MrWong99/uttercap/pkg/vad"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown at the end of Run.
const serverShutdownTimeout = 5 * time.Second

// Components holds the pluggable parts of the application. Populated by
// [Build] from the config registry, or by tests with mocks.
type Components struct {
	Source audio.Source
	VAD    vad.Engine

	// Sink receives every rendered utterance. Nil discards them.
	Sink sink.Sink

	// Closers are called in order during Shutdown.
	Closers []io.Closer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg   *config.Config
	comps *Components

	metrics        *observe.Metrics
	metricsHandler http.Handler
	ticker         capture.TickerFactory
	logLevel       *slog.LevelVar

	pipeline   *pipeline.Pipeline
	controller *capture.Controller

	addrMu    sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records capture, pipeline, sink and HTTP metrics on m. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithTicker replaces the capture tick source. Tests only.
func WithTicker(f capture.TickerFactory) Option {
	return func(a *App) { a.ticker = f }
}

// WithLogLevel lets config reloads adjust the process log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from a validated config and its components.
func New(cfg *config.Config, comps *Components, opts ...Option) (*App, error) {
	if comps == nil || comps.Source == nil || comps.VAD == nil {
		return nil, errors.New("app: source and vad engine are required")
	}
	a := &App{
		cfg:   cfg,
		comps: comps,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	out := comps.Sink
	if out == nil {
		out = sink.NewMulti(nil)
	}

	r := render.New()
	r.TargetSampleRate = cfg.Render.TargetSampleRate
	r.MinFrequency = cfg.Detection.MinVoiceFrequency
	r.MaxFrequency = cfg.Detection.MaxVoiceFrequency

	a.pipeline = pipeline.New(r, out, pipeline.Config{
		MaxConcurrent:   cfg.Render.MaxConcurrent,
		MinRMS:          cfg.Render.MinRMS,
		DeliveryTimeout: cfg.Render.DeliveryTimeout,
	}, pipeline.WithMetrics(a.metrics))

	copts := []capture.Option{capture.WithMetrics(a.metrics)}
	if a.ticker != nil {
		copts = append(copts, capture.WithTicker(a.ticker))
	}
	a.controller = capture.New(comps.Source, comps.VAD, a.pipeline, captureConfig(cfg), copts...)

	return a, nil
}

func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		VAD:              cfg.VAD(),
		TickInterval:     cfg.Capture.TickInterval,
		MaxFramesPerTick: cfg.Capture.MaxFramesPerTick,
	}
}

// Controller returns the capture controller.
func (a *App) Controller() *capture.Controller { return a.controller }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the status endpoints on server.listen_addr (when set) and starts
// capturing when capture.auto_start is true. It blocks until ctx is cancelled
// or the server fails. A failed auto-start is logged; /readyz reports it.
func (a *App) Run(ctx context.Context) error {
	defer a.markReady()
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
		a.addrMu.Lock()
		a.addr = ln.Addr()
		a.addrMu.Unlock()

		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("status server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	a.markReady()

	if a.cfg.Capture.AutoStart {
		if err := a.controller.Start(gctx); err != nil {
			slog.Error("capture auto-start failed", "err", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func (a *App) markReady() {
	a.readyOnce.Do(func() { close(a.ready) })
}

// Addr returns the status server's bound address once Run has started
// listening, or nil when no server is configured.
func (a *App) Addr() net.Addr {
	<-a.ready
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ApplyConfig applies the hot-reloadable parts of a config change. It has the
// signature of [config.ChangeFunc].
func (a *App) ApplyConfig(_, new *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.DetectionChanged {
		a.controller.SetConfig(captureConfig(new))
		slog.Info("detection config updated; applies from the next segment",
			"profile", new.Capture.Profile,
			"silence_threshold", new.Detection.SilenceThreshold,
			"silence_timeout_seconds", new.Detection.SilenceTimeoutSeconds,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture (finalising the live segment), waits for queued
// segments to be delivered and then runs the component closers. It respects
// the ctx deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.comps.Closers))

		if err := a.controller.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.pipeline.Close()
		if err := a.pipeline.Wait(ctx); err != nil {
			slog.Warn("shutdown deadline exceeded with segments in flight")
			errs = append(errs, err)
		}

		for i, c := range a.comps.Closers {
			if err := c.Close(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the status server's routes wrapped in the observability
// middleware:
//
//   - GET  /healthz, /readyz  liveness and readiness
//   - GET  /metrics           Prometheus exposition (when configured)
//   - GET  /capture/status    controller snapshot
//   - POST /capture/start     start capturing
//   - POST /capture/stop      stop capturing
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(health.CaptureChecker(a.controller)).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	mux.HandleFunc("GET /capture/status", a.handleStatus)
	mux.HandleFunc("POST /capture/start", a.handleStart)
	mux.HandleFunc("POST /capture/stop", a.handleStop)
	return observe.Middleware(a.metrics)(mux)
}

type statusView struct {
	Status        string     `json:"status"`
	SegmentID     string     `json:"segment_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Segments      int        `json:"segments"`
	EmptySegments int        `json:"empty_segments"`
	LastError     string     `json:"last_error,omitempty"`
}

func (a *App) view() statusView {
	snap := a.controller.Snapshot()
	v := statusView{
		Status:        snap.Status.String(),
		SegmentID:     snap.SegmentID,
		Segments:      snap.Segments,
		EmptySegments: snap.Empty,
	}
	if !snap.StartedAt.IsZero() && snap.Status == capture.StatusRecording {
		v.StartedAt = &snap.StartedAt
	}
	if snap.LastError != nil {
		v.LastError = snap.LastError.Error()
	}
	return v
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, a.view())
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.controller.Start(r.Context())
	switch {
	case err == nil:
		health.WriteJSON(w, http.StatusOK, a.view())
	case errors.Is(err, capture.ErrAlreadyRecording):
		health.WriteJSON(w, http.StatusConflict, a.view())
	default:
		observe.Logger(r.Context()).Warn("capture start failed", "err", err)
		health.WriteJSON(w, http.StatusServiceUnavailable, a.view())
	}
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.Stop(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("capture stop failed", "err", err)
		health.WriteJSON(w, http.StatusGatewayTimeout, a.view())
		return
	}
	health.WriteJSON(w, http.StatusOK, a.view())
}
