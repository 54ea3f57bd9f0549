package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/uttercap/internal/app"
	"github.com/MrWong99/uttercap/internal/capture"
	"github.com/MrWong99/uttercap/internal/config"
	"github.com/MrWong99/uttercap/internal/observe"
	"github.com/MrWong99/uttercap/internal/sink/mock"
	"github.com/MrWong99/uttercap/pkg/audio"
	audiomock "github.com/MrWong99/uttercap/pkg/audio/mock"
	"github.com/MrWong99/uttercap/pkg/vad/spectral"
)

const tickTimeout = 2 * time.Second

var monoFormat = audio.Format{SampleRate: 16000, Channels: 1}

// testConfig returns a validated responsive-profile config without a status
// server.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Capture: config.CaptureConfig{
			Profile: config.ProfileResponsive,
			Source:  config.SourceEntry{Name: "portaudio"},
		},
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	app    *app.App
	src    *audiomock.Source
	sink   *mock.Sink
	ticker *capture.ManualTicker
	srv    *httptest.Server
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		src:    &audiomock.Source{Format: monoFormat},
		sink:   &mock.Sink{},
		ticker: capture.NewManualTicker(),
	}
	a, err := app.New(cfg, &app.Components{
		Source: f.src,
		VAD:    spectral.New(),
		Sink:   f.sink,
	}, app.WithTicker(f.ticker.Factory()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	f.srv = httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return f
}

type statusBody struct {
	Status        string `json:"status"`
	SegmentID     string `json:"segment_id"`
	Segments      int    `json:"segments"`
	EmptySegments int    `json:"empty_segments"`
	LastError     string `json:"last_error"`
}

func (f *fixture) do(t *testing.T, method, path string) (int, statusBody) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var body statusBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func sine(freq, amp float64, n, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestNew_RequiresComponents(t *testing.T) {
	t.Parallel()
	if _, err := app.New(testConfig(t), &app.Components{}); err == nil {
		t.Fatal("New() should fail without source and vad")
	}
}

func TestHTTP_StartStatusStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(t))

	code, body := f.do(t, http.MethodGet, "/capture/status")
	if code != http.StatusOK || body.Status != "idle" {
		t.Fatalf("status = %d %+v, want 200 idle", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/capture/start")
	if code != http.StatusOK || body.Status != "recording" || body.SegmentID == "" {
		t.Fatalf("start = %d %+v, want 200 recording with a segment", code, body)
	}

	code, _ = f.do(t, http.MethodPost, "/capture/start")
	if code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", code)
	}

	code, body = f.do(t, http.MethodPost, "/capture/stop")
	if code != http.StatusOK || body.Status != "idle" {
		t.Fatalf("stop = %d %+v, want 200 idle", code, body)
	}
	if body.EmptySegments != 1 {
		t.Errorf("empty segments = %d, want 1", body.EmptySegments)
	}

	code, _ = f.do(t, http.MethodGet, "/capture/start")
	if code != http.StatusMethodNotAllowed {
		t.Errorf("GET /capture/start = %d, want 405", code)
	}
}

func TestHTTP_StartFailureReportsNotReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(t))
	f.src.OpenError = audio.ErrDeviceUnavailable

	code, body := f.do(t, http.MethodPost, "/capture/start")
	if code != http.StatusServiceUnavailable || body.Status != "failed" || body.LastError == "" {
		t.Fatalf("start = %d %+v, want 503 failed with error", code, body)
	}

	resp, err := f.srv.Client().Get(f.srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503", resp.StatusCode)
	}

	resp, err = f.srv.Client().Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", resp.StatusCode)
	}
}

func TestStopDeliversCapturedAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(t))
	ctrl := f.app.Controller()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.src.Stream(0).Push(sine(1000, 0.5, 4000, 16000)) {
		t.Fatal("push failed")
	}
	// The second tick is only accepted once the first has been processed.
	for range 2 {
		if !f.ticker.Tick(tickTimeout) {
			t.Fatal("tick not consumed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	u, ok := f.sink.Last()
	if !ok {
		t.Fatal("no utterance delivered")
	}
	if u.SampleRate != 16000 || u.Samples() != 4000 {
		t.Errorf("utterance rate=%d samples=%d, want 16000 / 4000", u.SampleRate, u.Samples())
	}
	if !f.src.Stream(0).Closed() {
		t.Error("stream not closed after shutdown")
	}
}

func TestApplyConfig_AppliesOnNextSegment(t *testing.T) {
	t.Parallel()
	old := testConfig(t)
	f := newFixture(t, old)

	updated := testConfig(t)
	updated.Detection.SilenceThreshold = 42
	updated.Server.LogLevel = config.LogDebug
	f.app.ApplyConfig(old, updated, config.Diff(old, updated))

	// The controller reads the config when it opens the source.
	if err := f.app.Controller().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.app.Controller().Status(); got != capture.StatusRecording {
		t.Fatalf("status = %v, want recording", got)
	}
}

func TestRun_AutoStartAndServe(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Capture.AutoStart = true
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(ctx) }()

	addr := f.app.Addr()
	if addr == nil {
		t.Fatal("Addr() = nil, want bound address")
	}
	select {
	case <-f.src.Opened():
	case <-time.After(tickTimeout):
		t.Fatal("auto-start did not open the source")
	}

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_ListenFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	f := newFixture(t, cfg)

	if err := f.app.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail on an invalid listen address")
	}
	if f.app.Addr() != nil {
		t.Error("Addr() should be nil after a failed listen")
	}
}

func TestBuild_WavSourceAndDirSink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "in.wav")
	wf, err := os.Create(wavPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAV(wf, sine(440, 0.3, 1600, 16000), monoFormat); err != nil {
		t.Fatal(err)
	}
	wf.Close()

	cfg := testConfig(t)
	cfg.Capture.Source = config.SourceEntry{Name: "wav", Options: map[string]string{"path": wavPath}}
	cfg.Sinks = []config.SinkEntry{
		{Name: "wavdir", Options: map[string]string{"dir": filepath.Join(dir, "out")}},
		{Name: "websocket", URL: "ws://127.0.0.1:1/ingest"},
	}

	reg := config.NewRegistry()
	b := app.RegisterBuiltins(reg)
	comps, err := app.Build(cfg, reg, b, testMetrics(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if comps.Source == nil || comps.VAD == nil || comps.Sink == nil {
		t.Fatalf("components = %+v", comps)
	}
	if len(comps.Closers) != 1 {
		t.Errorf("closers = %d, want 1 for the websocket sink", len(comps.Closers))
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); err != nil {
		t.Errorf("wavdir output directory not created: %v", err)
	}
}

func TestBuild_UnknownSource(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Capture.Source.Name = "alsa"

	reg := config.NewRegistry()
	_, err := app.Build(cfg, reg, app.RegisterBuiltins(reg), nil)
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Fatalf("Build() err = %v, want ErrNotRegistered", err)
	}
}

func TestApplyConfig_LogLevel(t *testing.T) {
	t.Parallel()
	old := testConfig(t)
	level := new(slog.LevelVar)
	a, err := app.New(old, &app.Components{
		Source: &audiomock.Source{Format: monoFormat},
		VAD:    spectral.New(),
	}, app.WithLogLevel(level), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated := testConfig(t)
	updated.Server.LogLevel = config.LogWarn
	a.ApplyConfig(old, updated, config.Diff(old, updated))

	if got := level.Level(); got != slog.LevelWarn {
		t.Errorf("log level = %v, want WARN", got)
	}
}
