package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/MrWong99/uttercap/internal/config"
	"github.com/MrWong99/uttercap/internal/observe"
	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/internal/sink/openai"
	"github.com/MrWong99/uttercap/internal/sink/wavdir"
	"github.com/MrWong99/uttercap/internal/sink/websink"
	"github.com/MrWong99/uttercap/internal/sink/whisper"
	"github.com/MrWong99/uttercap/pkg/audio"
	"github.com/MrWong99/uttercap/pkg/audio/portaudio"
	"github.com/MrWong99/uttercap/pkg/audio/wavfile"
	"github.com/MrWong99/uttercap/pkg/vad"
	"github.com/MrWong99/uttercap/pkg/vad/spectral"
)

// DefaultVAD is the engine name [Build] asks the registry for.
const DefaultVAD = "spectral"

// closerSet collects closers from factories as they run.
type closerSet struct {
	mu      sync.Mutex
	closers []io.Closer
}

func (c *closerSet) track(cl io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, cl)
}

func (c *closerSet) take() []io.Closer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.closers
	c.closers = nil
	return out
}

// Builtins registers the sources, sinks and VAD engine that ship with
// uttercap. Sinks holding connections are remembered so that [Build] can
// close them on shutdown.
type Builtins struct {
	closers closerSet
}

// RegisterBuiltins wires all built-in factories into reg.
func RegisterBuiltins(reg *config.Registry) *Builtins {
	b := &Builtins{}

	// ── Sources ──────────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(e config.SourceEntry) (audio.Source, error) {
		var opts []portaudio.Option
		if e.SampleRate > 0 {
			opts = append(opts, portaudio.WithSampleRate(e.SampleRate))
		}
		if e.Channels > 0 {
			opts = append(opts, portaudio.WithChannels(e.Channels))
		}
		if e.FramesPerBuffer > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(e.FramesPerBuffer))
		}
		if v, ok := e.Options["queue_size"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("portaudio: queue_size %q: %w", v, err)
			}
			opts = append(opts, portaudio.WithQueueSize(n))
		}
		return portaudio.New(opts...), nil
	})

	reg.RegisterSource("wav", func(e config.SourceEntry) (audio.Source, error) {
		src, err := wavfile.FromOptions(e.Options)
		if err != nil {
			return nil, err
		}
		return src, nil
	})

	// ── VAD ──────────────────────────────────────────────────────────────────

	reg.RegisterVAD(DefaultVAD, func() (vad.Engine, error) {
		return spectral.New(), nil
	})

	// ── Sinks ────────────────────────────────────────────────────────────────

	reg.RegisterSink("wavdir", func(e config.SinkEntry) (sink.Sink, error) {
		s, err := wavdir.New(e.Options["dir"])
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterSink("websocket", func(e config.SinkEntry) (sink.Sink, error) {
		var opts []websink.Option
		if e.APIKey != "" {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+e.APIKey)
			opts = append(opts, websink.WithHeader(h))
		}
		s, err := websink.New(e.URL, opts...)
		if err != nil {
			return nil, err
		}
		b.closers.track(s)
		return s, nil
	})

	reg.RegisterSink("whisper", func(e config.SinkEntry) (sink.Sink, error) {
		opts := []whisper.Option{whisper.WithOnTranscript(logTranscript)}
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, whisper.WithLanguage(e.Language))
		}
		s, err := whisper.New(e.URL, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterSink("openai", func(e config.SinkEntry) (sink.Sink, error) {
		opts := []openai.Option{openai.WithOnTranscript(logTranscript)}
		if e.Model != "" {
			opts = append(opts, openai.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, openai.WithLanguage(e.Language))
		}
		if e.URL != "" {
			opts = append(opts, openai.WithBaseURL(e.URL))
		}
		s, err := openai.New(e.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	return b
}

// logTranscript is the transcript callback of the transcription sinks.
func logTranscript(ctx context.Context, u sink.Utterance, text string) {
	observe.Logger(ctx).Info("transcript",
		"segment_id", u.ID.String(),
		"duration", u.Duration,
		"text", text,
	)
}

// Build instantiates the configured source, the VAD engine and all sinks.
func Build(cfg *config.Config, reg *config.Registry, b *Builtins, m *observe.Metrics) (*Components, error) {
	src, err := reg.CreateSource(cfg.Capture.Source)
	if err != nil {
		return nil, fmt.Errorf("app: create source %q: %w", cfg.Capture.Source.Name, err)
	}
	engine, err := reg.CreateVAD(DefaultVAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad: %w", err)
	}

	var opts []sink.MultiOption
	if m != nil {
		opts = append(opts, sink.WithMetrics(m))
	}
	sinks, err := reg.CreateSinks(cfg.Sinks, opts...)
	if err != nil {
		if b != nil {
			closeAll(b.closers.take())
		}
		return nil, fmt.Errorf("app: create sinks: %w", err)
	}

	comps := &Components{Source: src, VAD: engine, Sink: sinks}
	if b != nil {
		comps.Closers = b.closers.take()
	}
	slog.Info("components created",
		"source", cfg.Capture.Source.Name,
		"vad", DefaultVAD,
		"sinks", sinks.Len(),
	)
	return comps, nil
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		if err := c.Close(); err != nil {
			slog.Warn("close error", "err", err)
		}
	}
}
