// Package openai implements a transcribing [sink.Sink] backed by the OpenAI
// audio transcription API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/uttercap/internal/sink"
)

const defaultModel = oai.AudioModelWhisper1

// Compile-time interface assertion.
var _ sink.Sink = (*Sink)(nil)

type config struct {
	model        string
	language     string
	baseURL      string
	timeout      time.Duration
	maxRetries   int
	onTranscript sink.TranscriptFunc
}

// Option is a functional option for [New].
type Option func(*config)

// WithModel sets the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the client retries failed requests. Negative
// values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithOnTranscript registers a callback for recognised text.
func WithOnTranscript(fn sink.TranscriptFunc) Option {
	return func(c *config) { c.onTranscript = fn }
}

// Sink transcribes utterances with the OpenAI API.
type Sink struct {
	client       oai.Client
	model        string
	language     string
	onTranscript sink.TranscriptFunc
}

// New constructs a sink. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Sink, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	cfg := &config{model: string(defaultModel), maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Sink{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		language:     cfg.language,
		onTranscript: cfg.onTranscript,
	}, nil
}

// Name implements [sink.Sink].
func (s *Sink) Name() string { return "openai" }

// Deliver implements [sink.Sink].
func (s *Sink) Deliver(ctx context.Context, u sink.Utterance) error {
	text, err := s.Transcribe(ctx, u)
	if err != nil {
		return err
	}
	slog.Info("openai: transcript", "segment_id", u.ID.String(), "text", text)
	if s.onTranscript != nil && text != "" {
		s.onTranscript(ctx, u, text)
	}
	return nil
}

// Transcribe uploads u as a WAV file and returns the recognised text.
func (s *Sink) Transcribe(ctx context.Context, u sink.Utterance) (string, error) {
	wav, err := u.WAV()
	if err != nil {
		return "", fmt.Errorf("openai: encode wav: %w", err)
	}
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), u.ID.String()+".wav", "audio/wav"),
		Model:          oai.AudioModel(s.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if s.language != "" {
		params.Language = oai.String(s.language)
	}
	res, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
