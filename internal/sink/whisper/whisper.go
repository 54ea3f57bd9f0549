// Package whisper implements a transcribing [sink.Sink] backed by a
// whisper.cpp server.
//
// Every utterance is wrapped in a WAV container and POSTed to the server's
// /inference endpoint as multipart/form-data. The recognised text is logged
// and passed to the optional [sink.TranscriptFunc].
//
// Usage:
//
//	s, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithOnTranscript(fn),
//	)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/uttercap/internal/sink"
)

const defaultTimeout = 30 * time.Second

// Compile-time interface assertion.
var _ sink.Sink = (*Sink)(nil)

// Option is a functional option for configuring a [Sink].
type Option func(*Sink)

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(s *Sink) { s.model = model }
}

// WithLanguage sets the language hint sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(s *Sink) { s.language = lang }
}

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.httpClient = c }
}

// WithOnTranscript registers a callback for recognised text.
func WithOnTranscript(fn sink.TranscriptFunc) Option {
	return func(s *Sink) { s.onTranscript = fn }
}

// Sink transcribes utterances with whisper.cpp.
type Sink struct {
	serverURL    string
	model        string
	language     string
	httpClient   *http.Client
	onTranscript sink.TranscriptFunc
}

// New creates a sink for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Sink, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Sink{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   "en",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name implements [sink.Sink].
func (s *Sink) Name() string { return "whisper" }

// Deliver implements [sink.Sink].
func (s *Sink) Deliver(ctx context.Context, u sink.Utterance) error {
	text, err := s.Transcribe(ctx, u)
	if err != nil {
		return err
	}
	slog.Info("whisper: transcript", "segment_id", u.ID.String(), "text", text)
	if s.onTranscript != nil && text != "" {
		s.onTranscript(ctx, u, text)
	}
	return nil
}

// Transcribe sends u to the server and returns the recognised text.
func (s *Sink) Transcribe(ctx context.Context, u sink.Utterance) (string, error) {
	wav, err := u.WAV()
	if err != nil {
		return "", fmt.Errorf("whisper: encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", u.ID.String()+".wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := [][2]string{{"response_format", "json"}}
	if s.language != "" {
		fields = append(fields, [2]string{"language", s.language})
	}
	if s.model != "" {
		fields = append(fields, [2]string{"model", s.model})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
