// Package websink implements a [sink.Sink] that pushes every utterance over a
// persistent WebSocket connection as one binary message of raw PCM.
//
// Each binary message is preceded by a small JSON text message describing it,
// so receivers can tell utterances apart and know the sample rate:
//
//	{"type":"utterance","id":"…","sample_rate":16000,"samples":12345,"started_at":"…"}
//
// The connection is dialled lazily and re-dialled after any write failure.
package websink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/uttercap/internal/sink"
)

const defaultWriteTimeout = 10 * time.Second

// Compile-time interface assertion.
var _ sink.Sink = (*Sink)(nil)

// Option is a functional option for configuring a [Sink].
type Option func(*Sink)

// WithHeader sets extra HTTP headers sent with the dial request, for example
// an Authorization header.
func WithHeader(h http.Header) Option {
	return func(s *Sink) { s.header = h }
}

// WithWriteTimeout bounds each delivery. Defaults to 10 s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) { s.writeTimeout = d }
}

// Sink is a WebSocket client sink.
type Sink struct {
	url          string
	header       http.Header
	writeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// header is the text message sent ahead of each PCM payload.
type header struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	SampleRate int       `json:"sample_rate"`
	Samples    int       `json:"samples"`
	StartedAt  time.Time `json:"started_at"`
}

// New creates a sink that delivers to the ws:// or wss:// endpoint at url.
func New(url string, opts ...Option) (*Sink, error) {
	if url == "" {
		return nil, errors.New("websink: url must not be empty")
	}
	s := &Sink{url: url, writeTimeout: defaultWriteTimeout}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name implements [sink.Sink].
func (s *Sink) Name() string { return "websocket" }

// Deliver implements [sink.Sink]. Deliveries are serialised on the single
// connection.
func (s *Sink) Deliver(ctx context.Context, u sink.Utterance) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: s.header})
		if err != nil {
			return fmt.Errorf("websink: dial: %w", err)
		}
		s.conn = conn
		slog.Info("websink: connected", "url", s.url)
	}

	meta, err := json.Marshal(header{
		Type:       "utterance",
		ID:         u.ID.String(),
		SampleRate: u.SampleRate,
		Samples:    u.Samples(),
		StartedAt:  u.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("websink: marshal header: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, meta); err != nil {
		s.dropLocked(err)
		return fmt.Errorf("websink: write header: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageBinary, u.PCM); err != nil {
		s.dropLocked(err)
		return fmt.Errorf("websink: write pcm: %w", err)
	}
	return nil
}

// dropLocked discards a broken connection so the next delivery re-dials.
func (s *Sink) dropLocked(cause error) {
	slog.Warn("websink: connection dropped", "url", s.url, "err", cause)
	_ = s.conn.CloseNow()
	s.conn = nil
}

// Close closes the connection with a normal closure status.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "sink closed")
	s.conn = nil
	return err
}
