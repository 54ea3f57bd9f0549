// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Format: audio.Format{SampleRate: 48000, Channels: 1}}
//	stream, err := src.Open(ctx)
//	src.Streams[0].Push(samples)
//	src.Streams[0].End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/uttercap/pkg/audio"
)

const defaultBuffer = 256

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Frames are fed by the
// test via [Stream.Push]; [Stream.End] simulates end of input or device loss.
type Stream struct {
	mu sync.Mutex

	format audio.Format
	frames chan audio.Frame
	ended  bool
	err    error

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns an open mock stream with the given format and frame
// channel capacity. A non-positive buffer uses a default capacity.
func NewStream(f audio.Format, buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream{format: f, frames: make(chan audio.Frame, buffer)}
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push delivers one frame of interleaved samples in the stream's format.
// It reports false when the stream has already ended or the buffer is full.
func (s *Stream) Push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.frames <- audio.Frame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
	}:
		return true
	default:
		return false
	}
}

// End closes the frame channel. A non-nil err is reported by [Stream.Err].
// Calling End on an ended stream is a no-op.
func (s *Stream) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.frames)
}

// Close implements [audio.Stream]. Ends the stream and returns CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	closeErr := s.CloseError
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
	s.mu.Unlock()
	return closeErr
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Every successful Open
// creates a new [Stream] which is appended to Streams.
type Source struct {
	mu sync.Mutex

	// Format is the format of streams returned by Open.
	Format audio.Format

	// Buffer is the frame channel capacity of new streams.
	Buffer int

	// OpenError, when non-nil, is returned by Open instead of a stream.
	OpenError error

	// OpenFunc, when non-nil, is called at the start of every Open. A non-nil
	// return value is returned as the Open error. Use it to block an open or
	// to fail only specific attempts.
	OpenFunc func(ctx context.Context, attempt int) error

	// Streams records every stream returned by Open, in order.
	Streams []*Stream

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	opened chan struct{}
}

// Open implements [audio.Source].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	s.mu.Lock()
	s.CallCountOpen++
	attempt := s.CallCountOpen
	fn := s.OpenFunc
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, attempt); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	st := NewStream(s.Format, s.Buffer)
	s.Streams = append(s.Streams, st)
	if s.opened == nil {
		s.opened = make(chan struct{}, 64)
	}
	select {
	case s.opened <- struct{}{}:
	default:
	}
	return st, nil
}

// Opened returns a channel that receives one value per successful Open.
func (s *Source) Opened() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened == nil {
		s.opened = make(chan struct{}, 64)
	}
	return s.opened
}

// Stream returns the i-th stream returned by Open, or nil.
func (s *Source) Stream(i int) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Streams) {
		return nil
	}
	return s.Streams[i]
}

// StreamCount returns the number of streams returned by Open so far.
func (s *Source) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Streams)
}
