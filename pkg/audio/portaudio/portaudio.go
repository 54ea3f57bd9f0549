// Package portaudio implements [audio.Source] on top of the PortAudio default
// input device.
//
// Each call to [Source.Open] initialises PortAudio, opens a blocking-mode
// float32 input stream and starts a reader goroutine that copies every device
// buffer into an [audio.Frame]. Frames are delivered on a buffered channel; if
// the consumer falls behind the newest frame is dropped and counted rather
// than stalling the device read.
//
// Usage:
//
//	src := portaudio.New(portaudio.WithSampleRate(48000))
//	stream, err := src.Open(ctx)
//	if err != nil { ... }
//	defer stream.Close()
//	for frame := range stream.Frames() { ... }
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/uttercap/pkg/audio"
)

const (
	defaultSampleRate      = 48000
	defaultChannels        = 1
	defaultFramesPerBuffer = 512
	defaultQueue           = 64
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*stream)(nil)
)

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithSampleRate sets the requested capture rate in Hz. Defaults to 48000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.format.SampleRate = rate }
}

// WithChannels sets the requested input channel count. Defaults to 1.
func WithChannels(n int) Option {
	return func(s *Source) { s.format.Channels = n }
}

// WithFramesPerBuffer sets the number of frames read from the device per
// iteration. Defaults to 512.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) { s.framesPerBuffer = n }
}

// WithQueueSize sets the capacity of the frame channel. Defaults to 64.
func WithQueueSize(n int) Option {
	return func(s *Source) { s.queue = n }
}

// Source opens the system default input device via PortAudio.
type Source struct {
	format          audio.Format
	framesPerBuffer int
	queue           int
}

// New creates a PortAudio source with the given options.
func New(opts ...Option) *Source {
	s := &Source{
		format:          audio.Format{SampleRate: defaultSampleRate, Channels: defaultChannels},
		framesPerBuffer: defaultFramesPerBuffer,
		queue:           defaultQueue,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Source]. Device errors are wrapped with
// [audio.ErrDeviceUnavailable].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.format.Valid() || s.framesPerBuffer <= 0 {
		return nil, fmt.Errorf("portaudio: invalid configuration %s, %d frames per buffer", s.format, s.framesPerBuffer)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	buf := make([]float32, s.framesPerBuffer*s.format.Channels)
	paStream, err := pa.OpenDefaultStream(s.format.Channels, 0, float64(s.format.SampleRate), s.framesPerBuffer, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := paStream.Start(); err != nil {
		_ = paStream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	st := &stream{
		format: s.format,
		pa:     paStream,
		buf:    buf,
		frames: make(chan audio.Frame, max(1, s.queue)),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go st.readLoop()

	slog.Debug("portaudio: stream started", "format", s.format.String(), "framesPerBuffer", s.framesPerBuffer)
	return st, nil
}

type stream struct {
	format audio.Format
	pa     *pa.Stream
	buf    []float32
	frames chan audio.Frame

	done   chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	err     error
	closed  bool
	dropped int
}

func (s *stream) Format() audio.Format        { return s.format }
func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) readLoop() {
	defer close(s.exited)
	defer close(s.frames)

	start := time.Now()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.pa.Read(); err != nil {
			// Overflow means we fell behind the device; the data is still usable.
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
			} else {
				select {
				case <-s.done:
				default:
					s.mu.Lock()
					s.err = fmt.Errorf("portaudio: read: %w", err)
					s.mu.Unlock()
					slog.Warn("portaudio: device read failed", "err", err)
				}
				return
			}
		}

		samples := make([]float32, len(s.buf))
		copy(samples, s.buf)
		frame := audio.Frame{
			Samples:    samples,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case s.frames <- frame:
		default:
			s.mu.Lock()
			s.dropped++
			n := s.dropped
			s.mu.Unlock()
			if n == 1 || n%100 == 0 {
				slog.Warn("portaudio: consumer too slow, dropping frames", "dropped", n)
			}
		}
	}
}

// Close stops the device, waits for the reader goroutine and terminates
// PortAudio. It is idempotent.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	// Stop unblocks a pending Read.
	var errs []error
	if err := s.pa.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop: %w", err))
	}
	<-s.exited
	if err := s.pa.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}
