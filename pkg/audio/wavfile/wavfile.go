// Package wavfile implements [audio.Source] by replaying a WAV file.
//
// It is used for offline runs and integration tests: the decoded file is cut
// into fixed-size frames and delivered either as fast as the consumer reads
// them or paced at the file's real-time rate. The frame channel is closed
// with a nil [audio.Stream.Err] once the file is exhausted.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/uttercap/pkg/audio"
)

const defaultFrameSize = 1024

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*stream)(nil)
)

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithFrameSize sets the number of samples per channel in each delivered frame.
// Defaults to 1024.
func WithFrameSize(n int) Option {
	return func(s *Source) { s.frameSize = n }
}

// WithRealtime paces frame delivery at the file's sample rate.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithLoop restarts the file from the beginning when it ends instead of
// closing the stream.
func WithLoop(enabled bool) Option {
	return func(s *Source) { s.loop = enabled }
}

// Source replays a WAV file from disk as one continuous recording.
//
// The file is decoded on the first Open and a read position is kept across
// streams: closing a stream and opening the next one resumes where the
// closed stream stopped, the way a reopened microphone keeps hearing the
// same room. Frames still queued in a closed stream are not lost. Once a
// stream has delivered the whole file and is closed, the position returns to
// the start and the next Open re-reads the file, so edits between captures
// are picked up.
//
// At most one stream should be open at a time.
type Source struct {
	path      string
	frameSize int
	realtime  bool
	loop      bool

	mu      sync.Mutex
	samples []float32
	format  audio.Format
	cursor  int
}

// New creates a replay source for the WAV file at path.
func New(path string, opts ...Option) *Source {
	s := &Source{path: path, frameSize: defaultFrameSize}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Source]. A missing or undecodable file is reported
// as [audio.ErrDeviceUnavailable].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.frameSize <= 0 {
		return nil, fmt.Errorf("wavfile: frame size must be positive, got %d", s.frameSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples == nil {
		samples, format, err := s.load()
		if err != nil {
			return nil, err
		}
		s.samples, s.format, s.cursor = samples, format, 0
	}
	st := newStream(s.samples, s.format, s.frameSize, s.realtime, s.loop, s.cursor)
	st.commit = s.commit
	go st.run()
	return st, nil
}

// Position returns the interleaved sample offset the next Open resumes from.
func (s *Source) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Source) load() ([]float32, audio.Format, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: open %q: %w: %w", s.path, audio.ErrDeviceUnavailable, err)
	}
	defer f.Close()

	samples, format, err := audio.ReadWAV(f)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: decode %q: %w: %w", s.path, audio.ErrDeviceUnavailable, err)
	}
	if samples == nil {
		samples = []float32{}
	}
	return samples, format, nil
}

// commit records where a finished stream stopped. End of file rewinds and
// drops the decoded samples.
func (s *Source) commit(pos int, eof bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eof || pos >= len(s.samples) {
		s.samples, s.cursor = nil, 0
		return
	}
	s.cursor = pos
}

// Replay returns a stream that delivers interleaved samples in frames of
// frameSize samples per channel, starting at the beginning of samples.
func Replay(samples []float32, format audio.Format, frameSize int, realtime, loop bool) audio.Stream {
	st := newStream(samples, format, frameSize, realtime, loop, 0)
	go st.run()
	return st
}

// queueFrames is the number of frames a stream reads ahead of its consumer.
const queueFrames = 8

type stream struct {
	format    audio.Format
	samples   []float32
	frameSize int
	realtime  bool
	loop      bool

	// next is the offset of the next frame to enqueue. Owned by run until
	// exited is closed.
	next int
	eof  bool

	// commit, when set, receives the resume position on Close.
	commit func(pos int, eof bool)

	frames chan audio.Frame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newStream(samples []float32, format audio.Format, frameSize int, realtime, loop bool, start int) *stream {
	return &stream{
		format:    format,
		samples:   samples,
		frameSize: max(1, frameSize),
		realtime:  realtime,
		loop:      loop,
		next:      start,
		frames:    make(chan audio.Frame, queueFrames),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

func (s *stream) Format() audio.Format        { return s.format }
func (s *stream) Frames() <-chan audio.Frame { return s.frames }
func (s *stream) Err() error                  { return nil }

// Close stops delivery and waits for the reader goroutine. Frames that were
// queued but never received are handed back to the source, so the next Open
// resumes at the first sample the consumer did not see.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.exited
		unread := 0
		for f := range s.frames {
			unread += len(f.Samples)
		}
		if s.commit == nil {
			return
		}
		if s.eof && unread == 0 {
			s.commit(0, true)
			return
		}
		pos := s.next - unread
		if total := len(s.samples); total > 0 {
			// Looping streams may have wrapped with frames still queued.
			pos = (pos%total + total) % total
		}
		s.commit(pos, false)
	})
	return nil
}

func (s *stream) run() {
	s.eof = s.pump()
	close(s.frames)
	close(s.exited)
}

// pump enqueues frames until the file ends (true) or the stream is closed.
func (s *stream) pump() bool {
	step := s.frameSize * s.format.Channels
	total := len(s.samples)
	if step <= 0 || s.format.SampleRate <= 0 || total == 0 {
		return true
	}

	var ticker *time.Ticker
	if s.realtime {
		period := time.Duration(s.frameSize) * time.Second / time.Duration(s.format.SampleRate)
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	perSecond := s.format.SampleRate * s.format.Channels
	for {
		if s.next >= total {
			if !s.loop {
				return true
			}
			s.next = 0
		}
		end := min(s.next+step, total)
		frame := audio.Frame{
			Samples:    s.samples[s.next:end],
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Duration(s.next) * time.Second / time.Duration(perSecond),
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.done:
				return false
			}
		}
		select {
		case s.frames <- frame:
			s.next = end
		case <-s.done:
			return false
		}
	}
}

// ErrNoPath is returned by [FromOptions] when no file path is configured.
var ErrNoPath = errors.New("wavfile: path option is required")

// FromOptions builds a Source from a string option map as found in the
// capture.source.options config section. Recognised keys: path, frame_size,
// realtime, loop.
func FromOptions(opts map[string]string) (*Source, error) {
	path := opts["path"]
	if path == "" {
		return nil, ErrNoPath
	}
	var o []Option
	if v, ok := opts["frame_size"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("wavfile: frame_size %q: %w", v, err)
		}
		o = append(o, WithFrameSize(n))
	}
	for key, opt := range map[string]func(bool) Option{"realtime": WithRealtime, "loop": WithLoop} {
		v, ok := opts[key]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("wavfile: %s %q: %w", key, v, err)
		}
		o = append(o, opt(b))
	}
	return New(path, o...), nil
}
