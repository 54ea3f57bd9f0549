// Package audio defines the capture-side abstractions and the sample-level
// helpers shared by the uttercap pipeline.
//
// The two primary abstractions are:
//
//   - [Source] opens an input device (or an equivalent) and returns a [Stream].
//   - [Stream] is a live, time-ordered sequence of [Frame] values delivered on a
//     channel, so that consumers never block on device I/O.
//
// Implementations live in sub-packages (audio/portaudio, audio/wavfile) and
// test doubles in audio/mock. The package also provides the PCM16 codec,
// channel selection, linear resampling and WAV file I/O used by the offline
// renderer and the sinks.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned (wrapped) by [Source.Open] when the input
// device cannot be acquired. It is fatal for that capture attempt; callers
// must not retry automatically.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Stream is an open capture stream. It owns the underlying device until
// [Stream.Close] is called.
//
// Implementations must be safe for concurrent use: Close may be called from a
// different goroutine than the one receiving from Frames.
type Stream interface {
	// Format returns the native format of the frames delivered by this stream.
	Format() Format

	// Frames returns the channel on which captured frames are delivered in
	// time order. The channel is closed when the stream ends: after Close, at
	// end of input, or when the device fails. The channel is buffered; a slow
	// consumer causes the implementation to drop frames rather than block the
	// device callback.
	Frames() <-chan Frame

	// Err reports why Frames was closed. It returns nil while the stream is
	// running, after an explicit Close, and at a clean end of input.
	Err() error

	// Close stops capture and releases the device. It is safe to call Close
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Source opens capture streams.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the device and starts capture. The supplied ctx governs the
	// open attempt only. Returns an error wrapping [ErrDeviceUnavailable] when
	// the device is missing or busy.
	Open(ctx context.Context) (Stream, error)
}
