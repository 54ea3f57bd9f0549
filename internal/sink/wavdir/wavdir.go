// Package wavdir implements a [sink.Sink] that writes every utterance to a
// WAV file in a directory, named after the segment ID.
package wavdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/pkg/audio"
)

// Compile-time interface assertion.
var _ sink.Sink = (*Sink)(nil)

// Sink writes <dir>/<id>.wav files.
type Sink struct {
	dir string
}

// New creates the directory if needed and returns a sink writing into it.
func New(dir string) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("wavdir: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavdir: create %q: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// Name implements [sink.Sink].
func (s *Sink) Name() string { return "wavdir" }

// Path returns the file path used for u.
func (s *Sink) Path(u sink.Utterance) string {
	return filepath.Join(s.dir, u.ID.String()+".wav")
}

// Deliver implements [sink.Sink]. The file is written under a temporary name
// and renamed, so readers never observe a partial file.
func (s *Sink) Deliver(ctx context.Context, u sink.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, ".utterance-*.wav")
	if err != nil {
		return fmt.Errorf("wavdir: create temp file: %w", err)
	}
	tmp := f.Name()
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	if err := audio.WriteWAV(f, audio.DecodePCM16(u.PCM), u.Format()); err != nil {
		cleanup()
		return fmt.Errorf("wavdir: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("wavdir: close: %w", err)
	}
	path := s.Path(u)
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("wavdir: rename: %w", err)
	}
	slog.Debug("wavdir: utterance written", "path", path, "samples", u.Samples())
	return nil
}
