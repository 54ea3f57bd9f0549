package wavdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/pkg/audio"
)

func TestDeliver_WritesReadableWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := []float32{0, 0.5, -0.5, 1, -1}
	u := sink.NewUtterance(uuid.New(), audio.EncodePCM16(in), 16000, time.Now())
	if err := s.Deliver(context.Background(), u); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	f, err := os.Open(s.Path(u))
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	got, format, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("format = %v, want 16000Hz mono", format)
	}
	if len(got) != len(in) {
		t.Fatalf("samples = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if d := got[i] - in[i]; d > 1.0/32768 || d < -1.0/32768 {
			t.Errorf("sample %d = %v, want %v", i, got[i], in[i])
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestDeliver_CancelledContext(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Deliver(ctx, sink.Utterance{ID: uuid.New()}); err == nil {
		t.Fatal("Deliver should fail on a cancelled context")
	}
}

func TestNew_EmptyDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}
