package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/orcaman/writerseeker"

	"github.com/MrWong99/uttercap/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncodePCM16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"half positive", 0.5, 16384},
		{"half negative", -0.5, -16384},
		{"clamp positive", 2, 32767},
		{"clamp negative", -3, -32768},
		{"rounds up", 0.99999, 32767},
		{"NaN", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bytesToSamples(audio.EncodePCM16([]float32{tt.in}))
			if len(got) != 1 {
				t.Fatalf("expected 1 sample, got %d", len(got))
			}
			if got[0] != tt.want {
				t.Errorf("EncodePCM16(%v) = %d, want %d", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestEncodePCM16_Length(t *testing.T) {
	out := audio.EncodePCM16(make([]float32, 123))
	if len(out) != 246 {
		t.Errorf("expected 246 bytes, got %d", len(out))
	}
	if out := audio.EncodePCM16(nil); len(out) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(out))
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	out := audio.EncodePCM16([]float32{1})
	if out[0] != 0xFF || out[1] != 0x7F {
		t.Errorf("expected FF 7F, got %X %X", out[0], out[1])
	}
}

func TestEncodePCM16_Idempotent(t *testing.T) {
	in := []float32{-1, -0.25, 0, 0.123, 0.75, 1}
	first := audio.EncodePCM16(in)
	second := audio.EncodePCM16(audio.DecodePCM16(first))
	if !bytes.Equal(first, second) {
		t.Errorf("re-encoding a quantized buffer changed bytes:\n%X\n%X", first, second)
	}
}

func TestPCM16_RoundTripWithinOneStep(t *testing.T) {
	in := []float32{-1, -1.0 / 32768, 0, 1.0 / 32767, 1, -0.5, 0.5}
	const steps = 65536
	for i := 0; i <= steps; i++ {
		in = append(in, float32(-1+2*float64(i)/steps))
	}

	out := audio.DecodePCM16(audio.EncodePCM16(in))
	if len(out) != len(in) {
		t.Fatalf("length: got %d, want %d", len(out), len(in))
	}
	for i, s := range in {
		if d := math.Abs(float64(out[i]) - float64(s)); d > 1.0/32768 {
			t.Errorf("decode(encode(%v)) = %v, off by %g", s, out[i], d)
		}
	}
}

func TestDecodePCM16_OddByte(t *testing.T) {
	got := audio.DecodePCM16([]byte{0xFF, 0x7F, 0x01})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	got := audio.RMS([]float32{1, -1, 1, -1})
	if math.Abs(got-32767.5) > 1 {
		t.Errorf("RMS(full scale) = %v, want ≈32767", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 0.25}
	f := audio.Format{SampleRate: 16000, Channels: 1}

	ws := &writerseeker.WriterSeeker{}
	if err := audio.WriteWAV(ws, in, f); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	raw, err := io.ReadAll(ws.Reader())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("RIFF")) {
		t.Fatal("output is missing RIFF header")
	}

	got, gotFormat, err := audio.ReadWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if gotFormat != f {
		t.Errorf("format: got %v, want %v", gotFormat, f)
	}
	want := audio.DecodePCM16(audio.EncodePCM16(in))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReadWAV_Invalid(t *testing.T) {
	_, _, err := audio.ReadWAV(bytes.NewReader([]byte("definitely not a wav file")))
	if !errors.Is(err, audio.ErrInvalidWAV) {
		t.Fatalf("expected ErrInvalidWAV, got %v", err)
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := audio.EncodePCM16([]float32{0.1, 0.2})
	out, err := audio.EncodeWAV(pcm, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	// 44-byte canonical header plus 4 bytes of data.
	if len(out) != 48 {
		t.Errorf("expected 48 bytes, got %d", len(out))
	}
}

func TestWriteWAV_InvalidFormat(t *testing.T) {
	if err := audio.WriteWAV(&writerseeker.WriterSeeker{}, []float32{0}, audio.Format{}); err == nil {
		t.Fatal("expected error for zero format")
	}
}
