package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// ErrInvalidWAV is returned (wrapped) by [ReadWAV] when the input is not a
// decodable PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav")

const (
	wavBitDepth    = 16
	wavFormatPCM   = 1
	wavMaxChannels = 8
)

// ReadWAV decodes a PCM WAV file into interleaved float samples in [-1, 1].
// 16-bit input is decoded with [DecodePCM16] semantics so that a file written
// by [WriteWAV] round-trips exactly.
func ReadWAV(r io.ReadSeeker) ([]float32, Format, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, Format{}, fmt.Errorf("audio: read wav: %w", ErrInvalidWAV)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: read wav: %w: %w", ErrInvalidWAV, err)
	}
	f := Format{SampleRate: int(d.SampleRate), Channels: int(d.NumChans)}
	if !f.Valid() || f.Channels > wavMaxChannels {
		return nil, Format{}, fmt.Errorf("audio: read wav: %w: unsupported format %s", ErrInvalidWAV, f)
	}

	bitDepth := int(d.BitDepth)
	out := make([]float32, len(buf.Data))
	switch bitDepth {
	case 16:
		for i, v := range buf.Data {
			out[i] = int16ToFloat(int16(v))
		}
	case 8, 24, 32:
		scale := float64(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			if bitDepth == 8 {
				// 8-bit WAV is unsigned.
				v -= 128
			}
			out[i] = float32(float64(v) / scale)
		}
	default:
		return nil, Format{}, fmt.Errorf("audio: read wav: %w: bit depth %d", ErrInvalidWAV, bitDepth)
	}
	return out, f, nil
}

// WriteWAV encodes interleaved float samples as a 16-bit PCM WAV file using
// the [EncodePCM16] sample mapping.
func WriteWAV(w io.WriteSeeker, samples []float32, f Format) error {
	if !f.Valid() {
		return fmt.Errorf("audio: write wav: invalid format %s", f)
	}
	e := wav.NewEncoder(w, f.SampleRate, wavBitDepth, f.Channels, wavFormatPCM)
	if err := e.Write(&goaudio.IntBuffer{
		Data: Int16Samples(samples),
		Format: &goaudio.Format{
			NumChannels: f.Channels,
			SampleRate:  f.SampleRate,
		},
		SourceBitDepth: wavBitDepth,
	}); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := e.Close(); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	return nil
}

// EncodeWAV writes little-endian 16-bit PCM into an in-memory WAV container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	// The encoder seeks back to patch chunk sizes.
	ws := &writerseeker.WriterSeeker{}
	if err := WriteWAV(ws, DecodePCM16(pcm), f); err != nil {
		return nil, err
	}
	out, err := io.ReadAll(ws.Reader())
	if err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	return out, nil
}
