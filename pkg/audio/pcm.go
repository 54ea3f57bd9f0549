package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts float samples to signed 16-bit little-endian PCM.
//
// Each sample is clamped to [-1, 1]; negative values are scaled by 32768 and
// non-negative values by 32767, then rounded to the nearest integer. Output
// length is exactly 2·len(samples).
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 is the inverse of [EncodePCM16]: negative values are divided by
// 32768 and non-negative values by 32767. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// Int16Samples converts float samples to int values in the int16 range using
// the same mapping as [EncodePCM16].
func Int16Samples(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(floatToInt16(s))
	}
	return out
}

// RMS returns the root mean square of the samples expressed on the int16
// scale (0–32767), matching the loudness gate used before delivery.
// An empty input yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(floatToInt16(s))
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = max(-1, min(1, v))
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(float64(v) / 32768)
	}
	return float32(float64(v) / 32767)
}
