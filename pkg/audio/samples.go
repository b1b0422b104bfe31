package audio

import (
	"encoding/binary"
	"math"
)

// Samples decodes 16-bit little-endian PCM into samples. A trailing odd byte
// is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return out
}

// PCM encodes samples as 16-bit little-endian PCM.
func PCM(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*BytesPerSample)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// Float32 decodes 16-bit PCM into samples scaled to [-1, 1), the layout
// in-process speech models expect.
func Float32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))) / 32768
	}
	return out
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
