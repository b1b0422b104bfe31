package audio

import "math"

// DefaultHeadroomDB is the gap left between the loudest normalized sample and
// full scale.
const DefaultHeadroomDB = 0.1

// NormalizePeak scales 16-bit PCM so that its loudest sample sits headroomDB
// below full scale. Silent input is returned unchanged. The input slice is
// not modified.
func NormalizePeak(pcm []byte, headroomDB float64) []byte {
	peak := Peak(pcm)
	if peak == 0 {
		return pcm
	}
	gain := 32767 * math.Pow(10, -max(headroomDB, 0)/20) / float64(peak)

	samples := Samples(pcm)
	for i, s := range samples {
		samples[i] = clamp16(float64(s) * gain)
	}
	return PCM(samples)
}

// Peak returns the largest absolute sample value of 16-bit PCM.
func Peak(pcm []byte) int {
	var peak int
	for _, s := range Samples(pcm) {
		peak = max(peak, abs(int(s)))
	}
	return peak
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
