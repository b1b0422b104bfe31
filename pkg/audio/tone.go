package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Diagnostic tone defaults. The tone is prepended to every spoken reply so an
// operator can hear that playback started even when the speech is silent.
const (
	ToneFrequency = 440.0
	ToneDuration  = 500 * time.Millisecond
	ToneAmplitude = 16000
)

// Sine generates a pure sine tone of the given frequency, duration and peak
// amplitude as 16-bit PCM in format f. Every channel carries the same sample.
func Sine(freq float64, d time.Duration, amplitude int16, f Format) []byte {
	if f.SampleRate <= 0 || f.Channels <= 0 || d <= 0 {
		return nil
	}
	n := int(int64(d) * int64(f.SampleRate) / int64(time.Second))
	out := make([]byte, 0, n*f.FrameSize())
	step := 2 * math.Pi * freq / float64(f.SampleRate)
	for i := range n {
		s := int16(float64(amplitude) * math.Sin(step*float64(i)))
		for range f.Channels {
			out = binary.LittleEndian.AppendUint16(out, uint16(s))
		}
	}
	return out
}

// DiagnosticTone returns the 440 Hz, 500 ms tone in [SpeechFormat].
func DiagnosticTone() []byte {
	return Sine(ToneFrequency, ToneDuration, ToneAmplitude, SpeechFormat)
}
