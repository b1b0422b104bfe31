package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is fixed at 2: every PCM buffer handled by this package is
// 16-bit signed little-endian.
const BytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the mono 16 kHz format used end to end: capture frames,
// transcription input, synthesized speech and the published asset.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FrameSize is the number of bytes of one frame (one sample per channel).
func (f Format) FrameSize() int {
	return f.Channels * BytesPerSample
}

// Duration returns the playback length of n bytes of PCM in format f.
// Returns 0 for invalid formats.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(n / f.FrameSize())
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// ToSpeechFormat converts 16-bit PCM in format from to [SpeechFormat].
// Conversion order: downmix first, then resample, so stereo is never
// resampled when the target is mono. Returns an error for channel layouts it
// cannot downmix.
func ToSpeechFormat(pcm []byte, from Format) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd byte count %d in 16-bit PCM", len(pcm))
	}
	switch from.Channels {
	case 1:
	case 2:
		pcm = StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("audio: cannot downmix %s", from)
	}
	return ResampleMono16(pcm, from.SampleRate, SpeechFormat.SampleRate), nil
}

// StereoToMono averages the two channels of each interleaved stereo frame.
// A trailing partial frame is dropped.
func StereoToMono(pcm []byte) []byte {
	in := Samples(pcm)
	mono := make([]int16, len(in)/2)
	for i := range mono {
		// The mean of two int16 values always fits in int16.
		mono[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return PCM(mono)
}

// ResampleMono16 converts 16-bit mono PCM from srcRate to dstRate by linear
// interpolation between neighbouring samples. The input is returned as is
// when the rates match or either rate is not positive.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	in := Samples(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	step := float64(srcRate) / float64(dstRate)
	last := len(in) - 1
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := in[min(idx+1, last)]
		out[i] = int16(float64(in[idx])*(1-frac) + float64(next)*frac)
	}
	return PCM(out)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
