package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/aipibridge/pkg/audio"
)

func TestDiagnosticTone(t *testing.T) {
	tone := audio.DiagnosticTone()

	// 500 ms at 16 kHz mono 16-bit = 8000 samples.
	if len(tone) != 16000 {
		t.Fatalf("len = %d bytes, want 16000", len(tone))
	}
	if d := audio.SpeechFormat.Duration(len(tone)); d != 500*time.Millisecond {
		t.Errorf("duration = %v, want 500ms", d)
	}

	samples := audio.Samples(tone)
	if samples[0] != 0 {
		t.Errorf("first sample = %d, want 0", samples[0])
	}
	peak := audio.Peak(tone)
	if peak < 15900 || peak > 16000 {
		t.Errorf("peak = %d, want close to 16000", peak)
	}

	// 440 Hz over 0.5 s crosses zero upward 220 times.
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if samples[i-1] < 0 && samples[i] >= 0 {
			crossings++
		}
	}
	if crossings < 218 || crossings > 221 {
		t.Errorf("upward zero crossings = %d, want ~220", crossings)
	}
}

func TestSine_Stereo(t *testing.T) {
	f := audio.Format{SampleRate: 8000, Channels: 2}
	out := audio.Sine(1000, 10*time.Millisecond, 1000, f)
	samples := audio.Samples(out)
	if len(samples) != 160 {
		t.Fatalf("samples = %d, want 160", len(samples))
	}
	for i := 0; i < len(samples); i += 2 {
		if samples[i] != samples[i+1] {
			t.Fatalf("frame %d: L=%d R=%d, want equal", i/2, samples[i], samples[i+1])
		}
	}
}

func TestSine_InvalidInput(t *testing.T) {
	if out := audio.Sine(440, 0, 1000, audio.SpeechFormat); out != nil {
		t.Errorf("zero duration: got %d bytes", len(out))
	}
	if out := audio.Sine(440, time.Second, 1000, audio.Format{}); out != nil {
		t.Errorf("zero format: got %d bytes", len(out))
	}
}

func TestNormalizePeak(t *testing.T) {
	pcm := audio.PCM([]int16{1000, -2000, 500})
	out := audio.NormalizePeak(pcm, audio.DefaultHeadroomDB)

	peak := audio.Peak(out)
	// 32767 * 10^(-0.1/20) ≈ 32392.
	if peak < 32380 || peak > 32400 {
		t.Errorf("peak = %d, want ~32392", peak)
	}
	got := audio.Samples(out)
	if got[1] >= 0 || got[0] <= 0 {
		t.Errorf("sign not preserved: %v", got)
	}
	// Relative levels survive: sample 0 is half of |sample 1|.
	if r := float64(got[0]) / float64(-got[1]); r < 0.49 || r > 0.51 {
		t.Errorf("ratio = %f, want 0.5", r)
	}
	if audio.Samples(pcm)[0] != 1000 {
		t.Error("input was modified")
	}
}

func TestNormalizePeak_Silence(t *testing.T) {
	pcm := make([]byte, 64)
	out := audio.NormalizePeak(pcm, audio.DefaultHeadroomDB)
	if audio.Peak(out) != 0 || len(out) != len(pcm) {
		t.Errorf("silence changed: peak %d len %d", audio.Peak(out), len(out))
	}
}
