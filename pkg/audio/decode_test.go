package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/aipibridge/pkg/audio"
)

func TestDecode_PCM(t *testing.T) {
	pcm := audio.Sine(440, 100*time.Millisecond, 8000, audio.Format{SampleRate: 24000, Channels: 1})
	out, err := audio.Decode(audio.Clip{
		Data:     pcm,
		Encoding: audio.EncodingPCM,
		Format:   audio.Format{SampleRate: 24000, Channels: 1},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// 100 ms at 16 kHz mono.
	if len(out) != 3200 {
		t.Errorf("len = %d, want 3200", len(out))
	}
}

func TestDecode_PCMWithoutFormat(t *testing.T) {
	if _, err := audio.Decode(audio.Clip{Data: []byte{0, 0}, Encoding: audio.EncodingPCM}); err == nil {
		t.Error("expected error for PCM without format")
	}
}

func TestDecode_WAVStereo(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 2}
	wav := audio.EncodeWAV(audio.PCM([]int16{100, 300, -100, -300}), f)
	out, err := audio.Decode(audio.Clip{Data: wav, Encoding: audio.EncodingWAV})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := audio.Samples(out)
	want := []int16{200, -200}
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDecode_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		clip audio.Clip
	}{
		{"garbage wav", audio.Clip{Data: []byte("not a wav file at all"), Encoding: audio.EncodingWAV}},
		{"garbage mp3", audio.Clip{Data: []byte{0x00, 0x01, 0x02}, Encoding: audio.EncodingMP3}},
		{"unknown encoding", audio.Clip{Data: []byte{0, 0}, Encoding: "ogg"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.Decode(tc.clip); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
