// Package assembly turns synthesized speech into the playable reply asset:
// decoded, loudness-normalized speech prefixed with the diagnostic tone,
// packaged as a mono 16 kHz 16-bit WAV file.
package assembly

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/aipibridge/pkg/audio"
)

// ErrNoSpeech is returned when the synthesized clip decodes to no samples.
var ErrNoSpeech = errors.New("assembly: synthesized clip contains no audio")

// Result is an assembled reply.
type Result struct {
	// WAV is the complete file: tone followed by speech.
	WAV []byte

	// Duration is the playback length derived from the sample count.
	Duration time.Duration

	// Samples is the total number of samples, tone included.
	Samples int
}

// Assembler builds reply assets. The zero value is not usable; use New.
// An Assembler is safe for concurrent use.
type Assembler struct {
	tone       []byte
	headroomDB float64
	normalize  bool
}

// Option is a functional option for New.
type Option func(*Assembler)

// WithHeadroom sets the peak-normalization headroom in dB.
func WithHeadroom(db float64) Option {
	return func(a *Assembler) {
		a.headroomDB = db
	}
}

// WithoutNormalization disables peak normalization.
func WithoutNormalization() Option {
	return func(a *Assembler) {
		a.normalize = false
	}
}

// WithTone replaces the diagnostic prefix. pcm must be in audio.SpeechFormat.
func WithTone(pcm []byte) Option {
	return func(a *Assembler) {
		a.tone = pcm
	}
}

// New creates an Assembler using the standard diagnostic tone.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		tone:       audio.DiagnosticTone(),
		headroomDB: audio.DefaultHeadroomDB,
		normalize:  true,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble decodes clip, normalizes it, prepends the tone and packages the
// result as WAV.
func (a *Assembler) Assemble(clip *audio.Clip) (*Result, error) {
	if clip == nil {
		return nil, ErrNoSpeech
	}
	speech, err := audio.Decode(*clip)
	if err != nil {
		return nil, fmt.Errorf("assembly: decode %s: %w", clip.Encoding, err)
	}
	if len(speech) == 0 {
		return nil, ErrNoSpeech
	}
	if a.normalize {
		speech = audio.NormalizePeak(speech, a.headroomDB)
	}
	return a.Package(speech), nil
}

// Package prepends the tone to speech, which must already be in
// audio.SpeechFormat, and wraps it in a WAV header.
func (a *Assembler) Package(speech []byte) *Result {
	pcm := make([]byte, 0, len(a.tone)+len(speech))
	pcm = append(pcm, a.tone...)
	pcm = append(pcm, speech...)

	samples := len(pcm) / (audio.BytesPerSample * audio.SpeechFormat.Channels)
	return &Result{
		WAV:      audio.EncodeWAV(pcm, audio.SpeechFormat),
		Duration: Duration(samples),
		Samples:  samples,
	}
}

// Duration converts a mono sample count at the speech rate to a duration.
func Duration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(audio.SpeechFormat.SampleRate)
}
