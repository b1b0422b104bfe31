// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A synthesizer turns one complete reply into one audio clip. Engines return
// whatever they natively produce (WAV, MP3 or raw PCM); the clip's Encoding
// tells the caller how to decode it, and audio.Decode brings it to the
// bridge's playback format.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/aipibridge/pkg/audio"
)

// Synthesizer is the abstraction over any batch TTS backend.
type Synthesizer interface {
	// Synthesize renders text as speech in the given language (e.g., "en").
	// An empty language selects the provider default.
	//
	// Returns an error if the engine cannot be reached, rejects the request,
	// or returns no audio.
	Synthesize(ctx context.Context, text, language string) (*audio.Clip, error)
}
