// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// The bridge transcribes one captured utterance at a time: a complete PCM
// buffer goes in, a single transcript comes out. There is no streaming and
// no partial result.
//
// Implementations must be safe for concurrent use; overlapping utterances may
// be transcribed at the same time.
package stt

import (
	"context"

	"github.com/MrWong99/aipibridge/pkg/audio"
)

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts pcm (16-bit little-endian, in format f) to text.
	//
	// An empty string with a nil error means the engine heard nothing it
	// could transcribe. Errors are reserved for engine or transport failures.
	Transcribe(ctx context.Context, pcm []byte, f audio.Format) (string, error)
}
