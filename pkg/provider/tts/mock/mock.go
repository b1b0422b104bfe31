// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Clip: &audio.Clip{Data: pcm, Encoding: audio.EncodingPCM, Format: audio.SpeechFormat}}
//	clip, _ := s.Synthesize(ctx, "hello", "en")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the reply text passed to Synthesize.
	Text string
	// Language is the language passed to Synthesize.
	Language string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Clip is returned by Synthesize. A shallow copy is returned so callers
	// cannot mutate the configured value.
	Clip *audio.Clip

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Clip, Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string) (*audio.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, SynthesizeCall{Ctx: ctx, Text: text, Language: language})
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Clip == nil {
		return nil, nil
	}
	c := *s.Clip
	return &c, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// LastCall returns the most recent call. It panics if none were recorded.
func (s *Synthesizer) LastCall() SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[len(s.Calls)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
