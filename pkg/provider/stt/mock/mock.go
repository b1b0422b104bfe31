// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello"}
//	text, _ := tr.Transcribe(ctx, pcm, audio.SpeechFormat)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// Format is the audio format passed to Transcribe.
	Format audio.Format
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (m *Transcriber) Transcribe(_ context.Context, pcm []byte, f audio.Format) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, TranscribeCall{PCM: append([]byte(nil), pcm...), Format: f})
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call. It panics if there were none.
func (m *Transcriber) LastCall() TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[len(m.Calls)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
