package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/stt/whisper"
)

func contextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithCancel(t.Context())
}

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_TranscribeTone(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// A pure tone carries no words; the call must still succeed.
	if _, err := p.Transcribe(t.Context(), audio.DiagnosticTone(), audio.SpeechFormat); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestNative_TranscribeCancelled(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := contextWithCancel(t)
	cancel()
	if _, err := p.Transcribe(ctx, audio.DiagnosticTone(), audio.SpeechFormat); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
