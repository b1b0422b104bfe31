package coqui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/aipibridge/pkg/audio"
)

// ---- test helpers ----

// testWAV is a 22.05 kHz mono WAV holding a short tone, the shape Coqui's
// VITS models return.
func testWAV() []byte {
	f := audio.Format{SampleRate: 22050, Channels: 1}
	return audio.EncodeWAV(audio.Sine(220, 50*time.Millisecond, 8000, f), f)
}

// recorded captures the request a mock server saw.
type recorded struct {
	mu     sync.Mutex
	method string
	path   string
	query  map[string]string
	body   ttsRequest
}

func newMockServer(t *testing.T, rec *recorded, status int, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = map[string]string{}
		for k, v := range r.URL.Query() {
			rec.query[k] = v[0]
		}
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		rec.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "synthesis failed", status)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- constructor ----

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []Option
		wantErr bool
	}{
		{name: "valid", url: "http://localhost:5002"},
		{name: "empty url", url: "", wantErr: true},
		{name: "xtts mode", url: "http://localhost:8002", opts: []Option{WithAPIMode(APIModeXTTS)}},
		{name: "unknown mode", url: "http://localhost:5002", opts: []Option{WithAPIMode("bark")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.url, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_DefaultAPIMode(t *testing.T) {
	p, err := New("http://localhost:5002/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.apiMode != APIModeStandard {
		t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
	}
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q, trailing slash not trimmed", p.serverURL)
	}
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI(t *testing.T) {
	var rec recorded
	wav := testWAV()
	srv := newMockServer(t, &rec, http.StatusOK, wav)

	p, _ := New(srv.URL, WithSpeaker("p225"))
	clip, err := p.Synthesize(t.Context(), "It is noon.", "de")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.Encoding != audio.EncodingWAV {
		t.Errorf("encoding = %q, want wav", clip.Encoding)
	}
	if len(clip.Data) != len(wav) {
		t.Errorf("data = %d bytes, want %d", len(clip.Data), len(wav))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.method != http.MethodGet || rec.path != apiTTSEndpoint {
		t.Errorf("request = %s %s, want GET %s", rec.method, rec.path, apiTTSEndpoint)
	}
	if rec.query["text"] != "It is noon." {
		t.Errorf("text = %q", rec.query["text"])
	}
	if rec.query["speaker_id"] != "p225" {
		t.Errorf("speaker_id = %q", rec.query["speaker_id"])
	}
	if rec.query["language_id"] != "de" {
		t.Errorf("language_id = %q, want de", rec.query["language_id"])
	}
}

func TestSynthesize_XTTSDefaultLanguage(t *testing.T) {
	var rec recorded
	srv := newMockServer(t, &rec, http.StatusOK, testWAV())

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS), WithSpeaker("narrator.wav"), WithLanguage("fr"))
	if _, err := p.Synthesize(t.Context(), "Bonjour.", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.method != http.MethodPost || rec.path != ttsEndpoint {
		t.Errorf("request = %s %s, want POST %s", rec.method, rec.path, ttsEndpoint)
	}
	want := ttsRequest{Text: "Bonjour.", SpeakerWav: "narrator.wav", Language: "fr"}
	if rec.body != want {
		t.Errorf("body = %+v, want %+v", rec.body, want)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload []byte
		text    string
	}{
		{name: "server error", status: http.StatusInternalServerError, text: "hi"},
		{name: "not a wav", status: http.StatusOK, payload: []byte("<html>oops</html>"), text: "hi"},
		{name: "empty text", status: http.StatusOK, payload: testWAV(), text: "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec recorded
			srv := newMockServer(t, &rec, tt.status, tt.payload)
			p, _ := New(srv.URL)
			if _, err := p.Synthesize(t.Context(), tt.text, "en"); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSynthesize_DecodesToSpeechFormat(t *testing.T) {
	var rec recorded
	srv := newMockServer(t, &rec, http.StatusOK, testWAV())

	p, _ := New(srv.URL)
	clip, err := p.Synthesize(t.Context(), "Hello.", "en")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	pcm, err := audio.Decode(*clip)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// 50 ms at 16 kHz mono is 800 samples; linear resampling may drop one.
	if n := len(pcm) / 2; n < 799 || n > 800 {
		t.Errorf("decoded samples = %d, want ~800", n)
	}
}
