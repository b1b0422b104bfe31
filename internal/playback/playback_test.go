package playback

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestStore_PublishReplacesWhole(t *testing.T) {
	s := NewStore()
	if s.Current() != nil {
		t.Fatal("new store has an asset")
	}

	a1 := s.Publish([]byte("first"), time.Second)
	a2 := s.Publish([]byte("second"), 2*time.Second)

	cur := s.Current()
	if cur != a2 {
		t.Fatal("Current is not the last published asset")
	}
	if cur.Version != a1.Version+1 {
		t.Errorf("versions %d then %d, want consecutive", a1.Version, cur.Version)
	}
	if string(a1.WAV) != "first" {
		t.Error("earlier snapshot was modified")
	}
	if cur.PublishedAt.IsZero() || cur.Duration != 2*time.Second {
		t.Errorf("metadata = %+v", cur)
	}
}

func TestStore_ConcurrentPublishLastWins(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Publish(bytes.Repeat([]byte{byte(i)}, 128), time.Duration(i))
		}()
	}
	wg.Wait()

	cur := s.Current()
	if cur.Version != 64 {
		t.Errorf("final version = %d, want 64", cur.Version)
	}
	// Every reader sees a uniform payload: never a mix of two publications.
	first := cur.WAV[0]
	for _, b := range cur.WAV {
		if b != first {
			t.Fatal("torn asset")
		}
	}
}

func TestServer_BeforeFirstPublish(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewStore()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/voice.wav")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if len(body) != 0 || resp.ContentLength != 0 {
		t.Errorf("body len = %d, content-length = %d, want empty", len(body), resp.ContentLength)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type = %q", ct)
	}
}

func TestServer_ServesCurrentAsset(t *testing.T) {
	store := NewStore()
	store.Publish([]byte("RIFF-old"), time.Second)
	store.Publish([]byte("RIFF-new-asset"), time.Second)

	srv := httptest.NewServer(NewServer(store).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/voice.wav")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if string(body) != "RIFF-new-asset" {
		t.Errorf("body = %q", body)
	}
	if resp.ContentLength != int64(len("RIFF-new-asset")) {
		t.Errorf("content-length = %d", resp.ContentLength)
	}
	if v := resp.Header.Get("X-Asset-Version"); v != "2" {
		t.Errorf("X-Asset-Version = %q, want 2", v)
	}
}

func TestServer_OtherRoutes(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewStore(), WithRoute("/reply.wav")).Handler())
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/reply.wav", http.StatusOK},
		{http.MethodGet, "/voice.wav", http.StatusNotFound},
		{http.MethodPost, "/reply.wav", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_MiddlewareApplied(t *testing.T) {
	called := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}
	rec := httptest.NewRecorder()
	NewServer(NewStore(), WithMiddleware(mw)).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice.wav", nil))
	if !called {
		t.Error("middleware not invoked")
	}
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() { errc <- NewServer(NewStore()).Serve(ctx, ln, time.Second) }()

	// The listener is already bound, so requests succeed immediately.
	resp, err := http.Get("http://" + ln.Addr().String() + "/voice.wav")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
