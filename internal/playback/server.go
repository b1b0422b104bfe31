package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultRoute is the path the device media player fetches.
const DefaultRoute = "/voice.wav"

// Server serves the current asset at a single route.
type Server struct {
	store      *Store
	route      string
	middleware func(http.Handler) http.Handler
}

// ServerOption is a functional option for NewServer.
type ServerOption func(*Server)

// WithRoute overrides the asset path. Default: "/voice.wav".
func WithRoute(route string) ServerOption {
	return func(s *Server) {
		s.route = route
	}
}

// WithMiddleware wraps the handler, e.g. with observe.Middleware.
func WithMiddleware(mw func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) {
		s.middleware = mw
	}
}

// NewServer creates a Server reading from store.
func NewServer(store *Store, opts ...ServerOption) *Server {
	s := &Server{store: store, route: DefaultRoute}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Route returns the asset path.
func (s *Server) Route() string {
	return s.route
}

// Handler returns the HTTP handler. Only GET (and HEAD) on the asset route
// are served; everything else is 404 or 405.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.route, s.serveAsset)
	var h http.Handler = mux
	if s.middleware != nil {
		h = s.middleware(h)
	}
	return h
}

// serveAsset writes the snapshot current at request time. Before the first
// publication the response is an empty 200.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	a := s.store.Current()
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	if a == nil {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(a.WAV)))
	w.Header().Set("X-Asset-Version", strconv.FormatUint(a.Version, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(a.WAV); err != nil {
		slog.Debug("playback: write asset", "err", err, "version", a.Version)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("playback: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("playback server listening", "addr", ln.Addr().String(), "route", s.route)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("playback: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("playback: shutdown: %w", err)
	}
	return nil
}
