// Package app wires all bridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run supervises the long-lived goroutines until the context is
// cancelled, and Shutdown drains in-flight utterances.
//
// For testing, inject doubles via functional options (WithDialer,
// WithMetrics, WithPlaybackListener, ...). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/aipibridge/internal/capture"
	"github.com/MrWong99/aipibridge/internal/config"
	"github.com/MrWong99/aipibridge/internal/device"
	"github.com/MrWong99/aipibridge/internal/device/ws"
	"github.com/MrWong99/aipibridge/internal/health"
	"github.com/MrWong99/aipibridge/internal/observe"
	"github.com/MrWong99/aipibridge/internal/pipeline"
	"github.com/MrWong99/aipibridge/internal/playback"
	"github.com/MrWong99/aipibridge/internal/supervisor"
	"github.com/MrWong99/aipibridge/pkg/provider/llm"
	"github.com/MrWong99/aipibridge/pkg/provider/stt"
	"github.com/MrWong99/aipibridge/pkg/provider/tts"
)

// serverShutdownTimeout bounds the graceful stop of each HTTP server.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one interface value per collaborator. All three are
// required. Populated by main.go via the config registry.
type Providers struct {
	STT stt.Transcriber
	LLM llm.Provider
	TTS tts.Synthesizer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	dialer    device.Dialer

	recorder     *capture.Recorder
	listener     *capture.Listener
	store        *playback.Store
	playback     *playback.Server
	supervisor   *supervisor.Supervisor
	orchestrator *pipeline.Orchestrator
	health       *health.Handler

	// captureStart is closed once the first device link is subscribed.
	captureStart chan struct{}
	frames       atomic.Int64

	playbackLn net.Listener
	adminLn    net.Listener

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects a device dialer instead of the websocket dialer.
func WithDialer(d device.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects a metrics sink instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPlaybackListener serves the asset on ln instead of listening on
// playback.listen_addr.
func WithPlaybackListener(ln net.Listener) Option {
	return func(a *App) { a.playbackLn = ln }
}

// WithAdminListener serves the admin endpoints on ln instead of listening on
// server.admin_addr.
func WithAdminListener(ln net.Listener) Option {
	return func(a *App) { a.adminLn = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing touches the
// network until Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: stt, llm and tts providers are required")
	}

	a := &App{
		cfg:          cfg,
		providers:    providers,
		captureStart: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.dialer == nil {
		a.dialer = newDialer(cfg.Device)
	}

	// ── 1. Capture ───────────────────────────────────────────────────────
	a.recorder = capture.NewRecorder(capture.WithQueueSize(cfg.Capture.FrameQueue))
	a.listener = capture.NewListener(cfg.Capture.ListenHost, cfg.Capture.Port, a.recorder,
		capture.WithFrameHook(func(int) {
			a.frames.Add(1)
			a.metrics.CaptureFrames.Add(context.Background(), 1)
		}),
	)

	// ── 2. Playback ──────────────────────────────────────────────────────
	a.store = playback.NewStore()
	a.playback = playback.NewServer(a.store,
		playback.WithRoute(cfg.Playback.Route),
		playback.WithMiddleware(observe.Middleware(a.metrics)),
	)

	// ── 3. Orchestrator + supervisor ─────────────────────────────────────
	// The sequencer reads the current link from the supervisor, which in
	// turn forwards voice events to the orchestrator.
	links := &linkRef{}
	seq := pipeline.NewSequencer(links, cfg.Playback.MediaURL(),
		pipeline.WithCapabilityNames(pipeline.CapabilityNames{
			SpeakerWake: cfg.Device.Capabilities.SpeakerWake,
			MicRestore:  cfg.Device.Capabilities.MicRestore,
			MediaPlayer: cfg.Device.Capabilities.MediaPlayer,
		}),
		pipeline.WithSettleDelay(cfg.Pipeline.SettleDelay),
		pipeline.WithPlaybackMargin(cfg.Pipeline.PlaybackMargin),
	)

	orch, err := pipeline.New(pipelineConfig(cfg), a.recorder,
		pipeline.Collaborators{
			Transcriber: providers.STT,
			LLM:         providers.LLM,
			Synthesizer: providers.TTS,
		},
		a.store, seq,
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.orchestrator = orch

	sup, err := supervisor.New(supervisor.Config{
		Host:       cfg.Device.Host,
		Port:       cfg.Device.Port,
		Password:   cfg.Device.Password,
		RetryDelay: cfg.Device.ReconnectDelay,
	}, a.dialer, orch.Handlers(),
		supervisor.WithMetrics(a.metrics),
		supervisor.WithFirstConnect(func() { close(a.captureStart) }),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init supervisor: %w", err)
	}
	a.supervisor = sup
	links.src = sup

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Flag("device_link", "device link down", sup.Connected),
		health.Flag("capture", "capture listener not bound", a.listener.Bound),
	)

	return a, nil
}

// linkRef breaks the construction cycle between sequencer and supervisor.
type linkRef struct{ src pipeline.LinkSource }

func (l *linkRef) Link() device.Link {
	if l.src == nil {
		return nil
	}
	return l.src.Link()
}

func newDialer(dc config.DeviceConfig) *ws.Dialer {
	opts := []ws.Option{ws.WithPath(dc.Path)}
	if dc.TLS {
		opts = append(opts, ws.WithTLS())
	}
	if dc.DialTimeout > 0 {
		opts = append(opts, ws.WithDialTimeout(dc.DialTimeout))
	}
	return ws.NewDialer(opts...)
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		CapturePort:       cfg.Capture.Port,
		MinUtteranceBytes: cfg.Capture.MinUtteranceBytes,
		Language:          cfg.Pipeline.Language,
		FallbackReply:     cfg.Pipeline.FallbackReply,
		SystemPrompt:      cfg.Pipeline.SystemPrompt,
		MaxTokens:         cfg.Pipeline.MaxTokens,
		Temperature:       cfg.Pipeline.Temperature,
		InferenceTimeout:  cfg.Pipeline.InferenceTimeout,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the device supervisor, the capture listener, the playback
// server and the admin server, and blocks until ctx is cancelled or one of
// them fails. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.supervisor.Run(gctx)
	})

	// The listener starts after the first successful subscription and then
	// runs for the life of the process, independent of later reconnects.
	g.Go(func() error {
		select {
		case <-a.captureStart:
		case <-gctx.Done():
			return nil
		}
		return a.listener.Run(gctx)
	})

	g.Go(func() error {
		if a.playbackLn != nil {
			return a.playback.Serve(gctx, a.playbackLn, serverShutdownTimeout)
		}
		return a.playback.ListenAndServe(gctx, a.cfg.Playback.ListenAddr, serverShutdownTimeout)
	})

	if a.adminLn != nil || a.cfg.Server.AdminEnabled() {
		g.Go(func() error {
			return a.serveAdmin(gctx)
		})
	}

	slog.Info("app running",
		"device", a.cfg.Device.Host,
		"capture_port", a.cfg.Capture.Port,
		"media_url", a.cfg.Playback.MediaURL(),
	)
	return g.Wait()
}

// adminHandler routes the health probes and the Prometheus scrape endpoint.
func (a *App) adminHandler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) serveAdmin(ctx context.Context) error {
	ln := a.adminLn
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.AdminAddr)
		if err != nil {
			return fmt.Errorf("app: admin listen %s: %w", a.cfg.Server.AdminAddr, err)
		}
	}
	srv := &http.Server{
		Handler:           a.adminHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("admin server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: admin serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: admin shutdown: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown waits for in-flight utterances to finish or be cancelled. Call it
// after Run has returned. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down",
			"state", a.orchestrator.State().String(),
			"frames_received", a.frames.Load(),
			"frames_dropped", a.recorder.Dropped(),
		)
		if err := a.orchestrator.Shutdown(ctx); err != nil {
			slog.Warn("shutdown deadline exceeded", "err", err)
			shutdownErr = err
			return
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
