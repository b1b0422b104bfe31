// Package supervisor keeps the bridge connected to the device.
//
// A [Supervisor] dials the device, authenticates, discovers capabilities,
// registers the voice handlers and then waits for the link to fail. On any
// fault it disconnects best-effort, sleeps a fixed delay and starts over,
// forever. Every successful connection carries exactly one subscription;
// events delivered through a subscription that is no longer current are
// dropped.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/aipibridge/internal/device"
	"github.com/MrWong99/aipibridge/internal/observe"
)

// DefaultRetryDelay is the pause between connection attempts.
const DefaultRetryDelay = 5 * time.Second

// ErrConnectionFault wraps every failure that triggers a reconnect.
var ErrConnectionFault = errors.New("supervisor: connection fault")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config identifies the device to connect to.
type Config struct {
	Host     string
	Port     int
	Password string

	// RetryDelay is the pause after a fault. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// Supervisor owns the device link lifecycle.
//
// All methods are safe for concurrent use.
type Supervisor struct {
	cfg      Config
	dialer   device.Dialer
	handlers device.VoiceHandlers
	metrics  *observe.Metrics
	sleep    SleepFunc

	firstConnect func()
	firstOnce    sync.Once

	// gen identifies the current subscription. It is bumped on every
	// subscribe and every teardown so stale handlers can tell they are stale.
	gen atomic.Uint64

	mu   sync.Mutex
	link device.Link
}

// Option is a functional option for New.
type Option func(*Supervisor)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithSleep replaces the delay function between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(s *Supervisor) {
		s.sleep = fn
	}
}

// WithFirstConnect registers fn to run once, after the first successful
// subscription. The bridge starts its capture listener here.
func WithFirstConnect(fn func()) Option {
	return func(s *Supervisor) {
		s.firstConnect = fn
	}
}

// New creates a Supervisor. handlers receive voice events from whichever
// link is current.
func New(cfg Config, dialer device.Dialer, handlers device.VoiceHandlers, opts ...Option) (*Supervisor, error) {
	if dialer == nil {
		return nil, errors.New("supervisor: dialer is required")
	}
	if cfg.Host == "" {
		return nil, errors.New("supervisor: device host is required")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	s := &Supervisor{
		cfg:      cfg,
		dialer:   dialer,
		handlers: handlers,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Link returns the live link, or nil while disconnected.
func (s *Supervisor) Link() device.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Connected reports whether a subscribed link is live.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

// Run connects and reconnects until ctx is cancelled. It always returns nil
// once ctx is done; connection faults are logged, never returned.
func (s *Supervisor) Run(ctx context.Context) error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	for attempt := 1; ; attempt++ {
		err := s.session(ctx)
		if ctx.Err() != nil {
			slog.Info("device supervisor stopped", "device", addr)
			return nil
		}
		slog.Warn("device link lost, retrying",
			"device", addr,
			"attempt", attempt,
			"retry_in", s.cfg.RetryDelay,
			"err", err,
		)
		s.metrics.Reconnects.Add(ctx, 1)
		if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
			slog.Info("device supervisor stopped", "device", addr)
			return nil
		}
	}
}

// session runs one connect → subscribe → wait cycle and returns why it ended.
func (s *Supervisor) session(ctx context.Context) error {
	link, err := s.dialer.Dial(ctx, s.cfg.Host, s.cfg.Port)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrConnectionFault, err)
	}
	defer disconnect(link)

	if err := link.Login(ctx, s.cfg.Password); err != nil {
		return fmt.Errorf("%w: login: %w", ErrConnectionFault, err)
	}
	caps, err := link.ListCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("%w: list capabilities: %w", ErrConnectionFault, err)
	}

	gen := s.gen.Add(1)
	if err := link.SubscribeVoice(ctx, s.bind(gen)); err != nil {
		s.gen.Add(1)
		return fmt.Errorf("%w: subscribe: %w", ErrConnectionFault, err)
	}

	s.setLink(link)
	s.metrics.LinkUp.Add(ctx, 1)
	slog.Info("device link established",
		"device", s.cfg.Host,
		"services", len(caps.Services),
		"entities", len(caps.Entities),
	)
	s.firstOnce.Do(func() {
		if s.firstConnect != nil {
			s.firstConnect()
		}
	})

	select {
	case <-link.Done():
	case <-ctx.Done():
	}

	s.gen.Add(1)
	s.setLink(nil)
	s.metrics.LinkUp.Add(context.Background(), -1)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := link.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFault, err)
	}
	return fmt.Errorf("%w: link closed", ErrConnectionFault)
}

// bind wraps the handlers so that events are forwarded only while gen is the
// current subscription.
func (s *Supervisor) bind(gen uint64) device.VoiceHandlers {
	current := func(event string) bool {
		if s.gen.Load() == gen {
			return true
		}
		slog.Debug("dropping event from stale subscription", "event", event, "generation", gen)
		return false
	}
	return device.VoiceHandlers{
		OnStart: func(conversationID string) int {
			if !current("start") || s.handlers.OnStart == nil {
				return 0
			}
			return s.handlers.OnStart(conversationID)
		},
		OnStop: func() {
			if current("stop") && s.handlers.OnStop != nil {
				s.handlers.OnStop()
			}
		},
		OnAudio: func(frame []byte) {
			if s.gen.Load() == gen && s.handlers.OnAudio != nil {
				s.handlers.OnAudio(frame)
			}
		},
	}
}

func (s *Supervisor) setLink(l device.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link = l
}

// disconnect tears down link; failures are expected on a dead link.
func disconnect(link device.Link) {
	if err := link.Disconnect(); err != nil {
		slog.Debug("device disconnect failed", "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
