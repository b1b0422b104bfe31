package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Default listener parameters.
const (
	DefaultPort = 50000

	// MaxDatagramSize is the largest datagram read in one call.
	MaxDatagramSize = 4096
)

// Sink consumes raw frames read from the network.
type Sink interface {
	Feed(frame []byte) bool
}

// Listener reads raw PCM datagrams from a fixed UDP port and forwards them to
// a [Sink]. It is started once per process and runs until its context is
// cancelled; it does not depend on the device link being up.
type Listener struct {
	host string
	port int
	sink Sink

	onFrame func(n int)

	bound atomic.Pointer[net.UDPAddr]
	ready chan struct{}
}

// ListenerOption is a functional option for NewListener.
type ListenerOption func(*Listener)

// WithFrameHook registers fn to be called with the size of every received
// datagram after it has been handed to the sink. Used for metrics.
func WithFrameHook(fn func(n int)) ListenerOption {
	return func(l *Listener) {
		l.onFrame = fn
	}
}

// NewListener creates a listener bound to host:port once Run is called. An
// empty host listens on all interfaces; port 0 picks a free port (tests).
func NewListener(host string, port int, sink Sink, opts ...ListenerOption) *Listener {
	l := &Listener{
		host:  host,
		port:  port,
		sink:  sink,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Port returns the configured port that is announced to the device.
func (l *Listener) Port() int {
	return l.port
}

// Addr returns the bound local address, or nil before the socket is bound.
func (l *Listener) Addr() *net.UDPAddr {
	return l.bound.Load()
}

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Bound reports whether the socket is bound. Used as a readiness check.
func (l *Listener) Bound() bool {
	return l.bound.Load() != nil
}

// Run binds the socket and forwards datagrams until ctx is cancelled. Read
// errors other than the shutdown close are logged and tolerated.
func (l *Listener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(l.host, strconv.Itoa(l.port)))
	if err != nil {
		return fmt.Errorf("capture: listen udp :%d: %w", l.port, err)
	}
	conn := pc.(*net.UDPConn)
	l.bound.Store(conn.LocalAddr().(*net.UDPAddr))
	close(l.ready)
	slog.Info("capture listener bound", "addr", conn.LocalAddr().String())

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("capture: socket closed: %w", err)
			}
			slog.Warn("capture: read error", "err", err)
			// Avoid spinning on a persistent error.
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		l.sink.Feed(buf[:n])
		if l.onFrame != nil {
			l.onFrame(n)
		}
	}
}
