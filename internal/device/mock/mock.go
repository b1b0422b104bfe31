// Package mock provides test doubles for the device.Link and device.Dialer
// interfaces.
//
// Link records every call and lets tests fire voice events through the
// registered handlers or simulate a link failure with Fail.
//
// Example:
//
//	link := mock.NewLink()
//	link.CapabilitiesResult = device.Capabilities{...}
//	dialer := &mock.Dialer{Links: []*mock.Link{link}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aipibridge/internal/device"
)

// ExecuteServiceCall records a single invocation of ExecuteService.
type ExecuteServiceCall struct {
	Service device.Service
	Data    map[string]string
}

// PlayMediaCall records a single invocation of PlayMedia.
type PlayMediaCall struct {
	EntityKey uint32
	URL       string
}

// Link is a mock implementation of device.Link.
type Link struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// LoginErr, if non-nil, is returned from Login.
	LoginErr error

	// CapabilitiesResult is returned by ListCapabilities.
	CapabilitiesResult device.Capabilities

	// CapabilitiesErr, if non-nil, is returned from ListCapabilities.
	CapabilitiesErr error

	// SubscribeErr, if non-nil, is returned from SubscribeVoice.
	SubscribeErr error

	// ExecuteErr, if non-nil, is returned from ExecuteService.
	ExecuteErr error

	// PlayErr, if non-nil, is returned from PlayMedia.
	PlayErr error

	// OnCall, if set, is invoked with the method name for every call that
	// reaches the device ("login", "list_capabilities", "subscribe_voice",
	// "execute_service", "play_media"). Used to observe ordering across
	// goroutines.
	OnCall func(method string)

	// --- Call records ---

	LoginCalls           []string
	ListCapabilitiesCall int
	SubscribeCalls       int
	ExecuteServiceCalls  []ExecuteServiceCall
	PlayMediaCalls       []PlayMediaCall
	DisconnectCalls      int

	handlers *device.VoiceHandlers
	done     chan struct{}
	err      error
	closed   bool
}

// NewLink creates a live mock link.
func NewLink() *Link {
	return &Link{done: make(chan struct{})}
}

func (l *Link) record(method string) {
	if l.OnCall != nil {
		l.OnCall(method)
	}
}

// Login records the call and returns LoginErr.
func (l *Link) Login(_ context.Context, password string) error {
	l.mu.Lock()
	l.LoginCalls = append(l.LoginCalls, password)
	err := l.LoginErr
	l.mu.Unlock()
	l.record("login")
	return err
}

// ListCapabilities records the call and returns CapabilitiesResult, CapabilitiesErr.
func (l *Link) ListCapabilities(context.Context) (device.Capabilities, error) {
	l.mu.Lock()
	l.ListCapabilitiesCall++
	caps, err := l.CapabilitiesResult, l.CapabilitiesErr
	l.mu.Unlock()
	l.record("list_capabilities")
	return caps, err
}

// SubscribeVoice records the handlers unless SubscribeErr is set.
func (l *Link) SubscribeVoice(_ context.Context, h device.VoiceHandlers) error {
	l.mu.Lock()
	l.SubscribeCalls++
	err := l.SubscribeErr
	if err == nil {
		l.handlers = &h
	}
	l.mu.Unlock()
	l.record("subscribe_voice")
	return err
}

// ExecuteService records the call and returns ExecuteErr.
func (l *Link) ExecuteService(_ context.Context, svc device.Service, data map[string]string) error {
	l.mu.Lock()
	l.ExecuteServiceCalls = append(l.ExecuteServiceCalls, ExecuteServiceCall{Service: svc, Data: data})
	err := l.ExecuteErr
	l.mu.Unlock()
	l.record("execute_service:" + svc.Name)
	return err
}

// PlayMedia records the call and returns PlayErr.
func (l *Link) PlayMedia(_ context.Context, entityKey uint32, url string) error {
	l.mu.Lock()
	l.PlayMediaCalls = append(l.PlayMediaCalls, PlayMediaCall{EntityKey: entityKey, URL: url})
	err := l.PlayErr
	l.mu.Unlock()
	l.record("play_media")
	return err
}

// Disconnect records the call and closes Done.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	l.DisconnectCalls++
	l.mu.Unlock()
	l.Fail(device.ErrClosed)
	return nil
}

// Done implements device.Link.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err implements device.Link.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Fail marks the link as failed with err and closes Done. Idempotent.
func (l *Link) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	close(l.done)
}

// Subscribed reports whether a voice subscription is registered.
func (l *Link) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers != nil
}

// FireStart invokes the registered OnStart handler and returns its port.
// Returns -1 when nothing is subscribed.
func (l *Link) FireStart(conversationID string) int {
	h := l.voiceHandlers()
	if h == nil || h.OnStart == nil {
		return -1
	}
	return h.OnStart(conversationID)
}

// FireStop invokes the registered OnStop handler.
func (l *Link) FireStop() {
	if h := l.voiceHandlers(); h != nil && h.OnStop != nil {
		h.OnStop()
	}
}

// FireAudio invokes the registered OnAudio handler.
func (l *Link) FireAudio(frame []byte) {
	if h := l.voiceHandlers(); h != nil && h.OnAudio != nil {
		h.OnAudio(frame)
	}
}

func (l *Link) voiceHandlers() *device.VoiceHandlers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers
}

// Snapshot returns copies of the recorded service and media calls. Thread-safe.
func (l *Link) Snapshot() ([]ExecuteServiceCall, []PlayMediaCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ExecuteServiceCall(nil), l.ExecuteServiceCalls...),
		append([]PlayMediaCall(nil), l.PlayMediaCalls...)
}

var _ device.Link = (*Link)(nil)

// DialCall records a single invocation of Dial.
type DialCall struct {
	Host string
	Port int
}

// Dialer is a mock implementation of device.Dialer. Each successful Dial
// returns the next entry of Links; once exhausted a fresh NewLink is
// returned.
type Dialer struct {
	mu sync.Mutex

	// Links are handed out in order.
	Links []*Link

	// DialErrs are returned by the first len(DialErrs) calls, in order. A nil
	// entry means that call succeeds.
	DialErrs []error

	// Calls records every call to Dial.
	Calls []DialCall

	// Dialed receives every link handed out. Optional; sends never block.
	Dialed chan *Link
}

// Dial implements device.Dialer.
func (d *Dialer) Dial(_ context.Context, host string, port int) (device.Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.Calls)
	d.Calls = append(d.Calls, DialCall{Host: host, Port: port})
	if n < len(d.DialErrs) && d.DialErrs[n] != nil {
		return nil, d.DialErrs[n]
	}

	var l *Link
	if len(d.Links) > 0 {
		l, d.Links = d.Links[0], d.Links[1:]
	} else {
		l = NewLink()
	}
	if d.Dialed != nil {
		select {
		case d.Dialed <- l:
		default:
		}
	}
	return l, nil
}

// CallCount returns the number of Dial calls. Thread-safe.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

var _ device.Dialer = (*Dialer)(nil)
