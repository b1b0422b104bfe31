// Package ws implements [device.Link] over a WebSocket carrying JSON
// messages. It targets a firmware-side (or proxy-side) bridge that exposes
// the device native API as:
//
//	→ {"id":1,"type":"login","password":"..."}
//	← {"id":1,"type":"response","ok":true}
//	→ {"id":2,"type":"list_capabilities"}
//	← {"id":2,"type":"response","ok":true,"capabilities":{"services":[...],"entities":[...]}}
//	→ {"id":3,"type":"subscribe_voice"}
//	← {"type":"voice_start","conversation_id":"abc"}
//	→ {"type":"voice_start_reply","port":50000}
//	← {"type":"voice_audio","data":"<base64 pcm>"}
//	← {"type":"voice_stop"}
//	→ {"id":4,"type":"execute_service","key":7,"data":{}}
//	→ {"id":5,"type":"play_media","key":11,"media_url":"http://..."}
//
// Requests carry an id and are answered by exactly one response with the
// same id. Voice events are unsolicited.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/aipibridge/internal/device"
)

const (
	defaultPath        = "/api"
	defaultDialTimeout = 10 * time.Second
	readLimit          = 1 << 20
)

var (
	_ device.Dialer = (*Dialer)(nil)
	_ device.Link   = (*Link)(nil)
)

// Option is a functional option for configuring the Dialer.
type Option func(*Dialer)

// WithPath sets the WebSocket path on the device. Default: "/api".
func WithPath(path string) Option {
	return func(d *Dialer) {
		d.path = path
	}
}

// WithTLS makes the dialer use wss:// instead of ws://.
func WithTLS() Option {
	return func(d *Dialer) {
		d.scheme = "wss"
	}
}

// WithDialTimeout bounds the WebSocket handshake.
func WithDialTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.timeout = timeout
	}
}

// Dialer opens WebSocket links to devices.
type Dialer struct {
	scheme  string
	path    string
	timeout time.Duration
}

// NewDialer creates a Dialer with sensible defaults.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{scheme: "ws", path: defaultPath, timeout: defaultDialTimeout}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements device.Dialer.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (device.Link, error) {
	u := fmt.Sprintf("%s://%s%s", d.scheme, net.JoinHostPort(host, strconv.Itoa(port)), d.path)

	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", u, err)
	}
	conn.SetReadLimit(readLimit)
	return newLink(conn), nil
}

// ── Protocol message types ───────────────────────────────────────────────────

type request struct {
	ID       uint64            `json:"id"`
	Type     string            `json:"type"`
	Password string            `json:"password,omitempty"`
	Key      *uint32           `json:"key,omitempty"`
	Data     map[string]string `json:"data,omitzero"`
	MediaURL string            `json:"media_url,omitempty"`
}

type response struct {
	ID           uint64               `json:"id"`
	OK           bool                 `json:"ok"`
	Error        string               `json:"error,omitempty"`
	Capabilities *device.Capabilities `json:"capabilities,omitempty"`
}

type startReply struct {
	Type string `json:"type"`
	Port int    `json:"port"`
}

// ── Link ─────────────────────────────────────────────────────────────────────

// Link is a live WebSocket connection to one device.
type Link struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu         sync.Mutex
	nextID     uint64
	pending    map[uint64]chan response
	handlers   *device.VoiceHandlers
	errVal     error
	disconnect bool
}

func newLink(conn *websocket.Conn) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[uint64]chan response),
	}
	go l.receiveLoop()
	return l
}

// Login implements device.Link.
func (l *Link) Login(ctx context.Context, password string) error {
	_, err := l.call(ctx, request{Type: "login", Password: password})
	return err
}

// ListCapabilities implements device.Link.
func (l *Link) ListCapabilities(ctx context.Context) (device.Capabilities, error) {
	resp, err := l.call(ctx, request{Type: "list_capabilities"})
	if err != nil {
		return device.Capabilities{}, err
	}
	if resp.Capabilities == nil {
		return device.Capabilities{}, nil
	}
	return *resp.Capabilities, nil
}

// SubscribeVoice implements device.Link.
func (l *Link) SubscribeVoice(ctx context.Context, h device.VoiceHandlers) error {
	l.mu.Lock()
	if l.handlers != nil {
		l.mu.Unlock()
		return errors.New("ws: voice already subscribed")
	}
	l.handlers = &h
	l.mu.Unlock()

	if _, err := l.call(ctx, request{Type: "subscribe_voice"}); err != nil {
		l.mu.Lock()
		l.handlers = nil
		l.mu.Unlock()
		return err
	}
	return nil
}

// ExecuteService implements device.Link.
func (l *Link) ExecuteService(ctx context.Context, svc device.Service, data map[string]string) error {
	if data == nil {
		data = map[string]string{}
	}
	_, err := l.call(ctx, request{Type: "execute_service", Key: &svc.Key, Data: data})
	return err
}

// PlayMedia implements device.Link.
func (l *Link) PlayMedia(ctx context.Context, entityKey uint32, url string) error {
	_, err := l.call(ctx, request{Type: "play_media", Key: &entityKey, MediaURL: url})
	return err
}

// Disconnect implements device.Link. Idempotent.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.disconnect {
		l.mu.Unlock()
		return nil
	}
	l.disconnect = true
	l.mu.Unlock()

	l.setErr(device.ErrClosed)
	err := l.conn.Close(websocket.StatusNormalClosure, "bye")
	l.cancel()
	<-l.done
	if err != nil && !errors.Is(err, net.ErrClosed) && websocket.CloseStatus(err) == -1 {
		return fmt.Errorf("ws: disconnect: %w", err)
	}
	return nil
}

// Done implements device.Link.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err implements device.Link.
func (l *Link) Err() error {
	select {
	case <-l.done:
	default:
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errVal
}

// call sends req with a fresh id and waits for its response.
func (l *Link) call(ctx context.Context, req request) (response, error) {
	select {
	case <-l.done:
		return response{}, fmt.Errorf("ws: %s: %w", req.Type, device.ErrClosed)
	default:
	}

	ch := make(chan response, 1)
	l.mu.Lock()
	l.nextID++
	req.ID = l.nextID
	l.pending[req.ID] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, req.ID)
		l.mu.Unlock()
	}()

	if err := l.writeJSON(ctx, req); err != nil {
		return response{}, fmt.Errorf("ws: %s: %w", req.Type, err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "rejected"
			}
			return resp, fmt.Errorf("ws: %s: %s", req.Type, msg)
		}
		return resp, nil
	case <-l.done:
		return response{}, fmt.Errorf("ws: %s: %w", req.Type, device.ErrClosed)
	case <-ctx.Done():
		return response{}, fmt.Errorf("ws: %s: %w", req.Type, ctx.Err())
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (l *Link) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages until the connection fails. It owns done.
func (l *Link) receiveLoop() {
	defer close(l.done)

	for {
		_, data, err := l.conn.Read(l.ctx)
		if err != nil {
			l.setErr(fmt.Errorf("ws: read: %w", err))
			return
		}
		l.dispatch(data)
	}
}

func (l *Link) dispatch(data []byte) {
	if !gjson.ValidBytes(data) {
		slog.Debug("ws: dropping malformed message", "len", len(data))
		return
	}
	msg := gjson.ParseBytes(data)

	switch typ := msg.Get("type").String(); typ {
	case "response":
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Debug("ws: bad response", "err", err)
			return
		}
		l.mu.Lock()
		ch, ok := l.pending[resp.ID]
		l.mu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}

	case "voice_start":
		h := l.voiceHandlers()
		if h == nil || h.OnStart == nil {
			return
		}
		port := h.OnStart(msg.Get("conversation_id").String())
		if err := l.writeJSON(l.ctx, startReply{Type: "voice_start_reply", Port: port}); err != nil {
			slog.Debug("ws: voice start reply failed", "err", err)
		}

	case "voice_stop":
		if h := l.voiceHandlers(); h != nil && h.OnStop != nil {
			h.OnStop()
		}

	case "voice_audio":
		h := l.voiceHandlers()
		if h == nil || h.OnAudio == nil {
			return
		}
		frame, err := base64.StdEncoding.DecodeString(msg.Get("data").String())
		if err != nil || len(frame) == 0 {
			return
		}
		h.OnAudio(frame)

	default:
		slog.Debug("ws: ignoring message", "type", typ)
	}
}

func (l *Link) voiceHandlers() *device.VoiceHandlers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers
}

func (l *Link) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errVal == nil {
		l.errVal = err
	}
}
