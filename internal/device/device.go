// Package device defines the contract between the bridge and the remote
// voice-capture/playback device.
//
// The device firmware exposes a small native API: password login, discovery
// of the services and entities it offers, a voice-assistant subscription that
// pushes start/stop/audio events, service execution, and a media player that
// fetches a URL. [Link] is one live connection speaking that API; [Dialer]
// opens one. Transport adapters live in sub-packages (see device/ws).
package device

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by Link operations after the link has failed or been
// disconnected.
var ErrClosed = errors.New("device: link closed")

// Service is a user-defined action exposed by the device firmware, e.g.
// "prepare_speaker".
type Service struct {
	Name string `json:"name"`
	Key  uint32 `json:"key"`
}

// EntityKind classifies a device entity.
type EntityKind string

// Entity kinds the bridge cares about.
const (
	EntityMediaPlayer EntityKind = "media_player"
)

// Entity is a stateful component of the device, such as its media player.
type Entity struct {
	Name     string     `json:"name"`
	ObjectID string     `json:"object_id"`
	Key      uint32     `json:"key"`
	Kind     EntityKind `json:"kind"`
}

// Capabilities is the set of services and entities discovered on the device.
// It is a point-in-time snapshot; callers that act on hardware re-resolve it
// for every sequence.
type Capabilities struct {
	Services []Service `json:"services"`
	Entities []Entity  `json:"entities"`
}

// Service returns the service called name. Names match exactly.
func (c Capabilities) Service(name string) (Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// MediaPlayer returns the media player entity whose display name or object
// id equals name (case-insensitive).
func (c Capabilities) MediaPlayer(name string) (Entity, bool) {
	for _, e := range c.Entities {
		if e.Kind != EntityMediaPlayer {
			continue
		}
		if strings.EqualFold(e.Name, name) || strings.EqualFold(e.ObjectID, name) {
			return e, true
		}
	}
	return Entity{}, false
}

// VoiceHandlers receives voice-assistant events pushed by the device. The
// callbacks run on the link's read goroutine and must not block for long.
type VoiceHandlers struct {
	// OnStart is called when the device starts streaming an utterance. It
	// returns the UDP port the device should stream audio to.
	OnStart func(conversationID string) int

	// OnStop is called when the device stops streaming.
	OnStop func()

	// OnAudio is called for audio delivered over the link itself rather than
	// over UDP. May be nil.
	OnAudio func(frame []byte)
}

// Link is one live, authenticated connection to the device.
//
// Implementations must be safe for concurrent use.
type Link interface {
	// Login authenticates the connection with the device API password.
	Login(ctx context.Context, password string) error

	// ListCapabilities discovers the services and entities the device offers.
	ListCapabilities(ctx context.Context) (Capabilities, error)

	// SubscribeVoice registers h for voice-assistant events. A link carries
	// at most one subscription; a second call returns an error.
	SubscribeVoice(ctx context.Context, h VoiceHandlers) error

	// ExecuteService runs svc with the given arguments.
	ExecuteService(ctx context.Context, svc Service, data map[string]string) error

	// PlayMedia instructs the media player entity to fetch and play url.
	PlayMedia(ctx context.Context, entityKey uint32, url string) error

	// Disconnect closes the connection. Safe to call more than once.
	Disconnect() error

	// Done is closed when the link has failed or been disconnected.
	Done() <-chan struct{}

	// Err reports why Done was closed. It returns nil while the link is live.
	Err() error
}

// Dialer opens links to a device.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Link, error)
}
