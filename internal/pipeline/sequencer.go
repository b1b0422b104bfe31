package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/aipibridge/internal/device"
)

// Default hardware sequencing parameters.
const (
	DefaultSettleDelay    = 1 * time.Second
	DefaultPlaybackMargin = 500 * time.Millisecond

	DefaultSpeakerWake = "prepare_speaker"
	DefaultMicRestore  = "restore_mic"
	DefaultMediaPlayer = "AiPi Media Player"
)

// LinkSource yields the current device link, or nil while disconnected.
type LinkSource interface {
	Link() device.Link
}

// CapabilityNames names the device capabilities the hardware sequence uses.
type CapabilityNames struct {
	SpeakerWake string
	MicRestore  string
	MediaPlayer string
}

func (n CapabilityNames) withDefaults() CapabilityNames {
	if n.SpeakerWake == "" {
		n.SpeakerWake = DefaultSpeakerWake
	}
	if n.MicRestore == "" {
		n.MicRestore = DefaultMicRestore
	}
	if n.MediaPlayer == "" {
		n.MediaPlayer = DefaultMediaPlayer
	}
	return n
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

var _ Player = (*Sequencer)(nil)

// Sequencer drives the device through wake, play and restore for one
// published asset.
//
// The device never acknowledges the end of playback. The sequencer waits
// for the asset's duration plus a safety margin and then restores the
// microphone; if the device starts playback late or buffers slowly, the
// restore can cut the tail of the reply.
type Sequencer struct {
	links    LinkSource
	names    CapabilityNames
	mediaURL string
	settle   time.Duration
	margin   time.Duration
	sleep    SleepFunc
}

// SequencerOption is a functional option for NewSequencer.
type SequencerOption func(*Sequencer)

// WithCapabilityNames overrides the capability names. Empty fields keep
// their defaults.
func WithCapabilityNames(n CapabilityNames) SequencerOption {
	return func(s *Sequencer) {
		s.names = n.withDefaults()
	}
}

// WithSettleDelay sets the wait between waking the speaker and playing.
func WithSettleDelay(d time.Duration) SequencerOption {
	return func(s *Sequencer) {
		s.settle = d
	}
}

// WithPlaybackMargin sets the slack added to the asset duration before the
// microphone is restored. Negative values are treated as zero.
func WithPlaybackMargin(d time.Duration) SequencerOption {
	return func(s *Sequencer) {
		s.margin = d
	}
}

// WithSleep replaces the timer used for waits. Used by tests.
func WithSleep(fn SleepFunc) SequencerOption {
	return func(s *Sequencer) {
		s.sleep = fn
	}
}

// NewSequencer creates a Sequencer that tells the device to fetch mediaURL.
func NewSequencer(links LinkSource, mediaURL string, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		links:    links,
		names:    CapabilityNames{}.withDefaults(),
		mediaURL: mediaURL,
		settle:   DefaultSettleDelay,
		margin:   DefaultPlaybackMargin,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.margin < 0 {
		s.margin = 0
	}
	return s
}

// PlaybackWait returns how long the sequencer waits for an asset of length
// d to finish playing. It is never less than d.
func (s *Sequencer) PlaybackWait(d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	return d + s.margin
}

// Play runs the hardware sequence for an asset of length d:
// resolve capabilities, wake the speaker, settle, start playback, wait for
// the estimated end, restore the microphone.
func (s *Sequencer) Play(ctx context.Context, d time.Duration) error {
	link := s.links.Link()
	if link == nil {
		return ErrNoLink
	}

	caps, err := link.ListCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("%w: list capabilities: %w", ErrSequence, err)
	}
	wake, okWake := caps.Service(s.names.SpeakerWake)
	restore, okRestore := caps.Service(s.names.MicRestore)
	player, okPlayer := caps.MediaPlayer(s.names.MediaPlayer)
	var missing []string
	if !okWake {
		missing = append(missing, "service "+s.names.SpeakerWake)
	}
	if !okRestore {
		missing = append(missing, "service "+s.names.MicRestore)
	}
	if !okPlayer {
		missing = append(missing, "media player "+s.names.MediaPlayer)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrCapabilityMissing, missing)
	}

	if err := link.ExecuteService(ctx, wake, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSequence, wake.Name, err)
	}
	if err := s.sleep(ctx, s.settle); err != nil {
		return err
	}
	if err := link.PlayMedia(ctx, player.Key, s.mediaURL); err != nil {
		return fmt.Errorf("%w: play media: %w", ErrSequence, err)
	}

	wait := s.PlaybackWait(d)
	slog.Debug("waiting for playback", "duration", d, "wait", wait)
	if err := s.sleep(ctx, wait); err != nil {
		return err
	}
	if err := link.ExecuteService(ctx, restore, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSequence, restore.Name, err)
	}
	return nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
