// Package playback publishes the assembled reply to the device.
//
// The device media player fetches audio by URL, so the latest reply is held
// as an immutable [Asset] snapshot and served over HTTP. Publishing swaps the
// whole snapshot atomically; readers always see one complete asset, and when
// replies overlap the last publication wins.
package playback

import (
	"sync/atomic"
	"time"
)

// Asset is one published reply. Assets are never modified after publication.
type Asset struct {
	// Version increases by one with every publication, starting at 1.
	Version uint64

	// WAV is the complete playable file.
	WAV []byte

	// Duration is the playback length of WAV.
	Duration time.Duration

	// PublishedAt is when the asset became current.
	PublishedAt time.Time
}

// Store holds the current asset.
//
// All methods are safe for concurrent use.
type Store struct {
	cur     atomic.Pointer[Asset]
	version atomic.Uint64
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Publish makes wav the current asset and returns the new snapshot. The
// store takes ownership of wav.
func (s *Store) Publish(wav []byte, d time.Duration) *Asset {
	a := &Asset{
		Version:     s.version.Add(1),
		WAV:         wav,
		Duration:    d,
		PublishedAt: s.now(),
	}
	// Two concurrent publishers may finish out of order; keep the newer one.
	for {
		old := s.cur.Load()
		if old != nil && old.Version > a.Version {
			return old
		}
		if s.cur.CompareAndSwap(old, a) {
			return a
		}
	}
}

// Current returns the current asset, or nil before the first publication.
func (s *Store) Current() *Asset {
	return s.cur.Load()
}
