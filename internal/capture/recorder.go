// Package capture ingests raw PCM audio streamed by the device.
//
// A [Recorder] owns the recording state of the current utterance. While it is
// armed, frames handed to [Recorder.Feed] travel over a bounded channel to a
// collector goroutine that owns the utterance buffer. [Recorder.Stop] closes
// the ingestion window before reading the buffer, so no frame can be appended
// after the snapshot is taken. A [Listener] reads UDP datagrams and feeds them
// to a recorder.
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of frames that may be in flight between
// Feed and the collector.
const DefaultQueueSize = 1024

// State is the recording state of a [Recorder].
type State int

const (
	// Idle means frames are dropped.
	Idle State = iota
	// Armed means frames are appended to the current utterance.
	Armed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	default:
		return "unknown"
	}
}

// utterance is the capture of a single device session. Its frames channel is
// closed exactly once by the Recorder while holding the write lock.
type utterance struct {
	frames chan []byte
	done   chan struct{}
	data   []byte
}

func newUtterance(queue int) *utterance {
	u := &utterance{
		frames: make(chan []byte, queue),
		done:   make(chan struct{}),
	}
	go u.collect()
	return u
}

func (u *utterance) collect() {
	defer close(u.done)
	for f := range u.frames {
		u.data = append(u.data, f...)
	}
}

// finish closes the frame channel and waits for the collector. The caller
// must hold the Recorder write lock while closing.
func (u *utterance) finish() []byte {
	<-u.done
	return u.data
}

// Recorder gates incoming frames on the recording state.
//
// All methods are safe for concurrent use.
type Recorder struct {
	queue int

	mu  sync.RWMutex
	cur *utterance

	dropped atomic.Int64
}

// RecorderOption is a functional option for NewRecorder.
type RecorderOption func(*Recorder)

// WithQueueSize sets the frame queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = n
		}
	}
}

// NewRecorder creates an idle Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{queue: DefaultQueueSize}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start arms the recorder with an empty buffer. Audio captured for a
// previous utterance that was never stopped is discarded.
func (r *Recorder) Start() {
	r.mu.Lock()
	prev := r.cur
	if prev != nil {
		close(prev.frames)
	}
	r.cur = newUtterance(r.queue)
	r.mu.Unlock()

	if prev != nil {
		n := len(prev.finish())
		slog.Debug("capture: discarded unfinished utterance", "bytes", n)
	}
}

// Stop disarms the recorder and returns everything captured since Start.
// The returned slice is owned by the caller. Stop on an idle recorder
// returns nil.
func (r *Recorder) Stop() []byte {
	r.mu.Lock()
	u := r.cur
	r.cur = nil
	if u != nil {
		close(u.frames)
	}
	r.mu.Unlock()

	if u == nil {
		return nil
	}
	return u.finish()
}

// Feed appends a copy of frame to the current utterance when armed and drops
// it otherwise. It never blocks; a frame that does not fit in the queue is
// dropped. It reports whether the frame was accepted.
func (r *Recorder) Feed(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cur == nil {
		return false
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case r.cur.frames <- buf:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// State reports whether the recorder is armed.
func (r *Recorder) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cur == nil {
		return Idle
	}
	return Armed
}

// Dropped returns the number of frames lost to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}
