// Package control broadcasts the pipeline's Play/Pause/Shutdown signal.
//
// The signal is a single latest value, not a queue: a stage that looks late
// sees only the current state and never replays an older Pause or Shutdown.
package control

import (
	"context"
	"sync"

	"github.com/babelcloud/gbox-recorder/internal/util"
)

// Signal is the pipeline control state.
type Signal int

const (
	Pause Signal = iota
	Play
	Shutdown
)

func (s Signal) String() string {
	switch s {
	case Play:
		return "play"
	case Pause:
		return "pause"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Broadcaster holds the current signal and wakes every receiver when it
// changes. The zero value is not usable; call NewBroadcaster.
type Broadcaster struct {
	mu      sync.RWMutex
	value   Signal
	version uint64
	changed chan struct{} // closed and replaced on every change
}

// NewBroadcaster creates a broadcaster holding the initial signal.
func NewBroadcaster(initial Signal) *Broadcaster {
	return &Broadcaster{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Send publishes a new signal. Shutdown is terminal: later sends are ignored.
// It reports whether the value changed.
func (b *Broadcaster) Send(s Signal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.value == Shutdown || b.value == s {
		return false
	}
	b.value = s
	b.version++
	close(b.changed)
	b.changed = make(chan struct{})

	util.ComponentLogger("control").Debug("Control signal broadcast", "signal", s.String(), "version", b.version)
	return true
}

// Current returns the latest signal.
func (b *Broadcaster) Current() Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Subscribe returns a receiver positioned at the current value.
func (b *Broadcaster) Subscribe() *Receiver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Receiver{b: b, seen: b.version}
}

func (b *Broadcaster) load() (Signal, uint64, chan struct{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value, b.version, b.changed
}

// Receiver is one stage's view of the broadcast. It is not safe for use by
// more than one goroutine.
type Receiver struct {
	b    *Broadcaster
	seen uint64
}

// Latest returns the current signal and marks it as observed.
func (r *Receiver) Latest() Signal {
	v, ver, _ := r.b.load()
	r.seen = ver
	return v
}

// Changed returns a channel that is closed once the signal differs from the
// last value this receiver observed. A change that already happened yields
// an already-closed channel.
func (r *Receiver) Changed() <-chan struct{} {
	_, ver, ch := r.b.load()
	if ver != r.seen {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return ch
}

// Wait blocks until the signal changes from the last observed value and
// returns the new value.
func (r *Receiver) Wait(ctx context.Context) (Signal, error) {
	select {
	case <-r.Changed():
		return r.Latest(), nil
	case <-ctx.Done():
		return r.Latest(), ctx.Err()
	}
}
