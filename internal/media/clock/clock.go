// Package clock maps each capture source's native timestamps onto one shared,
// non-decreasing session timeline.
package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/util"
	kclock "k8s.io/utils/clock"
)

// Synchronizer converts raw readings into session timestamps. It returns
// false while the session is stopped; callers must drop such frames.
type Synchronizer interface {
	TimestampFor(r Reading) (media.Timestamp, bool)
}

// Session is the clock state shared by every source of one recording. It
// starts stopped.
type Session struct {
	clock kclock.PassiveClock

	mu          sync.RWMutex
	globalStart time.Time
	epoch       uint64

	resumeOffset atomic.Int64 // nanoseconds of recorded time before the current run
	running      atomic.Bool
}

// NewSession creates a stopped session clock. A nil clock uses the wall clock.
func NewSession(c kclock.PassiveClock) *Session {
	if c == nil {
		c = kclock.RealClock{}
	}
	return &Session{clock: c, globalStart: c.Now()}
}

// Start begins (or resumes) the timeline. Every source re-anchors on its next
// reading.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return
	}
	s.globalStart = s.clock.Now()
	s.epoch++
	s.running.Store(true)
}

// Stop pauses the timeline and banks the time recorded since Start.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.resumeOffset.Add(int64(s.clock.Since(s.globalStart)))
	util.ComponentLogger("clock").Debug("Session clock stopped", "recorded", s.ResumeOffset())
}

// Running reports whether the timeline is advancing.
func (s *Session) Running() bool { return s.running.Load() }

// ResumeOffset is the recorded duration accumulated over previous runs.
func (s *Session) ResumeOffset() time.Duration {
	return time.Duration(s.resumeOffset.Load())
}

// Elapsed returns the total recorded time, including the current run.
func (s *Session) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.ResumeOffset()
	if s.running.Load() {
		d += s.clock.Since(s.globalStart)
	}
	return d
}

// snapshot returns the current run's start and epoch. ok is false when stopped.
func (s *Session) snapshot() (start time.Time, epoch uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return time.Time{}, 0, false
	}
	return s.globalStart, s.epoch, true
}

// RealTime returns a synchronizer for one wall-clock driven source.
func (s *Session) RealTime() *RealTimeClock {
	return &RealTimeClock{session: s}
}

// RealTimeClock synchronizes one source against real elapsed time. Sources
// each own an instance; instances of one session share the same timeline.
type RealTimeClock struct {
	session *Session

	mu         sync.Mutex
	epoch      uint64
	localStart time.Time
	first      Reading
	last       media.Timestamp
}

func (c *RealTimeClock) TimestampFor(r Reading) (media.Timestamp, bool) {
	globalStart, epoch, ok := c.session.snapshot()
	if !ok {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		c.epoch = epoch
		c.localStart = c.session.clock.Now()
		c.first = r
	}

	offset := c.localStart.Sub(globalStart) + c.session.ResumeOffset()
	ts := media.Timestamp(r.Since(c.first) + offset)
	if ts < c.last {
		ts = c.last
	}
	c.last = ts
	return ts, true
}
