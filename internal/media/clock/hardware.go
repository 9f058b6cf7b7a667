package clock

import (
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
)

// HostClock reads the current time in the hardware timestamp domain.
type HostClock func() HostNanos

var hostEpoch = time.Now()

// MonotonicHost is a HostClock backed by the process monotonic clock. Drivers
// without a device clock stamp frames with it.
func MonotonicHost() HostNanos { return HostNanos(time.Since(hostEpoch)) }

// HardwareClock trusts one authoritative hardware capture time domain, such as
// the host time a screen-capture API stamps on frames. The first reading after
// each start anchors that domain to the session timeline; every other source
// is mapped into the domain and inherits the same anchor.
type HardwareClock struct {
	session *Session
	host    HostClock

	mu       sync.Mutex
	epoch    uint64
	anchorHW HostNanos
	anchorAt time.Duration
}

// Hardware returns the session's hardware-domain synchronizer.
func (s *Session) Hardware(host HostClock) *HardwareClock {
	return &HardwareClock{session: s, host: host}
}

// Source returns a per-source view that implements Synchronizer.
func (h *HardwareClock) Source() *HardwareSource {
	return &HardwareSource{hw: h}
}

// position maps a hardware time to the session timeline, anchoring if this is
// the first reading of the current run.
func (h *HardwareClock) position(hw HostNanos, globalStart time.Time, epoch uint64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.epoch != epoch {
		h.epoch = epoch
		h.anchorHW = hw
		h.anchorAt = h.session.clock.Since(globalStart) + h.session.ResumeOffset()
	}
	d := h.anchorAt + hw.Since(h.anchorHW)
	if d < h.anchorAt {
		// captured before the anchor; clamp onto the run's start
		d = h.anchorAt
	}
	return d
}

// HardwareSource adapts one source's readings into the hardware domain.
type HardwareSource struct {
	hw *HardwareClock

	mu      sync.Mutex
	epoch   uint64
	firstHW HostNanos
	first   Reading
	last    media.Timestamp
}

func (s *HardwareSource) TimestampFor(r Reading) (media.Timestamp, bool) {
	globalStart, epoch, ok := s.hw.session.snapshot()
	if !ok {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var hw HostNanos
	switch v := r.(type) {
	case HostNanos:
		hw = v
	case Instant:
		// translate through the current offset between the two domains
		hw = s.hw.host() - HostNanos(s.hw.session.clock.Since(time.Time(v)))
	default:
		if s.epoch != epoch {
			s.epoch = epoch
			s.first = r
			s.firstHW = s.hw.host()
		}
		hw = s.firstHW + HostNanos(r.Since(s.first))
	}

	ts := media.Timestamp(s.hw.position(hw, globalStart, epoch))
	if ts < s.last {
		ts = s.last
	}
	s.last = ts
	return ts, true
}
