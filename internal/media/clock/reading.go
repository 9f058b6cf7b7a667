package clock

import "time"

// Reading is a raw timestamp in a source's native clock domain.
type Reading interface {
	// Since returns the time elapsed from an earlier reading of the same kind.
	// Readings of different kinds are not comparable and yield zero.
	Since(earlier Reading) time.Duration
}

// Instant is an OS wall-clock capture time.
type Instant time.Time

func (i Instant) Since(earlier Reading) time.Duration {
	e, ok := earlier.(Instant)
	if !ok {
		return 0
	}
	return time.Time(i).Sub(time.Time(e))
}

// HostNanos is a hardware-correlated nanosecond counter, such as the host time
// a screen-capture API attaches to each frame.
type HostNanos int64

func (h HostNanos) Since(earlier Reading) time.Duration {
	e, ok := earlier.(HostNanos)
	if !ok {
		return 0
	}
	return time.Duration(int64(h) - int64(e))
}

// Samples is a monotonic stream position, such as the number of audio samples
// delivered by a device since it was opened.
type Samples struct {
	Count int64
	Rate  int
}

func (s Samples) Since(earlier Reading) time.Duration {
	e, ok := earlier.(Samples)
	if !ok || s.Rate == 0 {
		return 0
	}
	return time.Duration(s.Count-e.Count) * time.Second / time.Duration(s.Rate)
}
