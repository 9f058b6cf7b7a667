package media

import "time"

// Timestamp is a point on a recording session's shared timeline, expressed as
// the offset from the session origin. Values are only produced by a clock
// synchronizer; frames from different sources stamped by the same session are
// directly comparable.
type Timestamp time.Duration

// Duration returns the offset from the session origin.
func (t Timestamp) Duration() time.Duration { return time.Duration(t) }

// Micros returns the offset in microseconds, the unit container time bases use.
func (t Timestamp) Micros() int64 { return time.Duration(t).Microseconds() }

// After reports whether t is strictly later than u.
func (t Timestamp) After(u Timestamp) bool { return t > u }

func (t Timestamp) String() string { return time.Duration(t).String() }
