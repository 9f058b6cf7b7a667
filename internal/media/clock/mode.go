package clock

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode selects how source readings are mapped onto the session timeline.
type Mode string

const (
	// ModeRealTime gives every source its own wall-clock synchronizer.
	ModeRealTime Mode = "realtime"
	// ModeHardware maps every source into one host time domain.
	ModeHardware Mode = "hardware"
)

var ErrUnknownMode = errors.New("unknown clock mode")

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "realtime", "real-time", "wall":
		return ModeRealTime, nil
	case "hardware", "host":
		return ModeHardware, nil
	}
	return "", errors.Wrapf(ErrUnknownMode, "%q", s)
}

// Synchronizers returns a constructor for per-source synchronizers. In
// hardware mode every synchronizer it makes shares one anchor, read from host.
func (s *Session) Synchronizers(mode Mode, host HostClock) func() Synchronizer {
	if mode != ModeHardware {
		return func() Synchronizer { return s.RealTime() }
	}
	if host == nil {
		host = MonotonicHost
	}
	hw := s.Hardware(host)
	return func() Synchronizer { return hw.Source() }
}
