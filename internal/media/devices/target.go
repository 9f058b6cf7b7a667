// Package devices lists the capture targets available on this host.
package devices

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Kind is what a target captures.
type Kind string

const (
	KindScreen      Kind = "screen"
	KindWindow      Kind = "window"
	KindCamera      Kind = "camera"
	KindMicrophone  Kind = "microphone"
	KindSystemAudio Kind = "system_audio"
)

// Video reports whether the kind produces video frames.
func (k Kind) Video() bool {
	return k == KindScreen || k == KindWindow || k == KindCamera
}

// ParseKind accepts the kind names and a few common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "screen", "display":
		return KindScreen, nil
	case "window":
		return KindWindow, nil
	case "camera", "webcam":
		return KindCamera, nil
	case "microphone", "mic":
		return KindMicrophone, nil
	case "system_audio", "system", "loopback":
		return KindSystemAudio, nil
	}
	return "", errors.Errorf("unknown target kind %q", s)
}

// Driver names the capture backend a target is opened with.
const (
	DriverSynthetic    = "synthetic"
	DriverX11Grab      = "x11grab"
	DriverV4L2         = "v4l2"
	DriverPulse        = "pulse"
	DriverAVFoundation = "avfoundation"
	DriverGDIGrab      = "gdigrab"
	DriverDShow        = "dshow"
)

// Target is one capturable thing: a display, a window, a camera or an
// audio device.
type Target struct {
	// ID is stable across enumerations: "<driver>:<input>".
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Driver string `json:"driver"`
	// Input is the driver-specific device string handed to the capture backend.
	Input   string `json:"input"`
	Default bool   `json:"default"`
	// Width and Height are the native size of screens and windows when known.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

func newTarget(kind Kind, driver, input, name string) Target {
	return Target{ID: driver + ":" + input, Name: name, Kind: kind, Driver: driver, Input: input}
}

// Enumerator lists the targets of one backend.
type Enumerator interface {
	Name() string
	Enumerate(ctx context.Context) ([]Target, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc struct {
	ID string
	Fn func(ctx context.Context) ([]Target, error)
}

func (e EnumeratorFunc) Name() string { return e.ID }

func (e EnumeratorFunc) Enumerate(ctx context.Context) ([]Target, error) { return e.Fn(ctx) }
