package devices

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// SyntheticEnumerator lists the generated test sources. They exist on every
// host.
func SyntheticEnumerator() Enumerator {
	return EnumeratorFunc{ID: DriverSynthetic, Fn: func(context.Context) ([]Target, error) {
		screen := newTarget(KindScreen, DriverSynthetic, "bars", "Synthetic colour bars")
		screen.Width, screen.Height = 1280, 720
		camera := newTarget(KindCamera, DriverSynthetic, "camera", "Synthetic camera")
		camera.Width, camera.Height = 640, 480
		return []Target{
			screen,
			camera,
			newTarget(KindMicrophone, DriverSynthetic, "tone", "Synthetic 440 Hz tone"),
			newTarget(KindSystemAudio, DriverSynthetic, "loopback", "Synthetic loopback tone"),
		}, nil
	}}
}

// X11Enumerator lists the $DISPLAY screen and, when wmctrl is installed,
// its top-level windows.
func X11Enumerator() Enumerator {
	return EnumeratorFunc{ID: DriverX11Grab, Fn: func(ctx context.Context) ([]Target, error) {
		display := os.Getenv("DISPLAY")
		if display == "" {
			return nil, errors.New("DISPLAY is not set")
		}
		screen := newTarget(KindScreen, DriverX11Grab, display, "X11 display "+display)
		screen.Default = true
		if w, h, err := DisplayResolution(ctx); err == nil {
			screen.Width, screen.Height = w, h
		}
		targets := []Target{screen}
		if out, err := exec.CommandContext(ctx, "wmctrl", "-l").Output(); err == nil {
			targets = append(targets, parseWmctrl(string(out))...)
		}
		return targets, nil
	}}
}

// V4L2Enumerator lists /dev/video* cameras.
func V4L2Enumerator() Enumerator {
	return EnumeratorFunc{ID: DriverV4L2, Fn: func(context.Context) ([]Target, error) {
		devs, err := filepath.Glob("/dev/video*")
		if err != nil {
			return nil, errors.Wrap(err, "listing video devices")
		}
		sort.Strings(devs)
		var targets []Target
		for _, dev := range devs {
			name := dev
			if b, err := os.ReadFile(v4l2NamePath(dev)); err == nil {
				name = strings.TrimSpace(string(b))
			}
			targets = append(targets, newTarget(KindCamera, DriverV4L2, dev, name))
		}
		markFirstDefault(targets)
		return targets, nil
	}}
}

// PulseEnumerator lists PulseAudio or PipeWire sources through pactl.
func PulseEnumerator() Enumerator {
	return EnumeratorFunc{ID: DriverPulse, Fn: func(ctx context.Context) ([]Target, error) {
		out, err := exec.CommandContext(ctx, "pactl", "list", "short", "sources").Output()
		if err != nil {
			return nil, errors.Wrap(err, "pactl list sources")
		}
		def := ""
		if b, err := exec.CommandContext(ctx, "pactl", "get-default-source").Output(); err == nil {
			def = strings.TrimSpace(string(b))
		}
		return parsePactlSources(string(out), def), nil
	}}
}

// ffmpegDeviceList runs an ffmpeg device listing. ffmpeg exits non-zero
// after listing, so only a missing binary is an error.
func ffmpegDeviceList(ctx context.Context, ffmpeg string, args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg, append([]string{"-hide_banner"}, args...)...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", errors.Wrap(err, "running ffmpeg")
	}
	return stderr.String(), nil
}

// AVFoundationEnumerator lists macOS screens, cameras and audio inputs.
func AVFoundationEnumerator(ffmpeg string) Enumerator {
	return EnumeratorFunc{ID: DriverAVFoundation, Fn: func(ctx context.Context) ([]Target, error) {
		out, err := ffmpegDeviceList(ctx, ffmpeg, "-f", "avfoundation", "-list_devices", "true", "-i", "")
		if err != nil {
			return nil, err
		}
		targets := parseAVFoundation(out)
		if w, h, err := DisplayResolution(ctx); err == nil {
			for i := range targets {
				if targets[i].Kind == KindScreen && targets[i].Default {
					targets[i].Width, targets[i].Height = w, h
				}
			}
		}
		return targets, nil
	}}
}

// GDIGrabEnumerator lists the Windows desktop and visible top-level windows.
func GDIGrabEnumerator() Enumerator {
	return EnumeratorFunc{ID: DriverGDIGrab, Fn: func(ctx context.Context) ([]Target, error) {
		desktop := newTarget(KindScreen, DriverGDIGrab, "desktop", "Desktop")
		desktop.Default = true
		if w, h, err := DisplayResolution(ctx); err == nil {
			desktop.Width, desktop.Height = w, h
		}
		targets := []Target{desktop}
		out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command",
			"Get-Process | Where-Object { $_.MainWindowTitle } | ForEach-Object { $_.MainWindowTitle }").Output()
		if err == nil {
			targets = append(targets, parseWindowTitles(string(out))...)
		}
		return targets, nil
	}}
}

// DShowEnumerator lists DirectShow cameras and audio inputs.
func DShowEnumerator(ffmpeg string) Enumerator {
	return EnumeratorFunc{ID: DriverDShow, Fn: func(ctx context.Context) ([]Target, error) {
		out, err := ffmpegDeviceList(ctx, ffmpeg, "-list_devices", "true", "-f", "dshow", "-i", "dummy")
		if err != nil {
			return nil, err
		}
		return parseDShow(out), nil
	}}
}
