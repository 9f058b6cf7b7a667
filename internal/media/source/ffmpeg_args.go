package source

import (
	"os"
	"strconv"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/pkg/errors"
)

var commonArgs = []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

// videoArgs builds an ffmpeg command line that captures target and writes
// raw frames of exactly info's size and format to stdout.
func videoArgs(target devices.Target, info media.VideoInfo) ([]string, error) {
	pixFmt := info.PixelFormat.FFmpegName()
	if pixFmt == "" {
		return nil, errors.Errorf("cannot capture %s through ffmpeg", info.PixelFormat)
	}
	fps := strconv.Itoa(info.FPS())
	size := strconv.Itoa(info.Width) + "x" + strconv.Itoa(info.Height)

	args := append([]string(nil), commonArgs...)
	switch target.Driver {
	case devices.DriverX11Grab:
		args = append(args, "-f", "x11grab", "-framerate", fps, "-draw_mouse", "1")
		if target.Kind == devices.KindWindow {
			args = append(args, "-window_id", target.Input, "-i", displayOr(":0"))
		} else {
			args = append(args, "-i", target.Input)
		}
	case devices.DriverV4L2:
		args = append(args, "-f", "v4l2", "-framerate", fps, "-video_size", size, "-i", target.Input)
	case devices.DriverAVFoundation:
		args = append(args, "-f", "avfoundation", "-framerate", fps, "-capture_cursor", "1", "-i", target.Input)
	case devices.DriverGDIGrab:
		args = append(args, "-f", "gdigrab", "-framerate", fps, "-draw_mouse", "1", "-i", target.Input)
	case devices.DriverDShow:
		args = append(args, "-f", "dshow", "-framerate", fps, "-video_size", size, "-i", target.Input)
	default:
		return nil, errors.Errorf("driver %q has no ffmpeg video input", target.Driver)
	}
	return append(args,
		"-vf", "scale="+strconv.Itoa(info.Width)+":"+strconv.Itoa(info.Height),
		"-r", fps,
		"-pix_fmt", pixFmt,
		"-f", "rawvideo",
		"pipe:1",
	), nil
}

// audioArgs builds an ffmpeg command line that captures target as raw
// interleaved PCM in info's layout.
func audioArgs(target devices.Target, info media.AudioInfo) ([]string, error) {
	format := info.SampleFormat.FFmpegName()
	if format == "" {
		return nil, errors.Errorf("cannot capture %s through ffmpeg", info.SampleFormat)
	}
	args := append([]string(nil), commonArgs...)
	switch target.Driver {
	case devices.DriverPulse:
		args = append(args, "-f", "pulse", "-i", target.Input)
	case devices.DriverAVFoundation:
		args = append(args, "-f", "avfoundation", "-i", target.Input)
	case devices.DriverDShow:
		args = append(args, "-f", "dshow", "-i", target.Input)
	default:
		return nil, errors.Errorf("driver %q has no ffmpeg audio input", target.Driver)
	}
	return append(args,
		"-ar", strconv.Itoa(info.SampleRate),
		"-ac", strconv.Itoa(info.Channels),
		"-f", format,
		"pipe:1",
	), nil
}

func displayOr(def string) string {
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return def
}
