// Package source captures timestamped frames from screens, windows, cameras
// and audio devices.
//
// A source owns one opened device. Run arms it, reports readiness, then
// follows the pipeline control signal: frames are stamped on the session
// timeline and offered to the output queue while playing, and the hardware
// is suspended while paused.
package source

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/babelcloud/gbox-recorder/internal/media/fallback"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
)

// ErrWrongKind is returned when a constructor is given a target of another kind.
var ErrWrongKind = errors.New("target kind does not match source")

// Options configure how devices are opened.
type Options struct {
	FFmpegPath string
	// Depth bounds the driver's frame channel.
	Depth  int
	Opener Opener
	// HostClock, when set, makes video drivers stamp frames with host time
	// readings for a hardware-domain synchronizer.
	HostClock clock.HostClock
}

func (o Options) opener() Opener {
	if o.Opener != nil {
		return o.Opener
	}
	return DefaultOpener{FFmpegPath: o.FFmpegPath, Depth: o.Depth, HostClock: o.HostClock}
}

// Opener opens a driver for a target in one candidate configuration.
type Opener interface {
	OpenVideo(ctx context.Context, target devices.Target, info media.VideoInfo) (VideoDriver, error)
	OpenAudio(ctx context.Context, target devices.Target, info media.AudioInfo) (AudioDriver, error)
}

// DefaultOpener uses the synthetic generators for synthetic targets and an
// ffmpeg capture process for everything else.
type DefaultOpener struct {
	FFmpegPath string
	Depth      int
	HostClock  clock.HostClock
}

func (o DefaultOpener) ffmpeg() string {
	if o.FFmpegPath == "" {
		return "ffmpeg"
	}
	return o.FFmpegPath
}

func (o DefaultOpener) OpenVideo(ctx context.Context, target devices.Target, info media.VideoInfo) (VideoDriver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target.Driver == devices.DriverSynthetic {
		return newSyntheticVideo(info, o.Depth, o.HostClock)
	}
	return openFFmpegVideo(o.ffmpeg(), target, info, o.Depth, o.HostClock)
}

func (o DefaultOpener) OpenAudio(ctx context.Context, target devices.Target, info media.AudioInfo) (AudioDriver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target.Driver == devices.DriverSynthetic {
		freq := 440.0
		if target.Kind == devices.KindSystemAudio {
			freq = 660
		}
		return newSyntheticAudio(info, freq, o.Depth)
	}
	return openFFmpegAudio(o.ffmpeg(), target, info, o.Depth)
}

// Source is the part shared by video and audio sources.
type Source[F any] struct {
	target devices.Target
	drv    Driver[F]
	logger *slog.Logger
	stats  counters
	stamp  func(F, media.Timestamp)
	ran    atomic.Bool
}

// Target returns the device this source captures.
func (s *Source[F]) Target() devices.Target { return s.target }

// Stats returns the frame counters.
func (s *Source[F]) Stats() Stats { return s.stats.snapshot() }

// Run captures until Shutdown, cancellation or a closed sink, which all
// return nil. It can be called once; the driver is closed on return.
func (s *Source[F]) Run(ctx context.Context, p RunParams[F]) error {
	if !s.ran.CompareAndSwap(false, true) {
		err := errors.New("source already ran")
		signalReady(ctx, p.Ready, err)
		return err
	}
	return runLoop(ctx, s.logger, s.drv, p, s.stamp, &s.stats)
}

// Close releases the device of a source that will never run.
func (s *Source[F]) Close() error {
	if s.ran.CompareAndSwap(false, true) {
		return s.drv.Close()
	}
	return nil
}

// VideoSource captures a screen, window or camera.
type VideoSource struct {
	Source[*media.VideoFrame]
	info   media.VideoInfo
	config fallback.VideoConfig
	seq    atomic.Uint64
}

// Info is the stream the source delivers.
func (v *VideoSource) Info() media.VideoInfo { return v.info }

// Config is the fallback candidate that opened the device.
func (v *VideoSource) Config() fallback.VideoConfig { return v.config }

// AudioSource captures a microphone or system audio loopback.
type AudioSource struct {
	Source[*media.AudioFrame]
	info   media.AudioInfo
	config fallback.AudioConfig
}

func (a *AudioSource) Info() media.AudioInfo { return a.info }

func (a *AudioSource) Config() fallback.AudioConfig { return a.config }

// NewScreen opens a display. The native size is kept when the target
// reports it; the candidate supplies format and frame rate.
func NewScreen(ctx context.Context, target devices.Target, fb *fallback.Manager, opts Options) (*VideoSource, error) {
	return newVideo(ctx, devices.KindScreen, target, fb, opts)
}

// NewWindow opens a single window.
func NewWindow(ctx context.Context, target devices.Target, fb *fallback.Manager, opts Options) (*VideoSource, error) {
	return newVideo(ctx, devices.KindWindow, target, fb, opts)
}

// NewCamera opens a camera in the first candidate mode it accepts.
func NewCamera(ctx context.Context, target devices.Target, fb *fallback.Manager, opts Options) (*VideoSource, error) {
	return newVideo(ctx, devices.KindCamera, target, fb, opts)
}

// NewMicrophone opens an audio input.
func NewMicrophone(ctx context.Context, target devices.Target, fb *fallback.Manager, opts Options) (*AudioSource, error) {
	return newAudio(ctx, devices.KindMicrophone, target, fb, opts)
}

// NewSystemAudio opens a loopback of what the system plays.
func NewSystemAudio(ctx context.Context, target devices.Target, fb *fallback.Manager, opts Options) (*AudioSource, error) {
	return newAudio(ctx, devices.KindSystemAudio, target, fb, opts)
}

// NewVideo dispatches on the target's kind.
func NewVideo(ctx context.Context, target devices.Target, fb *fallback.Manager, opts Options) (*VideoSource, error) {
	return newVideo(ctx, target.Kind, target, fb, opts)
}

// NewAudio dispatches on the target's kind.
func NewAudio(ctx context.Context, target devices.Target, fb *fallback.Manager, opts Options) (*AudioSource, error) {
	return newAudio(ctx, target.Kind, target, fb, opts)
}

func videoInfoFor(target devices.Target, cfg fallback.VideoConfig) media.VideoInfo {
	w, h := cfg.Width, cfg.Height
	if target.Kind != devices.KindCamera && target.Width > 0 && target.Height > 0 {
		w, h = target.Width, target.Height
	}
	return media.NewVideoInfo(cfg.Format, w, h, cfg.FPS).EnsureEven()
}

func newVideo(ctx context.Context, kind devices.Kind, target devices.Target, fb *fallback.Manager, opts Options) (*VideoSource, error) {
	if target.Kind != kind || !kind.Video() {
		return nil, errors.Wrapf(ErrWrongKind, "%s is a %s target", target.ID, target.Kind)
	}
	if fb == nil {
		fb = fallback.NewManager(fallback.DefaultConfig())
	}
	opener := opts.opener()
	drv, cfg, err := fallback.TryVideoDevice(ctx, fb, target.ID, func(cfg fallback.VideoConfig) (VideoDriver, error) {
		return opener.OpenVideo(ctx, target, videoInfoFor(target, cfg))
	})
	if err != nil {
		return nil, err
	}

	v := &VideoSource{info: drv.Info(), config: cfg}
	v.Source = Source[*media.VideoFrame]{
		target: target,
		drv:    drv,
		logger: util.ComponentLogger("source").With("target", target.ID, "kind", string(kind)),
		stamp: func(f *media.VideoFrame, ts media.Timestamp) {
			f.Timestamp = ts
			f.Sequence = v.seq.Add(1)
		},
	}
	v.logger.Info("Video source opened", "format", v.info.PixelFormat.String(), "width", v.info.Width, "height", v.info.Height, "fps", v.info.FPS())
	return v, nil
}

func newAudio(ctx context.Context, kind devices.Kind, target devices.Target, fb *fallback.Manager, opts Options) (*AudioSource, error) {
	if target.Kind != kind || kind.Video() {
		return nil, errors.Wrapf(ErrWrongKind, "%s is a %s target", target.ID, target.Kind)
	}
	if fb == nil {
		fb = fallback.NewManager(fallback.DefaultConfig())
	}
	opener := opts.opener()
	drv, cfg, err := fallback.TryAudioDevice(ctx, fb, target.ID, func(cfg fallback.AudioConfig) (AudioDriver, error) {
		info, err := media.NewAudioInfo(media.SampleFormatS16, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		return opener.OpenAudio(ctx, target, info)
	})
	if err != nil {
		return nil, err
	}

	a := &AudioSource{info: drv.Info(), config: cfg}
	a.Source = Source[*media.AudioFrame]{
		target: target,
		drv:    drv,
		logger: util.ComponentLogger("source").With("target", target.ID, "kind", string(kind)),
		stamp:  func(f *media.AudioFrame, ts media.Timestamp) { f.Timestamp = ts },
	}
	a.logger.Info("Audio source opened", "rate", a.info.SampleRate, "channels", a.info.Channels)
	return a, nil
}
