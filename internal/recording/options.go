package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/convert"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/babelcloud/gbox-recorder/internal/media/fallback"
	"github.com/babelcloud/gbox-recorder/internal/media/mux"
	"github.com/babelcloud/gbox-recorder/internal/media/source"
	"github.com/dchest/uniuri"
	kclock "k8s.io/utils/clock"
)

// Options describe one recording. Target fields take a target ID or a kind
// name such as "screen", which selects that kind's default target.
type Options struct {
	Screen      string
	Window      string
	Camera      string
	Microphone  string
	SystemAudio string

	// OutputPath overrides the generated name inside OutputDir.
	OutputPath string
	OutputDir  string
	Format     string

	VideoEncoder    string
	AudioEncoder    string
	FPS             int
	MaxWidth        int
	SegmentDuration time.Duration

	// Convert moves pixel conversion and scaling onto the worker pool.
	Convert  bool
	Pool     convert.PoolConfig
	Fallback fallback.Config
	Mux      mux.Config
	// ClockMode selects the timestamp synchronizer. In hardware mode video
	// drivers stamp frames with host time and all sources share its anchor.
	ClockMode clock.Mode

	SourceQueue      int
	DrainTimeout     time.Duration
	ProgressInterval time.Duration
}

// DefaultOptions records the default screen into an MP4.
func DefaultOptions() Options {
	return Options{
		Screen:           string(devices.KindScreen),
		Format:           mux.FormatMP4,
		FPS:              30,
		Convert:          true,
		Pool:             convert.DefaultPoolConfig(),
		Fallback:         fallback.DefaultConfig(),
		Mux:              mux.DefaultConfig(),
		ClockMode:        clock.ModeRealTime,
		SourceQueue:      8,
		DrainTimeout:     2 * time.Second,
		ProgressInterval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Format == "" {
		o.Format = def.Format
	}
	if o.ClockMode == "" {
		o.ClockMode = def.ClockMode
	}
	if o.SourceQueue <= 0 {
		o.SourceQueue = def.SourceQueue
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = def.DrainTimeout
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = def.ProgressInterval
	}
	if len(o.Fallback.Video) == 0 && len(o.Fallback.SampleRates) == 0 {
		o.Fallback = def.Fallback
	}
	if o.VideoEncoder != "" {
		o.Mux.VideoEncoder = o.VideoEncoder
	}
	if o.AudioEncoder != "" {
		o.Mux.AudioEncoder = o.AudioEncoder
	}
	if o.SegmentDuration > 0 {
		o.Mux.SegmentDuration = o.SegmentDuration
	}
	return o
}

// TargetResolver finds capture targets. *devices.Catalog implements it.
type TargetResolver interface {
	Find(ctx context.Context, id string) (devices.Target, error)
}

// SourceFactory opens capture sources for resolved targets.
type SourceFactory interface {
	Video(ctx context.Context, target devices.Target, fb *fallback.Manager) (*source.VideoSource, error)
	Audio(ctx context.Context, target devices.Target, fb *fallback.Manager) (*source.AudioSource, error)
}

// DefaultSources opens sources with the source package constructors.
type DefaultSources struct {
	Options source.Options
}

func (d DefaultSources) Video(ctx context.Context, target devices.Target, fb *fallback.Manager) (*source.VideoSource, error) {
	return source.NewVideo(ctx, target, fb, d.Options)
}

func (d DefaultSources) Audio(ctx context.Context, target devices.Target, fb *fallback.Manager) (*source.AudioSource, error) {
	return source.NewAudio(ctx, target, fb, d.Options)
}

// Deps are the collaborators of a session. Nil fields get defaults: the
// process-wide catalog, the wall clock, a fallback manager built from
// Options.Fallback, mux.New and DefaultSources.
type Deps struct {
	Catalog       TargetResolver
	Clock         kclock.WithTicker
	Fallback      *fallback.Manager
	MuxerFactory  func(format string, cfg mux.Config) (mux.Muxer, error)
	SourceFactory SourceFactory
}

func (d Deps) withDefaults(opts Options) Deps {
	if d.Catalog == nil {
		d.Catalog = devices.Default(opts.Mux.FFmpegPath)
	}
	if d.Clock == nil {
		d.Clock = kclock.RealClock{}
	}
	if d.Fallback == nil {
		d.Fallback = fallback.NewManager(opts.Fallback, fallback.WithClock(d.Clock))
	}
	if d.MuxerFactory == nil {
		d.MuxerFactory = mux.New
	}
	if d.SourceFactory == nil {
		so := source.Options{FFmpegPath: opts.Mux.FFmpegPath}
		if opts.ClockMode == clock.ModeHardware {
			so.HostClock = clock.MonotonicHost
		}
		d.SourceFactory = DefaultSources{Options: so}
	}
	return d
}

// DefaultFileName returns recording-<yyyymmdd-hhmmss>-<6 random chars><ext>.
func DefaultFileName(t time.Time, ext string) string {
	return fmt.Sprintf("recording-%s-%s%s", t.Format("20060102-150405"), strings.ToLower(uniuri.NewLen(6)), ext)
}

func (o Options) outputPath(now time.Time) string {
	if o.OutputPath != "" {
		return o.OutputPath
	}
	return filepath.Join(o.OutputDir, DefaultFileName(now, mux.Extension(o.Format)))
}
