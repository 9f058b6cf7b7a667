package cmd

import (
	"time"

	"github.com/babelcloud/gbox-recorder/internal/preset"
	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// captureFlags are the target and encoding flags shared by record and
// preset add.
type captureFlags struct {
	Screen      string
	Window      string
	Camera      string
	Microphone  string
	SystemAudio string

	Format          string
	VideoEncoder    string
	AudioEncoder    string
	FPS             int
	MaxWidth        int
	SegmentDuration time.Duration

	flags *pflag.FlagSet
}

var targetFlagNames = []string{"screen", "window", "camera", "mic", "system-audio"}

func (c *captureFlags) register(cmd *cobra.Command) {
	c.flags = cmd.Flags()
	f := c.flags
	f.StringVar(&c.Screen, "screen", "", `Screen target ID or "screen" for the default display`)
	f.StringVar(&c.Window, "window", "", "Window target ID")
	f.StringVar(&c.Camera, "camera", "", `Camera target ID or "camera" for the default camera`)
	f.StringVar(&c.Microphone, "mic", "", `Microphone target ID or "microphone" for the default input`)
	f.StringVar(&c.SystemAudio, "system-audio", "", "System audio target ID (ignored when --mic is set)")
	f.StringVarP(&c.Format, "format", "f", "", "Output format: mp4, webm or segmented")
	f.StringVar(&c.VideoEncoder, "video-encoder", "", "Video encoder: auto, x264, mjpeg or passthrough")
	f.StringVar(&c.AudioEncoder, "audio-encoder", "", "Audio encoder: auto, aac or lpcm")
	f.IntVar(&c.FPS, "fps", 0, "Capture frame rate")
	f.IntVar(&c.MaxWidth, "max-width", 0, "Scale video down to at most this width (0 keeps the native size)")
	f.DurationVar(&c.SegmentDuration, "segment-duration", 0, "Audio segment length in segmented mode")

	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"mp4", "webm", "segmented"}, cobra.ShellCompDirectiveNoFileComp
	})
}

func (c *captureFlags) targetsChanged() bool {
	for _, name := range targetFlagNames {
		if c.flags.Changed(name) {
			return true
		}
	}
	return false
}

// apply overrides opts with the flags the user set. Setting any target flag
// replaces the whole target selection.
func (c *captureFlags) apply(opts *recording.Options) {
	if c.targetsChanged() {
		opts.Screen = c.Screen
		opts.Window = c.Window
		opts.Camera = c.Camera
		opts.Microphone = c.Microphone
		opts.SystemAudio = c.SystemAudio
	}
	if c.flags.Changed("format") {
		opts.Format = c.Format
	}
	if c.flags.Changed("video-encoder") {
		opts.VideoEncoder = c.VideoEncoder
	}
	if c.flags.Changed("audio-encoder") {
		opts.AudioEncoder = c.AudioEncoder
	}
	if c.flags.Changed("fps") {
		opts.FPS = c.FPS
	}
	if c.flags.Changed("max-width") {
		opts.MaxWidth = c.MaxWidth
	}
	if c.flags.Changed("segment-duration") {
		opts.SegmentDuration = c.SegmentDuration
	}
}

func (c *captureFlags) preset() preset.Preset {
	p := preset.Preset{
		Screen:       c.Screen,
		Window:       c.Window,
		Camera:       c.Camera,
		Microphone:   c.Microphone,
		SystemAudio:  c.SystemAudio,
		Format:       c.Format,
		VideoEncoder: c.VideoEncoder,
		AudioEncoder: c.AudioEncoder,
		FPS:          c.FPS,
		MaxWidth:     c.MaxWidth,
	}
	if c.SegmentDuration > 0 {
		p.SegmentDuration = c.SegmentDuration.String()
	}
	return p
}
