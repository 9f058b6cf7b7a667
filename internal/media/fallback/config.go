package fallback

import (
	"fmt"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
)

// VideoConfig is one candidate video device configuration.
type VideoConfig struct {
	Format media.PixelFormat
	Width  int
	Height int
	FPS    int
}

func (c VideoConfig) String() string {
	return fmt.Sprintf("%s %dx%d@%d", c.Format, c.Width, c.Height, c.FPS)
}

// AudioConfig is one candidate audio device configuration.
type AudioConfig struct {
	SampleRate int
	Channels   int
}

func (c AudioConfig) String() string {
	return fmt.Sprintf("%dHz, %d channels", c.SampleRate, c.Channels)
}

// Config lists acceptable device configurations in order of preference. It is
// read-only while an acquisition sequence runs.
type Config struct {
	Video []VideoConfig

	// Audio candidates are the cross product of rates and channel counts,
	// rates outermost.
	SampleRates []int
	Channels    []int

	// Video candidates smaller than these are never tried. Zero disables the check.
	MinWidth  int
	MinHeight int
	MinFPS    int

	MaxRetryAttempts int
	RetryDelay       time.Duration
}

// DefaultConfig returns the stock fallback ladder.
func DefaultConfig() Config {
	return Config{
		Video: []VideoConfig{
			{Format: media.PixelFormatBGRA, Width: 1920, Height: 1080, FPS: 30},
			{Format: media.PixelFormatRGB24, Width: 1280, Height: 720, FPS: 30},
			{Format: media.PixelFormatYUYV422, Width: 640, Height: 480, FPS: 30},
		},
		SampleRates:      []int{48000, 44100, 32000, 16000},
		Channels:         []int{2, 1},
		MinWidth:         640,
		MinHeight:        480,
		MinFPS:           15,
		MaxRetryAttempts: 3,
		RetryDelay:       500 * time.Millisecond,
	}
}

// VideoCandidates returns the video configurations that pass the minimums.
func (c Config) VideoCandidates() []VideoConfig {
	out := make([]VideoConfig, 0, len(c.Video))
	for _, v := range c.Video {
		if v.Width < c.MinWidth || v.Height < c.MinHeight || v.FPS < c.MinFPS {
			continue
		}
		out = append(out, v)
	}
	return out
}

// AudioCandidates expands the rate and channel preferences.
func (c Config) AudioCandidates() []AudioConfig {
	out := make([]AudioConfig, 0, len(c.SampleRates)*len(c.Channels))
	for _, rate := range c.SampleRates {
		for _, ch := range c.Channels {
			out = append(out, AudioConfig{SampleRate: rate, Channels: ch})
		}
	}
	return out
}

// WithVideoFirst returns a copy whose ladder starts with the given
// configuration, used when the caller asked for a specific mode.
func (c Config) WithVideoFirst(v VideoConfig) Config {
	out := c
	out.Video = append([]VideoConfig{v}, c.Video...)
	return out
}

// WithAudioFirst returns a copy whose preferences start with the given rate
// and channel count.
func (c Config) WithAudioFirst(a AudioConfig) Config {
	out := c
	out.SampleRates = prependUnique(a.SampleRate, c.SampleRates)
	out.Channels = prependUnique(a.Channels, c.Channels)
	return out
}

func prependUnique(v int, list []int) []int {
	out := []int{v}
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
