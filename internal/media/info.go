package media

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrUnsupportedChannels is returned when an audio stream is neither mono nor stereo.
var ErrUnsupportedChannels = errors.New("unsupported channel count")

// MicrosecondTimeBase is the time base every stream contract commits to.
var MicrosecondTimeBase = Rational{Num: 1, Den: 1_000_000}

// Rational is a fraction such as a time base or a frame rate.
type Rational struct {
	Num int
	Den int
}

// Float returns the value of the fraction, or 0 for a zero denominator.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// VideoInfo is the video stream contract a muxer commits to at setup.
type VideoInfo struct {
	PixelFormat PixelFormat
	Width       int
	Height      int
	TimeBase    Rational
	FrameRate   Rational
	// SPS and PPS are set for sources that deliver encoded H.264.
	SPS []byte
	PPS []byte
}

// NewVideoInfo describes a raw stream at a whole-number frame rate.
func NewVideoInfo(format PixelFormat, width, height, fps int) VideoInfo {
	return VideoInfo{
		PixelFormat: format,
		Width:       width,
		Height:      height,
		TimeBase:    MicrosecondTimeBase,
		FrameRate:   Rational{Num: fps, Den: 1},
	}
}

// FPS returns the whole-number frame rate.
func (v VideoInfo) FPS() int {
	if v.FrameRate.Den == 0 {
		return 0
	}
	return v.FrameRate.Num / v.FrameRate.Den
}

// FrameInterval returns the nominal time between two frames.
func (v VideoInfo) FrameInterval() time.Duration {
	fps := v.FrameRate.Float()
	if fps <= 0 {
		return time.Second / 30
	}
	return time.Duration(float64(time.Second) / fps)
}

// Scaled returns the contract for a stream no wider than maxWidth at fps.
// Streams already narrow enough keep their size; wider ones are scaled down
// keeping the aspect ratio, with both dimensions rounded down to even values.
func (v VideoInfo) Scaled(maxWidth, fps int) VideoInfo {
	out := v
	if maxWidth > 0 && v.Width > maxWidth {
		w := maxWidth &^ 1
		h := int(math.Round(float64(w)*float64(v.Height)/float64(v.Width))) &^ 1
		out.Width, out.Height = w, h
	}
	if fps > 0 {
		out.FrameRate = Rational{Num: fps, Den: 1}
	}
	return out
}

// EnsureEven rounds odd dimensions down; 4:2:0 encoders require even sizes.
func (v VideoInfo) EnsureEven() VideoInfo {
	out := v
	out.Width &^= 1
	out.Height &^= 1
	return out
}

// AudioInfo is the audio stream contract a muxer commits to at setup.
type AudioInfo struct {
	SampleFormat SampleFormat
	SampleRate   int
	Channels     int
	TimeBase     Rational
	// BufferSize is the preferred number of samples per frame.
	BufferSize int
}

// NewAudioInfo validates the channel layout; only mono and stereo are supported.
func NewAudioInfo(format SampleFormat, sampleRate, channels int) (AudioInfo, error) {
	if channels != 1 && channels != 2 {
		return AudioInfo{}, errors.Wrapf(ErrUnsupportedChannels, "%d channels", channels)
	}
	if sampleRate <= 0 {
		return AudioInfo{}, errors.Errorf("invalid sample rate %d", sampleRate)
	}
	return AudioInfo{
		SampleFormat: format,
		SampleRate:   sampleRate,
		Channels:     channels,
		TimeBase:     MicrosecondTimeBase,
		BufferSize:   1024,
	}, nil
}

// SampleSize returns the size of one sample of one channel in bytes.
func (a AudioInfo) SampleSize() int { return a.SampleFormat.BytesPerSample() }

// WithMaxChannels caps the channel count.
func (a AudioInfo) WithMaxChannels(n int) AudioInfo {
	if n > 0 && a.Channels > n {
		a.Channels = n
	}
	return a
}

// WrapFrame builds a frame from interleaved bytes captured with srcChannels
// channels, keeping only the first a.Channels of them.
func (a AudioInfo) WrapFrame(packed []byte, srcChannels int, ts Timestamp) *AudioFrame {
	if srcChannels < 1 {
		srcChannels = 1
	}
	bps := a.SampleSize()
	packedFormat := a.SampleFormat.Packed()
	samples := 0
	if bps > 0 {
		samples = len(packed) / (bps * srcChannels)
	}
	f := &AudioFrame{
		Format:     packedFormat,
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Samples:    samples,
		Timestamp:  ts,
	}
	if srcChannels == a.Channels {
		f.Planes = [][]byte{packed[:samples*bps*srcChannels]}
		return f
	}
	out := make([]byte, samples*bps*a.Channels)
	for s := 0; s < samples; s++ {
		for c := 0; c < a.Channels; c++ {
			src := (s*srcChannels + min(c, srcChannels-1)) * bps
			copy(out[(s*a.Channels+c)*bps:], packed[src:src+bps])
		}
	}
	f.Planes = [][]byte{out}
	return f
}

// SamplesDuration converts a per-channel sample count to time.
func (a AudioInfo) SamplesDuration(samples int) time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// Duration returns the playback time the frame covers.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples) * time.Second / time.Duration(f.SampleRate)
}
