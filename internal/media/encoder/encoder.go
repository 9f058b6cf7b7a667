// Package encoder turns raw frames into the compressed samples the muxers
// store. Backends are looked up by name in a registry.
package encoder

import (
	"sort"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

var (
	// ErrBusy signals transient backpressure. The caller may retry the same frame.
	ErrBusy = errors.New("encoder busy")
	// ErrUnknownEncoder is returned by the registry for unregistered names.
	ErrUnknownEncoder = errors.New("unknown encoder")
	// ErrClosed is returned when encoding after Flush or Close.
	ErrClosed = errors.New("encoder closed")
)

// Packet is one compressed sample.
type Packet struct {
	// Data is an Annex-B access unit for H.264, a raw AAC frame without ADTS
	// header, a JPEG image, or interleaved little-endian PCM.
	Data     []byte
	PTS      time.Duration
	Duration time.Duration // zero when unknown
	KeyFrame bool
}

// Encoder compresses frames of type F. Encode may return zero or more
// packets; implementations with internal delay release them on later calls
// and on Flush. Packets returned together with ErrBusy are valid and the
// frame was not consumed.
type Encoder[F any] interface {
	// Codec describes the output for the container header. It is known as
	// soon as the encoder is created.
	Codec() mp4.Codec
	Encode(frame F, ts time.Duration) ([]Packet, error)
	Flush() ([]Packet, error)
	Close() error
}

// Discarder is implemented by encoders that can lose output they cannot
// place on the timeline. Discarded is a running total.
type Discarder interface {
	Discarded() uint64
}

type (
	VideoEncoder = Encoder[*media.VideoFrame]
	AudioEncoder = Encoder[*media.AudioFrame]
)

// Options tune the backends. Zero values select defaults.
type Options struct {
	FFmpegPath string
	// Bitrate in bits per second.
	Bitrate int
	// GOP is the keyframe interval in frames.
	GOP int
	// Quality is the JPEG quality, 1 to 100.
	Quality int
	// QueueSize bounds the frames an asynchronous encoder holds before
	// reporting ErrBusy.
	QueueSize int
}

func (o Options) ffmpeg() string {
	if o.FFmpegPath == "" {
		return "ffmpeg"
	}
	return o.FFmpegPath
}

func (o Options) queueSize() int {
	if o.QueueSize <= 0 {
		return 8
	}
	return o.QueueSize
}

type (
	VideoFactory func(info media.VideoInfo, opts Options) (VideoEncoder, error)
	AudioFactory func(info media.AudioInfo, opts Options) (AudioEncoder, error)
)

const (
	NameAuto        = "auto"
	NameX264        = "x264"
	NamePassthrough = "h264-passthrough"
	NameMJPEG       = "mjpeg"
	NameAAC         = "aac"
	NameLPCM        = "lpcm"
)

var registry = struct {
	sync.RWMutex
	video map[string]VideoFactory
	audio map[string]AudioFactory
}{
	video: map[string]VideoFactory{},
	audio: map[string]AudioFactory{},
}

func init() {
	RegisterVideo(NameX264, NewX264)
	RegisterVideo(NamePassthrough, NewPassthrough)
	RegisterVideo(NameMJPEG, NewMJPEG)
	RegisterAudio(NameAAC, NewAAC)
	RegisterAudio(NameLPCM, NewLPCM)
}

// RegisterVideo adds or replaces a video backend.
func RegisterVideo(name string, f VideoFactory) {
	registry.Lock()
	defer registry.Unlock()
	registry.video[name] = f
}

// RegisterAudio adds or replaces an audio backend.
func RegisterAudio(name string, f AudioFactory) {
	registry.Lock()
	defer registry.Unlock()
	registry.audio[name] = f
}

// ResolveVideoName maps "auto" to pass-through for encoded sources and x264
// otherwise.
func ResolveVideoName(name string, info media.VideoInfo) string {
	if name != "" && name != NameAuto {
		return name
	}
	if info.PixelFormat.Encoded() {
		return NamePassthrough
	}
	return NameX264
}

// ResolveAudioName maps "auto" to AAC.
func ResolveAudioName(name string) string {
	if name == "" || name == NameAuto {
		return NameAAC
	}
	return name
}

// NewVideo creates the named video encoder.
func NewVideo(name string, info media.VideoInfo, opts Options) (VideoEncoder, error) {
	name = ResolveVideoName(name, info)
	registry.RLock()
	f, ok := registry.video[name]
	registry.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEncoder, "video encoder %q", name)
	}
	enc, err := f(info, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s encoder", name)
	}
	return enc, nil
}

// NewAudio creates the named audio encoder.
func NewAudio(name string, info media.AudioInfo, opts Options) (AudioEncoder, error) {
	name = ResolveAudioName(name)
	registry.RLock()
	f, ok := registry.audio[name]
	registry.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEncoder, "audio encoder %q", name)
	}
	enc, err := f(info, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s encoder", name)
	}
	return enc, nil
}

// VideoNames lists the registered video backends.
func VideoNames() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.video))
	for n := range registry.video {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AudioNames lists the registered audio backends.
func AudioNames() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.audio))
	for n := range registry.audio {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
