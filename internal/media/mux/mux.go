// Package mux writes encoded tracks into container files.
//
// A muxer commits to its stream descriptions at Setup, accepts frames while
// writing and finalizes the container on Finish:
//
//	Created --Setup--> Writing --Finish--> Closed
//
// Video and audio frames arrive on separate goroutines. Each track has its own
// lock and the container has one more, held only while bytes are written.
package mux

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/pkg/errors"
)

var (
	// ErrNotWriting is returned for frames sent before Setup or after Finish.
	ErrNotWriting = errors.New("muxer is not writing")
	// ErrUnknownFormat is returned by New for unsupported container names.
	ErrUnknownFormat = errors.New("unknown container format")
	// ErrNoTrack is returned for frames of a kind the muxer was not set up with.
	ErrNoTrack = errors.New("track not configured")
)

const (
	FormatMP4       = "mp4"
	FormatWebM      = "webm"
	FormatSegmented = "segmented"
)

// Muxer is the capability every container writer has.
type Muxer interface {
	// Setup creates the encoders, then the output and its header. video or
	// audio may be nil when the track is absent. paused is shared with the
	// control plane; frames sent while it is set are discarded.
	Setup(path string, video *media.VideoInfo, audio *media.AudioInfo, paused *atomic.Bool) error
	// Finish flushes every encoder and writes the trailer. last is the
	// session's final timestamp and bounds the duration of the last samples.
	Finish(last time.Duration) error
	Stats() Stats
}

// VideoMuxer accepts video frames.
type VideoMuxer interface {
	Muxer
	SendVideoFrame(f *media.VideoFrame, ts media.Timestamp) error
}

// AudioMuxer accepts audio frames.
type AudioMuxer interface {
	Muxer
	SendAudioFrame(f *media.AudioFrame, ts media.Timestamp) error
}

// Config tunes muxers and the encoders they own.
type Config struct {
	// FragmentDuration is the minimum span of one fMP4 fragment.
	FragmentDuration time.Duration
	// SegmentDuration is the length of one file in segmented mode.
	SegmentDuration   time.Duration
	EncoderRetries    int
	EncoderRetryDelay time.Duration
	VideoEncoder      string
	AudioEncoder      string
	EncoderQueue      int
	TargetBitrate     int
	FFmpegPath        string
}

// DefaultConfig returns one-second fragments and three-second segments.
func DefaultConfig() Config {
	return Config{
		FragmentDuration:  time.Second,
		SegmentDuration:   3 * time.Second,
		EncoderRetries:    5,
		EncoderRetryDelay: 5 * time.Millisecond,
		VideoEncoder:      encoder.NameAuto,
		AudioEncoder:      encoder.NameAuto,
		EncoderQueue:      8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FragmentDuration <= 0 {
		c.FragmentDuration = def.FragmentDuration
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = def.SegmentDuration
	}
	if c.EncoderRetries < 0 {
		c.EncoderRetries = 0
	}
	if c.EncoderRetryDelay <= 0 {
		c.EncoderRetryDelay = def.EncoderRetryDelay
	}
	if c.EncoderQueue <= 0 {
		c.EncoderQueue = def.EncoderQueue
	}
	return c
}

func (c Config) encoderOptions() encoder.Options {
	return encoder.Options{
		FFmpegPath: c.FFmpegPath,
		Bitrate:    c.TargetBitrate,
		QueueSize:  c.EncoderQueue,
	}
}

// TrackStats counts what happened to the frames of one track.
type TrackStats struct {
	Accepted    uint64 `json:"accepted"`
	Paused      uint64 `json:"paused"`
	OutOfOrder  uint64 `json:"out_of_order"`
	BusyRetries uint64 `json:"busy_retries"`
	Failed      uint64 `json:"failed"`
	// Discarded counts encoder output that could not be matched to an input.
	Discarded   uint64 `json:"discarded"`
	Packets     uint64 `json:"packets"`
	// Last is the timestamp of the newest accepted frame.
	Last time.Duration `json:"last"`
}

// Stats is a snapshot of a muxer.
type Stats struct {
	Video    *TrackStats `json:"video,omitempty"`
	Audio    *TrackStats `json:"audio,omitempty"`
	Bytes    int64       `json:"bytes"`
	Segments int         `json:"segments,omitempty"`
}

// New selects a muxer by container name.
func New(format string, cfg Config) (Muxer, error) {
	switch strings.ToLower(format) {
	case FormatMP4, "fmp4", "":
		return NewFileMuxer(cfg), nil
	case FormatWebM, "mkv":
		return NewWebMMuxer(cfg), nil
	case FormatSegmented:
		return NewSegmentedAudioMuxer(cfg), nil
	}
	return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
}

// Extension returns the file extension for a container, or "" for formats
// that write a directory.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case FormatWebM, "mkv":
		return ".webm"
	case FormatSegmented:
		return ""
	}
	return ".mp4"
}

// Formats lists the container names New accepts.
func Formats() []string { return []string{FormatMP4, FormatWebM, FormatSegmented} }

type state int32

const (
	stateCreated state = iota
	stateWriting
	stateClosed
)
