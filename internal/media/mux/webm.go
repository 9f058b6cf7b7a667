package mux

import (
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/babelcloud/gbox-recorder/internal/media/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

// WebMMuxer writes Matroska/WebM with SimpleBlocks at millisecond precision.
type WebMMuxer struct {
	*avMuxer
}

func NewWebMMuxer(cfg Config) *WebMMuxer {
	return &WebMMuxer{avMuxer: newAVMuxer(FormatWebM, cfg, openWebM)}
}

type webmContainer struct {
	video      webm.BlockWriteCloser
	audio      webm.BlockWriteCloser
	videoCodec mp4.Codec
	out        *closeNotifier

	mu    sync.Mutex
	fatal error
}

// closeNotifier keeps ebml-go from closing the file and reports when its
// writer goroutine has flushed everything. The muxer syncs the file first.
type closeNotifier struct {
	io.Writer
	once sync.Once
	done chan struct{}
}

func (c *closeNotifier) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

const webmCloseTimeout = 5 * time.Second

func openWebM(w io.Writer, s streams, _ Config) (container, error) {
	c := &webmContainer{videoCodec: s.videoCodec, out: &closeNotifier{Writer: w, done: make(chan struct{})}}
	var entries []webm.TrackEntry
	if s.video != nil {
		entry, err := videoTrackEntry(s)
		if err != nil {
			return nil, err
		}
		entry.TrackNumber = uint64(len(entries) + 1)
		entry.TrackUID = entry.TrackNumber
		entries = append(entries, entry)
	}
	if s.audio != nil {
		entry, err := audioTrackEntry(s)
		if err != nil {
			return nil, err
		}
		entry.TrackNumber = uint64(len(entries) + 1)
		entry.TrackUID = entry.TrackNumber
		entries = append(entries, entry)
	}

	writers, err := webm.NewSimpleBlockWriter(c.out, entries, mkvcore.WithOnFatalHandler(func(err error) {
		c.mu.Lock()
		c.fatal = err
		c.mu.Unlock()
	}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create WebM writer")
	}
	i := 0
	if s.video != nil {
		c.video = writers[i]
		i++
	}
	if s.audio != nil {
		c.audio = writers[i]
	}
	return c, nil
}

func videoTrackEntry(s streams) (webm.TrackEntry, error) {
	entry := webm.TrackEntry{
		Name:            "Video",
		TrackType:       1,
		DefaultDuration: uint64(s.video.FrameInterval().Nanoseconds()),
		Video: &webm.Video{
			PixelWidth:  uint64(s.video.Width),
			PixelHeight: uint64(s.video.Height),
		},
	}
	switch c := s.videoCodec.(type) {
	case *mp4.CodecH264:
		avcc, err := h264.AvcC(c.SPS, c.PPS)
		if err != nil {
			return entry, err
		}
		entry.CodecID = "V_MPEG4/ISO/AVC"
		entry.CodecPrivate = avcc
	case *mp4.CodecMJPEG:
		entry.CodecID = "V_MJPEG"
	default:
		return entry, errors.Errorf("video codec %T not supported in WebM", s.videoCodec)
	}
	return entry, nil
}

func audioTrackEntry(s streams) (webm.TrackEntry, error) {
	entry := webm.TrackEntry{
		Name:      "Audio",
		TrackType: 2,
		Audio: &webm.Audio{
			SamplingFrequency: float64(s.audio.SampleRate),
			Channels:          uint64(s.audio.Channels),
		},
	}
	switch c := s.audioCodec.(type) {
	case *mp4.CodecMPEG4Audio:
		asc, err := c.Config.Marshal()
		if err != nil {
			return entry, errors.Wrap(err, "audio specific config")
		}
		entry.CodecID = "A_AAC"
		entry.CodecPrivate = asc
	case *mp4.CodecLPCM:
		entry.CodecID = "A_PCM/INT/LIT"
	default:
		return entry, errors.Errorf("audio codec %T not supported in WebM", s.audioCodec)
	}
	return entry, nil
}

func (c *webmContainer) writePackets(video bool, pkts []encoder.Packet) error {
	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()
	if fatal != nil {
		return fatal
	}

	w := c.audio
	if video {
		w = c.video
	}
	if w == nil {
		return ErrNoTrack
	}
	for _, pkt := range pkts {
		data := pkt.Data
		if h, ok := c.videoCodec.(*mp4.CodecH264); ok && video {
			data = h264.AccessUnitToAVCC(pkt.Data, h.SPS, h.PPS, pkt.KeyFrame)
		}
		if _, err := w.Write(pkt.KeyFrame, pkt.PTS.Milliseconds(), data); err != nil {
			return err
		}
	}
	return nil
}

func (c *webmContainer) close(time.Duration) error {
	var err error
	for _, w := range []webm.BlockWriteCloser{c.video, c.audio} {
		if w == nil {
			continue
		}
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	select {
	case <-c.out.done:
	case <-time.After(webmCloseTimeout):
		return errors.New("timed out flushing WebM writer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		err = c.fatal
	}
	return err
}
