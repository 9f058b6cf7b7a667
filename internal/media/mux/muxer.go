package mux

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// container is the format-specific half of a muxer. Calls are serialized by
// the muxer's container lock.
type container interface {
	writePackets(video bool, pkts []encoder.Packet) error
	// close writes the trailer. The muxer syncs and closes the file afterwards.
	close(end time.Duration) error
}

// streams describes the tracks a container is opened with.
type streams struct {
	video      *media.VideoInfo
	videoCodec mp4.Codec
	audio      *media.AudioInfo
	audioCodec mp4.Codec
}

type openContainer func(w io.Writer, s streams, cfg Config) (container, error)

// avMuxer implements the Muxer lifecycle for single-file containers.
type avMuxer struct {
	cfg    Config
	format string
	open   openContainer
	logger *slog.Logger

	state  atomic.Int32
	paused *atomic.Bool
	path   string

	// mu is the container lock
	mu   sync.Mutex
	file *os.File
	out  *countingWriter
	cont container

	video *track[*media.VideoFrame]
	audio *track[*media.AudioFrame]
}

func newAVMuxer(format string, cfg Config, open openContainer) *avMuxer {
	return &avMuxer{
		cfg:    cfg.withDefaults(),
		format: format,
		open:   open,
		logger: util.ComponentLogger("muxer_" + format),
	}
}

func (m *avMuxer) Setup(path string, video *media.VideoInfo, audio *media.AudioInfo, paused *atomic.Bool) error {
	if state(m.state.Load()) != stateCreated {
		return errors.New("muxer already set up")
	}
	if video == nil && audio == nil {
		return errors.New("muxer needs at least one track")
	}

	var s streams
	opts := m.cfg.encoderOptions()
	if video != nil {
		enc, err := encoder.NewVideo(m.cfg.VideoEncoder, *video, opts)
		if err != nil {
			return errors.Wrap(err, "video encoder")
		}
		v := *video
		s.video, s.videoCodec = &v, enc.Codec()
		m.video = newTrack("video", enc)
	}
	if audio != nil {
		enc, err := encoder.NewAudio(m.cfg.AudioEncoder, *audio, opts)
		if err != nil {
			m.closeEncoders()
			return errors.Wrap(err, "audio encoder")
		}
		a := *audio
		s.audio, s.audioCodec = &a, enc.Codec()
		m.audio = newTrack("audio", enc)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.closeEncoders()
		return errors.Wrap(err, "failed to create output directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		m.closeEncoders()
		return errors.Wrap(err, "failed to create output file")
	}
	out := &countingWriter{w: f}
	cont, err := m.open(out, s, m.cfg)
	if err != nil {
		f.Close()
		os.Remove(path)
		m.closeEncoders()
		return errors.Wrapf(err, "failed to write %s header", m.format)
	}

	m.path = path
	m.paused = paused
	m.file = f
	m.out = out
	m.cont = cont
	m.state.Store(int32(stateWriting))
	m.logger.Info("Muxer writing", "path", path, "video", video != nil, "audio", audio != nil)
	return nil
}

func (m *avMuxer) closeEncoders() {
	if m.video != nil {
		m.video.enc.Close()
		m.video = nil
	}
	if m.audio != nil {
		m.audio.enc.Close()
		m.audio = nil
	}
}

func (m *avMuxer) writer(video bool) func([]encoder.Packet) error {
	return func(pkts []encoder.Packet) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := m.cont.writePackets(video, pkts); err != nil {
			return errors.Wrap(err, "container write failed")
		}
		return nil
	}
}

func (m *avMuxer) SendVideoFrame(f *media.VideoFrame, ts media.Timestamp) error {
	if m.video == nil {
		if state(m.state.Load()) != stateWriting {
			return ErrNotWriting
		}
		return errors.Wrap(ErrNoTrack, "video")
	}
	return sendFrame(m, m.video, f, ts.Duration(), true)
}

func (m *avMuxer) SendAudioFrame(f *media.AudioFrame, ts media.Timestamp) error {
	if m.audio == nil {
		if state(m.state.Load()) != stateWriting {
			return ErrNotWriting
		}
		return errors.Wrap(ErrNoTrack, "audio")
	}
	return sendFrame(m, m.audio, f, ts.Duration(), false)
}

func sendFrame[F any](m *avMuxer, t *track[F], frame F, ts time.Duration, video bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state(m.state.Load()) != stateWriting {
		return ErrNotWriting
	}
	if !t.admit(ts, m.paused) {
		return nil
	}
	if err := encodeWithRetry(t.enc, frame, ts, m.cfg.EncoderRetries, m.cfg.EncoderRetryDelay, &t.stats, m.writer(video)); err != nil {
		return errors.Wrapf(err, "%s track", t.kind)
	}
	t.accept(ts)
	return nil
}

func (m *avMuxer) Finish(last time.Duration) error {
	if !m.state.CompareAndSwap(int32(stateWriting), int32(stateClosed)) {
		return ErrNotWriting
	}

	var err error
	end := last
	if m.video != nil {
		m.video.mu.Lock()
		if ferr := flushEncoder(m.video.enc, &m.video.stats, m.writer(true)); ferr != nil {
			err = multierr.Append(err, errors.Wrap(ferr, "video track"))
		}
		end = max(end, m.video.last)
		m.video.mu.Unlock()
	}
	if m.audio != nil {
		m.audio.mu.Lock()
		if ferr := flushEncoder(m.audio.enc, &m.audio.stats, m.writer(false)); ferr != nil {
			err = multierr.Append(err, errors.Wrap(ferr, "audio track"))
		}
		end = max(end, m.audio.last)
		m.audio.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cerr := m.cont.close(end); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "failed to write trailer"))
	}
	if serr := m.file.Sync(); serr != nil {
		err = multierr.Append(err, errors.Wrap(serr, "fsync"))
	}
	if cerr := m.file.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close"))
	}
	m.logger.Info("Muxer finished", "path", m.path, "bytes", m.out.n.Load(), "end", end, "errors", len(multierr.Errors(err)))
	return err
}

func (m *avMuxer) Stats() Stats {
	var s Stats
	if m.video != nil {
		s.Video = m.video.snapshot()
	}
	if m.audio != nil {
		s.Audio = m.audio.snapshot()
	}
	if m.out != nil {
		s.Bytes = m.out.n.Load()
	}
	return s
}

// Path returns the output file once set up.
func (m *avMuxer) Path() string { return m.path }

type countingWriter struct {
	w io.Writer
	n atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// FileMuxer writes fragmented MP4. The header goes out at Setup, so a file
// interrupted mid-recording still plays up to its last complete fragment.
type FileMuxer struct {
	*avMuxer
}

func NewFileMuxer(cfg Config) *FileMuxer {
	return &FileMuxer{avMuxer: newAVMuxer(FormatMP4, cfg, openFMP4)}
}

type fmp4Container struct {
	w *fmp4Writer
}

func openFMP4(w io.Writer, s streams, cfg Config) (container, error) {
	rate := 0
	if s.audio != nil {
		rate = s.audio.SampleRate
	}
	fw, err := newFMP4Writer(w, s.videoCodec, s.audioCodec, rate, cfg.FragmentDuration)
	if err != nil {
		return nil, err
	}
	return &fmp4Container{w: fw}, nil
}

func (c *fmp4Container) writePackets(video bool, pkts []encoder.Packet) error {
	return c.w.writePackets(video, pkts)
}

func (c *fmp4Container) close(end time.Duration) error { return c.w.close(end) }
