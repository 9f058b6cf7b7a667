package mux

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// SegmentInfo describes a finished fragment.
type SegmentInfo struct {
	Path     string
	Index    int
	Duration time.Duration
	FileSize *int64
}

type segment struct {
	index     int
	path      string
	file      *os.File
	out       *countingWriter
	enc       encoder.AudioEncoder
	writer    *fmp4Writer
	start     time.Duration
	started   bool
	hasFrames bool
}

// SegmentedAudioMuxer writes audio into a directory of short, independently
// playable fMP4 files and keeps manifest.json current after every rotation.
type SegmentedAudioMuxer struct {
	cfg    Config
	logger *slog.Logger

	state  atomic.Int32
	paused *atomic.Bool
	dir    string
	info   media.AudioInfo

	// mu guards everything below; audio is the only track so it doubles as
	// the container lock
	mu        sync.Mutex
	track     *track[*media.AudioFrame]
	current   *segment
	completed []SegmentInfo
	lastFrame time.Duration
	haveFrame bool
	bytes     int64
}

func NewSegmentedAudioMuxer(cfg Config) *SegmentedAudioMuxer {
	return &SegmentedAudioMuxer{
		cfg:    cfg.withDefaults(),
		logger: util.ComponentLogger("muxer_segmented"),
	}
}

// Setup treats path as the output directory. Video is not supported.
func (m *SegmentedAudioMuxer) Setup(path string, video *media.VideoInfo, audio *media.AudioInfo, paused *atomic.Bool) error {
	if state(m.state.Load()) != stateCreated {
		return errors.New("muxer already set up")
	}
	if video != nil {
		return errors.New("segmented muxer records audio only")
	}
	if audio == nil {
		return errors.New("segmented muxer needs an audio track")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrap(err, "failed to create segment directory")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dir = path
	m.info = *audio
	m.paused = paused
	seg, err := m.openSegment(0)
	if err != nil {
		return err
	}
	m.current = seg
	m.track = newTrack[*media.AudioFrame]("audio", seg.enc)
	m.writeInProgressManifest()
	m.state.Store(int32(stateWriting))
	m.logger.Info("Segmented muxer writing", "dir", path, "segment_duration", m.cfg.SegmentDuration)
	return nil
}

func (m *SegmentedAudioMuxer) segmentPath(index int) string {
	return filepath.Join(m.dir, fmt.Sprintf("fragment_%03d.m4a", index))
}

// openSegment creates the encoder first so a failing encoder leaves no file.
func (m *SegmentedAudioMuxer) openSegment(index int) (*segment, error) {
	enc, err := encoder.NewAudio(m.cfg.AudioEncoder, m.info, m.cfg.encoderOptions())
	if err != nil {
		return nil, errors.Wrap(err, "audio encoder")
	}
	path := m.segmentPath(index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "failed to create segment")
	}
	out := &countingWriter{w: f}
	w, err := newFMP4Writer(out, nil, enc.Codec(), m.info.SampleRate, m.cfg.FragmentDuration)
	if err != nil {
		f.Close()
		os.Remove(path)
		enc.Close()
		return nil, errors.Wrap(err, "failed to write segment header")
	}
	return &segment{index: index, path: path, file: f, out: out, enc: enc, writer: w}, nil
}

func (m *SegmentedAudioMuxer) SendAudioFrame(f *media.AudioFrame, ts media.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state(m.state.Load()) != stateWriting {
		return ErrNotWriting
	}
	t := m.track
	d := ts.Duration()
	if !t.admit(d, m.paused) {
		return nil
	}

	m.lastFrame = d
	m.haveFrame = true
	if !m.current.started {
		m.current.started = true
		m.current.start = d
	}
	if d-m.current.start >= m.cfg.SegmentDuration && m.current.hasFrames {
		if err := m.rotate(d); err != nil {
			t.stats.Failed++
			return err
		}
	}

	seg := m.current
	write := func(pkts []encoder.Packet) error { return m.writeSegment(seg, pkts) }
	if err := encodeWithRetry(seg.enc, f, d, m.cfg.EncoderRetries, m.cfg.EncoderRetryDelay, &t.stats, write); err != nil {
		return errors.Wrap(err, "audio track")
	}
	seg.hasFrames = true
	t.accept(d)
	return nil
}

// writeSegment rebases packets onto the segment's own timeline.
func (m *SegmentedAudioMuxer) writeSegment(seg *segment, pkts []encoder.Packet) error {
	rebased := make([]encoder.Packet, len(pkts))
	for i, p := range pkts {
		p.PTS = max(p.PTS-seg.start, 0)
		rebased[i] = p
	}
	return seg.writer.writePackets(false, rebased)
}

// closeSegment flushes the encoder, writes the last fragment and syncs the
// file. It returns the file size.
func (m *SegmentedAudioMuxer) closeSegment(seg *segment, end time.Duration) (int64, error) {
	write := func(pkts []encoder.Packet) error { return m.writeSegment(seg, pkts) }
	err := flushEncoder(seg.enc, &m.track.stats, write)
	if cerr := seg.writer.close(max(end-seg.start, 0)); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if serr := seg.file.Sync(); serr != nil {
		m.logger.Warn("Segment fsync failed", "path", seg.path, "error", serr)
	}
	if cerr := seg.file.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	n := seg.out.n.Load()
	m.bytes += n
	return n, err
}

func (m *SegmentedAudioMuxer) rotate(at time.Duration) error {
	seg := m.current
	size, err := m.closeSegment(seg, at)
	if err != nil {
		m.logger.Warn("Segment finished with errors", "index", seg.index, "error", err)
	}
	m.completed = append(m.completed, SegmentInfo{
		Path:     seg.path,
		Index:    seg.index,
		Duration: at - seg.start,
		FileSize: &size,
	})
	m.writeManifest(false)

	next, err := m.openSegment(seg.index + 1)
	if err != nil {
		// the finished fragments stay playable; stop here with a final manifest
		m.state.Store(int32(stateClosed))
		m.current = nil
		m.writeManifest(true)
		return errors.Wrap(err, "failed to rotate segment")
	}
	next.started = true
	next.start = at
	m.current = next
	m.track.enc = next.enc
	m.writeInProgressManifest()
	m.logger.Info("Segment rotated", "index", seg.index, "duration", at-seg.start, "size", size)
	return nil
}

// Finish closes the open segment, removing it when it never got a frame,
// and writes the final manifest.
func (m *SegmentedAudioMuxer) Finish(last time.Duration) error {
	if !m.state.CompareAndSwap(int32(stateWriting), int32(stateClosed)) {
		return ErrNotWriting
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	seg := m.current
	end := last
	if m.haveFrame {
		end = max(m.lastFrame, last)
	}
	if seg.hasFrames {
		size, cerr := m.closeSegment(seg, end)
		err = multierr.Append(err, cerr)
		m.completed = append(m.completed, SegmentInfo{
			Path:     seg.path,
			Index:    seg.index,
			Duration: max(end-seg.start, 0),
			FileSize: &size,
		})
	} else {
		seg.enc.Close()
		seg.file.Close()
		if rerr := os.Remove(seg.path); rerr != nil {
			m.logger.Debug("Failed to remove empty segment", "path", seg.path, "error", rerr)
		}
	}
	m.current = nil

	if werr := m.writeManifest(true); werr != nil {
		err = multierr.Append(err, werr)
	}
	m.logger.Info("Segmented muxer finished", "segments", len(m.completed), "end", end)
	return err
}

func (m *SegmentedAudioMuxer) entries() []FragmentEntry {
	out := make([]FragmentEntry, 0, len(m.completed)+1)
	for _, s := range m.completed {
		out = append(out, FragmentEntry{
			Path:       filepath.Base(s.Path),
			Index:      s.Index,
			Duration:   s.Duration.Seconds(),
			IsComplete: true,
			FileSize:   s.FileSize,
		})
	}
	return out
}

func (m *SegmentedAudioMuxer) writeManifest(final bool) error {
	man := &Manifest{Version: ManifestVersion, Fragments: m.entries(), IsComplete: final}
	if final {
		var total time.Duration
		for _, s := range m.completed {
			total += s.Duration
		}
		secs := total.Seconds()
		man.TotalDuration = &secs
	}
	err := writeManifest(filepath.Join(m.dir, ManifestFileName), man)
	if err != nil {
		m.logger.Warn("Failed to write manifest", "final", final, "error", err)
	}
	return err
}

func (m *SegmentedAudioMuxer) writeInProgressManifest() {
	man := &Manifest{Version: ManifestVersion, Fragments: m.entries()}
	man.Fragments = append(man.Fragments, FragmentEntry{
		Path:  filepath.Base(m.current.path),
		Index: m.current.index,
	})
	if err := writeManifest(filepath.Join(m.dir, ManifestFileName), man); err != nil {
		m.logger.Warn("Failed to write in-progress manifest", "error", err)
	}
}

// Segments returns the finished fragments.
func (m *SegmentedAudioMuxer) Segments() []SegmentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SegmentInfo(nil), m.completed...)
}

func (m *SegmentedAudioMuxer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Segments: len(m.completed), Bytes: m.bytes}
	if m.track != nil {
		ts := m.track.stats
		s.Audio = &ts
	}
	if m.current != nil {
		s.Bytes += m.current.out.n.Load()
	}
	return s
}

// Path returns the output directory.
func (m *SegmentedAudioMuxer) Path() string { return m.dir }
