// Package recording is the control plane of a capture session: it resolves
// and acquires devices, wires sources through the conversion pool into a
// muxer, and drives pause, resume and stop across all of them.
package recording

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/control"
	"github.com/babelcloud/gbox-recorder/internal/media/convert"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/babelcloud/gbox-recorder/internal/media/fallback"
	"github.com/babelcloud/gbox-recorder/internal/media/mux"
	"github.com/babelcloud/gbox-recorder/internal/media/source"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"
)

// Session records one set of targets into one output.
type Session struct {
	id     string
	opts   Options
	deps   Deps
	logger *slog.Logger

	timeline *clock.Session
	syncs    func() clock.Synchronizer
	ctl      *control.Broadcaster
	paused   atomic.Bool
	events   *eventHub

	mu          sync.Mutex
	state       State
	failPending bool
	path        string
	startedAt   time.Time
	video       *TrackInfo
	audio       *TrackInfo
	ignored     []string
	videoSrc    *source.VideoSource
	audioSrc    *source.AudioSource
	videoQ      *source.Queue[*media.VideoFrame]
	audioQ      *source.Queue[*media.AudioFrame]
	muxer       mux.Muxer
	pool        *convert.Pool

	gateMu sync.Mutex
	gate   convert.SequenceGate

	cancel       context.CancelFunc
	sources      conc.WaitGroup
	consumers    conc.WaitGroup
	collector    conc.WaitGroup
	background   conc.WaitGroup
	collectStop  chan struct{}
	progressStop chan struct{}

	errMu        sync.Mutex
	trackErr     error
	failedTracks map[string]bool

	stopOnce sync.Once
	result   *Result
	stopErr  error
}

// NewSession prepares a session. Nothing is opened until Start.
func NewSession(opts Options, deps Deps) *Session {
	opts = opts.withDefaults()
	deps = deps.withDefaults(opts)
	id := uuid.NewString()
	timeline := clock.NewSession(deps.Clock)
	return &Session{
		id:           id,
		opts:         opts,
		deps:         deps,
		logger:       util.ComponentLogger("recording").With("session", id),
		timeline:     timeline,
		syncs:        timeline.Synchronizers(opts.ClockMode, clock.MonotonicHost),
		ctl:          control.NewBroadcaster(control.Pause),
		events:       newEventHub(),
		collectStop:  make(chan struct{}),
		progressStop: make(chan struct{}),
		failedTracks: make(map[string]bool),
	}
}

// ID is the session's UUID.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events subscribes to session notifications. The channel closes when the
// session finishes or cancel is called. Events that do not fit in buffer
// are dropped for this subscriber only.
func (s *Session) Events(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	e.Time = s.deps.Clock.Now()
	s.events.publish(e)
}

// Start acquires every device, sets up the muxer and starts recording. It
// returns once all sources are armed and the timeline runs. On error nothing
// is left open and no output remains.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "cannot start a %s session", st)
	}
	s.state = StateStarting
	s.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		s.logger.Error("Recording failed to start", "error", err)
		s.setState(StateFailed)
		s.stopOnce.Do(func() { s.stopErr = err })
		s.publish(Event{Type: EventError, Message: err.Error()})
		s.events.close()
	}()

	if _, err := clock.ParseMode(string(s.opts.ClockMode)); err != nil {
		return err
	}

	videoTarget, audioTarget, err := s.resolveTargets(ctx)
	if err != nil {
		return err
	}

	if videoTarget != nil {
		vs, err := s.acquireVideo(ctx, *videoTarget)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.videoSrc = vs
		s.mu.Unlock()
	}
	if audioTarget != nil {
		as, err := s.acquireAudio(ctx, *audioTarget)
		if err != nil {
			s.closeSources()
			return err
		}
		s.mu.Lock()
		s.audioSrc = as
		s.mu.Unlock()
	}

	if err := s.setupOutput(); err != nil {
		s.closeSources()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ready := s.startPipeline(runCtx)

	if err := s.awaitReady(ctx, ready); err != nil {
		s.teardown()
		return err
	}

	s.mu.Lock()
	s.timeline.Start()
	s.ctl.Send(control.Play)
	s.state = StateRecording
	s.startedAt = s.deps.Clock.Now()
	pending := s.failPending
	s.mu.Unlock()

	st := s.Status()
	s.logger.Info("Recording started", "path", st.Path, "format", s.opts.Format, "clock", s.opts.ClockMode)
	s.publish(Event{Type: EventReady, Status: &st})
	s.background.Go(s.reportProgress)

	if pending {
		go s.stopAfterFailure()
	}
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

type request struct {
	kind devices.Kind
	id   string
}

func (s *Session) resolve(ctx context.Context, r request) (*devices.Target, error) {
	t, err := s.deps.Catalog.Find(ctx, r.id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s target", r.kind)
	}
	if t.Kind != r.kind {
		return nil, errors.Wrapf(source.ErrWrongKind, "%s is a %s, not a %s", t.ID, t.Kind, r.kind)
	}
	return &t, nil
}

func (s *Session) resolveTargets(ctx context.Context) (video, audio *devices.Target, err error) {
	var videoReqs []request
	for _, r := range []request{
		{devices.KindScreen, s.opts.Screen},
		{devices.KindWindow, s.opts.Window},
		{devices.KindCamera, s.opts.Camera},
	} {
		if r.id != "" {
			videoReqs = append(videoReqs, r)
		}
	}
	if len(videoReqs) > 1 {
		return nil, nil, errors.Errorf("at most one video target can be recorded, got %d", len(videoReqs))
	}
	if len(videoReqs) == 1 {
		if video, err = s.resolve(ctx, videoReqs[0]); err != nil {
			return nil, nil, err
		}
	}

	switch {
	case s.opts.Microphone != "":
		if audio, err = s.resolve(ctx, request{devices.KindMicrophone, s.opts.Microphone}); err != nil {
			return nil, nil, err
		}
		if s.opts.SystemAudio != "" {
			s.logger.Warn("Both microphone and system audio requested, recording the microphone", "ignored", s.opts.SystemAudio)
			s.mu.Lock()
			s.ignored = append(s.ignored, string(devices.KindSystemAudio)+":"+s.opts.SystemAudio)
			s.mu.Unlock()
		}
	case s.opts.SystemAudio != "":
		if audio, err = s.resolve(ctx, request{devices.KindSystemAudio, s.opts.SystemAudio}); err != nil {
			return nil, nil, err
		}
	}

	if video == nil && audio == nil {
		return nil, nil, errors.New("no capture target requested")
	}
	return video, audio, nil
}

// reportFallback publishes the attempts recorded under key since before.
func (s *Session) reportFallback(track, key string, before int) {
	history := s.deps.Fallback.History(key)
	if before > len(history) {
		before = 0
	}
	for _, a := range history[before:] {
		s.publish(Event{
			Type:    EventDeviceFallback,
			Track:   track,
			Device:  a.DeviceID,
			Message: a.Config + ": " + a.Err.Error(),
		})
	}
}

func (s *Session) acquireVideo(ctx context.Context, t devices.Target) (*source.VideoSource, error) {
	key := fallback.VideoKey(t.ID)
	before := len(s.deps.Fallback.History(key))
	vs, err := s.deps.SourceFactory.Video(ctx, t, s.deps.Fallback)
	s.reportFallback("video", key, before)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", t.ID)
	}
	s.mu.Lock()
	s.video = videoTrack(t.ID, t.Name, vs.Config().String(), vs.Info())
	s.mu.Unlock()
	return vs, nil
}

func (s *Session) acquireAudio(ctx context.Context, t devices.Target) (*source.AudioSource, error) {
	key := fallback.AudioKey(t.ID)
	before := len(s.deps.Fallback.History(key))
	as, err := s.deps.SourceFactory.Audio(ctx, t, s.deps.Fallback)
	s.reportFallback("audio", key, before)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", t.ID)
	}
	s.mu.Lock()
	s.audio = audioTrack(t.ID, t.Name, as.Config().String(), as.Info())
	s.mu.Unlock()
	return as, nil
}

func (s *Session) closeSources() {
	if s.videoSrc != nil {
		s.videoSrc.Close()
	}
	if s.audioSrc != nil {
		s.audioSrc.Close()
	}
}

// outputVideoInfo is the stream the muxer is set up with, and whether the
// conversion pool produces it.
func (s *Session) outputVideoInfo(src media.VideoInfo) (media.VideoInfo, bool) {
	if src.PixelFormat.Encoded() {
		return src, false
	}
	out := src.Scaled(s.opts.MaxWidth, s.opts.FPS).EnsureEven()
	if !s.opts.Convert {
		return out, false
	}
	dst := out
	dst.PixelFormat = media.PixelFormatI420
	if !convert.NeedsConversion(src, dst) {
		return out, false
	}
	return dst, true
}

func (s *Session) setupOutput() error {
	m, err := s.deps.MuxerFactory(s.opts.Format, s.opts.Mux)
	if err != nil {
		return err
	}

	var videoInfo *media.VideoInfo
	usePool := false
	if s.videoSrc != nil {
		if _, ok := m.(mux.VideoMuxer); !ok {
			return errors.Errorf("%s output cannot record video", s.opts.Format)
		}
		info, pooled := s.outputVideoInfo(s.videoSrc.Info())
		videoInfo, usePool = &info, pooled
	}
	var audioInfo *media.AudioInfo
	if s.audioSrc != nil {
		if _, ok := m.(mux.AudioMuxer); !ok {
			return errors.Errorf("%s output cannot record audio", s.opts.Format)
		}
		info := s.audioSrc.Info()
		audioInfo = &info
	}

	if s.opts.OutputDir != "" {
		if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}
	path := s.opts.outputPath(s.deps.Clock.Now())
	if err := m.Setup(path, videoInfo, audioInfo, &s.paused); err != nil {
		return errors.Wrap(err, "failed to set up muxer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.muxer = m
	s.path = path
	if usePool {
		s.pool = convert.NewSharedPool(s.opts.Pool, convert.NewFormatConverter(*videoInfo))
	}
	return nil
}

type readiness struct {
	track string
	ch    chan error
}

// startPipeline launches the source, consumer and collector goroutines.
func (s *Session) startPipeline(ctx context.Context) []readiness {
	var ready []readiness

	if s.videoSrc != nil {
		vm := s.muxer.(mux.VideoMuxer)
		s.videoQ = source.NewQueue[*media.VideoFrame](s.opts.SourceQueue)
		ch := make(chan error, 1)
		ready = append(ready, readiness{"video", ch})
		params := source.RunParams[*media.VideoFrame]{Clock: s.syncs(), Ready: ch, Control: s.ctl, Output: s.videoQ}
		s.sources.Go(func() {
			if err := s.videoSrc.Run(ctx, params); err != nil {
				s.fail("video", err)
			}
		})

		if s.pool != nil {
			s.consumers.Go(func() { s.feedPool(s.videoQ) })
			s.collector.Go(func() { s.collect(vm) })
		} else {
			s.consumers.Go(func() {
				consume(s, "video", s.videoQ, func(f *media.VideoFrame) error { return vm.SendVideoFrame(f, f.Timestamp) })
			})
		}
	}

	if s.audioSrc != nil {
		am := s.muxer.(mux.AudioMuxer)
		s.audioQ = source.NewQueue[*media.AudioFrame](s.opts.SourceQueue)
		ch := make(chan error, 1)
		ready = append(ready, readiness{"audio", ch})
		params := source.RunParams[*media.AudioFrame]{Clock: s.syncs(), Ready: ch, Control: s.ctl, Output: s.audioQ}
		s.sources.Go(func() {
			if err := s.audioSrc.Run(ctx, params); err != nil {
				s.fail("audio", err)
			}
		})
		s.consumers.Go(func() {
			consume(s, "audio", s.audioQ, func(f *media.AudioFrame) error { return am.SendAudioFrame(f, f.Timestamp) })
		})
	}
	return ready
}

func (s *Session) awaitReady(ctx context.Context, ready []readiness) error {
	for _, r := range ready {
		select {
		case err := <-r.ch:
			if err != nil {
				return errors.Wrapf(err, "%s source failed to start", r.track)
			}
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for sources")
		}
	}
	return nil
}

// consume forwards frames from a source queue to the muxer until the source
// closes it. A muxer error is fatal for the track.
func consume[F any](s *Session, track string, q *source.Queue[F], send func(F) error) {
	for f := range q.C() {
		if err := send(f); err != nil {
			s.fail(track, err)
			q.Close()
			return
		}
	}
}

func (s *Session) feedPool(q *source.Queue[*media.VideoFrame]) {
	for f := range q.C() {
		if err := s.pool.Submit(f, f.Sequence); err != nil && !errors.Is(err, convert.ErrQueueFull) {
			q.Close()
			return
		}
	}
}

func (s *Session) collect(vm mux.VideoMuxer) {
	for {
		select {
		case <-s.collectStop:
			return
		case c, ok := <-s.pool.Output():
			if !ok {
				return
			}
			s.deliverConverted(vm, c)
		}
	}
}

// deliverConverted hands a pool result to the muxer unless a newer frame
// already went through.
func (s *Session) deliverConverted(vm mux.VideoMuxer, c convert.Converted) {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if !s.gate.Accept(c.Sequence) || s.trackFailed("video") {
		return
	}
	if err := vm.SendVideoFrame(c.Frame, c.Frame.Timestamp); err != nil {
		s.fail("video", err)
	}
}

func (s *Session) trackFailed(track string) bool {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.failedTracks[track]
}

// fail records a stream-fatal error once per track and stops a running
// session.
func (s *Session) fail(track string, err error) {
	s.errMu.Lock()
	if s.failedTracks[track] {
		s.errMu.Unlock()
		return
	}
	s.failedTracks[track] = true
	s.trackErr = multierr.Append(s.trackErr, errors.Wrapf(err, "%s track", track))
	s.errMu.Unlock()

	s.logger.Error("Stream failed", "track", track, "error", err)
	s.publish(Event{Type: EventError, Track: track, Message: err.Error()})

	s.mu.Lock()
	st := s.state
	if st == StateStarting {
		s.failPending = true
	}
	s.mu.Unlock()
	if st == StateRecording || st == StatePaused {
		go s.stopAfterFailure()
	}
}

func (s *Session) stopAfterFailure() {
	if _, err := s.Stop(context.Background()); err != nil {
		s.logger.Debug("Session stopped after stream failure", "error", err)
	}
}

func (s *Session) trackErrors() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.trackErr
}

func (s *Session) reportProgress() {
	t := s.deps.Clock.NewTicker(s.opts.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-s.progressStop:
			return
		case <-t.C():
			st := s.Status()
			s.publish(Event{Type: EventProgress, Status: &st})
		}
	}
}

// Pause stops the timeline, suspends every device and discards frames still
// in flight. Devices stay open.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRecording {
		st := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "cannot pause a %s session", st)
	}
	s.timeline.Stop()
	s.ctl.Send(control.Pause)
	s.paused.Store(true)
	s.state = StatePaused
	s.mu.Unlock()

	s.logger.Info("Recording paused", "recorded", s.timeline.Elapsed())
	s.publish(Event{Type: EventPaused})
	return nil
}

// Resume continues a paused session on the same devices. Timestamps carry on
// from the time recorded so far.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		st := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "cannot resume a %s session", st)
	}
	s.timeline.Start()
	s.paused.Store(false)
	s.ctl.Send(control.Play)
	s.state = StateRecording
	s.mu.Unlock()

	s.logger.Info("Recording resumed", "offset", s.timeline.ResumeOffset())
	s.publish(Event{Type: EventResumed})
	return nil
}

// Stop shuts every source down, drains queued and in-flight frames into the
// muxer and finalizes the output. It is safe to call more than once; later
// calls return the first call's result. When ctx ends before the sources
// exit they are cancelled and the shutdown continues.
func (s *Session) Stop(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	switch st {
	case StateIdle:
		return nil, errors.Wrap(ErrInvalidState, "session never started")
	case StateStarting:
		return nil, errors.Wrap(ErrInvalidState, "session is still starting")
	}

	s.stopOnce.Do(func() {
		s.result, s.stopErr = s.shutdown(ctx)
	})
	return s.result, s.stopErr
}

// wait blocks on wg. When ctx ends first, onCancel runs and the wait goes on.
func wait(ctx context.Context, wg *conc.WaitGroup, onCancel func()) *panics.Recovered {
	done := make(chan *panics.Recovered, 1)
	go func() { done <- wg.WaitAndRecover() }()
	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		onCancel()
		return <-done
	}
}

func (s *Session) shutdown(ctx context.Context) (*Result, error) {
	s.setState(StateStopping)
	s.logger.Info("Stopping recording")

	s.timeline.Stop()
	s.ctl.Send(control.Shutdown)
	if r := wait(ctx, &s.sources, s.cancel); r != nil {
		s.fail("source", r.AsError())
	}
	s.closeQueues()

	if r := wait(ctx, &s.consumers, s.cancel); r != nil {
		s.fail("muxer", r.AsError())
	}
	close(s.collectStop)
	if r := s.collector.WaitAndRecover(); r != nil {
		s.fail("video", r.AsError())
	}
	if s.pool != nil {
		vm := s.muxer.(mux.VideoMuxer)
		s.pool.DrainWithTimeout(func(c convert.Converted) { s.deliverConverted(vm, c) }, s.opts.DrainTimeout)
		if perr := s.pool.Err(); perr != nil {
			s.fail("video", perr)
		}
	}
	close(s.progressStop)
	s.background.Wait()
	s.cancel()

	elapsed := s.timeline.Elapsed()
	finishErr := s.muxer.Finish(elapsed)
	err := multierr.Append(s.trackErrors(), errors.Wrap(finishErr, "failed to finish recording"))

	res := &Result{ID: s.id, Path: s.path, Format: s.opts.Format, Duration: elapsed, Stats: s.stats()}
	final := StateStopped
	if err != nil {
		final = StateFailed
	}
	s.setState(final)
	s.logger.Info("Recording finished", "path", res.Path, "duration", elapsed, "state", final.String(), "errors", len(multierr.Errors(err)))
	s.publish(Event{Type: EventFinished, Result: res})
	s.events.close()
	return res, err
}

func (s *Session) closeQueues() {
	if s.videoQ != nil {
		s.videoQ.CloseSend()
	}
	if s.audioQ != nil {
		s.audioQ.CloseSend()
	}
}

// teardown unwinds a start that failed after the muxer was set up and
// removes the partial output.
func (s *Session) teardown() {
	s.ctl.Send(control.Shutdown)
	s.cancel()
	s.sources.WaitAndRecover()
	s.closeQueues()
	s.consumers.WaitAndRecover()
	close(s.collectStop)
	s.collector.WaitAndRecover()
	if s.pool != nil {
		s.pool.Close()
	}
	if err := s.muxer.Finish(0); err != nil {
		s.logger.Debug("Muxer finish during teardown", "error", err)
	}
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("Failed to remove partial output", "path", s.path, "error", err)
	}
}

func (s *Session) stats() Stats {
	s.mu.Lock()
	vs, as, pool, m := s.videoSrc, s.audioSrc, s.pool, s.muxer
	s.mu.Unlock()

	var st Stats
	if vs != nil {
		v := vs.Stats()
		st.VideoSource = &v
	}
	if as != nil {
		a := as.Stats()
		st.AudioSource = &a
	}
	if pool != nil {
		p := pool.Stats()
		st.Pool = &p
		s.gateMu.Lock()
		st.Reordered = s.gate.Skipped()
		s.gateMu.Unlock()
	}
	if m != nil {
		st.Muxer = m.Stats()
	}
	return st
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:        s.id,
		State:     s.state,
		Path:      s.path,
		Format:    s.opts.Format,
		StartedAt: s.startedAt,
		Video:     s.video,
		Audio:     s.audio,
		Ignored:   append([]string(nil), s.ignored...),
	}
	s.mu.Unlock()
	st.Elapsed = s.timeline.Elapsed()
	st.Stats = s.stats()
	return st
}
