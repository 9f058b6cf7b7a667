package source

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
)

// startupGrace is how long a capture process may run before its first
// bytes; a device that cannot open usually makes ffmpeg exit well before.
const startupGrace = 3 * time.Second

// ffmpegDriver reads fixed-size raw frames from a capture process.
type ffmpegDriver[F any] struct {
	*pump[F]
	logger *slog.Logger
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *util.TailBuffer
	size   int
	decode func([]byte) F
	host   clock.HostClock

	closeOnce sync.Once
	started   chan struct{}
}

// startFFmpegDriver stamps frames with host when it is set and with the
// wall clock otherwise.
func startFFmpegDriver[F any](path, name string, args []string, size, depth int, decode func([]byte) F, host clock.HostClock) (*ffmpegDriver[F], error) {
	if size <= 0 {
		return nil, errors.New("capture frame size is zero")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, args...)
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr := util.NewTailBuffer(4096)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to start %s", path)
	}

	d := &ffmpegDriver[F]{
		pump:    newPump[F](depth),
		logger:  util.ComponentLogger("capture_" + name),
		cmd:     cmd,
		cancel:  cancel,
		stderr:  stderr,
		size:    size,
		decode:  decode,
		host:    host,
		started: make(chan struct{}),
	}
	d.logger.Debug("Capture process started", "pid", cmd.Process.Pid, "args", args)
	d.run(func() { d.read(stdout) })

	// The device is proven once the first frame is in or the process has
	// survived the grace period.
	select {
	case <-d.started:
	case <-time.After(startupGrace):
	}
	if err := d.Err(); err != nil {
		d.Close()
		return nil, err
	}
	if canSignalPause {
		if err := suspendProcess(cmd.Process); err != nil {
			d.logger.Debug("Initial suspend failed", "error", err)
		}
	}
	return d, nil
}

func (d *ffmpegDriver[F]) read(stdout io.Reader) {
	r := bufio.NewReaderSize(stdout, d.size)
	var once sync.Once
	for {
		buf := make([]byte, d.size)
		if _, err := io.ReadFull(r, buf); err != nil {
			select {
			case <-d.stop:
			default:
				d.fail(errors.Wrapf(err, "capture ended: %s", d.stderr.String()))
			}
			once.Do(func() { close(d.started) })
			return
		}
		once.Do(func() { close(d.started) })
		// the read gate: frames produced while paused are discarded
		if d.suspended.Load() {
			continue
		}
		if !d.emit(Captured[F]{Frame: d.decode(buf), Reading: d.reading()}) {
			return
		}
	}
}

func (d *ffmpegDriver[F]) reading() clock.Reading {
	if d.host != nil {
		return d.host()
	}
	return clock.Instant(time.Now())
}

func (d *ffmpegDriver[F]) Suspend() error {
	if d.suspended.Swap(true) || !canSignalPause {
		return nil
	}
	return errors.Wrap(suspendProcess(d.cmd.Process), "suspend capture process")
}

func (d *ffmpegDriver[F]) Resume() error {
	if !d.suspended.Load() {
		return nil
	}
	if canSignalPause {
		if err := resumeProcess(d.cmd.Process); err != nil {
			return errors.Wrap(err, "resume capture process")
		}
	}
	d.suspended.Store(false)
	return nil
}

// Close kills the process and waits for the reader.
func (d *ffmpegDriver[F]) Close() error {
	d.closeOnce.Do(func() {
		d.stopOnce.Do(func() { close(d.stop) })
		if canSignalPause {
			_ = resumeProcess(d.cmd.Process)
		}
		d.cancel()
		d.wg.Wait()
		_ = d.cmd.Wait()
		d.logger.Debug("Capture process stopped")
	})
	return nil
}

type ffmpegVideo struct {
	*ffmpegDriver[*media.VideoFrame]
	info media.VideoInfo
}

func (v *ffmpegVideo) Info() media.VideoInfo { return v.info }

func openFFmpegVideo(path string, target devices.Target, info media.VideoInfo, depth int, host clock.HostClock) (*ffmpegVideo, error) {
	args, err := videoArgs(target, info)
	if err != nil {
		return nil, err
	}
	decode := func(buf []byte) *media.VideoFrame {
		// the size is fixed by the command line, so wrapping cannot fail
		f, _ := media.WrapVideoFrame(info.PixelFormat, info.Width, info.Height, buf)
		return f
	}
	d, err := startFFmpegDriver(path, target.Driver, args, info.PixelFormat.FrameSize(info.Width, info.Height), depth, decode, host)
	if err != nil {
		return nil, err
	}
	return &ffmpegVideo{ffmpegDriver: d, info: info}, nil
}

type ffmpegAudio struct {
	*ffmpegDriver[*media.AudioFrame]
	info media.AudioInfo
}

func (a *ffmpegAudio) Info() media.AudioInfo { return a.info }

func openFFmpegAudio(path string, target devices.Target, info media.AudioInfo, depth int) (*ffmpegAudio, error) {
	args, err := audioArgs(target, info)
	if err != nil {
		return nil, err
	}
	size := info.BufferSize * info.Channels * info.SampleSize()
	decode := func(buf []byte) *media.AudioFrame {
		return info.WrapFrame(buf, info.Channels, 0)
	}
	d, err := startFFmpegDriver(path, target.Driver, args, size, depth, decode, nil)
	if err != nil {
		return nil, err
	}
	return &ffmpegAudio{ffmpegDriver: d, info: info}, nil
}
