package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/convert"
	"github.com/babelcloud/gbox-recorder/internal/media/h264"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

const probeTimeout = 10 * time.Second

// x264Encoder pipes I420 frames through ffmpeg's libx264. B-frames are
// disabled so access units come out in input order and each one takes the
// next timestamp from the FIFO.
type x264Encoder struct {
	info    media.VideoInfo
	conv    *convert.FormatConverter
	codec   *mp4.CodecH264
	proc    *ffmpegProcess
	pending []time.Duration
	queue   int
	closed  bool
	logger  *slog.Logger

	discarded atomic.Uint64
}

// NewX264 learns the parameter sets with a one-frame probe encode so the
// container header can be written before the first real frame, then starts
// the long-running encoder with identical settings.
func NewX264(info media.VideoInfo, opts Options) (VideoEncoder, error) {
	info = info.EnsureEven()
	if info.Width <= 0 || info.Height <= 0 {
		return nil, errors.Errorf("invalid size %dx%d", info.Width, info.Height)
	}
	path, err := LookPath(opts.ffmpeg())
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg not found")
	}

	encodeArgs := x264Args(info, opts)
	sps, pps, err := probeParameterSets(path, info, encodeArgs)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", fpsArg(info),
		"-i", "pipe:0",
	}
	args = append(args, encodeArgs...)
	args = append(args, "-f", "h264", "pipe:1")

	queue := opts.queueSize()
	proc, err := startFFmpeg(path, "x264", args, splitAccessUnits, queue)
	if err != nil {
		return nil, err
	}
	return &x264Encoder{
		info:   info,
		conv:   convert.NewFormatConverter(info),
		codec:  &mp4.CodecH264{SPS: sps, PPS: pps},
		proc:   proc,
		queue:  queue,
		logger: util.ComponentLogger("x264"),
	}, nil
}

func fps(info media.VideoInfo) int {
	if f := info.FPS(); f > 0 {
		return f
	}
	return 30
}

func fpsArg(info media.VideoInfo) string { return strconv.Itoa(fps(info)) }

func x264Args(info media.VideoInfo, opts Options) []string {
	bitrate := opts.Bitrate
	if bitrate <= 0 {
		bitrate = info.Width * info.Height * fps(info) / 10
	}
	gop := opts.GOP
	if gop <= 0 {
		gop = fps(info) * 2
	}
	return []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-bf", "0",
		"-g", strconv.Itoa(gop),
		"-b:v", strconv.Itoa(bitrate),
		"-pix_fmt", "yuv420p",
		"-x264-params", "aud=1",
	}
}

func probeParameterSets(path string, info media.VideoInfo, encodeArgs []string) (sps, pps []byte, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%s", info.Width, info.Height, fpsArg(info)),
		"-frames:v", "1",
	}
	args = append(args, encodeArgs...)
	args = append(args, "-f", "h264", "pipe:1")

	cmd := exec.CommandContext(ctx, path, args...)
	stderr := util.NewTailBuffer(4096)
	cmd.Stderr = stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "x264 probe failed: %s", stderr.String())
	}
	sps, pps, ok := h264.ExtractParameterSets(out)
	if !ok {
		return nil, nil, errors.New("x264 probe produced no SPS/PPS")
	}
	return sps, pps, nil
}

func (e *x264Encoder) Codec() mp4.Codec { return e.codec }

func (e *x264Encoder) Encode(f *media.VideoFrame, ts time.Duration) ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	packets := e.collect(e.proc.ready())
	if len(e.pending) >= e.queue {
		return packets, ErrBusy
	}

	yuv, err := e.conv.Convert(f)
	if err != nil {
		return packets, err
	}
	e.pending = append(e.pending, ts)
	for i, plane := range yuv.Planes {
		if err := e.proc.write(plane[:yuv.Strides[i]*rows(i, yuv.Height)]); err != nil {
			return packets, err
		}
	}
	return append(packets, e.collect(e.proc.ready())...), nil
}

func rows(plane, height int) int {
	if plane == 0 {
		return height
	}
	return height / 2
}

func (e *x264Encoder) collect(aus [][]byte) []Packet {
	var out []Packet
	for i, au := range aus {
		if len(e.pending) == 0 {
			// more pictures than inputs means the stream is out of step
			n := uint64(len(aus) - i)
			total := e.discarded.Add(n)
			e.logger.Warn("Discarding access units without a pending timestamp", "count", n, "total", total)
			break
		}
		ts := e.pending[0]
		e.pending = e.pending[1:]
		out = append(out, Packet{
			Data:     au,
			PTS:      ts,
			Duration: e.info.FrameInterval(),
			KeyFrame: h264.IsKeyFrame(au),
		})
	}
	return out
}

func (e *x264Encoder) Discarded() uint64 { return e.discarded.Load() }

func (e *x264Encoder) Flush() ([]Packet, error) {
	if e.closed {
		return nil, nil
	}
	e.closed = true
	aus, err := e.proc.finish(probeTimeout)
	return e.collect(aus), err
}

func (e *x264Encoder) Close() error {
	e.closed = true
	e.proc.kill()
	return nil
}
