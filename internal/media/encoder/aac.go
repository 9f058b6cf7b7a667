package encoder

import (
	"strconv"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

// aacSamplesPerFrame is fixed for AAC-LC.
const aacSamplesPerFrame = 1024

// aacEncoder pipes s16le through ffmpeg's native AAC encoder and reads back
// ADTS frames. Timestamps follow the sample count from the first frame, so
// gaps in the input are filled with silence to keep later frames in place.
type aacEncoder struct {
	info    media.AudioInfo
	proc    *ffmpegProcess
	started bool
	origin  time.Duration
	fed     int64 // samples written, silence included
	emitted int64
	padded  int64
	closed  bool
}

func NewAAC(info media.AudioInfo, opts Options) (AudioEncoder, error) {
	if info.Channels != 1 && info.Channels != 2 {
		return nil, errors.Wrapf(media.ErrUnsupportedChannels, "%d channels", info.Channels)
	}
	path, err := LookPath(opts.ffmpeg())
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg not found")
	}
	bitrate := opts.Bitrate
	if bitrate <= 0 {
		bitrate = 64000 * info.Channels
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(info.SampleRate),
		"-ac", strconv.Itoa(info.Channels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(bitrate),
		"-f", "adts", "pipe:1",
	}
	proc, err := startFFmpeg(path, "aac", args, splitADTS, 256)
	if err != nil {
		return nil, err
	}
	return &aacEncoder{info: info, proc: proc}, nil
}

func (e *aacEncoder) Codec() mp4.Codec {
	return &mp4.CodecMPEG4Audio{
		Config: mpeg4audio.AudioSpecificConfig{
			Type:         2, // AAC-LC
			SampleRate:   e.info.SampleRate,
			ChannelCount: e.info.Channels,
		},
	}
}

func (e *aacEncoder) Encode(f *media.AudioFrame, ts time.Duration) ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if !e.started {
		e.started = true
		e.origin = ts
	}
	data, err := ToS16(f)
	if err != nil {
		return nil, err
	}
	packets := e.collect(e.proc.ready())

	if gap := e.gap(ts); gap > 0 {
		silence := make([]byte, gap*int64(e.frameBytes()))
		if packets, err = e.feed(packets, silence); err != nil {
			return packets, err
		}
		e.padded += gap
		e.proc.logger.Debug("Filled audio gap with silence", "samples", gap, "total", e.padded)
	}
	return e.feed(packets, data)
}

func (e *aacEncoder) frameBytes() int { return e.info.Channels * 2 }

// gap returns the silent samples needed before a frame at ts. Jitter up to
// one AAC frame is absorbed by the sample clock.
func (e *aacEncoder) gap(ts time.Duration) int64 {
	expected := e.origin + e.info.SamplesDuration(int(e.fed))
	ahead := ts - expected
	if ahead <= e.info.SamplesDuration(aacSamplesPerFrame) {
		return 0
	}
	return int64(ahead) * int64(e.info.SampleRate) / int64(time.Second)
}

func (e *aacEncoder) feed(packets []Packet, data []byte) ([]Packet, error) {
	chunk := aacSamplesPerFrame * e.frameBytes()
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if err := e.proc.write(data[off:end]); err != nil {
			return packets, err
		}
		e.fed += int64((end - off) / e.frameBytes())
		packets = append(packets, e.collect(e.proc.ready())...)
	}
	return packets, nil
}

func (e *aacEncoder) collect(frames [][]byte) []Packet {
	out := make([]Packet, 0, len(frames))
	for _, adts := range frames {
		pts := e.origin + e.info.SamplesDuration(int(e.emitted))
		e.emitted += aacSamplesPerFrame
		out = append(out, Packet{
			Data:     stripADTSHeader(adts),
			PTS:      pts,
			Duration: e.info.SamplesDuration(aacSamplesPerFrame),
			KeyFrame: true,
		})
	}
	return out
}

func (e *aacEncoder) Flush() ([]Packet, error) {
	if e.closed {
		return nil, nil
	}
	e.closed = true
	frames, err := e.proc.finish(probeTimeout)
	return e.collect(frames), err
}

func (e *aacEncoder) Close() error {
	e.closed = true
	e.proc.kill()
	return nil
}
