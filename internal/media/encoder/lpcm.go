package encoder

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

// lpcmEncoder stores interleaved signed 16-bit little-endian samples.
type lpcmEncoder struct {
	info   media.AudioInfo
	closed bool
}

func NewLPCM(info media.AudioInfo, _ Options) (AudioEncoder, error) {
	if info.Channels < 1 || info.SampleRate <= 0 {
		return nil, errors.Errorf("invalid audio layout %d Hz, %d channels", info.SampleRate, info.Channels)
	}
	return &lpcmEncoder{info: info}, nil
}

func (e *lpcmEncoder) Codec() mp4.Codec {
	return &mp4.CodecLPCM{
		LittleEndian: true,
		BitDepth:     16,
		SampleRate:   e.info.SampleRate,
		ChannelCount: e.info.Channels,
	}
}

func (e *lpcmEncoder) Encode(f *media.AudioFrame, ts time.Duration) ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if f.Samples == 0 {
		return nil, nil
	}
	data, err := ToS16(f)
	if err != nil {
		return nil, err
	}
	return []Packet{{Data: data, PTS: ts, Duration: f.Duration(), KeyFrame: true}}, nil
}

func (e *lpcmEncoder) Flush() ([]Packet, error) {
	e.closed = true
	return nil, nil
}

func (e *lpcmEncoder) Close() error {
	e.closed = true
	return nil
}

// ToS16 returns the frame as interleaved s16le, converting float samples.
func ToS16(f *media.AudioFrame) ([]byte, error) {
	packed := f.Interleaved()
	switch f.Format.Packed() {
	case media.SampleFormatS16:
		return packed, nil
	case media.SampleFormatF32:
		out := make([]byte, len(packed)/2)
		for i := 0; i+4 <= len(packed); i += 4 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(packed[i:]))
			binary.LittleEndian.PutUint16(out[i/2:], uint16(floatToS16(v)))
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported sample format %s", f.Format)
}

func floatToS16(v float32) int16 {
	switch {
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16 + 1
	}
	return int16(v * math.MaxInt16)
}
