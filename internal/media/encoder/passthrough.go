package encoder

import (
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

// passthrough forwards H.264 access units from devices that encode in
// hardware.
type passthrough struct {
	codec  *mp4.CodecH264
	closed bool
}

// NewPassthrough needs the stream's SPS and PPS in info.
func NewPassthrough(info media.VideoInfo, _ Options) (VideoEncoder, error) {
	if info.PixelFormat != media.PixelFormatH264 {
		return nil, errors.Errorf("pass-through needs an H264 source, got %s", info.PixelFormat)
	}
	if len(info.SPS) == 0 || len(info.PPS) == 0 {
		return nil, errors.New("pass-through needs SPS and PPS")
	}
	return &passthrough{codec: &mp4.CodecH264{SPS: info.SPS, PPS: info.PPS}}, nil
}

func (p *passthrough) Codec() mp4.Codec { return p.codec }

func (p *passthrough) Encode(f *media.VideoFrame, ts time.Duration) ([]Packet, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if f.Format != media.PixelFormatH264 {
		return nil, errors.Errorf("pass-through got %s frame", f.Format)
	}
	var au []byte
	if len(f.Planes) == 1 {
		au = f.Planes[0]
	} else {
		for _, p := range f.Planes {
			au = append(au, p...)
		}
	}
	if len(au) == 0 {
		return nil, nil
	}
	return []Packet{{Data: au, PTS: ts, KeyFrame: f.KeyFrame || h264.IsKeyFrame(au)}}, nil
}

func (p *passthrough) Flush() ([]Packet, error) {
	p.closed = true
	return nil, nil
}

func (p *passthrough) Close() error {
	p.closed = true
	return nil
}
