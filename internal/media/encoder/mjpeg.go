package encoder

import (
	"bytes"
	"image"
	"image/jpeg"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/convert"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

// mjpegEncoder compresses every frame as an independent JPEG.
type mjpegEncoder struct {
	info    media.VideoInfo
	conv    *convert.FormatConverter
	quality int
	closed  bool
}

func NewMJPEG(info media.VideoInfo, opts Options) (VideoEncoder, error) {
	info = info.EnsureEven()
	if info.Width <= 0 || info.Height <= 0 {
		return nil, errors.Errorf("invalid size %dx%d", info.Width, info.Height)
	}
	q := opts.Quality
	if q <= 0 || q > 100 {
		q = 85
	}
	return &mjpegEncoder{info: info, conv: convert.NewFormatConverter(info), quality: q}, nil
}

func (e *mjpegEncoder) Codec() mp4.Codec {
	return &mp4.CodecMJPEG{Width: e.info.Width, Height: e.info.Height}
}

func (e *mjpegEncoder) Encode(f *media.VideoFrame, ts time.Duration) ([]Packet, error) {
	if e.closed {
		return nil, ErrClosed
	}
	yuv, err := e.conv.Convert(f)
	if err != nil {
		return nil, err
	}
	img := &image.YCbCr{
		Y:              yuv.Planes[0],
		Cb:             yuv.Planes[1],
		Cr:             yuv.Planes[2],
		YStride:        yuv.Strides[0],
		CStride:        yuv.Strides[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, yuv.Width, yuv.Height),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}
	return []Packet{{Data: buf.Bytes(), PTS: ts, Duration: e.info.FrameInterval(), KeyFrame: true}}, nil
}

func (e *mjpegEncoder) Flush() ([]Packet, error) {
	e.closed = true
	return nil, nil
}

func (e *mjpegEncoder) Close() error {
	e.closed = true
	return nil
}
