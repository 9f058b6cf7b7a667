// Package convert reformats and rescales video frames off the capture
// goroutines on a bounded worker pool.
package convert

import (
	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/pkg/errors"
)

// Converter turns one frame into another. The input frame is consumed; the
// result is a new frame owned by the caller.
type Converter interface {
	Convert(f *media.VideoFrame) (*media.VideoFrame, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(f *media.VideoFrame) (*media.VideoFrame, error)

func (fn ConverterFunc) Convert(f *media.VideoFrame) (*media.VideoFrame, error) { return fn(f) }

// FormatConverter produces I420 frames of a fixed size, the layout every
// encoder backend consumes. It holds no state and is safe to share between
// workers.
type FormatConverter struct {
	Width  int
	Height int
}

// NewFormatConverter returns a converter to I420 at the size described by info.
func NewFormatConverter(info media.VideoInfo) *FormatConverter {
	info = info.EnsureEven()
	return &FormatConverter{Width: info.Width, Height: info.Height}
}

func (c *FormatConverter) Convert(f *media.VideoFrame) (*media.VideoFrame, error) {
	if f.Format.Encoded() {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "cannot convert encoded %s frame", f.Format)
	}
	out, err := ToI420(f)
	if err != nil {
		return nil, err
	}
	if c.Width > 0 && c.Height > 0 && (out.Width != c.Width || out.Height != c.Height) {
		out = ScaleI420(out, c.Width, c.Height)
	}
	return out, nil
}

// NeedsConversion reports whether frames described by src must pass through
// a converter to match dst.
func NeedsConversion(src, dst media.VideoInfo) bool {
	if src.PixelFormat.Encoded() {
		return false
	}
	return src.PixelFormat != dst.PixelFormat || src.Width != dst.Width || src.Height != dst.Height
}

// Scaler resizes I420 frames and rejects every other format.
type Scaler struct {
	Width  int
	Height int
}

func (s Scaler) Convert(f *media.VideoFrame) (*media.VideoFrame, error) {
	if f.Format != media.PixelFormatI420 {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "scaler input %s", f.Format)
	}
	return ScaleI420(f, s.Width, s.Height), nil
}
