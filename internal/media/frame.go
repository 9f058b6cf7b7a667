// Package media holds the frame and stream description types shared by every
// stage of the capture pipeline.
package media

import (
	"strings"

	"github.com/pkg/errors"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatBGRA                // packed BGRA, 4 bytes per pixel
	PixelFormatRGBA                // packed RGBA, 4 bytes per pixel
	PixelFormatRGB24               // packed RGB, 3 bytes per pixel
	PixelFormatNV12                // Y plane + interleaved UV plane, 4:2:0
	PixelFormatI420                // Y + U + V planes, 4:2:0
	PixelFormatYUYV422             // packed Y0 U Y1 V, 4:2:2
	PixelFormatH264                // encoded Annex-B access unit
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatBGRA:    "BGRA",
	PixelFormatRGBA:    "RGBA",
	PixelFormatRGB24:   "RGB24",
	PixelFormatNV12:    "NV12",
	PixelFormatI420:    "I420",
	PixelFormatYUYV422: "YUYV422",
	PixelFormatH264:    "H264",
}

func (p PixelFormat) String() string {
	if name, ok := pixelFormatNames[p]; ok {
		return name
	}
	return "Unknown"
}

// FFmpegName returns the pix_fmt name ffmpeg uses for the format.
func (p PixelFormat) FFmpegName() string {
	switch p {
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatI420:
		return "yuv420p"
	case PixelFormatYUYV422:
		return "yuyv422"
	default:
		return ""
	}
}

// ParsePixelFormat accepts both the display names and the ffmpeg pix_fmt names.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, name := range pixelFormatNames {
		if strings.EqualFold(s, name) || (f.FFmpegName() != "" && strings.EqualFold(s, f.FFmpegName())) {
			return f, nil
		}
	}
	return PixelFormatUnknown, errors.Errorf("unknown pixel format %q", s)
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3
	case PixelFormatNV12:
		return 2
	case PixelFormatBGRA, PixelFormatRGBA, PixelFormatRGB24, PixelFormatYUYV422, PixelFormatH264:
		return 1
	default:
		return 0
	}
}

// Encoded reports whether frames of this format carry a compressed bitstream.
func (p PixelFormat) Encoded() bool { return p == PixelFormatH264 }

// planeLayout returns stride and row count for plane i of a w x h frame.
func (p PixelFormat) planeLayout(i, w, h int) (stride, rows int) {
	cw, ch := (w+1)/2, (h+1)/2
	switch p {
	case PixelFormatBGRA, PixelFormatRGBA:
		return w * 4, h
	case PixelFormatRGB24:
		return w * 3, h
	case PixelFormatYUYV422:
		return cw * 4, h
	case PixelFormatNV12:
		if i == 0 {
			return w, h
		}
		return cw * 2, ch
	case PixelFormatI420:
		if i == 0 {
			return w, h
		}
		return cw, ch
	}
	return 0, 0
}

// FrameSize returns the number of bytes a tightly packed w x h frame occupies.
func (p PixelFormat) FrameSize(w, h int) int {
	total := 0
	for i := 0; i < p.PlaneCount(); i++ {
		stride, rows := p.planeLayout(i, w, h)
		total += stride * rows
	}
	return total
}

// VideoFrame is a raw or encoded picture. A frame has exactly one owner at a
// time; passing it to the next pipeline stage transfers ownership.
type VideoFrame struct {
	Format    PixelFormat
	Width     int
	Height    int
	Planes    [][]byte
	Strides   []int
	Timestamp Timestamp
	// KeyFrame is only meaningful for encoded formats.
	KeyFrame bool
	// Sequence is assigned by the capture source and lets consumers of the
	// conversion pool discard results that finish out of order.
	Sequence uint64
}

// NewVideoFrame allocates a tightly packed frame.
func NewVideoFrame(format PixelFormat, width, height int) *VideoFrame {
	n := format.PlaneCount()
	f := &VideoFrame{
		Format:  format,
		Width:   width,
		Height:  height,
		Planes:  make([][]byte, n),
		Strides: make([]int, n),
	}
	for i := 0; i < n; i++ {
		stride, rows := format.planeLayout(i, width, height)
		f.Strides[i] = stride
		f.Planes[i] = make([]byte, stride*rows)
	}
	return f
}

// WrapVideoFrame splits one contiguous tightly packed buffer into planes
// without copying. It returns an error if buf is too short.
func WrapVideoFrame(format PixelFormat, width, height int, buf []byte) (*VideoFrame, error) {
	if need := format.FrameSize(width, height); len(buf) < need {
		return nil, errors.Errorf("short %s buffer: have %d bytes, need %d", format, len(buf), need)
	}
	n := format.PlaneCount()
	f := &VideoFrame{
		Format:  format,
		Width:   width,
		Height:  height,
		Planes:  make([][]byte, n),
		Strides: make([]int, n),
	}
	off := 0
	for i := 0; i < n; i++ {
		stride, rows := format.planeLayout(i, width, height)
		f.Strides[i] = stride
		f.Planes[i] = buf[off : off+stride*rows : off+stride*rows]
		off += stride * rows
	}
	return f, nil
}

// Size returns the total number of bytes held by the frame's planes.
func (f *VideoFrame) Size() int {
	n := 0
	for _, p := range f.Planes {
		n += len(p)
	}
	return n
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	c := *f
	c.Planes = make([][]byte, len(f.Planes))
	c.Strides = append([]int(nil), f.Strides...)
	for i, p := range f.Planes {
		c.Planes[i] = append([]byte(nil), p...)
	}
	return &c
}

// SampleFormat represents audio sample formats.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatS16                  // signed 16-bit, interleaved
	SampleFormatS16Planar            // signed 16-bit, one plane per channel
	SampleFormatF32                  // 32-bit float, interleaved
	SampleFormatF32Planar            // 32-bit float, one plane per channel
)

func (s SampleFormat) String() string {
	switch s {
	case SampleFormatS16:
		return "s16"
	case SampleFormatS16Planar:
		return "s16p"
	case SampleFormatF32:
		return "f32"
	case SampleFormatF32Planar:
		return "f32p"
	default:
		return "unknown"
	}
}

// FFmpegName returns the raw demuxer name ffmpeg uses for little-endian samples.
func (s SampleFormat) FFmpegName() string {
	switch s {
	case SampleFormatS16, SampleFormatS16Planar:
		return "s16le"
	case SampleFormatF32, SampleFormatF32Planar:
		return "f32le"
	default:
		return ""
	}
}

// BytesPerSample returns the size of one sample of one channel.
func (s SampleFormat) BytesPerSample() int {
	switch s {
	case SampleFormatS16, SampleFormatS16Planar:
		return 2
	case SampleFormatF32, SampleFormatF32Planar:
		return 4
	default:
		return 0
	}
}

// Planar reports whether each channel has its own plane.
func (s SampleFormat) Planar() bool {
	return s == SampleFormatS16Planar || s == SampleFormatF32Planar
}

// Packed returns the interleaved variant of s.
func (s SampleFormat) Packed() SampleFormat {
	switch s {
	case SampleFormatS16Planar:
		return SampleFormatS16
	case SampleFormatF32Planar:
		return SampleFormatF32
	default:
		return s
	}
}

// AudioFrame is a block of PCM samples.
type AudioFrame struct {
	Format     SampleFormat
	SampleRate int
	Channels   int
	// Planes holds one interleaved plane, or one plane per channel for planar formats.
	Planes    [][]byte
	Samples   int // per channel
	Timestamp Timestamp
}

// Interleaved returns the samples as one interleaved buffer, copying only
// when the frame is planar.
func (f *AudioFrame) Interleaved() []byte {
	if !f.Format.Planar() {
		if len(f.Planes) == 0 {
			return nil
		}
		return f.Planes[0]
	}
	bps := f.Format.BytesPerSample()
	out := make([]byte, f.Samples*f.Channels*bps)
	for s := 0; s < f.Samples; s++ {
		for c := 0; c < f.Channels && c < len(f.Planes); c++ {
			copy(out[(s*f.Channels+c)*bps:], f.Planes[c][s*bps:(s+1)*bps])
		}
	}
	return out
}
