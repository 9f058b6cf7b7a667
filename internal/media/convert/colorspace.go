package convert

import (
	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/pkg/errors"
)

// ErrUnsupportedFormat is returned for source formats the converter cannot read.
var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// BT.601 limited range, 8-bit fixed point.
func rgbToY(r, g, b int) byte { return byte(((66*r + 129*g + 25*b + 128) >> 8) + 16) }
func rgbToU(r, g, b int) byte { return byte(((-38*r - 74*g + 112*b + 128) >> 8) + 128) }
func rgbToV(r, g, b int) byte { return byte(((112*r - 94*g - 18*b + 128) >> 8) + 128) }

// ToI420 converts any supported raw frame to I420 at the same size. Odd
// dimensions are cropped by one pixel. I420 input is returned as is.
func ToI420(f *media.VideoFrame) (*media.VideoFrame, error) {
	if f.Format == media.PixelFormatI420 {
		return f, nil
	}
	w, h := f.Width&^1, f.Height&^1
	if w == 0 || h == 0 {
		return nil, errors.Errorf("frame too small: %dx%d", f.Width, f.Height)
	}
	out := media.NewVideoFrame(media.PixelFormatI420, w, h)
	out.Timestamp = f.Timestamp
	out.Sequence = f.Sequence

	switch f.Format {
	case media.PixelFormatBGRA:
		packedRGBToI420(f, out, 4, 2, 1, 0)
	case media.PixelFormatRGBA:
		packedRGBToI420(f, out, 4, 0, 1, 2)
	case media.PixelFormatRGB24:
		packedRGBToI420(f, out, 3, 0, 1, 2)
	case media.PixelFormatNV12:
		nv12ToI420(f, out)
	case media.PixelFormatYUYV422:
		yuyvToI420(f, out)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s to I420", f.Format)
	}
	return out, nil
}

func packedRGBToI420(src, dst *media.VideoFrame, bpp, ri, gi, bi int) {
	in, stride := src.Planes[0], src.Strides[0]
	yp, up, vp := dst.Planes[0], dst.Planes[1], dst.Planes[2]
	ys, cs := dst.Strides[0], dst.Strides[1]

	for y := 0; y < dst.Height; y += 2 {
		for x := 0; x < dst.Width; x += 2 {
			var rs, gs, bs int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					p := in[(y+dy)*stride+(x+dx)*bpp:]
					r, g, b := int(p[ri]), int(p[gi]), int(p[bi])
					yp[(y+dy)*ys+x+dx] = rgbToY(r, g, b)
					rs += r
					gs += g
					bs += b
				}
			}
			rs, gs, bs = rs/4, gs/4, bs/4
			up[(y/2)*cs+x/2] = rgbToU(rs, gs, bs)
			vp[(y/2)*cs+x/2] = rgbToV(rs, gs, bs)
		}
	}
}

func nv12ToI420(src, dst *media.VideoFrame) {
	for y := 0; y < dst.Height; y++ {
		copy(dst.Planes[0][y*dst.Strides[0]:y*dst.Strides[0]+dst.Width], src.Planes[0][y*src.Strides[0]:])
	}
	uv, uvs := src.Planes[1], src.Strides[1]
	cs := dst.Strides[1]
	for y := 0; y < dst.Height/2; y++ {
		for x := 0; x < dst.Width/2; x++ {
			dst.Planes[1][y*cs+x] = uv[y*uvs+2*x]
			dst.Planes[2][y*cs+x] = uv[y*uvs+2*x+1]
		}
	}
}

func yuyvToI420(src, dst *media.VideoFrame) {
	in, stride := src.Planes[0], src.Strides[0]
	ys, cs := dst.Strides[0], dst.Strides[1]
	for y := 0; y < dst.Height; y++ {
		row := in[y*stride:]
		for x := 0; x < dst.Width; x += 2 {
			p := row[x*2:]
			dst.Planes[0][y*ys+x] = p[0]
			dst.Planes[0][y*ys+x+1] = p[2]
			if y%2 == 0 {
				// average chroma of this row and the next
				next := in[(y+1)*stride+x*2:]
				dst.Planes[1][(y/2)*cs+x/2] = byte((int(p[1]) + int(next[1]) + 1) / 2)
				dst.Planes[2][(y/2)*cs+x/2] = byte((int(p[3]) + int(next[3]) + 1) / 2)
			}
		}
	}
}
