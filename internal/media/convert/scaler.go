package convert

import "github.com/babelcloud/gbox-recorder/internal/media"

// ScaleI420 resizes an I420 frame with bilinear interpolation into a newly
// allocated frame. Odd target sizes are rounded down to even and a frame
// already at the target size is returned unchanged.
func ScaleI420(f *media.VideoFrame, width, height int) *media.VideoFrame {
	width &^= 1
	height &^= 1
	if f.Width == width && f.Height == height {
		return f
	}

	out := media.NewVideoFrame(media.PixelFormatI420, width, height)
	out.Timestamp = f.Timestamp
	out.Sequence = f.Sequence

	scalePlane(f.Planes[0], f.Strides[0], f.Width, f.Height, out.Planes[0], out.Strides[0], width, height)
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	for i := 1; i <= 2; i++ {
		scalePlane(f.Planes[i], f.Strides[i], cw, ch, out.Planes[i], out.Strides[i], width/2, height/2)
	}
	return out
}

// scalePlane scales a single plane using 16.16 fixed-point bilinear interpolation.
func scalePlane(src []byte, srcStride, srcW, srcH int, dst []byte, dstStride, dstW, dstH int) {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		syFP := y * yRatio
		y0 := syFP >> 16
		yw := syFP & 0xFFFF
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = y0
		}
		row0 := src[y0*srcStride:]
		row1 := src[y1*srcStride:]
		drow := dst[y*dstStride:]

		for x := 0; x < dstW; x++ {
			sxFP := x * xRatio
			x0 := sxFP >> 16
			xw := sxFP & 0xFFFF
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = x0
			}

			top := (int(row0[x0])*(0x10000-xw) + int(row0[x1])*xw) >> 16
			bottom := (int(row1[x0])*(0x10000-xw) + int(row1[x1])*xw) >> 16
			drow[x] = byte((top*(0x10000-yw) + bottom*yw) >> 16)
		}
	}
}
