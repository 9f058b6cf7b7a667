package source

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/pkg/errors"
)

var barColours = [][3]byte{
	{235, 235, 235}, {235, 235, 16}, {16, 235, 235}, {16, 235, 16},
	{235, 16, 235}, {235, 16, 16}, {16, 16, 235}, {16, 16, 16},
}

// syntheticVideo produces scrolling colour bars at a fixed rate. With a host
// clock it stamps frames the way a capture API with a device clock does.
type syntheticVideo struct {
	*pump[*media.VideoFrame]
	info  media.VideoInfo
	now   func() time.Time
	host  clock.HostClock
	frame int
}

func newSyntheticVideo(info media.VideoInfo, depth int, host clock.HostClock) (*syntheticVideo, error) {
	switch info.PixelFormat {
	case media.PixelFormatBGRA, media.PixelFormatRGBA, media.PixelFormatRGB24, media.PixelFormatI420:
	default:
		return nil, errors.Errorf("synthetic video cannot produce %s", info.PixelFormat)
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS() <= 0 {
		return nil, errors.Errorf("invalid synthetic video mode %dx%d@%d", info.Width, info.Height, info.FPS())
	}
	d := &syntheticVideo{pump: newPump[*media.VideoFrame](depth), info: info, now: time.Now, host: host}
	d.run(d.produce)
	return d, nil
}

func (d *syntheticVideo) Info() media.VideoInfo { return d.info }
func (d *syntheticVideo) Suspend() error         { d.suspended.Store(true); return nil }
func (d *syntheticVideo) Resume() error          { d.suspended.Store(false); return nil }

func (d *syntheticVideo) Close() error {
	d.shutdown()
	return nil
}

func (d *syntheticVideo) produce() {
	ticker := time.NewTicker(d.info.FrameInterval())
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
		if d.suspended.Load() {
			continue
		}
		var reading clock.Reading = clock.Instant(d.now())
		if d.host != nil {
			reading = d.host()
		}
		if !d.emit(Captured[*media.VideoFrame]{Frame: d.render(), Reading: reading}) {
			return
		}
		d.frame++
	}
}

func (d *syntheticVideo) render() *media.VideoFrame {
	w, h := d.info.Width, d.info.Height
	f := media.NewVideoFrame(d.info.PixelFormat, w, h)
	shift := d.frame * 4
	colourAt := func(x int) [3]byte {
		return barColours[((x+shift)*len(barColours)/w)%len(barColours)]
	}

	switch d.info.PixelFormat {
	case media.PixelFormatBGRA, media.PixelFormatRGBA, media.PixelFormatRGB24:
		bpp := 4
		if d.info.PixelFormat == media.PixelFormatRGB24 {
			bpp = 3
		}
		row := make([]byte, f.Strides[0])
		for x := 0; x < w; x++ {
			c := colourAt(x)
			px := row[x*bpp:]
			if d.info.PixelFormat == media.PixelFormatBGRA {
				px[0], px[1], px[2] = c[2], c[1], c[0]
			} else {
				px[0], px[1], px[2] = c[0], c[1], c[2]
			}
			if bpp == 4 {
				px[3] = 255
			}
		}
		for y := 0; y < h; y++ {
			copy(f.Planes[0][y*f.Strides[0]:], row)
		}
	case media.PixelFormatI420:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				f.Planes[0][y*f.Strides[0]+x] = colourAt(x)[1]
			}
		}
		for i := range f.Planes[1] {
			f.Planes[1][i] = 128
			f.Planes[2][i] = 128
		}
	}
	return f
}

// syntheticAudio produces a sine tone in real time. Its readings count
// samples, so the timeline follows the generated stream rather than
// scheduling jitter.
type syntheticAudio struct {
	*pump[*media.AudioFrame]
	info      media.AudioInfo
	frequency float64
	samples   int64
}

func newSyntheticAudio(info media.AudioInfo, frequency float64, depth int) (*syntheticAudio, error) {
	switch info.SampleFormat {
	case media.SampleFormatS16, media.SampleFormatF32:
	default:
		return nil, errors.Errorf("synthetic audio cannot produce %s", info.SampleFormat)
	}
	if info.BufferSize <= 0 {
		info.BufferSize = 1024
	}
	d := &syntheticAudio{pump: newPump[*media.AudioFrame](depth), info: info, frequency: frequency}
	d.run(d.produce)
	return d, nil
}

func (d *syntheticAudio) Info() media.AudioInfo { return d.info }
func (d *syntheticAudio) Suspend() error         { d.suspended.Store(true); return nil }
func (d *syntheticAudio) Resume() error          { d.suspended.Store(false); return nil }

func (d *syntheticAudio) Close() error {
	d.shutdown()
	return nil
}

func (d *syntheticAudio) produce() {
	ticker := time.NewTicker(d.info.SamplesDuration(d.info.BufferSize))
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
		if d.suspended.Load() {
			continue
		}
		reading := clock.Samples{Count: d.samples, Rate: d.info.SampleRate}
		f := d.render()
		if !d.emit(Captured[*media.AudioFrame]{Frame: f, Reading: reading}) {
			return
		}
	}
}

func (d *syntheticAudio) render() *media.AudioFrame {
	n, ch := d.info.BufferSize, d.info.Channels
	bps := d.info.SampleSize()
	buf := make([]byte, n*ch*bps)
	for i := 0; i < n; i++ {
		t := float64(d.samples+int64(i)) / float64(d.info.SampleRate)
		v := 0.25 * math.Sin(2*math.Pi*d.frequency*t)
		for c := 0; c < ch; c++ {
			off := (i*ch + c) * bps
			if d.info.SampleFormat == media.SampleFormatF32 {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint16(buf[off:], uint16(int16(v*math.MaxInt16)))
			}
		}
	}
	d.samples += int64(n)
	return d.info.WrapFrame(buf, ch, 0)
}
