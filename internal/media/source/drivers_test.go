package source

import (
	"context"
	"testing"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/control"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticVideo(t *testing.T) {
	_, err := newSyntheticVideo(media.NewVideoInfo(media.PixelFormatYUYV422, 64, 32, 30), 0, nil)
	assert.Error(t, err, "format the generator cannot draw")

	drv, err := newSyntheticVideo(media.NewVideoInfo(media.PixelFormatBGRA, 64, 32, 100), 2, nil)
	require.NoError(t, err)
	defer drv.Close()

	select {
	case <-drv.Frames():
		t.Fatal("suspended driver produced a frame")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, drv.Resume())
	select {
	case c := <-drv.Frames():
		assert.Equal(t, 64, c.Frame.Width)
		assert.Len(t, c.Frame.Planes[0], 64*32*4)
		assert.Equal(t, byte(255), c.Frame.Planes[0][3])
		assert.IsType(t, clock.Instant{}, c.Reading)
	case <-time.After(time.Second):
		t.Fatal("no frame after resume")
	}
}

func TestSyntheticVideoStampsHostTime(t *testing.T) {
	var now clock.HostNanos = 5000
	host := func() clock.HostNanos { return now }
	opener := DefaultOpener{Depth: 2, HostClock: host}

	drv, err := opener.OpenVideo(context.Background(), devices.Target{Driver: devices.DriverSynthetic, Kind: devices.KindScreen}, media.NewVideoInfo(media.PixelFormatBGRA, 32, 16, 100))
	require.NoError(t, err)
	defer drv.Close()
	require.NoError(t, drv.Resume())

	select {
	case c := <-drv.Frames():
		assert.Equal(t, clock.HostNanos(5000), c.Reading)
	case <-time.After(time.Second):
		t.Fatal("no frame after resume")
	}
}

func TestSyntheticAudioCountsSamples(t *testing.T) {
	info, err := media.NewAudioInfo(media.SampleFormatS16, 48000, 2)
	require.NoError(t, err)
	info.BufferSize = 480
	drv, err := newSyntheticAudio(info, 440, 4)
	require.NoError(t, err)
	defer drv.Close()
	require.NoError(t, drv.Resume())

	var readings []clock.Samples
	for len(readings) < 3 {
		select {
		case c := <-drv.Frames():
			assert.Equal(t, 480, c.Frame.Samples)
			readings = append(readings, c.Reading.(clock.Samples))
		case <-time.After(time.Second):
			t.Fatal("no audio frame")
		}
	}
	assert.Equal(t, int64(0), readings[0].Count)
	assert.Equal(t, int64(480), readings[1].Count)
	assert.Equal(t, 10*time.Millisecond, readings[2].Since(readings[1]))

	_, err = newSyntheticAudio(media.AudioInfo{SampleFormat: media.SampleFormatS16Planar, SampleRate: 48000, Channels: 2}, 440, 1)
	assert.Error(t, err)
}

func TestSyntheticSourceEndToEnd(t *testing.T) {
	target := devices.Target{ID: "synthetic:tone", Kind: devices.KindMicrophone, Driver: devices.DriverSynthetic}
	src, err := NewMicrophone(context.Background(), target, testFallback(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 48000, src.Info().SampleRate)
	assert.Equal(t, 2, src.Config().Channels)

	session := clock.NewSession(nil)
	ctl := control.NewBroadcaster(control.Pause)
	out := NewQueue[*media.AudioFrame](64)
	ready := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(context.Background(), RunParams[*media.AudioFrame]{Clock: session.RealTime(), Ready: ready, Control: ctl, Output: out})
	}()
	require.NoError(t, <-ready)

	session.Start()
	ctl.Send(control.Play)
	var last media.Timestamp = -1
	for i := 0; i < 3; i++ {
		select {
		case f := <-out.C():
			assert.Greater(t, f.Timestamp, last)
			last = f.Timestamp
		case <-time.After(2 * time.Second):
			t.Fatal("no audio from synthetic microphone")
		}
	}

	ctl.Send(control.Shutdown)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}

func TestVideoArgs(t *testing.T) {
	info := media.NewVideoInfo(media.PixelFormatBGRA, 1280, 720, 30)

	tests := []struct {
		name   string
		target devices.Target
		input  []string
	}{
		{
			name:   "x11 screen",
			target: devices.Target{Kind: devices.KindScreen, Driver: devices.DriverX11Grab, Input: ":1"},
			input:  []string{"-f", "x11grab", "-framerate", "30", "-draw_mouse", "1", "-i", ":1"},
		},
		{
			name:   "v4l2 camera",
			target: devices.Target{Kind: devices.KindCamera, Driver: devices.DriverV4L2, Input: "/dev/video0"},
			input:  []string{"-f", "v4l2", "-framerate", "30", "-video_size", "1280x720", "-i", "/dev/video0"},
		},
		{
			name:   "avfoundation screen",
			target: devices.Target{Kind: devices.KindScreen, Driver: devices.DriverAVFoundation, Input: "1:none"},
			input:  []string{"-f", "avfoundation", "-framerate", "30", "-capture_cursor", "1", "-i", "1:none"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := videoArgs(tt.target, info)
			require.NoError(t, err)
			assert.Equal(t, commonArgs, args[:len(commonArgs)])
			assert.Equal(t, tt.input, args[len(commonArgs):len(commonArgs)+len(tt.input)])
			assert.Equal(t, []string{"-vf", "scale=1280:720", "-r", "30", "-pix_fmt", "bgra", "-f", "rawvideo", "pipe:1"}, args[len(commonArgs)+len(tt.input):])
		})
	}

	_, err := videoArgs(devices.Target{Driver: devices.DriverPulse}, info)
	assert.Error(t, err)
}

func TestAudioArgs(t *testing.T) {
	info, err := media.NewAudioInfo(media.SampleFormatF32, 44100, 1)
	require.NoError(t, err)

	args, err := audioArgs(devices.Target{Kind: devices.KindSystemAudio, Driver: devices.DriverPulse, Input: "out.monitor"}, info)
	require.NoError(t, err)
	assert.Equal(t, []string{"-f", "pulse", "-i", "out.monitor", "-ar", "44100", "-ac", "1", "-f", "f32le", "pipe:1"}, args[len(commonArgs):])

	_, err = audioArgs(devices.Target{Driver: devices.DriverX11Grab}, info)
	assert.Error(t, err)
}
