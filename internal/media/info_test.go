package media

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAudioInfoRejectsSurround(t *testing.T) {
	for _, ch := range []int{0, 3, 6, 8} {
		_, err := NewAudioInfo(SampleFormatS16, 48000, ch)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedChannels), "channels=%d", ch)
	}

	info, err := NewAudioInfo(SampleFormatF32, 44100, 2)
	require.NoError(t, err)
	assert.Equal(t, 1024, info.BufferSize)
	assert.Equal(t, MicrosecondTimeBase, info.TimeBase)
}

func TestVideoInfoScaled(t *testing.T) {
	tests := []struct {
		name         string
		w, h, maxW   int
		wantW, wantH int
	}{
		{"narrower stays", 1280, 720, 1920, 1280, 720},
		{"downscale keeps aspect", 2560, 1440, 1920, 1920, 1080},
		{"odd target rounds to even", 1920, 1080, 1001, 1000, 562},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewVideoInfo(PixelFormatBGRA, tt.w, tt.h, 60).Scaled(tt.maxW, 30)
			assert.Equal(t, tt.wantW, got.Width)
			assert.Equal(t, tt.wantH, got.Height)
			assert.Equal(t, 30, got.FPS())
		})
	}
}

func TestVideoInfoEnsureEven(t *testing.T) {
	got := NewVideoInfo(PixelFormatI420, 1281, 721, 30).EnsureEven()
	assert.Equal(t, 1280, got.Width)
	assert.Equal(t, 720, got.Height)
	assert.Equal(t, time.Second/30, got.FrameInterval())
}

func TestWrapFrameDropsExtraChannels(t *testing.T) {
	info, err := NewAudioInfo(SampleFormatS16, 48000, 1)
	require.NoError(t, err)

	// two stereo samples: L=1 R=2, L=3 R=4
	packed := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	f := info.WrapFrame(packed, 2, Timestamp(time.Second))

	assert.Equal(t, 2, f.Samples)
	assert.Equal(t, 1, f.Channels)
	assert.Equal(t, []byte{1, 0, 3, 0}, f.Planes[0])
	assert.Equal(t, Timestamp(time.Second), f.Timestamp)
}

func TestWrapVideoFrame(t *testing.T) {
	buf := make([]byte, PixelFormatI420.FrameSize(4, 2))
	require.Len(t, buf, 8+2+2)

	f, err := WrapVideoFrame(PixelFormatI420, 4, 2, buf)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 2}, f.Strides)
	assert.Len(t, f.Planes[0], 8)

	_, err = WrapVideoFrame(PixelFormatBGRA, 4, 2, buf)
	assert.Error(t, err)
}

func TestParsePixelFormat(t *testing.T) {
	f, err := ParsePixelFormat("yuv420p")
	require.NoError(t, err)
	assert.Equal(t, PixelFormatI420, f)

	f, err = ParsePixelFormat("bgra")
	require.NoError(t, err)
	assert.Equal(t, PixelFormatBGRA, f)

	_, err = ParsePixelFormat("p010")
	assert.Error(t, err)
}

func TestAudioFrameInterleaved(t *testing.T) {
	f := &AudioFrame{
		Format:     SampleFormatS16Planar,
		SampleRate: 48000,
		Channels:   2,
		Samples:    2,
		Planes:     [][]byte{{1, 0, 3, 0}, {2, 0, 4, 0}},
	}
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0, 4, 0}, f.Interleaved())
	assert.Equal(t, time.Duration(2)*time.Second/48000, f.Duration())
}
