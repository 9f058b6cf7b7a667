package encoder

import (
	"os"
	"testing"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := LookPath(""); err != nil {
		t.Skip("ffmpeg not on PATH")
	}
}

func TestX264EncodesEveryFrame(t *testing.T) {
	requireFFmpeg(t)

	info := media.NewVideoInfo(media.PixelFormatI420, 64, 48, 30)
	enc, err := NewVideo(NameX264, info, Options{QueueSize: 64})
	require.NoError(t, err)
	defer enc.Close()

	codec, ok := enc.Codec().(*mp4.CodecH264)
	require.True(t, ok)
	assert.NotEmpty(t, codec.SPS)
	assert.NotEmpty(t, codec.PPS)

	var pkts []Packet
	for i := 0; i < 10; i++ {
		frame := media.NewVideoFrame(media.PixelFormatBGRA, 64, 48)
		for j := range frame.Planes[0] {
			frame.Planes[0][j] = byte(i * 20)
		}
		ts := time.Duration(i) * info.FrameInterval()
		for {
			out, err := enc.Encode(frame, ts)
			pkts = append(pkts, out...)
			if errors.Is(err, ErrBusy) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
			break
		}
	}
	rest, err := enc.Flush()
	require.NoError(t, err)
	pkts = append(pkts, rest...)

	require.Len(t, pkts, 10)
	assert.True(t, pkts[0].KeyFrame)
	for i := 1; i < len(pkts); i++ {
		assert.Greater(t, pkts[i].PTS, pkts[i-1].PTS)
	}
}

func TestAACEncodes(t *testing.T) {
	requireFFmpeg(t)

	info, err := media.NewAudioInfo(media.SampleFormatS16, 48000, 2)
	require.NoError(t, err)
	enc, err := NewAudio(NameAAC, info, Options{})
	require.NoError(t, err)
	defer enc.Close()

	var pkts []Packet
	for i := 0; i < 10; i++ {
		frame := info.WrapFrame(make([]byte, 1024*2*2), 2, 0)
		out, err := enc.Encode(frame, time.Duration(i)*info.SamplesDuration(1024))
		require.NoError(t, err)
		pkts = append(pkts, out...)
	}
	rest, err := enc.Flush()
	require.NoError(t, err)
	pkts = append(pkts, rest...)

	require.GreaterOrEqual(t, len(pkts), 10)
	for i := 1; i < len(pkts); i++ {
		assert.InDelta(t, float64(pkts[i-1].PTS+pkts[i-1].Duration), float64(pkts[i].PTS), float64(time.Microsecond))
		assert.NotEqual(t, byte(0xFF), pkts[i].Data[0], "ADTS header not stripped")
	}
}

func TestAACFillsGapsWithSilence(t *testing.T) {
	info, err := media.NewAudioInfo(media.SampleFormatS16, 48000, 2)
	require.NoError(t, err)
	frameDur := info.SamplesDuration(aacSamplesPerFrame)

	tests := []struct {
		name        string
		second      time.Duration
		wantPackets int
	}{
		{name: "contiguous", second: frameDur, wantPackets: 2},
		{name: "jitter within a frame", second: frameDur + 5*time.Millisecond, wantPackets: 2},
		// 48000 samples of input time, the second frame rounds up to 48 AAC frames
		{name: "one second gap", second: time.Second, wantPackets: 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(fakeFFmpegEnv, "adts")
			enc, err := NewAudio(NameAAC, info, Options{FFmpegPath: os.Args[0]})
			require.NoError(t, err)
			defer enc.Close()

			frame := func() *media.AudioFrame {
				return info.WrapFrame(make([]byte, aacSamplesPerFrame*2*2), 2, 0)
			}
			var pkts []Packet
			for _, ts := range []time.Duration{0, tt.second} {
				out, err := enc.Encode(frame(), ts)
				require.NoError(t, err)
				pkts = append(pkts, out...)
			}
			rest, err := enc.Flush()
			require.NoError(t, err)
			pkts = append(pkts, rest...)

			require.Len(t, pkts, tt.wantPackets)
			for i := 1; i < len(pkts); i++ {
				assert.InDelta(t, float64(pkts[i-1].PTS+pkts[i-1].Duration), float64(pkts[i].PTS), float64(time.Microsecond))
			}
			last := pkts[len(pkts)-1]
			assert.GreaterOrEqual(t, last.PTS+last.Duration, tt.second)
			assert.InDelta(t, float64(tt.second), float64(last.PTS), float64(frameDur))
		})
	}
}
