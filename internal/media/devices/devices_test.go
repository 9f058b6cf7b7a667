package devices

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSystemProfiler(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		w, h   int
		hasErr bool
	}{
		{
			name: "built-in retina wins",
			input: `Graphics/Displays:

    Apple M4 Max:

      Chipset Model: Apple M4 Max
      Type: GPU
      Displays:
        Color LCD:
          Display Type: Built-in Liquid Retina XDR Display
          Resolution: 3456 x 2234 Retina
          Mirror: Off
        Mi 27 NU:
          Resolution: 3840 x 2160 (2160p/4K UHD 1 - Ultra High Definition)
          Main Display: Yes`,
			w: 3456, h: 2234,
		},
		{
			name: "main display without built-in",
			input: `Graphics/Displays:
      Displays:
        Color LCD:
          Resolution: 2560 x 1440
        External Display:
          Resolution: 3840 x 2160 (2160p/4K UHD 1 - Ultra High Definition)
          Main Display: Yes`,
			w: 3840, h: 2160,
		},
		{
			name: "first display otherwise",
			input: `Graphics/Displays:
      Displays:
        Display 1:
          Resolution: 1920 x 1080
        Display 2:
          Resolution: 2560 x 1440`,
			w: 1920, h: 1080,
		},
		{name: "no displays", input: "Graphics/Displays:\n    Apple GPU:\n", hasErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := parseSystemProfiler(tt.input)
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestParseXrandr(t *testing.T) {
	primary := `Screen 0: minimum 320 x 200, current 4480 x 1440, maximum 16384 x 16384
HDMI-1 connected 2560x1440+1920+0 (normal left inverted right x axis y axis) 597mm x 336mm
   2560x1440     59.95*+
eDP-1 connected primary 1920x1080+0+0 (normal left inverted right x axis y axis) 344mm x 194mm
   1920x1080     60.01*+  59.97`
	w, h, err := parseXrandr(primary)
	require.NoError(t, err)
	assert.Equal(t, []int{1920, 1080}, []int{w, h})

	noPrimary := `Screen 0: minimum 8 x 8, current 1280 x 800, maximum 32767 x 32767
Virtual-1 connected 1280x800+0+0 0mm x 0mm
   1280x800      59.81*+
   1024x768      60.00`
	w, h, err = parseXrandr(noPrimary)
	require.NoError(t, err)
	assert.Equal(t, []int{1280, 800}, []int{w, h})

	_, _, err = parseXrandr("Can't open display")
	assert.Error(t, err)
}

func TestParseTwoLines(t *testing.T) {
	w, h, err := parseTwoLines("2560\r\n1600\r\n")
	require.NoError(t, err)
	assert.Equal(t, []int{2560, 1600}, []int{w, h})
	_, _, err = parseTwoLines("2560")
	assert.Error(t, err)
}

func TestParsePactlSources(t *testing.T) {
	out := "0\talsa_output.pci-0000_00_1f.3.analog-stereo.monitor\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tSUSPENDED\n" +
		"1\talsa_input.pci-0000_00_1f.3.analog-stereo\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tRUNNING\n" +
		"2\tbluez_input.headset\tmodule-bluez5-device.c\ts16le 1ch 16000Hz\tIDLE\n"
	targets := parsePactlSources(out, "bluez_input.headset")
	require.Len(t, targets, 3)

	assert.Equal(t, KindSystemAudio, targets[0].Kind)
	assert.Equal(t, "pulse:alsa_output.pci-0000_00_1f.3.analog-stereo.monitor", targets[0].ID)
	assert.True(t, targets[0].Default, "only monitor is the default loopback")
	assert.Equal(t, KindMicrophone, targets[1].Kind)
	assert.False(t, targets[1].Default)
	assert.True(t, targets[2].Default)
}

func TestParseAVFoundation(t *testing.T) {
	out := `[AVFoundation indev @ 0x7fd] AVFoundation video devices:
[AVFoundation indev @ 0x7fd] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7fd] [1] Capture screen 0
[AVFoundation indev @ 0x7fd] AVFoundation audio devices:
[AVFoundation indev @ 0x7fd] [0] MacBook Pro Microphone
[AVFoundation indev @ 0x7fd] [1] BlackHole 2ch
[in#0 @ 0x7fe] Error opening input: Input/output error`
	targets := parseAVFoundation(out)
	require.Len(t, targets, 4)

	want := []struct {
		kind  Kind
		input string
	}{
		{KindCamera, "0:none"},
		{KindScreen, "1:none"},
		{KindMicrophone, ":0"},
		{KindSystemAudio, ":1"},
	}
	for i, w := range want {
		assert.Equal(t, w.kind, targets[i].Kind, targets[i].Name)
		assert.Equal(t, w.input, targets[i].Input)
		assert.True(t, targets[i].Default)
	}
}

func TestParseDShow(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{
			name: "typed lines",
			out: `[dshow @ 000001] "Integrated Camera" (video)
[dshow @ 000001]   Alternative name "@device_pnp_\\?\usb#vid_04f2"
[dshow @ 000001] "Microphone Array (Realtek Audio)" (audio)
[dshow @ 000001] "Stereo Mix (Realtek Audio)" (audio)`,
		},
		{
			name: "sections",
			out: `[dshow @ 000001] DirectShow video devices (some may be both video and audio devices)
[dshow @ 000001]  "Integrated Camera"
[dshow @ 000001] DirectShow audio devices
[dshow @ 000001]  "Microphone Array (Realtek Audio)"
[dshow @ 000001]  "Stereo Mix (Realtek Audio)"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := parseDShow(tt.out)
			require.Len(t, targets, 3)
			assert.Equal(t, "dshow:video=Integrated Camera", targets[0].ID)
			assert.Equal(t, KindCamera, targets[0].Kind)
			assert.Equal(t, KindMicrophone, targets[1].Kind)
			assert.Equal(t, "audio=Microphone Array (Realtek Audio)", targets[1].Input)
			assert.Equal(t, KindSystemAudio, targets[2].Kind)
		})
	}
}

func TestParseWindows(t *testing.T) {
	wm := "0x03000007  0 host Terminal\n0x04400003  0 host Mozilla Firefox - Start\nbogus line\n"
	targets := parseWmctrl(wm)
	require.Len(t, targets, 2)
	assert.Equal(t, "x11grab:0x04400003", targets[1].ID)
	assert.Equal(t, "Mozilla Firefox - Start", targets[1].Name)

	titles := parseWindowTitles("Notepad\r\n\r\nNotepad\r\nCalculator\r\n")
	require.Len(t, titles, 2)
	assert.Equal(t, "title=Calculator", titles[1].Input)
	assert.Equal(t, KindWindow, titles[1].Kind)
}

type countingEnumerator struct {
	name    string
	targets []Target
	err     error
	calls   int
}

func (e *countingEnumerator) Name() string { return e.name }

func (e *countingEnumerator) Enumerate(context.Context) ([]Target, error) {
	e.calls++
	return e.targets, e.err
}

func TestCatalogCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	live := &countingEnumerator{name: "live", targets: []Target{
		newTarget(KindMicrophone, DriverPulse, "mic", "Mic"),
	}}
	broken := &countingEnumerator{name: "broken", err: errors.New("pactl not found")}
	c := NewCatalog(live, broken, SyntheticEnumerator())

	targets, err := c.Targets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 5)
	_, err = c.Targets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, live.calls)
	assert.Equal(t, 1, broken.calls)

	live.targets = append(live.targets, newTarget(KindCamera, DriverV4L2, "/dev/video0", "Cam"))
	c.Invalidate()
	targets, err = c.Targets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 6)
	assert.Equal(t, 2, live.calls)

	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, live.calls)
}

func TestCatalogFind(t *testing.T) {
	ctx := context.Background()
	mic := newTarget(KindMicrophone, DriverPulse, "mic", "Mic")
	mic.Default = true
	dup := newTarget(KindMicrophone, DriverPulse, "mic", "Duplicate")
	c := NewCatalog(
		&countingEnumerator{name: "a", targets: []Target{mic}},
		&countingEnumerator{name: "b", targets: []Target{dup}},
		SyntheticEnumerator(),
	)

	got, err := c.Find(ctx, "pulse:mic")
	require.NoError(t, err)
	assert.Equal(t, "Mic", got.Name)

	got, err = c.Find(ctx, "microphone")
	require.NoError(t, err)
	assert.Equal(t, "pulse:mic", got.ID)

	got, err = c.Find(ctx, "screen")
	require.NoError(t, err)
	assert.Equal(t, "synthetic:bars", got.ID)
	assert.Equal(t, 1280, got.Width)

	_, err = c.Find(ctx, "v4l2:/dev/video9")
	assert.True(t, errors.Is(err, ErrTargetNotFound))

	cams, err := c.ByKind(ctx, KindCamera)
	require.NoError(t, err)
	assert.Len(t, cams, 1)
}

func TestCatalogHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCatalog(SyntheticEnumerator()).Targets(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"screen": KindScreen, "Display": KindScreen, "mic": KindMicrophone,
		"system-audio": KindSystemAudio, "webcam": KindCamera, "window": KindWindow,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("printer")
	assert.Error(t, err)
	assert.True(t, KindCamera.Video())
	assert.False(t, KindSystemAudio.Video())
}
