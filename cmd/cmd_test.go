package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/mux"
	"github.com/babelcloud/gbox-recorder/internal/preset"
	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionOptionsLayering(t *testing.T) {
	presets := filepath.Join(t.TempDir(), "presets.toml")
	t.Setenv("GBOX_RECORDER_PRESET_PATH", presets)
	t.Setenv("GBOX_RECORDER_VIDEO_FPS", "25")

	m := preset.NewManager(presets)
	_, err := m.Add("meeting", preset.Preset{Camera: "camera", Microphone: "microphone", Format: mux.FormatWebM, MaxWidth: 960})
	require.NoError(t, err)
	_, err = m.Add("voice", preset.Preset{Microphone: "microphone", Format: mux.FormatSegmented})
	require.NoError(t, err)

	tests := []struct {
		name  string
		args  []string
		check func(*testing.T, recording.Options)
	}{
		{
			name: "current preset over config",
			check: func(t *testing.T, o recording.Options) {
				assert.Empty(t, o.Screen)
				assert.Equal(t, "camera", o.Camera)
				assert.Equal(t, mux.FormatWebM, o.Format)
				assert.Equal(t, 960, o.MaxWidth)
				assert.Equal(t, 25, o.FPS)
			},
		},
		{
			name: "named preset",
			args: []string{"--preset", "voice"},
			check: func(t *testing.T, o recording.Options) {
				assert.Empty(t, o.Camera)
				assert.Equal(t, mux.FormatSegmented, o.Format)
			},
		},
		{
			name: "flags win",
			args: []string{"--screen", "synthetic:bars", "--fps", "10", "--no-convert", "-o", "out.mp4", "--format", "mp4"},
			check: func(t *testing.T, o recording.Options) {
				assert.Equal(t, "synthetic:bars", o.Screen)
				assert.Empty(t, o.Camera, "target flags replace the preset's targets")
				assert.Empty(t, o.Microphone)
				assert.Equal(t, 10, o.FPS)
				assert.Equal(t, mux.FormatMP4, o.Format)
				assert.False(t, o.Convert)
				assert.Equal(t, "out.mp4", o.OutputPath)
				assert.Equal(t, 960, o.MaxWidth, "untouched preset fields survive")
			},
		},
		{
			name: "segment duration",
			args: []string{"--segment-duration", "1500ms", "--dir", "/tmp/rec"},
			check: func(t *testing.T, o recording.Options) {
				assert.Equal(t, 1500*time.Millisecond, o.SegmentDuration)
				assert.Equal(t, "/tmp/rec", o.OutputDir)
				assert.Equal(t, clock.ModeRealTime, o.ClockMode)
			},
		},
		{
			name: "hardware clock",
			args: []string{"--clock", "hardware"},
			check: func(t *testing.T, o recording.Options) {
				assert.Equal(t, clock.ModeHardware, o.ClockMode)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &RecordOptions{}
			cmd := newRecordCommand(opts)
			require.NoError(t, cmd.ParseFlags(tt.args))
			got, err := opts.sessionOptions(cmd)
			require.NoError(t, err)
			tt.check(t, got)
		})
	}

	opts := &RecordOptions{}
	cmd := newRecordCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--preset", "missing"}))
	_, err = opts.sessionOptions(cmd)
	assert.ErrorIs(t, err, preset.ErrNotFound)

	opts = &RecordOptions{}
	cmd = newRecordCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--clock", "ptp"}))
	_, err = opts.sessionOptions(cmd)
	assert.ErrorIs(t, err, clock.ErrUnknownMode)
}

func TestPresetCommands(t *testing.T) {
	presets := filepath.Join(t.TempDir(), "presets.toml")
	t.Setenv("GBOX_RECORDER_PRESET_PATH", presets)

	run := func(args ...string) (string, error) {
		cmd := NewPresetCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	_, err := run("add", "empty")
	assert.Error(t, err, "a preset needs a target")

	out, err := run("add", "Screen Only", "--screen", "screen", "--fps", "15")
	require.NoError(t, err)
	assert.Contains(t, out, "screen-only")

	_, err = run("add", "mic", "--mic", "microphone", "--use")
	require.NoError(t, err)

	out, err = run("list", "--json")
	require.NoError(t, err)
	var entries []preset.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "mic", entries[0].Name)
	assert.True(t, entries[0].Current)
	assert.Equal(t, 15, entries[1].Preset.FPS)

	_, err = run("delete", "mic")
	assert.ErrorIs(t, err, preset.ErrCannotDeleteCurrent)
	_, err = run("use", "screen-only")
	require.NoError(t, err)
	_, err = run("rm", "mic")
	require.NoError(t, err)

	out, err = run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "screen-only")
	assert.NotContains(t, out, "microphone")
}

func TestManifestCommand(t *testing.T) {
	dir := t.TempDir()
	size := int64(2048)
	total := 3.5
	m := mux.Manifest{
		Version: mux.ManifestVersion,
		Fragments: []mux.FragmentEntry{
			{Path: "segment_000.mp4", Index: 0, Duration: 3, IsComplete: true, FileSize: &size},
			{Path: "segment_001.mp4", Index: 1, Duration: 0.5, IsComplete: true},
		},
		TotalDuration: &total,
		IsComplete:    true,
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, mux.ManifestFileName), data, 0o644))

	cmd := NewManifestCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "segment_001.mp4")
	assert.Contains(t, out.String(), "2.0 KiB")
	assert.Contains(t, out.String(), "2 fragments, 3.5s total, complete")

	cmd = NewManifestCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{t.TempDir()})
	assert.Error(t, cmd.Execute())
}

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	con := newConsole(&out, true)

	con.statusLine("REC")
	con.setRaw(true)
	con.printf("a\nb\n")
	assert.Equal(t, "\r\033[KREC\r\033[Ka\r\nb\r\n", out.String())

	assert.Equal(t, "00:05", formatElapsed(4600*time.Millisecond))
	assert.Equal(t, "1:02:03", formatElapsed(time.Hour+2*time.Minute+3*time.Second))
}
