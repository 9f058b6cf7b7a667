package preset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/babelcloud/gbox-recorder/internal/media/mux"
	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "nested", "presets.toml"))
	require.NoError(t, m.Load())
	return m
}

func TestRoundTrip(t *testing.T) {
	m := newTestManager(t)
	name, err := m.Add("Demo Call", Preset{
		Camera:          "synthetic:camera",
		Microphone:      "microphone",
		Format:          mux.FormatWebM,
		FPS:             24,
		SegmentDuration: "2s",
	})
	require.NoError(t, err)
	assert.Equal(t, "demo-call", name)
	_, err = m.Add("voice", Preset{Microphone: "microphone", Format: mux.FormatSegmented})
	require.NoError(t, err)

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Regexp(t, `current = ['"]demo-call['"]`, string(data))
	assert.Contains(t, string(data), "presets.voice")

	reloaded := NewManager(m.Path())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, m.List(), reloaded.List())

	cur, p, ok := reloaded.Current()
	require.True(t, ok)
	assert.Equal(t, "demo-call", cur)
	assert.Equal(t, 24, p.FPS)
}

func TestUseAndDelete(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add("a", Preset{Screen: "screen"})
	require.NoError(t, err)
	_, err = m.Add("b", Preset{Screen: "screen"})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Use("missing"), ErrNotFound)
	assert.ErrorIs(t, m.Delete("a"), ErrCannotDeleteCurrent)

	require.NoError(t, m.Use("b"))
	require.NoError(t, m.Delete("a"))
	require.NoError(t, m.Delete("b"), "last preset may go")
	_, _, ok := m.Current()
	assert.False(t, ok)
	assert.Empty(t, m.List())

	_, err = m.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		preset  Preset
		is      error
		wantErr bool
	}{
		{name: "empty", preset: Preset{}},
		{name: "known values", preset: Preset{Format: mux.FormatMP4, VideoEncoder: encoder.NameX264, AudioEncoder: encoder.NameAuto}},
		{name: "bad format", preset: Preset{Format: "avi"}, is: mux.ErrUnknownFormat, wantErr: true},
		{name: "bad encoder", preset: Preset{VideoEncoder: "vp9"}, is: encoder.ErrUnknownEncoder, wantErr: true},
		{name: "bad duration", preset: Preset{SegmentDuration: "soon"}, wantErr: true},
		{name: "zero duration", preset: Preset{SegmentDuration: "0s"}, wantErr: true},
		{name: "negative fps", preset: Preset{FPS: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.preset.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	m := newTestManager(t)
	_, err := m.Add("x", Preset{Format: "avi"})
	assert.Error(t, err)
	_, err = m.Add("  ", Preset{})
	assert.Error(t, err)
	assert.NoFileExists(t, m.Path())
}

func TestApply(t *testing.T) {
	opts := recording.DefaultOptions()
	opts.FPS = 30

	require.NoError(t, Preset{Microphone: "synthetic:tone", Format: mux.FormatSegmented, SegmentDuration: "1500ms"}.Apply(&opts))
	assert.Empty(t, opts.Screen, "targets replaced as a set")
	assert.Equal(t, "synthetic:tone", opts.Microphone)
	assert.Equal(t, mux.FormatSegmented, opts.Format)
	assert.Equal(t, 1500*time.Millisecond, opts.SegmentDuration)
	assert.Equal(t, 30, opts.FPS)

	opts = recording.DefaultOptions()
	require.NoError(t, Preset{MaxWidth: 640}.Apply(&opts))
	assert.Equal(t, "screen", opts.Screen, "no targets keeps the defaults")
	assert.Equal(t, 640, opts.MaxWidth)
}

func TestLoadDropsDanglingCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	require.NoError(t, os.WriteFile(path, []byte("current = 'gone'\n\n[presets.kept]\nscreen = 'screen'\n"), 0o644))
	m := NewManager(path)
	require.NoError(t, m.Load())
	_, _, ok := m.Current()
	assert.False(t, ok)
	assert.Len(t, m.List(), 1)

	require.NoError(t, os.WriteFile(path, []byte("current = ["), 0o644))
	assert.Error(t, m.Load())
}
