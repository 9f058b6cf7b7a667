package mux

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentedConfig() Config {
	cfg := testConfig()
	cfg.SegmentDuration = time.Second
	return cfg
}

func TestSegmentedMuxerRotates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	audio := pcmInfo(t)
	m := NewSegmentedAudioMuxer(segmentedConfig())
	require.NoError(t, m.Setup(dir, nil, audio, nil))

	man, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.False(t, man.IsComplete)
	require.Len(t, man.Fragments, 1)
	assert.Equal(t, FragmentEntry{Path: "fragment_000.m4a", Index: 0}, man.Fragments[0])

	send := func(from, to int) {
		for ts := from; ts <= to; ts += 100 {
			require.NoError(t, m.SendAudioFrame(pcmFrame(audio, 100*time.Millisecond), ms(ts)))
		}
	}
	send(0, 1000)

	man, err = ReadManifest(dir)
	require.NoError(t, err)
	require.Len(t, man.Fragments, 2)
	assert.True(t, man.Fragments[0].IsComplete)
	assert.InDelta(t, 1.0, man.Fragments[0].Duration, 1e-9)
	assert.False(t, man.Fragments[1].IsComplete)
	assert.Equal(t, "fragment_001.m4a", man.Fragments[1].Path)
	assert.Nil(t, man.TotalDuration)

	send(1100, 2500)
	require.NoError(t, m.Finish(ms(2600).Duration()))

	man, err = ReadManifest(dir)
	require.NoError(t, err)
	assert.True(t, man.IsComplete)
	require.Len(t, man.Fragments, 3)
	for i, want := range []float64{1, 1, 0.6} {
		frag := man.Fragments[i]
		assert.Equal(t, i, frag.Index)
		assert.True(t, frag.IsComplete)
		assert.InDelta(t, want, frag.Duration, 1e-9)

		info, err := os.Stat(filepath.Join(dir, frag.Path))
		require.NoError(t, err)
		require.NotNil(t, frag.FileSize)
		assert.Equal(t, info.Size(), *frag.FileSize)

		// each fragment carries its own init segment
		moov, err := gomp4.ExtractBox(openReader(t, filepath.Join(dir, frag.Path)), nil, gomp4.BoxPath{gomp4.BoxTypeMoov()})
		require.NoError(t, err)
		assert.Len(t, moov, 1)
	}
	require.NotNil(t, man.TotalDuration)
	assert.InDelta(t, 2.6, *man.TotalDuration, 1e-9)
	assert.InDelta(t, float64(2600*time.Millisecond), float64(man.TotalDurationValue()), float64(time.Microsecond))

	stats := m.Stats()
	assert.Equal(t, 3, stats.Segments)
	assert.Equal(t, uint64(26), stats.Audio.Accepted)

	tmp, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestSegmentedMuxerRemovesEmptySegment(t *testing.T) {
	dir := t.TempDir()
	m := NewSegmentedAudioMuxer(segmentedConfig())
	require.NoError(t, m.Setup(dir, nil, pcmInfo(t), nil))
	require.NoError(t, m.Finish(0))

	assert.NoFileExists(t, filepath.Join(dir, "fragment_000.m4a"))
	man, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.True(t, man.IsComplete)
	assert.Empty(t, man.Fragments)
	require.NotNil(t, man.TotalDuration)
	assert.Zero(t, *man.TotalDuration)
}

func TestSegmentedMuxerRejectsVideo(t *testing.T) {
	m := NewSegmentedAudioMuxer(segmentedConfig())
	assert.Error(t, m.Setup(t.TempDir(), h264Info(), pcmInfo(t), nil))
	assert.Error(t, m.Setup(t.TempDir(), nil, nil, nil))
	assert.ErrorIs(t, m.SendAudioFrame(pcmFrame(pcmInfo(t), 10*time.Millisecond), 0), ErrNotWriting)
}

func TestManifestFormat(t *testing.T) {
	dir := t.TempDir()
	size := int64(42)
	total := 1.5
	require.NoError(t, writeManifest(filepath.Join(dir, ManifestFileName), &Manifest{
		Version:       ManifestVersion,
		Fragments:     []FragmentEntry{{Path: "fragment_000.m4a", Duration: 1.5, IsComplete: true, FileSize: &size}},
		TotalDuration: &total,
		IsComplete:    true,
	}))

	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 2, raw["version"])
	assert.Equal(t, true, raw["is_complete"])
	assert.EqualValues(t, 1.5, raw["total_duration"])
	frag := raw["fragments"].([]any)[0].(map[string]any)
	assert.Equal(t, "fragment_000.m4a", frag["path"])
	assert.EqualValues(t, 42, frag["file_size"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(`{"version":1,"fragments":[]}`), 0o644))
	_, err = ReadManifest(dir)
	assert.ErrorContains(t, err, "unsupported manifest version")
}
