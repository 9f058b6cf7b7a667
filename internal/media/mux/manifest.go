package mux

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
)

const (
	ManifestVersion  = 2
	ManifestFileName = "manifest.json"
)

// Manifest indexes the fragments of a segmented recording. It is rewritten
// after every rotation so a crash leaves a usable index behind.
type Manifest struct {
	Version       int             `json:"version"`
	Fragments     []FragmentEntry `json:"fragments"`
	TotalDuration *float64        `json:"total_duration,omitempty"`
	IsComplete    bool            `json:"is_complete"`
}

// FragmentEntry describes one fragment file. Path is relative to the
// manifest's directory and Duration is in seconds.
type FragmentEntry struct {
	Path       string  `json:"path"`
	Index      int     `json:"index"`
	Duration   float64 `json:"duration"`
	IsComplete bool    `json:"is_complete"`
	FileSize   *int64  `json:"file_size,omitempty"`
}

// TotalDurationValue returns the recorded total, or the sum of complete
// fragments for manifests of unfinished recordings.
func (m *Manifest) TotalDurationValue() time.Duration {
	if m.TotalDuration != nil {
		return time.Duration(*m.TotalDuration * float64(time.Second))
	}
	var total float64
	for _, f := range m.Fragments {
		if f.IsComplete {
			total += f.Duration
		}
	}
	return time.Duration(total * float64(time.Second))
}

// ReadManifest loads dir/manifest.json.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest")
	}
	if m.Version != ManifestVersion {
		return nil, errors.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// writeManifest replaces path atomically: the JSON goes to a temporary file
// that is synced and renamed over the old manifest, then the directory is
// synced so the rename survives a crash.
func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode manifest")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create manifest")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write manifest")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to sync manifest")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close manifest")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "failed to replace manifest")
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		if err := dir.Sync(); err != nil {
			util.GetLogger().Warn("Directory fsync failed after manifest rename", "dir", filepath.Dir(path), "error", err)
		}
		dir.Close()
	}
	return nil
}
