// Package preset stores named recording setups in a TOML file.
package preset

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/babelcloud/gbox-recorder/internal/media/mux"
	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

var (
	ErrNotFound            = errors.New("preset not found")
	ErrCannotDeleteCurrent = errors.New("cannot delete the current preset, switch to another one first")
)

// File is the on-disk layout of presets.toml.
type File struct {
	Current string            `toml:"current"`
	Presets map[string]Preset `toml:"presets"`
}

// Preset is a saved recording setup. Empty fields leave the caller's
// values untouched when applied.
type Preset struct {
	Screen      string `toml:"screen,omitempty" json:"screen,omitempty"`
	Window      string `toml:"window,omitempty" json:"window,omitempty"`
	Camera      string `toml:"camera,omitempty" json:"camera,omitempty"`
	Microphone  string `toml:"microphone,omitempty" json:"microphone,omitempty"`
	SystemAudio string `toml:"system_audio,omitempty" json:"system_audio,omitempty"`

	Format       string `toml:"format,omitempty" json:"format,omitempty"`
	VideoEncoder string `toml:"video_encoder,omitempty" json:"video_encoder,omitempty"`
	AudioEncoder string `toml:"audio_encoder,omitempty" json:"audio_encoder,omitempty"`
	FPS          int    `toml:"fps,omitempty" json:"fps,omitempty"`
	MaxWidth     int    `toml:"max_width,omitempty" json:"max_width,omitempty"`
	// SegmentDuration is a Go duration string such as "3s".
	SegmentDuration string `toml:"segment_duration,omitempty" json:"segment_duration,omitempty"`
}

// Validate checks the fields that have a fixed vocabulary.
func (p Preset) Validate() error {
	if p.Format != "" && !slices.Contains(mux.Formats(), p.Format) {
		return errors.Wrapf(mux.ErrUnknownFormat, "format %q", p.Format)
	}
	if p.VideoEncoder != "" && p.VideoEncoder != encoder.NameAuto && !slices.Contains(encoder.VideoNames(), p.VideoEncoder) {
		return errors.Wrapf(encoder.ErrUnknownEncoder, "video encoder %q", p.VideoEncoder)
	}
	if p.AudioEncoder != "" && p.AudioEncoder != encoder.NameAuto && !slices.Contains(encoder.AudioNames(), p.AudioEncoder) {
		return errors.Wrapf(encoder.ErrUnknownEncoder, "audio encoder %q", p.AudioEncoder)
	}
	if p.FPS < 0 || p.MaxWidth < 0 {
		return errors.New("fps and max_width must not be negative")
	}
	if _, err := p.segment(); err != nil {
		return err
	}
	return nil
}

func (p Preset) segment() (time.Duration, error) {
	if p.SegmentDuration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.SegmentDuration)
	if err != nil {
		return 0, errors.Wrap(err, "invalid segment_duration")
	}
	if d <= 0 {
		return 0, errors.Errorf("segment_duration must be positive, got %s", d)
	}
	return d, nil
}

// HasTargets reports whether the preset names any capture target.
func (p Preset) HasTargets() bool {
	return p.Screen != "" || p.Window != "" || p.Camera != "" || p.Microphone != "" || p.SystemAudio != ""
}

// Apply copies the preset's non-empty fields into opts. When the preset
// names targets they replace all of opts' targets.
func (p Preset) Apply(opts *recording.Options) error {
	seg, err := p.segment()
	if err != nil {
		return err
	}
	if p.HasTargets() {
		opts.Screen = p.Screen
		opts.Window = p.Window
		opts.Camera = p.Camera
		opts.Microphone = p.Microphone
		opts.SystemAudio = p.SystemAudio
	}
	if p.Format != "" {
		opts.Format = p.Format
	}
	if p.VideoEncoder != "" {
		opts.VideoEncoder = p.VideoEncoder
	}
	if p.AudioEncoder != "" {
		opts.AudioEncoder = p.AudioEncoder
	}
	if p.FPS > 0 {
		opts.FPS = p.FPS
	}
	if p.MaxWidth > 0 {
		opts.MaxWidth = p.MaxWidth
	}
	if seg > 0 {
		opts.SegmentDuration = seg
	}
	return nil
}

// Entry is one row of List.
type Entry struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Preset  Preset `json:"preset"`
}

// Manager manages the presets file
type Manager struct {
	file File
	path string
}

func NewManager(path string) *Manager {
	return &Manager{
		file: File{Presets: make(map[string]Preset)},
		path: path,
	}
}

// Path returns the presets file location.
func (m *Manager) Path() string { return m.path }

// Load reads the presets file. A missing or empty file yields no presets.
func (m *Manager) Load() error {
	m.file = File{Presets: make(map[string]Preset)}

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read presets file")
	}
	if len(data) == 0 {
		return nil
	}
	if err := toml.Unmarshal(data, &m.file); err != nil {
		return errors.Wrap(err, "failed to parse presets file")
	}
	if m.file.Presets == nil {
		m.file.Presets = make(map[string]Preset)
	}
	if _, ok := m.file.Presets[m.file.Current]; !ok {
		m.file.Current = ""
	}
	return nil
}

// Save writes the presets file
func (m *Manager) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	data, err := toml.Marshal(m.file)
	if err != nil {
		return errors.Wrap(err, "failed to serialize presets")
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write presets file")
	}
	return nil
}

// Add stores p under name, replacing any preset of that name. The first
// preset becomes current. It returns the normalized name.
func (m *Manager) Add(name string, p Preset) (string, error) {
	name = normalizeName(name)
	if name == "" {
		return "", errors.New("preset name is empty")
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	m.file.Presets[name] = p
	if m.file.Current == "" {
		m.file.Current = name
	}
	return name, m.Save()
}

// Delete removes a preset. The current preset can only be deleted when it
// is the last one.
func (m *Manager) Delete(name string) error {
	if _, ok := m.file.Presets[name]; !ok {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	if name == m.file.Current && len(m.file.Presets) > 1 {
		return ErrCannotDeleteCurrent
	}
	delete(m.file.Presets, name)
	if name == m.file.Current {
		m.file.Current = ""
	}
	return m.Save()
}

// Use makes name the current preset.
func (m *Manager) Use(name string) error {
	if _, ok := m.file.Presets[name]; !ok {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	m.file.Current = name
	return m.Save()
}

// Get returns a copy of the named preset.
func (m *Manager) Get(name string) (Preset, error) {
	p, ok := m.file.Presets[name]
	if !ok {
		return Preset{}, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return p, nil
}

// Current returns the current preset and its name, or false when none is set.
func (m *Manager) Current() (string, Preset, bool) {
	if m.file.Current == "" {
		return "", Preset{}, false
	}
	p, ok := m.file.Presets[m.file.Current]
	return m.file.Current, p, ok
}

// List returns every preset sorted by name.
func (m *Manager) List() []Entry {
	out := make([]Entry, 0, len(m.file.Presets))
	for name, p := range m.file.Presets {
		out = append(out, Entry{Name: name, Current: name == m.file.Current, Preset: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// normalizeName lowercases and keeps [a-z0-9-], mapping spaces and
// underscores to hyphens.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "_", "-")

	var b strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
