package recording

import (
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/convert"
	"github.com/babelcloud/gbox-recorder/internal/media/mux"
	"github.com/babelcloud/gbox-recorder/internal/media/source"
	"github.com/pkg/errors"
)

// ErrInvalidState is returned for a control call the current state does not allow.
var ErrInvalidState = errors.New("invalid session state")

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StatePaused
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{"idle", "starting", "recording", "paused", "stopping", "stopped", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether the session holds devices.
func (s State) Active() bool {
	return s == StateStarting || s == StateRecording || s == StatePaused || s == StateStopping
}

// TrackInfo describes one recorded track.
type TrackInfo struct {
	Target string `json:"target"`
	Name   string `json:"name,omitempty"`
	// Config is the fallback candidate that opened the device.
	Config string `json:"config"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	FPS    int    `json:"fps,omitempty"`
	Rate   int    `json:"sample_rate,omitempty"`
	Chans  int    `json:"channels,omitempty"`
}

// Stats gathers the counters of every stage.
type Stats struct {
	VideoSource *source.Stats  `json:"video_source,omitempty"`
	AudioSource *source.Stats  `json:"audio_source,omitempty"`
	Pool        *convert.Stats `json:"pool,omitempty"`
	// Reordered counts pool results discarded because a newer frame was
	// already delivered.
	Reordered uint64    `json:"reordered,omitempty"`
	Muxer     mux.Stats `json:"muxer"`
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	ID        string        `json:"id"`
	State     State         `json:"state"`
	Path      string        `json:"path,omitempty"`
	Format    string        `json:"format"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Video     *TrackInfo    `json:"video,omitempty"`
	Audio     *TrackInfo    `json:"audio,omitempty"`
	// Ignored lists requested targets that were not recorded.
	Ignored []string `json:"ignored,omitempty"`
	Stats   Stats    `json:"stats"`
}

// Result is what a finished session produced.
type Result struct {
	ID       string        `json:"id"`
	Path     string        `json:"path"`
	Format   string        `json:"format"`
	Duration time.Duration `json:"duration"`
	Stats    Stats         `json:"stats"`
}

func videoTrack(id, name, cfg string, info media.VideoInfo) *TrackInfo {
	return &TrackInfo{Target: id, Name: name, Config: cfg, Width: info.Width, Height: info.Height, FPS: info.FPS()}
}

func audioTrack(id, name, cfg string, info media.AudioInfo) *TrackInfo {
	return &TrackInfo{Target: id, Name: name, Config: cfg, Rate: info.SampleRate, Chans: info.Channels}
}
