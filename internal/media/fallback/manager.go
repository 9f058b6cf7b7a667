// Package fallback acquires capture devices by walking a prioritized list of
// configurations until one works.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
	kclock "k8s.io/utils/clock"
	"k8s.io/utils/keymutex"
)

// ErrDeviceUnreachable matches every UnreachableError.
var ErrDeviceUnreachable = errors.New("device unreachable")

// UnreachableError is returned once every candidate configuration has failed.
type UnreachableError struct {
	Kind     string // "video" or "audio"
	Device   string
	Attempts int
	Last     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("failed to initialize %s device '%s' after %d attempts", e.Kind, e.Device, e.Attempts)
}

func (e *UnreachableError) Is(target error) bool { return target == ErrDeviceUnreachable }

func (e *UnreachableError) Unwrap() error { return e.Last }

// Attempt records one failed configuration.
type Attempt struct {
	DeviceID string
	Config   string
	Err      error
	Time     time.Time
}

// Reporter receives every failed attempt, for telemetry.
type Reporter interface {
	DeviceAttemptFailed(kind string, attempt Attempt, number int)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(kind string, attempt Attempt, number int)

func (f ReporterFunc) DeviceAttemptFailed(kind string, attempt Attempt, number int) {
	f(kind, attempt, number)
}

type logReporter struct{ logger *slog.Logger }

func (r logReporter) DeviceAttemptFailed(kind string, a Attempt, number int) {
	r.logger.Warn("Device attempt failed", "kind", kind, "device", a.DeviceID, "config", a.Config, "attempt", number, "error", a.Err)
}

// Manager runs fallback sequences and keeps their failure history.
type Manager struct {
	config   Config
	clock    kclock.Clock
	reporter Reporter
	logger   *slog.Logger

	// serializes acquisition per device key
	devices keymutex.KeyMutex

	mu      sync.Mutex
	history map[string][]Attempt
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the clock used for retry delays and attempt times.
func WithClock(c kclock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithReporter adds a telemetry sink. Failures are always logged.
func WithReporter(r Reporter) Option { return func(m *Manager) { m.reporter = r } }

// NewManager creates a manager for the given configuration.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		config:  cfg,
		clock:   kclock.RealClock{},
		logger:  util.ComponentLogger("device_fallback"),
		devices: keymutex.NewHashed(0),
		history: make(map[string][]Attempt),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.config }

// VideoKey names the history entry for a video device.
func VideoKey(deviceID string) string { return "video_" + deviceID }

// AudioKey names the history entry for an audio device.
func AudioKey(name string) string { return "audio_" + name }

// History returns a copy of the failed attempts recorded under key.
func (m *Manager) History(key string) []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt(nil), m.history[key]...)
}

// ClearHistory forgets the attempts recorded under key.
func (m *Manager) ClearHistory(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, key)
}

func (m *Manager) record(key string, a Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[key] = append(m.history[key], a)
}

// TryVideoDevice calls attempt with each video candidate until one succeeds.
func TryVideoDevice[T any](ctx context.Context, m *Manager, deviceID string, attempt func(VideoConfig) (T, error)) (T, VideoConfig, error) {
	return try(ctx, m, "video", deviceID, VideoKey(deviceID), m.config.VideoCandidates(), attempt)
}

// TryAudioDevice calls attempt with each rate/channel candidate until one succeeds.
func TryAudioDevice[T any](ctx context.Context, m *Manager, name string, attempt func(AudioConfig) (T, error)) (T, AudioConfig, error) {
	return try(ctx, m, "audio", name, AudioKey(name), m.config.AudioCandidates(), attempt)
}

func try[C fmt.Stringer, T any](ctx context.Context, m *Manager, kind, device, key string, candidates []C, attempt func(C) (T, error)) (T, C, error) {
	var (
		zeroT T
		zeroC C
	)

	m.devices.LockKey(key)
	defer m.devices.UnlockKey(key)

	limit := min(len(candidates), m.config.MaxRetryAttempts)
	var last error
	for i := 0; i < limit; i++ {
		cfg := candidates[i]
		m.logger.Info("Attempting device", "kind", kind, "device", device, "config", cfg.String(), "attempt", i+1, "max", m.config.MaxRetryAttempts)

		v, err := attempt(cfg)
		if err == nil {
			m.logger.Info("Device initialized", "kind", kind, "device", device, "config", cfg.String())
			return v, cfg, nil
		}
		last = err

		a := Attempt{DeviceID: device, Config: cfg.String(), Err: err, Time: m.clock.Now()}
		m.record(key, a)
		logReporter{m.logger}.DeviceAttemptFailed(kind, a, i+1)
		if m.reporter != nil {
			m.reporter.DeviceAttemptFailed(kind, a, i+1)
		}

		if i+1 < limit && m.config.RetryDelay > 0 {
			if err := m.wait(ctx, m.config.RetryDelay); err != nil {
				return zeroT, zeroC, errors.Wrapf(err, "acquiring %s device '%s'", kind, device)
			}
		}
		if err := ctx.Err(); err != nil {
			return zeroT, zeroC, errors.Wrapf(err, "acquiring %s device '%s'", kind, device)
		}
	}

	m.logger.Error("All fallback attempts failed", "kind", kind, "device", device, "attempts", limit)
	return zeroT, zeroC, &UnreachableError{Kind: kind, Device: device, Attempts: limit, Last: last}
}

func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	t := m.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
