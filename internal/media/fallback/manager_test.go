package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var errBusy = errors.New("device busy")

func noDelay(cfg Config) Config {
	cfg.RetryDelay = 0
	return cfg
}

func TestVideoFallbackExhaustion(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("max_%d", limit), func(t *testing.T) {
			cfg := noDelay(DefaultConfig())
			cfg.MaxRetryAttempts = limit
			m := NewManager(cfg)

			calls := 0
			_, _, err := TryVideoDevice(context.Background(), m, "cam0", func(VideoConfig) (int, error) {
				calls++
				return 0, errBusy
			})

			want := min(3, limit)
			assert.Equal(t, want, calls)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDeviceUnreachable))
			assert.True(t, errors.Is(err, errBusy))

			var ue *UnreachableError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, "cam0", ue.Device)
			assert.Equal(t, want, ue.Attempts)
			assert.Contains(t, err.Error(), "'cam0'")
			assert.Len(t, m.History(VideoKey("cam0")), want)
		})
	}
}

func TestVideoFallbackStopsAtFirstSuccess(t *testing.T) {
	m := NewManager(noDelay(DefaultConfig()))

	var tried []VideoConfig
	v, cfg, err := TryVideoDevice(context.Background(), m, "screen0", func(c VideoConfig) (string, error) {
		tried = append(tried, c)
		if c.Format != media.PixelFormatRGB24 {
			return "", errBusy
		}
		return "opened", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "opened", v)
	assert.Equal(t, 1280, cfg.Width)
	assert.Len(t, tried, 2)

	history := m.History(VideoKey("screen0"))
	require.Len(t, history, 1)
	assert.Equal(t, "screen0", history[0].DeviceID)
	assert.Equal(t, "BGRA 1920x1080@30", history[0].Config)
	assert.ErrorIs(t, history[0].Err, errBusy)

	m.ClearHistory(VideoKey("screen0"))
	assert.Empty(t, m.History(VideoKey("screen0")))
}

func TestAudioCandidatesOrder(t *testing.T) {
	cfg := DefaultConfig()
	c := cfg.AudioCandidates()
	require.Len(t, c, 8)
	assert.Equal(t, AudioConfig{SampleRate: 48000, Channels: 2}, c[0])
	assert.Equal(t, AudioConfig{SampleRate: 48000, Channels: 1}, c[1])
	assert.Equal(t, AudioConfig{SampleRate: 44100, Channels: 2}, c[2])

	first := cfg.WithAudioFirst(AudioConfig{SampleRate: 44100, Channels: 1}).AudioCandidates()
	assert.Equal(t, AudioConfig{SampleRate: 44100, Channels: 1}, first[0])
	assert.Len(t, first, 8)
}

func TestAudioFallbackRecordsUnderName(t *testing.T) {
	cfg := noDelay(DefaultConfig())
	cfg.MaxRetryAttempts = 4
	var reported []int
	m := NewManager(cfg, WithReporter(ReporterFunc(func(kind string, a Attempt, n int) {
		assert.Equal(t, "audio", kind)
		reported = append(reported, n)
	})))

	_, got, err := TryAudioDevice(context.Background(), m, "Built-in Mic", func(c AudioConfig) (struct{}, error) {
		if c.SampleRate == 44100 && c.Channels == 2 {
			return struct{}{}, nil
		}
		return struct{}{}, errBusy
	})
	require.NoError(t, err)
	assert.Equal(t, AudioConfig{SampleRate: 44100, Channels: 2}, got)
	assert.Equal(t, []int{1, 2}, reported)
	assert.Len(t, m.History(AudioKey("Built-in Mic")), 2)
}

func TestMinimumsFilterVideoCandidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWidth = 1280
	cfg.MinHeight = 720
	c := cfg.VideoCandidates()
	require.Len(t, c, 2)
	assert.Equal(t, media.PixelFormatRGB24, c[1].Format)
}

func TestRetryDelayBetweenAttempts(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(0, 0))
	cfg := DefaultConfig()
	m := NewManager(cfg, WithClock(fc))

	done := make(chan error, 1)
	go func() {
		_, _, err := TryVideoDevice(context.Background(), m, "cam", func(VideoConfig) (int, error) {
			return 0, errBusy
		})
		done <- err
	}()

	// two delays separate three attempts
	for i := 0; i < 2; i++ {
		require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
		fc.Step(cfg.RetryDelay)
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeviceUnreachable)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback did not finish")
	}
	assert.False(t, fc.HasWaiters())
}

func TestRetryDelayHonorsCancellation(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(0, 0))
	m := NewManager(DefaultConfig(), WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := TryVideoDevice(ctx, m, "cam", func(VideoConfig) (int, error) {
			return 0, errBusy
		})
		done <- err
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrDeviceUnreachable))
}

func TestSameDeviceIsSerialized(t *testing.T) {
	m := NewManager(noDelay(DefaultConfig()))

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = TryVideoDevice(context.Background(), m, "cam", func(VideoConfig) (int, error) {
				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return 1, nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
