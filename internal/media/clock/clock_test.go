package clock

import (
	"testing"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var origin = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestStoppedSessionYieldsNoTimestamp(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	s := NewSession(fc)
	c := s.RealTime()

	_, ok := c.TimestampFor(Instant(fc.Now()))
	assert.False(t, ok)

	s.Start()
	_, ok = c.TimestampFor(Instant(fc.Now()))
	assert.True(t, ok)

	s.Stop()
	_, ok = c.TimestampFor(Instant(fc.Now()))
	assert.False(t, ok)
}

func TestRealTimeClockFollowsReadings(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	s := NewSession(fc)
	s.Start()

	c := s.RealTime()
	first := fc.Now()
	ts, ok := c.TimestampFor(Instant(first))
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(0), ts)

	fc.Step(40 * time.Millisecond)
	ts, ok = c.TimestampFor(Instant(first.Add(33 * time.Millisecond)))
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(33*time.Millisecond), ts)
}

func TestLateJoiningSourceIsOffset(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	s := NewSession(fc)
	s.Start()

	fc.Step(250 * time.Millisecond)
	mic := s.RealTime()
	ts, ok := mic.TimestampFor(Samples{Count: 4800, Rate: 48000})
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(250*time.Millisecond), ts)

	ts, ok = mic.TimestampFor(Samples{Count: 9600, Rate: 48000})
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(350*time.Millisecond), ts)
}

func TestTimestampsNeverDecrease(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	s := NewSession(fc)
	s.Start()
	c := s.RealTime()

	readings := []HostNanos{1000, 5000, 3000, 9000, 8999, 12000}
	var prev media.Timestamp
	for i, r := range readings {
		ts, ok := c.TimestampFor(r)
		require.True(t, ok)
		if i > 0 {
			assert.GreaterOrEqual(t, ts, prev, "reading %d", i)
		}
		prev = ts
	}
	assert.Equal(t, media.Timestamp(11000), prev)
}

func TestPauseResumeContinuesTimeline(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	s := NewSession(fc)
	c := s.RealTime()

	s.Start()
	base := fc.Now()
	_, ok := c.TimestampFor(Instant(base))
	require.True(t, ok)

	fc.Step(2 * time.Second)
	ts, ok := c.TimestampFor(Instant(base.Add(2 * time.Second)))
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(2*time.Second), ts)

	s.Stop()
	assert.Equal(t, 2*time.Second, s.ResumeOffset())

	// paused for a while; nothing is recorded
	fc.Step(10 * time.Second)
	_, ok = c.TimestampFor(Instant(fc.Now()))
	assert.False(t, ok)

	s.Start()
	resumed := fc.Now()
	ts, ok = c.TimestampFor(Instant(resumed))
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(2*time.Second), ts, "resumes where the container left off")

	fc.Step(time.Second)
	ts, ok = c.TimestampFor(Instant(resumed.Add(time.Second)))
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(3*time.Second), ts)
	assert.Equal(t, 3*time.Second, s.Elapsed())
}

func TestStartStopAreIdempotent(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	s := NewSession(fc)

	s.Start()
	fc.Step(time.Second)
	s.Start()
	s.Stop()
	s.Stop()
	assert.Equal(t, time.Second, s.ResumeOffset())
	assert.False(t, s.Running())
}

func TestHardwareClockSharesAnchor(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	host := func() HostNanos { return HostNanos(fc.Since(origin)) + 1_000_000 }

	s := NewSession(fc)
	hw := s.Hardware(host)
	screen := hw.Source()
	mic := hw.Source()

	s.Start()
	fc.Step(100 * time.Millisecond)

	// screen frame captured now, stamped in the hardware domain
	ts, ok := screen.TimestampFor(host())
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(100*time.Millisecond), ts)

	fc.Step(20 * time.Millisecond)
	// microphone buffer captured 10ms ago by the wall clock
	ts, ok = mic.TimestampFor(Instant(fc.Now().Add(-10 * time.Millisecond)))
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(110*time.Millisecond), ts)

	// screen frame from before the anchor is clamped to the run start
	ts, ok = screen.TimestampFor(HostNanos(0))
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(100*time.Millisecond), ts)
}

func TestHardwareClockAcrossPause(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	host := func() HostNanos { return HostNanos(fc.Since(origin)) }

	s := NewSession(fc)
	src := s.Hardware(host).Source()

	s.Start()
	_, ok := src.TimestampFor(host())
	require.True(t, ok)
	fc.Step(time.Second)
	ts, _ := src.TimestampFor(host())
	assert.Equal(t, media.Timestamp(time.Second), ts)

	s.Stop()
	fc.Step(5 * time.Second)
	_, ok = src.TimestampFor(host())
	assert.False(t, ok)

	s.Start()
	ts, ok = src.TimestampFor(host())
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(time.Second), ts)
}

func TestHardwareSampleReadings(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	host := func() HostNanos { return HostNanos(fc.Since(origin)) }

	s := NewSession(fc)
	src := s.Hardware(host).Source()
	s.Start()

	ts, ok := src.TimestampFor(Samples{Count: 0, Rate: 48000})
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(0), ts)

	ts, ok = src.TimestampFor(Samples{Count: 24000, Rate: 48000})
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(500*time.Millisecond), ts)
}

func TestReadingKindsDoNotMix(t *testing.T) {
	assert.Zero(t, HostNanos(10).Since(Instant(origin)))
	assert.Zero(t, Samples{Count: 10, Rate: 0}.Since(Samples{}))
	assert.Equal(t, time.Second, Instant(origin.Add(time.Second)).Since(Instant(origin)))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeRealTime},
		{in: "RealTime", want: ModeRealTime},
		{in: "hardware", want: ModeHardware},
		{in: " host ", want: ModeHardware},
		{in: "ptp", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSynchronizersByMode(t *testing.T) {
	fc := testingclock.NewFakeClock(origin)
	host := func() HostNanos { return HostNanos(fc.Since(origin)) }
	s := NewSession(fc)

	assert.IsType(t, &RealTimeClock{}, s.Synchronizers(ModeRealTime, host)())

	next := s.Synchronizers(ModeHardware, host)
	screen, mic := next(), next()
	require.IsType(t, &HardwareSource{}, screen)
	assert.Same(t, screen.(*HardwareSource).hw, mic.(*HardwareSource).hw, "one anchor per session")

	s.Start()
	fc.Step(40 * time.Millisecond)
	ts, ok := screen.TimestampFor(host())
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(40*time.Millisecond), ts)

	fc.Step(10 * time.Millisecond)
	ts, ok = mic.TimestampFor(host())
	require.True(t, ok)
	assert.Equal(t, media.Timestamp(50*time.Millisecond), ts)
}
