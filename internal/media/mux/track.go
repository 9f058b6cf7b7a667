package mux

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// track serializes the frames of one stream and enforces strictly
// increasing timestamps.
type track[F any] struct {
	mu      sync.Mutex
	kind    string
	enc     encoder.Encoder[F]
	started bool
	last    time.Duration
	stats   TrackStats
}

func newTrack[F any](kind string, enc encoder.Encoder[F]) *track[F] {
	return &track[F]{kind: kind, enc: enc}
}

// admit decides whether a frame at ts is written. Callers hold t.mu.
func (t *track[F]) admit(ts time.Duration, paused *atomic.Bool) bool {
	if paused != nil && paused.Load() {
		t.stats.Paused++
		return false
	}
	if t.started && ts <= t.last {
		t.stats.OutOfOrder++
		return false
	}
	return true
}

// accept records a written frame. Callers hold t.mu.
func (t *track[F]) accept(ts time.Duration) {
	t.started = true
	t.last = ts
	t.stats.Accepted++
	t.stats.Last = ts
}

func (t *track[F]) snapshot() *TrackStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	return &s
}

// encodeWithRetry encodes one frame and hands every packet to write. A busy
// encoder is retried after delay, at most retries times.
func encodeWithRetry[F any](enc encoder.Encoder[F], frame F, ts time.Duration, retries int, delay time.Duration, stats *TrackStats, write func([]encoder.Packet) error) error {
	for attempt := 0; ; attempt++ {
		before := discards(enc)
		pkts, err := enc.Encode(frame, ts)
		stats.Discarded += discards(enc) - before
		if len(pkts) > 0 {
			if werr := write(pkts); werr != nil {
				stats.Failed++
				return werr
			}
			stats.Packets += uint64(len(pkts))
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, encoder.ErrBusy):
			if attempt >= retries {
				stats.Failed++
				return errors.Wrapf(err, "still busy after %d retries", retries)
			}
			stats.BusyRetries++
			time.Sleep(delay)
		default:
			stats.Failed++
			return errors.Wrap(err, "encode failed")
		}
	}
}

// flushEncoder drains an encoder into write and closes it.
func flushEncoder[F any](enc encoder.Encoder[F], stats *TrackStats, write func([]encoder.Packet) error) error {
	before := discards(enc)
	pkts, err := enc.Flush()
	stats.Discarded += discards(enc) - before
	if len(pkts) > 0 {
		if werr := write(pkts); werr != nil {
			err = multierr.Append(err, werr)
		} else {
			stats.Packets += uint64(len(pkts))
		}
	}
	if cerr := enc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func discards(enc any) uint64 {
	if d, ok := enc.(encoder.Discarder); ok {
		return d.Discarded()
	}
	return 0
}
