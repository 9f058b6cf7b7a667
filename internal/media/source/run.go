package source

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/control"
	"github.com/pkg/errors"
)

// RunParams wires a source into a session.
type RunParams[F any] struct {
	Clock clock.Synchronizer
	// Ready receives exactly one value: nil once the device is armed, or
	// the error that kept it from arming. It should be buffered.
	Ready   chan<- error
	Control *control.Broadcaster
	Output  *Queue[F]
}

// Stats counts what a source did with captured frames.
type Stats struct {
	Emitted  uint64 `json:"emitted"`
	Dropped  uint64 `json:"dropped"`
	Unsynced uint64 `json:"unsynced"`
}

type counters struct {
	emitted, dropped, unsynced atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{Emitted: c.emitted.Load(), Dropped: c.dropped.Load(), Unsynced: c.unsynced.Load()}
}

func signalReady(ctx context.Context, ready chan<- error, err error) {
	if ready == nil {
		return
	}
	select {
	case ready <- err:
	case <-ctx.Done():
	}
}

// runLoop drives one driver until Shutdown, context cancellation, a closed
// sink or a driver failure. Only the driver failure is returned as an error.
func runLoop[F any](ctx context.Context, logger *slog.Logger, drv Driver[F], p RunParams[F], stamp func(F, media.Timestamp), stats *counters) (err error) {
	if p.Clock == nil || p.Control == nil || p.Output == nil {
		err := errors.New("source run parameters incomplete")
		signalReady(ctx, p.Ready, err)
		return err
	}
	defer p.Output.CloseSend()
	defer func() {
		if cerr := drv.Close(); cerr != nil && err == nil {
			logger.Debug("Driver close failed", "error", cerr)
		}
	}()

	rx := p.Control.Subscribe()
	sig := rx.Latest()
	apply := func(s control.Signal) error {
		switch s {
		case control.Play:
			return drv.Resume()
		case control.Pause:
			return drv.Suspend()
		}
		return nil
	}
	if sig == control.Shutdown {
		signalReady(ctx, p.Ready, nil)
		return nil
	}
	if err := apply(sig); err != nil {
		err = errors.Wrap(err, "failed to arm capture device")
		signalReady(ctx, p.Ready, err)
		return err
	}
	signalReady(ctx, p.Ready, nil)
	logger.Debug("Source armed", "signal", sig.String())

	frames := drv.Frames()
	for {
		select {
		case <-ctx.Done():
			drv.Suspend()
			logger.Debug("Source cancelled")
			return nil

		case <-rx.Changed():
			sig = rx.Latest()
			if sig == control.Shutdown {
				drv.Suspend()
				logger.Debug("Source shut down", "stats", stats.snapshot())
				return nil
			}
			if err := apply(sig); err != nil {
				return errors.Wrapf(err, "failed to %s capture device", sig)
			}
			logger.Debug("Source control changed", "signal", sig.String())

		case <-p.Output.Gone():
			drv.Suspend()
			logger.Debug("Sink closed, source exiting")
			return nil

		case c, ok := <-frames:
			if !ok {
				if derr := drv.Err(); derr != nil {
					return errors.Wrap(derr, "capture device stopped")
				}
				return errors.New("capture device stopped unexpectedly")
			}
			if sig != control.Play {
				continue
			}
			ts, ok := p.Clock.TimestampFor(c.Reading)
			if !ok {
				stats.unsynced.Add(1)
				continue
			}
			stamp(c.Frame, ts)
			sent, serr := p.Output.TrySend(c.Frame)
			switch {
			case serr != nil:
				drv.Suspend()
				logger.Debug("Sink closed, source exiting")
				return nil
			case sent:
				stats.emitted.Add(1)
			default:
				stats.dropped.Add(1)
			}
		}
	}
}
