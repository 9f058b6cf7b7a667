package source

import (
	"sync"
	"sync/atomic"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
)

// Captured is one frame as the hardware delivered it, with the raw clock
// reading taken when it arrived.
type Captured[F any] struct {
	Frame   F
	Reading clock.Reading
}

// Driver wraps one opened capture device. Frames is closed when the device
// stops producing; Err then tells why.
type Driver[F any] interface {
	Frames() <-chan Captured[F]
	// Suspend pauses the hardware without releasing it.
	Suspend() error
	Resume() error
	Close() error
	Err() error
}

type VideoDriver interface {
	Driver[*media.VideoFrame]
	Info() media.VideoInfo
}

type AudioDriver interface {
	Driver[*media.AudioFrame]
	Info() media.AudioInfo
}

// pump is the channel plumbing shared by the drivers. A driver starts
// suspended.
type pump[F any] struct {
	frames    chan Captured[F]
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	suspended atomic.Bool

	mu  sync.Mutex
	err error
}

func newPump[F any](depth int) *pump[F] {
	if depth < 1 {
		depth = 4
	}
	p := &pump[F]{frames: make(chan Captured[F], depth), stop: make(chan struct{})}
	p.suspended.Store(true)
	return p
}

func (p *pump[F]) Frames() <-chan Captured[F] { return p.frames }

func (p *pump[F]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pump[F]) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// emit blocks until the frame is queued or the driver is stopping.
func (p *pump[F]) emit(c Captured[F]) bool {
	select {
	case p.frames <- c:
		return true
	case <-p.stop:
		return false
	}
}

// run starts the producer goroutine; frames is closed when it returns.
func (p *pump[F]) run(produce func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.frames)
		produce()
	}()
}

func (p *pump[F]) shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}
