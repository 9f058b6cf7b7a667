package convert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
)

var (
	// ErrQueueFull is returned by Submit when the input queue has no room.
	// The frame has been dropped and counted.
	ErrQueueFull = errors.New("converter pool input queue full")
	// ErrPoolShutdown is returned once the pool stopped accepting work.
	ErrPoolShutdown = errors.New("converter pool shut down")
	// ErrTimeout is returned by RecvTimeout when no result arrived in time.
	ErrTimeout = errors.New("converter pool receive timeout")
)

// DropStrategy decides which result is discarded when the output queue is full.
type DropStrategy int

const (
	// DropOldest evicts the oldest queued result to make room for the new one.
	DropOldest DropStrategy = iota
	// DropNewest discards the result that does not fit.
	DropNewest
)

func (d DropStrategy) String() string {
	if d == DropNewest {
		return "drop-newest"
	}
	return "drop-oldest"
}

// ParseDropStrategy accepts "drop-oldest"/"oldest" and "drop-newest"/"newest".
func ParseDropStrategy(s string) (DropStrategy, error) {
	switch s {
	case "drop-oldest", "oldest", "":
		return DropOldest, nil
	case "drop-newest", "newest":
		return DropNewest, nil
	}
	return DropOldest, errors.Errorf("unknown drop strategy %q", s)
}

// PoolConfig sizes a conversion pool.
type PoolConfig struct {
	Workers        int
	InputCapacity  int
	OutputCapacity int
	DropStrategy   DropStrategy
}

// DefaultPoolConfig returns two workers with eight-slot queues.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, InputCapacity: 8, OutputCapacity: 8, DropStrategy: DropOldest}
}

// Converted is one result delivered by the pool.
type Converted struct {
	Frame    *media.VideoFrame
	Sequence uint64
}

// Stats is a consistent snapshot of the pool counters.
// Received == Converted + Dropped + InFlight holds for every snapshot.
type Stats struct {
	Received  uint64
	Converted uint64
	Dropped   uint64
	InFlight  uint64
}

// DrainResult summarizes a drain.
type DrainResult struct {
	Delivered int
	TimedOut  bool
	Stats     Stats
}

type job struct {
	frame *media.VideoFrame
	seq   uint64
}

// Pool runs conversions on a fixed set of workers. Submit never blocks.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger

	// mu guards closed and the input channel against send-after-close
	mu     sync.RWMutex
	closed bool
	input  chan job
	output chan Converted
	done   chan struct{}
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats

	errOnce sync.Once
	err     error
}

// NewPool starts a pool whose workers each get their own converter from
// factory, for backends that cannot be shared between goroutines.
func NewPool(cfg PoolConfig, factory func(worker int) (Converter, error)) (*Pool, error) {
	cfg = normalize(cfg)
	converters := make([]Converter, cfg.Workers)
	for i := range converters {
		c, err := factory(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create converter for worker %d", i)
		}
		converters[i] = c
	}
	return start(cfg, converters), nil
}

// NewSharedPool starts a pool whose workers all use conv, which must be safe
// for concurrent use.
func NewSharedPool(cfg PoolConfig, conv Converter) *Pool {
	cfg = normalize(cfg)
	converters := make([]Converter, cfg.Workers)
	for i := range converters {
		converters[i] = conv
	}
	return start(cfg, converters)
}

func normalize(cfg PoolConfig) PoolConfig {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.InputCapacity <= 0 {
		cfg.InputCapacity = def.InputCapacity
	}
	if cfg.OutputCapacity <= 0 {
		cfg.OutputCapacity = def.OutputCapacity
	}
	return cfg
}

func start(cfg PoolConfig, converters []Converter) *Pool {
	p := &Pool{
		cfg:    cfg,
		logger: util.ComponentLogger("converter_pool"),
		input:  make(chan job, cfg.InputCapacity),
		output: make(chan Converted, cfg.OutputCapacity),
		done:   make(chan struct{}),
	}
	for i, c := range converters {
		p.wg.Add(1)
		go p.worker(i, c)
	}
	p.logger.Info("Converter pool started", "workers", cfg.Workers, "input", cfg.InputCapacity, "output", cfg.OutputCapacity, "strategy", cfg.DropStrategy.String())
	return p
}

// Submit queues a frame for conversion without blocking. A full queue drops
// the frame and returns ErrQueueFull.
func (p *Pool) Submit(f *media.VideoFrame, seq uint64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolShutdown
	}

	p.statsMu.Lock()
	p.stats.Received++
	p.stats.InFlight++
	p.statsMu.Unlock()

	select {
	case p.input <- job{frame: f, seq: seq}:
		return nil
	default:
		p.count(func(s *Stats) { s.InFlight--; s.Dropped++ })
		return ErrQueueFull
	}
}

func (p *Pool) count(fn func(*Stats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Err returns the first converter panic, if any. A panicking converter is a
// stream-fatal condition for the session.
func (p *Pool) Err() error {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.err
}

func (p *Pool) worker(id int, conv Converter) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j, ok := <-p.input:
			if !ok {
				return
			}
			p.process(id, conv, j)
		}
	}
}

func (p *Pool) process(id int, conv Converter, j job) {
	out, err := p.convert(conv, j.frame)
	if err != nil {
		p.logger.Debug("Conversion failed, dropping frame", "worker", id, "seq", j.seq, "error", err)
		p.count(func(s *Stats) { s.InFlight--; s.Dropped++ })
		return
	}
	out.Sequence = j.seq
	p.deliver(Converted{Frame: out, Sequence: j.seq})
}

func (p *Pool) convert(conv Converter, f *media.VideoFrame) (out *media.VideoFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("converter panic: %v", r)
			p.errOnce.Do(func() {
				p.statsMu.Lock()
				p.err = err
				p.statsMu.Unlock()
			})
		}
	}()
	return conv.Convert(f)
}

// deliver pushes a result, applying the drop strategy when the output is full.
func (p *Pool) deliver(c Converted) {
	for {
		select {
		case p.output <- c:
			p.count(func(s *Stats) { s.InFlight--; s.Converted++ })
			return
		default:
		}

		if p.cfg.DropStrategy == DropNewest {
			p.count(func(s *Stats) { s.InFlight--; s.Dropped++ })
			return
		}

		select {
		case old := <-p.output:
			// the evicted result was already counted as converted
			p.count(func(s *Stats) { s.Converted--; s.Dropped++ })
			p.logger.Debug("Output queue full, evicted oldest result", "seq", old.Sequence)
		default:
			// a consumer made room in the meantime
		}
	}
}

// TryRecv returns a converted frame if one is ready.
func (p *Pool) TryRecv() (Converted, bool) {
	select {
	case c, ok := <-p.output:
		return c, ok
	default:
		return Converted{}, false
	}
}

// Recv blocks until a result is ready, the pool is drained, or ctx ends.
func (p *Pool) Recv(ctx context.Context) (Converted, error) {
	select {
	case c, ok := <-p.output:
		if !ok {
			return Converted{}, ErrPoolShutdown
		}
		return c, nil
	case <-ctx.Done():
		return Converted{}, ctx.Err()
	}
}

// RecvTimeout is Recv with a deadline.
func (p *Pool) RecvTimeout(d time.Duration) (Converted, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case c, ok := <-p.output:
		if !ok {
			return Converted{}, ErrPoolShutdown
		}
		return c, nil
	case <-t.C:
		return Converted{}, ErrTimeout
	}
}

// Output exposes the result channel for select loops. It is closed after a drain.
func (p *Pool) Output() <-chan Converted { return p.output }

// DrainWithTimeout stops accepting input and hands every result produced
// before the deadline to handler. Workers are then stopped, input they never
// reached is counted as dropped, and results already queued are flushed to
// handler. After it returns every submitted frame is converted or dropped.
func (p *Pool) DrainWithTimeout(handler func(Converted), timeout time.Duration) DrainResult {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return DrainResult{Stats: p.Stats()}
	}
	p.closed = true
	close(p.input)
	p.mu.Unlock()

	var res DrainResult
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

drain:
	for {
		select {
		case c := <-p.output:
			handler(c)
			res.Delivered++
			continue
		default:
		}
		if p.Stats().InFlight == 0 {
			break
		}
		select {
		case c := <-p.output:
			handler(c)
			res.Delivered++
		case <-tick.C:
		case <-deadline.C:
			res.TimedOut = true
			break drain
		}
	}

	close(p.done)
	p.wg.Wait()

	for range p.input {
		p.count(func(s *Stats) { s.InFlight--; s.Dropped++ })
	}
	close(p.output)
	for c := range p.output {
		handler(c)
		res.Delivered++
	}

	res.Stats = p.Stats()
	if res.TimedOut {
		p.logger.Warn("Converter pool drain timed out", "delivered", res.Delivered, "dropped", res.Stats.Dropped)
	} else {
		p.logger.Info("Converter pool drained", "delivered", res.Delivered, "converted", res.Stats.Converted, "dropped", res.Stats.Dropped)
	}
	return res
}

// Close stops the pool without delivering pending results.
func (p *Pool) Close() {
	p.DrainWithTimeout(func(Converted) {}, 0)
}
