package source

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrSinkClosed is returned by TrySend once the consumer has closed the queue.
var ErrSinkClosed = errors.New("sink closed")

// Queue is the bounded hand-off between a source and its consumer. The
// producer never blocks on it. Either side may end it: the consumer with
// Close when it no longer wants frames, the producer with CloseSend when it
// has no more.
type Queue[F any] struct {
	ch   chan F
	gone chan struct{}

	mu         sync.RWMutex
	closed     bool
	sendClosed bool
}

func NewQueue[F any](capacity int) *Queue[F] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[F]{ch: make(chan F, capacity), gone: make(chan struct{})}
}

// TrySend queues f without blocking. It reports false when the queue is full.
func (q *Queue[F]) TrySend(f F) (bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed || q.sendClosed {
		return false, ErrSinkClosed
	}
	select {
	case q.ch <- f:
		return true, nil
	default:
		return false, nil
	}
}

// C is the receive side. It is closed after CloseSend.
func (q *Queue[F]) C() <-chan F { return q.ch }

// Gone is closed once the consumer has called Close.
func (q *Queue[F]) Gone() <-chan struct{} { return q.gone }

// Close tells the producer the consumer has gone away.
func (q *Queue[F]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.gone)
	}
}

// CloseSend ends the stream. Queued frames stay readable.
func (q *Queue[F]) CloseSend() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.sendClosed {
		q.sendClosed = true
		close(q.ch)
	}
}

// Len returns the number of queued frames.
func (q *Queue[F]) Len() int { return len(q.ch) }
