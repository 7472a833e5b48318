package feed

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rustyeddy/robusta/market"
)

var (
	ErrQueueFull   = errors.New("bar queue full")
	ErrQueueClosed = errors.New("bar queue closed")
)

// Queue is the bounded single-consumer hand-off between live ingestion and
// the engine. Producers never block.
type Queue struct {
	ch     chan market.Bar
	closed uint32
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan market.Bar, capacity)}
}

// TryPublish enqueues b without blocking.
func (q *Queue) TryPublish(b market.Bar) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting bars. Queued bars are still delivered.
// Close must not race with TryPublish from another goroutine.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Next blocks for the next bar. It returns ok=false once the queue is closed
// and drained.
func (q *Queue) Next(ctx context.Context) (market.Bar, bool, error) {
	select {
	case <-ctx.Done():
		return market.Bar{}, false, ctx.Err()
	case b, ok := <-q.ch:
		return b, ok, nil
	}
}

// Len is the number of queued bars.
func (q *Queue) Len() int { return len(q.ch) }
