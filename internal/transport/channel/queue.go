// Package channel provides the in-process ingestion queue between the
// submission surfaces and the dispatch pool.
package channel

import (
	"errors"
	"sync"

	"github.com/0xlunar/sleepy-webhooks/internal/domain"
)

// ErrQueueClosed is returned by Send once the consumer has gone away.
var ErrQueueClosed = errors.New("ingestion queue closed: dispatcher is not running")

// MetricsSink defines the interface for recording queue metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	QueueDepthUpdate(depth int)
	QueueSendRejected()
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics attaches a metrics sink to the queue.
func WithMetrics(m MetricsSink) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue is an unbounded many-producer, single-consumer FIFO of pool items.
// Send never blocks; the consumer polls with TryReceive.
type Queue struct {
	mu      sync.Mutex
	items   []*domain.PoolItem
	closed  bool
	metrics MetricsSink // optional, nil = disabled
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send appends item to the queue. It returns ErrQueueClosed after Close.
func (q *Queue) Send(item *domain.PoolItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.QueueSendRejected()
		}
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepthUpdate(depth)
	}
	return nil
}

// TryReceive pops the oldest item without blocking. ok is false when the
// queue is currently empty.
func (q *Queue) TryReceive() (item *domain.PoolItem, ok bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	item = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	depth := len(q.items)
	if depth == 0 {
		// release the backing array once drained
		q.items = nil
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepthUpdate(depth)
	}
	return item, true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the consumer as gone. Items still queued are returned so the
// caller can account for them. Close is idempotent.
func (q *Queue) Close() []*domain.PoolItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.items
	q.items = nil
	return rest
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
