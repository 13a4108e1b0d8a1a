// Package queue provides the two unbounded queues used across tandem: a
// FIFO for per-peer outbound traffic and a priority queue for event
// dispatch and logging.
//
// Both queues signal availability through a buffered channel of size one
// so that consumers can block on it together with a context.
package queue

import (
	"context"
	"sync"
)

// FIFO is a thread-safe unbounded first-in first-out queue.
//
// Enqueue never blocks. Dequeue blocks until an item is available, the
// queue is closed, or the context is cancelled. With a single consumer,
// items come out in enqueue order.
type FIFO[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewFIFO creates an empty queue.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends v. Returns false if the queue is closed.
func (q *FIFO[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, v)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *FIFO[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	// Clear the slot so the backing array does not pin v.
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return v, true
}

// Dequeue removes the front item, blocking until one is available.
// Returns false once the queue is closed and drained, or ctx is done.
func (q *FIFO[T]) Dequeue(ctx context.Context) (T, bool) {
	for {
		if v, ok := q.TryDequeue(); ok {
			return v, true
		}
		q.mu.Lock()
		done := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if done {
			var zero T
			return zero, false
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.signal:
		}
	}
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes blocked consumers. Items already
// queued can still be dequeued.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *FIFO[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
