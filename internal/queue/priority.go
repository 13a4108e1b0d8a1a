package queue

import (
	"container/heap"
	"context"
	"sync"
)

// Less reports whether a must leave the queue before b.
type Less[T any] func(a, b T) bool

// Priority is a thread-safe unbounded priority queue ordered by a Less
// function. Items that compare equal leave in insertion order.
type Priority[T any] struct {
	mu     sync.Mutex
	h      *itemHeap[T]
	seq    uint64
	closed bool
	signal chan struct{}
}

// NewPriority creates an empty priority queue.
func NewPriority[T any](less Less[T]) *Priority[T] {
	return &Priority[T]{
		h:      &itemHeap[T]{less: less},
		signal: make(chan struct{}, 1),
	}
}

// Push inserts v. Returns false if the queue is closed.
func (q *Priority[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.seq++
	heap.Push(q.h, entry[T]{v: v, seq: q.seq})

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the highest-priority item without blocking.
func (q *Priority[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(q.h).(entry[T]).v, true
}

// Pop removes the highest-priority item, blocking until one is available.
// Returns false once the queue is closed and drained, or ctx is done.
func (q *Priority[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, true
		}
		q.mu.Lock()
		done := q.closed && q.h.Len() == 0
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
func (q *Priority[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Close stops accepting items and wakes blocked consumers.
func (q *Priority[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

type entry[T any] struct {
	v   T
	seq uint64
}

type itemHeap[T any] struct {
	items []entry[T]
	less  Less[T]
}

func (h *itemHeap[T]) Len() int { return len(h.items) }

func (h *itemHeap[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.less(a.v, b.v) {
		return true
	}
	if h.less(b.v, a.v) {
		return false
	}
	return a.seq < b.seq
}

func (h *itemHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *itemHeap[T]) Push(x any) { h.items = append(h.items, x.(entry[T])) }

func (h *itemHeap[T]) Pop() any {
	n := len(h.items)
	v := h.items[n-1]
	h.items[n-1] = entry[T]{}
	h.items = h.items[:n-1]
	return v
}
