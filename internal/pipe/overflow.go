package pipe

import (
	"context"
	"sync"
)

// overflowQueue is a multi-producer multi-consumer FIFO without a fixed
// capacity. A positive limit caps it; zero means unbounded.
type overflowQueue[R any] struct {
	mu     sync.Mutex
	items  []R
	limit  int
	closed bool
	notify chan struct{}
}

func newOverflowQueue[R any](limit int) *overflowQueue[R] {
	return &overflowQueue[R]{limit: limit, notify: make(chan struct{}, 1)}
}

func (q *overflowQueue[R]) push(r R) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, r)
	q.signal()
	return nil
}

// pop blocks until an item is available, the queue is closed and drained,
// or ctx is done.
func (q *overflowQueue[R]) pop(ctx context.Context) (R, bool) {
	var zero R
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			} else {
				q.signal()
			}
			q.mu.Unlock()
			return r, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// signal wakes one waiting consumer. Callers hold mu. Once closed, the
// notify channel is closed and every waiter wakes on its own.
func (q *overflowQueue[R]) signal() {
	if q.closed {
		return
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *overflowQueue[R]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

// drain empties the queue and returns how many items it held.
func (q *overflowQueue[R]) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *overflowQueue[R]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
