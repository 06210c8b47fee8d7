package engine

import (
	"sync"

	"github.com/roach88/repairsync/internal/chain"
)

// Origin tells which producer delivered a log.
type Origin string

const (
	OriginBackfill Origin = "backfill"
	OriginLive     Origin = "live"
)

// item is one unit of work for the apply loop: a log to apply, or a barrier
// that is closed once everything queued before it has been applied.
type item struct {
	log     chain.Log
	origin  Origin
	barrier chan struct{}
}

// eventQueue is an unbounded FIFO between the producers (backfill and the
// live subscription) and the single apply loop.
//
// The queue is unbounded so a large backfill never blocks the live stream,
// and the live stream never blocks block production on the node.
//
// Thread-safety: Enqueue may be called from any goroutine; only the apply
// loop dequeues.
type eventQueue struct {
	mu     sync.Mutex
	items  []item
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]item, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds it to the back of the queue. Returns false once the queue is
// closed.
func (q *eventQueue) Enqueue(it item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, it)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *eventQueue) TryDequeue() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]

	// Release the log data for GC.
	q.items[0] = item{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

// Wait returns a channel that fires when items may be available. It is
// closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes the apply loop. Barriers still
// queued are released so no waiter hangs.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, it := range q.items {
		if it.barrier != nil {
			close(it.barrier)
		}
	}
	q.items = nil
	close(q.signal)
}
