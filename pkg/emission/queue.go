package emission

import (
	"sync"

	"github.com/Mindburn-Labs/fabric/pkg/receipts"
)

// pending is one receipt awaiting background delivery.
type pending struct {
	receipt    *receipts.Receipt
	hash       string
	queuedAt   string
	retryCount int
}

// overflowQueue is the bounded FIFO holding receipts that exhausted their
// foreground retries. On overflow the oldest entry is dropped: fresher audit
// is worth more than stale audit once we are already degraded. A content
// hash suppresses duplicate enqueues of the identical payload.
type overflowQueue struct {
	mu       sync.Mutex
	items    []pending
	queued   map[string]bool
	capacity int
	dropped  int64
}

func newOverflowQueue(capacity int) *overflowQueue {
	if capacity < 1 {
		capacity = 1000
	}
	return &overflowQueue{
		queued:   make(map[string]bool),
		capacity: capacity,
	}
}

// push appends an entry, dropping the oldest when full. Returns false if an
// identical payload is already waiting.
func (q *overflowQueue) push(item pending) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.hash != "" && q.queued[item.hash] {
		return false
	}
	if len(q.items) >= q.capacity {
		evicted := q.items[0]
		q.items = q.items[1:]
		delete(q.queued, evicted.hash)
		q.dropped++
	}
	q.items = append(q.items, item)
	if item.hash != "" {
		q.queued[item.hash] = true
	}
	return true
}

// pop removes and returns up to n entries from the front.
func (q *overflowQueue) pop(n int) []pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]pending, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	for _, item := range batch {
		delete(q.queued, item.hash)
	}
	return batch
}

func (q *overflowQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *overflowQueue) droppedTotal() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
