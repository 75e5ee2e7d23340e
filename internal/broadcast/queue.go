package broadcast

import (
	"sync"

	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// deliveryQueue is the bounded outbound buffer owned by one connection.
//
// Overflow policy: drop-oldest. A live audience values the newest traffic, so
// when the buffer is full the head is evicted to make room and the publish
// call returns immediately. Push never blocks the caller.
type deliveryQueue struct {
	mu       sync.Mutex
	items    []schema.Transmission
	capacity int
	dropped  uint64
	closed   bool

	// notify carries at most one pending wakeup for the delivery loop.
	notify chan struct{}
}

func newDeliveryQueue(capacity int) *deliveryQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &deliveryQueue{
		items:    make([]schema.Transmission, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends a transmission, evicting the oldest entry when full. It reports
// whether an eviction occurred. Pushing to a closed queue is a no-op.
func (q *deliveryQueue) push(tx schema.Transmission) (evicted bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.items) >= q.capacity {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, tx)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// pop removes and returns the oldest queued transmission.
func (q *deliveryQueue) pop() (schema.Transmission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return schema.Transmission{}, false
	}
	tx := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return tx, true
}

// len reports the number of queued transmissions.
func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// droppedCount reports how many transmissions overflow has evicted.
func (q *deliveryQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// close rejects all further pushes and wakes the delivery loop so it can
// observe the closed state. Remaining items stay poppable for draining.
func (q *deliveryQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *deliveryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
