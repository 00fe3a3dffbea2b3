package feed

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO of events between the producer goroutine and the
// consumer. When full, Push discards the oldest event.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	head   int
	n      int
	err    error
	notify chan struct{}
	drops  uint64
}

// NewQueue creates a queue holding at most size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		items:  make([]Event, size),
		notify: make(chan struct{}, 1),
	}
}

// Push appends ev and reports whether an older event was dropped to make room.
// Pushing to a closed queue is a no-op.
func (q *Queue) Push(ev Event) (dropped bool) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return false
	}
	if q.n == len(q.items) {
		q.items[q.head] = Event{}
		q.head = (q.head + 1) % len(q.items)
		q.n--
		q.drops++
		dropped = true
	}
	q.items[(q.head+q.n)%len(q.items)] = ev
	q.n++
	q.mu.Unlock()

	q.wake()
	return dropped
}

// Pop blocks until an event is available, the queue is closed, or ctx is done.
// Events queued before Close are still delivered.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if q.n > 0 {
			ev := q.items[q.head]
			q.items[q.head] = Event{}
			q.head = (q.head + 1) % len(q.items)
			q.n--
			q.mu.Unlock()
			return ev, nil
		}
		err := q.err
		q.mu.Unlock()
		if err != nil {
			return Event{}, err
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Clear discards all queued events.
func (q *Queue) Clear() {
	q.mu.Lock()
	for i := range q.items {
		q.items[i] = Event{}
	}
	q.head, q.n = 0, 0
	q.mu.Unlock()
}

// Close marks the end of the stream. Pop returns err once the queue drains.
// Only the first call has effect.
func (q *Queue) Close(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.wake()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Drops returns how many events were discarded on overflow.
func (q *Queue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
