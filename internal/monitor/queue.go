package monitor

import (
	"errors"
	"sync"
)

var (
	ErrEmpty        = errors.New("monitor: queue empty")
	ErrDisconnected = errors.New("monitor: queue disconnected")
)

// Queue is an unbounded one-way mailbox from the monitor to the
// dispatcher. Push never blocks. After Close, TryRecv drains what is left
// and then reports ErrDisconnected.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues ev. It reports false once the queue is closed.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, ev)
	return true
}

func (q *Queue) TryRecv() (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		if q.closed {
			return Event{}, ErrDisconnected
		}
		return Event{}, ErrEmpty
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return ev, nil
}

// Close marks the producer gone.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
