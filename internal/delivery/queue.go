package delivery

import (
	"context"
	"sync"
	"time"
)

type job struct {
	ev         Event
	ctx        context.Context
	enqueuedAt time.Time
}

// Queue is an unbounded FIFO safe for concurrent producers and a single
// consumer. Push never blocks and never rejects.
type Queue struct {
	mu    sync.Mutex
	items []job
	head  int
}

func (q *Queue) Push(j job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
}

// TryDequeue pops the head, or reports false when the queue is empty.
func (q *Queue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return job{}, false
	}
	j := q.items[q.head]
	q.items[q.head] = job{}
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.items):
		// Reclaim the consumed prefix once it dominates the backing array.
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return j, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.items) - q.head
	q.mu.Unlock()
	return n
}
