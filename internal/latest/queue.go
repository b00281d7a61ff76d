// Package latest provides a bounded, non-blocking queue whose consumers
// only care about the most recent value.
package latest

import (
	"context"
	"sync"
	"time"
)

// Stats is a snapshot of queue counters.
type Stats struct {
	Puts    uint64 `json:"puts"`
	Takes   uint64 `json:"takes"`
	Dropped uint64 `json:"dropped"` // overwritten on Put or superseded on Take
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
}

// Queue holds at most cap values. Put never blocks: when the queue is full
// the oldest value is discarded. Takes drain the queue and return the newest
// value, so stale entries never reach the consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	cap    int
	notify chan struct{}

	puts    uint64
	takes   uint64
	dropped uint64
}

// New creates a queue holding up to capacity values (minimum 1).
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:  make([]T, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Put stores v, evicting the oldest value if the queue is full.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	if len(q.items) == q.cap {
		var zero T
		q.items[0] = zero
		q.items = append(q.items[:0], q.items[1:]...)
		q.dropped++
	}
	q.items = append(q.items, v)
	q.puts++
	q.mu.Unlock()

	// Wake a waiting consumer (non-blocking)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TakeLatest empties the queue and returns the most recently put value.
// ok is false when the queue was empty.
func (q *Queue[T]) TakeLatest() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

// TakeBlocking waits up to timeout for a value, then behaves like
// TakeLatest. ok is false on timeout or when ctx is done; neither is an
// error for callers.
func (q *Queue[T]) TakeBlocking(ctx context.Context, timeout time.Duration) (v T, ok bool) {
	if v, ok = q.TakeLatest(); ok {
		return v, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return v, false
		case <-timer.C:
			// A Put may have raced with the timer
			return q.TakeLatest()
		case <-q.notify:
			if v, ok = q.TakeLatest(); ok {
				return v, true
			}
		}
	}
}

func (q *Queue[T]) drainLocked() (v T, ok bool) {
	n := len(q.items)
	if n == 0 {
		return v, false
	}
	v = q.items[n-1]
	q.dropped += uint64(n - 1)
	q.takes++

	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.items = q.items[:0]
	return v, true
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Puts:    q.puts,
		Takes:   q.takes,
		Dropped: q.dropped,
		Len:     len(q.items),
		Cap:     q.cap,
	}
}
