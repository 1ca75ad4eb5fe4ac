// Package dispatch delivers callbacks from background goroutines onto a single owning loop.
package dispatch

import (
	"context"
	"sync"
)

// PostFunc schedules fn to run on the owner's loop. It must not block.
type PostFunc func(fn func())

// Immediate runs fn on the calling goroutine. Useful for tests and headless owners.
func Immediate(fn func()) {
	fn()
}

// Queue is an unbounded FIFO of callbacks drained by a single goroutine, so queued
// callbacks never run concurrently with each other.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post enqueues fn without blocking
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. Callbacks queued when ctx is cancelled are dropped.
func (q *Queue) Run(ctx context.Context) {
	for {
		for _, fn := range q.take() {
			if ctx.Err() != nil {
				return
			}
			fn()
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}

// Len returns the number of callbacks waiting to run
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.pending
	q.pending = nil
	return pending
}
