// Package svc runs closures one at a time on a dedicated goroutine. Every
// store and canvas operation is funnelled through a Queue so each handler
// runs to completion before the next begins.
package svc

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

// Trace logs queue activity when set.
var Trace = false

var queued int64

// Queue is an unbounded FIFO of pending work. Posting never blocks, and
// closures run in the order they were posted.
type Queue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// New returns a running queue.
func New() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Post queues code without waiting for it. It reports false once the queue
// is closed.
func (q *Queue) Post(code func()) bool {
	if Trace {
		n := atomic.AddInt64(&queued, 1)
		log.Printf("svc: queue %d", n)
		inner := code
		code = func() {
			log.Printf("svc: start %d", n)
			inner()
			log.Printf("svc: end %d", n)
		}
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, code)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs code on the queue and waits for it. It must not be called from
// inside the queue.
func (q *Queue) Do(code func()) bool {
	finished := make(chan struct{})
	if !q.Post(func() {
		defer close(finished)
		code()
	}) {
		return false
	}
	<-finished
	return true
}

// ErrClosed is returned by Call on a closed queue.
var ErrClosed = errors.New("svc: queue closed")

// Call runs code on q and returns its result.
func Call[T any](q *Queue, code func() (T, error)) (T, error) {
	var value T
	err := ErrClosed
	q.Do(func() {
		value, err = code()
	})
	return value, err
}

// Close stops accepting work. Work already posted still runs.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, code := range items {
			code()
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-q.wake:
		case <-q.done:
		}
	}
}
