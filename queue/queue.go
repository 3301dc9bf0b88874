// Package queue provides the ordered outbound queue behind each
// connection's send loop.
//
// The queue is unbounded and FIFO. Closing it is the send loop's only
// termination signal: messages enqueued before Close are still
// delivered, messages enqueued after are dropped.
package queue

import "sync"

// Queue is an unbounded FIFO of raw wire messages. Safe for concurrent
// producers and a single consuming send loop.
type Queue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    [][]byte
	closed   bool
}

// New creates an empty open queue.
func New() *Queue {
	q := &Queue{}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Put enqueues a message. Reports false when the queue is already
// closed, in which case the message is dropped.
func (q *Queue) Put(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, msg)
	q.nonEmpty.Signal()
	return true
}

// Get blocks until a message is available or the close sentinel is
// observed. Messages enqueued before Close drain in order; ok is false
// only once the queue is both closed and empty.
func (q *Queue) Get() (msg []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.nonEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	msg = q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// Close enqueues the close sentinel. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.nonEmpty.Broadcast()
}

// Len returns the number of undelivered messages. Used by disconnect to
// poll for drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
