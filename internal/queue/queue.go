package queue

import (
	"net"
	"sync"
)

// Queue is a bounded FIFO of accepted connections waiting for a free worker. The
// producer never blocks: a push onto the full queue fails immediately. Consumers block
// until a connection arrives or the queue is closed.
type Queue struct {
	mu     sync.RWMutex
	ch     chan net.Conn
	closed bool
}

func New(capacity int) *Queue {
	return &Queue{
		ch: make(chan net.Conn, capacity),
	}
}

// TryPush enqueues the connection. It returns false if the queue is either full or
// closed, leaving the connection to the caller.
func (q *Queue) TryPush(conn net.Conn) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}

	select {
	case q.ch <- conn:
		return true
	default:
		return false
	}
}

// Pop blocks until a connection is available. After Close, the remaining connections
// are still returned in order, and then ok is false.
func (q *Queue) Pop() (conn net.Conn, ok bool) {
	conn, ok = <-q.ch
	return conn, ok
}

// Len returns the number of connections currently waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close prohibits further pushes and wakes up the consumers blocked on an empty queue.
// Subsequent calls are no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Drain removes and returns every waiting connection without blocking.
func (q *Queue) Drain() (conns []net.Conn) {
	for {
		select {
		case conn, ok := <-q.ch:
			if !ok {
				return conns
			}

			conns = append(conns, conn)
		default:
			return conns
		}
	}
}
