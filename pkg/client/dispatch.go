package client

import "sync"

// eventQueue runs listener callbacks one at a time in push order. Pushing
// never blocks, so the receive loop can queue while holding session locks.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{signal: make(chan struct{}, 1), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// close drops callbacks that have not started and stops the queue
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) run() {
	defer close(q.done)
	for range q.signal {
		for {
			q.mu.Lock()
			items := q.items
			q.items = nil
			closed := q.closed
			q.mu.Unlock()

			if closed {
				return
			}
			if len(items) == 0 {
				break
			}
			for _, fn := range items {
				fn()
			}
		}
	}
}
