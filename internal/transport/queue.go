package transport

import "sync"

// serialQueue runs submitted functions one at a time in submission order.
// The goroutine that finds the queue idle drains it; a function submitted
// from inside a running function is run after it returns.
type serialQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// enqueue appends f without running anything. Safe to call while holding
// other locks.
func (q *serialQueue) enqueue(f func()) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	q.mu.Unlock()
}

// drain runs queued functions until the queue is empty, unless another
// goroutine (or an outer frame of this one) is already draining.
func (q *serialQueue) drain() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true

	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.invoke(next)

		q.mu.Lock()
	}
	// Cleared under the same lock that saw the queue empty, so an enqueue
	// racing with the end of the loop is drained by its own caller.
	q.running = false
	q.mu.Unlock()
}

// invoke runs f, releasing the queue if f panics.
func (q *serialQueue) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			panic(r)
		}
	}()
	f()
}

func (q *serialQueue) run(f func()) {
	q.enqueue(f)
	q.drain()
}
