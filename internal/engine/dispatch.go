package engine

import "errors"

// ErrStopped is returned by operations submitted after the engine stopped.
var ErrStopped = errors.New("engine: stopped")

// queue is the engine's serialized dispatch queue: one goroutine drains
// posted functions, so everything running on it sees engine state
// single-threaded.
type queue struct {
	fns  chan func()
	stop chan struct{}
	done chan struct{}
}

func newQueue(depth int) *queue {
	return &queue{
		fns:  make(chan func(), depth),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// run drains the queue until shutdown. It is the only goroutine that ever
// executes posted functions.
func (q *queue) run() {
	defer close(q.done)
	for {
		select {
		case fn := <-q.fns:
			fn()
		case <-q.stop:
			// Drain what was already posted, then leave.
			for {
				select {
				case fn := <-q.fns:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post enqueues fn without waiting. Used by drivers, timers, and resolver
// completions; never called from the queue goroutine itself.
func (q *queue) post(fn func()) {
	select {
	case <-q.stop:
	case q.fns <- fn:
	}
}

// do runs fn on the queue and waits for it. Engine entry points use it so
// callers get synchronous results.
func (q *queue) do(fn func()) error {
	doneCh := make(chan struct{})
	select {
	case <-q.stop:
		return ErrStopped
	case q.fns <- func() {
		fn()
		close(doneCh)
	}:
	}
	select {
	case <-doneCh:
		return nil
	case <-q.done:
		return ErrStopped
	}
}

// shutdown stops the queue and waits for the drain to finish.
func (q *queue) shutdown() {
	close(q.stop)
	<-q.done
}
