package engine

import (
	"sync"
	"time"
)

// schedule arms a single-shot timer whose callback runs on the dispatch
// queue. The returned cancel is idempotent and, because cancel and the
// callback both run on the queue, a cancelled timer can never fire against
// a later session.
func (e *Engine) schedule(d time.Duration, fn func()) (cancel func()) {
	var mu sync.Mutex
	stopped := false

	t := time.AfterFunc(d, func() {
		e.q.post(func() {
			mu.Lock()
			s := stopped
			mu.Unlock()
			if !s {
				fn()
			}
		})
	})

	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		t.Stop()
	}
}
