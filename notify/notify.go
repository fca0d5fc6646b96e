// Package notify wakes idle worker pools when jobs are enqueued, cutting
// the poll-interval latency out of the enqueue-to-claim path. Wakeups are
// best-effort: polling remains the correctness path, so a lost wakeup
// costs at most one poll interval.
//
// Local covers single-process deployments; AMQP fans wakeups out to every
// station node via a RabbitMQ broadcast exchange.
package notify

import (
	"context"
	"sync"
)

// Waker is anything that can be woken ahead of its next poll. The worker
// pool implements it.
type Waker interface {
	Nudge()
}

// Local is an in-process notifier that wakes registered pools directly.
type Local struct {
	mu     sync.RWMutex
	wakers []Waker
}

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{}
}

// Subscribe registers a waker to be woken on every nudge.
func (l *Local) Subscribe(w Waker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wakers = append(l.wakers, w)
}

// Nudge wakes all registered wakers. The job type is ignored locally:
// pools filter by type at claim time.
func (l *Local) Nudge(_ context.Context, _ string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, w := range l.wakers {
		w.Nudge()
	}
}
