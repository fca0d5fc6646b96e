package notify

import (
	"context"
	"sync"
	"testing"
)

type countWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countWaker) Nudge() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
}

func (w *countWaker) nudges() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func TestLocalFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	a := &countWaker{}
	b := &countWaker{}
	l.Subscribe(a)
	l.Subscribe(b)

	l.Nudge(context.Background(), "segment.retrieve")
	l.Nudge(context.Background(), "segment.synthesize")

	if a.nudges() != 2 || b.nudges() != 2 {
		t.Fatalf("nudges = (%d, %d), want (2, 2)", a.nudges(), b.nudges())
	}
}

func TestLocalWithoutSubscribers(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	// Must not panic with nobody listening.
	l.Nudge(context.Background(), "segment.retrieve")
}
