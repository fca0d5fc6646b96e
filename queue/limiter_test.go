package queue

import "testing"

func TestLimiterUnknownTypeUnlimited(t *testing.T) {
	t.Parallel()
	l := NewLimiter(LimitConfig{JobType: "segment.synthesize", MaxConcurrency: 1})

	for range 100 {
		if !l.Acquire("segment.retrieve") {
			t.Fatal("unlisted type was limited")
		}
	}
}

func TestLimiterConcurrencyCap(t *testing.T) {
	t.Parallel()
	l := NewLimiter(LimitConfig{JobType: "segment.synthesize", MaxConcurrency: 2})

	if !l.Acquire("segment.synthesize") || !l.Acquire("segment.synthesize") {
		t.Fatal("acquires under the cap rejected")
	}
	if l.Acquire("segment.synthesize") {
		t.Fatal("acquire over the cap allowed")
	}

	l.Release("segment.synthesize")
	if !l.Acquire("segment.synthesize") {
		t.Fatal("acquire after release rejected")
	}
	if got := l.ActiveCount("segment.synthesize"); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
}

func TestLimiterRateLimit(t *testing.T) {
	t.Parallel()

	// One token per hour with a burst of 2: the third acquire in a row
	// must be rejected by the token bucket, not the concurrency cap.
	l := NewLimiter(LimitConfig{JobType: "segment.retrieve", RateLimit: 1.0 / 3600, RateBurst: 2})

	if !l.Acquire("segment.retrieve") || !l.Acquire("segment.retrieve") {
		t.Fatal("burst acquires rejected")
	}
	if l.Acquire("segment.retrieve") {
		t.Fatal("acquire past the burst allowed")
	}
}

func TestLimiterSetConfigPreservesActive(t *testing.T) {
	t.Parallel()
	l := NewLimiter(LimitConfig{JobType: "segment.normalize", MaxConcurrency: 1})

	if !l.Acquire("segment.normalize") {
		t.Fatal("first acquire rejected")
	}

	// Raising the cap mid-flight keeps the active count.
	l.SetConfig(LimitConfig{JobType: "segment.normalize", MaxConcurrency: 3})
	if got := l.ActiveCount("segment.normalize"); got != 1 {
		t.Fatalf("active after reconfigure = %d, want 1", got)
	}
	if !l.Acquire("segment.normalize") || !l.Acquire("segment.normalize") {
		t.Fatal("acquires under the new cap rejected")
	}
	if l.Acquire("segment.normalize") {
		t.Fatal("acquire over the new cap allowed")
	}
}

func TestLimiterReleaseNeverGoesNegative(t *testing.T) {
	t.Parallel()
	l := NewLimiter(LimitConfig{JobType: "segment.script", MaxConcurrency: 1})

	l.Release("segment.script")
	l.Release("segment.script")
	if got := l.ActiveCount("segment.script"); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}
