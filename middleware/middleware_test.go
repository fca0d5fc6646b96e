package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:   id.NewJobID(),
		Type: "segment.render",
	}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) Middleware {
		return func(ctx context.Context, j *job.Job, next Handler) error {
			order = append(order, name+" in")
			err := next(ctx)
			order = append(order, name+" out")
			return err
		}
	}

	chain := Chain(tag("outer"), tag("inner"))
	err := chain(context.Background(), newTestJob(), func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"outer in", "inner in", "handler", "inner out", "outer out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChainEmpty(t *testing.T) {
	t.Parallel()

	called := false
	err := Chain()(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain = (called=%v, err=%v)", called, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	t.Parallel()

	mw := Recover(slog.Default())
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		panic("nil chunk list")
	})
	if err == nil {
		t.Fatal("panic not converted to error")
	}
	if !strings.Contains(err.Error(), "nil chunk list") {
		t.Fatalf("error drops the panic value: %v", err)
	}

	// Non-panicking handlers pass through untouched.
	sentinel := errors.New("upstream 503")
	if err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want sentinel", err)
	}
}

func TestTimeoutEnforcesDeadline(t *testing.T) {
	t.Parallel()

	j := newTestJob()
	j.Timeout = 20 * time.Millisecond

	mw := Timeout(slog.Default())
	err := mw(context.Background(), j, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestTimeoutZeroMeansNoDeadline(t *testing.T) {
	t.Parallel()

	mw := Timeout(slog.Default())
	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			return errors.New("unexpected deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTracingPassesThrough(t *testing.T) {
	t.Parallel()

	// Without a configured provider the noop tracer is in play; the
	// middleware must still run the handler and propagate its error.
	mw := Tracing()
	sentinel := errors.New("loudness service unreachable")
	if err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want sentinel", err)
	}
	if err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}
