package segue

import (
	"errors"
	"fmt"
	"testing"
)

func TestPermanentWrapping(t *testing.T) {
	t.Parallel()

	base := errors.New("voice model does not exist")
	perm := Permanent(base)

	if !IsPermanent(perm) {
		t.Fatal("Permanent error not detected")
	}
	if !errors.Is(perm, base) {
		t.Fatal("Permanent hides the wrapped error")
	}

	// The marker survives further wrapping.
	wrapped := fmt.Errorf("synthesize stage: %w", perm)
	if !IsPermanent(wrapped) {
		t.Fatal("marker lost through wrapping")
	}

	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) != nil")
	}
	if IsPermanent(errors.New("upstream 503")) {
		t.Fatal("plain error classified permanent")
	}
	if IsPermanent(nil) {
		t.Fatal("nil classified permanent")
	}
}

func TestValidationErrorIsPermanent(t *testing.T) {
	t.Parallel()

	ve := &ValidationError{JobType: "segment.retrieve", Err: errors.New("unknown field")}
	if !IsPermanent(ve) {
		t.Fatal("validation errors must be permanent")
	}

	var target *ValidationError
	if !errors.As(fmt.Errorf("enqueue: %w", ve), &target) {
		t.Fatal("ValidationError lost through wrapping")
	}
	if target.JobType != "segment.retrieve" {
		t.Fatalf("job type = %q", target.JobType)
	}
}
