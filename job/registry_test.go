package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onairlab/segue"
)

type testPayload struct {
	SegmentID string `json:"segment_id"`
}

func TestRegistryValidate(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	RegisterDefinition(r, NewDefinition("segment.retrieve",
		func(_ context.Context, _ testPayload) (any, error) { return nil, nil },
	))

	tests := []struct {
		name    string
		jobType string
		payload string
		wantErr bool
		wantVal bool // expect a *segue.ValidationError
	}{
		{"valid payload", "segment.retrieve", `{"segment_id":"seg_x"}`, false, false},
		{"empty payload passes", "segment.retrieve", ``, false, false},
		{"unknown field rejected", "segment.retrieve", `{"nope":1}`, true, true},
		{"malformed json rejected", "segment.retrieve", `{`, true, true},
		{"unknown job type", "other", `{}`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.jobType, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
			var ve *segue.ValidationError
			if got := errors.As(err, &ve); got != tt.wantVal {
				t.Fatalf("ValidationError = %v, want %v (err: %v)", got, tt.wantVal, err)
			}
			if tt.jobType == "other" && !errors.Is(err, segue.ErrUnknownJobType) {
				t.Fatalf("expected ErrUnknownJobType, got %v", err)
			}
		})
	}
}

func TestRegistryHandlerWrapping(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	RegisterDefinition(r, NewDefinition("echo",
		func(_ context.Context, p testPayload) (any, error) {
			return map[string]string{"got": p.SegmentID}, nil
		},
	))

	h, ok := r.Get("echo")
	if !ok {
		t.Fatal("handler not registered")
	}

	result, err := h(context.Background(), []byte(`{"segment_id":"seg_a"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(result) != `{"got":"seg_a"}` {
		t.Fatalf("result = %s", result)
	}

	// Nil handler result marshals to no result bytes.
	RegisterDefinition(r, NewDefinition("void",
		func(_ context.Context, _ testPayload) (any, error) { return nil, nil },
	))
	h, _ = r.Get("void")
	result, err = h(context.Background(), nil)
	if err != nil || result != nil {
		t.Fatalf("void handler = (%s, %v), want (nil, nil)", result, err)
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get returned a handler for an unregistered type")
	}
}

func TestRegistryOptions(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	RegisterDefinition(r, NewDefinition("limited",
		func(_ context.Context, _ testPayload) (any, error) { return nil, nil },
		WithMaxAttempts(5),
		WithPriority(7),
		WithTimeout(time.Minute),
	))

	opts, ok := r.Options("limited")
	if !ok {
		t.Fatal("options not found")
	}
	if opts.MaxAttempts != 5 || opts.Priority != 7 || opts.Timeout != time.Minute {
		t.Fatalf("options = %+v", opts)
	}

	if _, ok := r.Options("missing"); ok {
		t.Fatal("Options returned values for an unregistered type")
	}
}
