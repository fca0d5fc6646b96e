package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/onairlab/segue"
)

// HandlerFunc is a type-erased job handler that accepts a raw JSON payload
// and returns a raw JSON result. The typed Definition[T] is converted to a
// HandlerFunc at registration time by closing over unmarshal + the typed
// handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// ValidateFunc checks a raw payload against a job type's schema. A non-nil
// return rejects the enqueue.
type ValidateFunc func(payload []byte) error

// entry pairs a handler with its validator and default options.
type entry struct {
	handler  HandlerFunc
	validate ValidateFunc
	opts     Options
}

// Registry maps job types to handlers and payload validators.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique tag selecting this handler.
	Type string

	// Handler processes the payload and returns an opaque result stored
	// on completion. Return segue.Permanent(err) for failures that must
	// not be retried.
	Handler func(ctx context.Context, payload T) (any, error)

	// Validate optionally replaces the default schema check (strict JSON
	// decode into T, unknown fields rejected).
	Validate ValidateFunc

	// Opts configures attempts, priority, and timeout defaults for jobs
	// of this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler and marshals the returned result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Type, err)
			}
		}
		result, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Type, marshalErr)
		}
		return data, nil
	}

	validate := def.Validate
	if validate == nil {
		validate = strictDecode[T]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Type] = entry{handler: handler, validate: validate, opts: def.Opts}
}

// strictDecode rejects payloads that do not shape-match T, including
// unknown fields. Empty payloads pass (T's zero value applies).
func strictDecode[T any](payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var t T
	return dec.Decode(&t)
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobType]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Options returns the default options registered for the given job type.
func (r *Registry) Options(jobType string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobType]
	if !ok {
		return Options{}, false
	}
	return e.opts, true
}

// Validate checks a raw payload against the schema registered for jobType.
// Returns segue.ErrUnknownJobType for an unregistered type and a
// *segue.ValidationError when the payload does not match.
func (r *Registry) Validate(jobType string, payload []byte) error {
	r.mu.RLock()
	e, ok := r.entries[jobType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", segue.ErrUnknownJobType, jobType)
	}
	if err := e.validate(payload); err != nil {
		return &segue.ValidationError{JobType: jobType, Err: err}
	}
	return nil
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}
