package segue

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("segue: no store configured")
	ErrStoreClosed = errors.New("segue: store closed")

	// Not found errors.
	ErrJobNotFound     = errors.New("segue: job not found")
	ErrSegmentNotFound = errors.New("segue: segment not found")
	ErrDLQNotFound     = errors.New("segue: dead letter entry not found")

	// Conflict errors.
	ErrJobAlreadyExists     = errors.New("segue: job already exists")
	ErrSegmentAlreadyExists = errors.New("segue: segment already exists")

	// ErrNotOwner is returned when complete or fail is called for a job the
	// caller no longer holds — the lease expired and the reaper reclaimed it.
	ErrNotOwner = errors.New("segue: job not owned by caller")

	// ErrStateConflict is returned when a segment transition's expected
	// source state does not match the segment's actual state. Duplicate
	// stage-completion reports surface as this error and are dropped.
	ErrStateConflict = errors.New("segue: segment state conflict")

	// ErrUnknownJobType is returned by enqueue when no definition is
	// registered for the requested job type.
	ErrUnknownJobType = errors.New("segue: unknown job type")
)

// ValidationError rejects an enqueue whose payload does not match the schema
// registered for the job type. The job never enters the store.
type ValidationError struct {
	JobType string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("segue: invalid payload for job type %q: %v", e.JobType, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PermanentError marks a handler failure that must not be retried: the job
// goes straight to the dead letter store regardless of remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the executor treats it as a fatal failure.
// External-service validation and auth errors belong here; timeouts and
// 5xx responses do not.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the permanent marker anywhere in
// its chain. Validation errors are permanent by definition.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}
