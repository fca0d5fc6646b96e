package job

import (
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting in the claimable pool.
	StatePending State = "pending"
	// StateProcessing means a worker holds the job under a claim lease.
	StateProcessing State = "processing"
	// StateCompleted means the job finished successfully. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempt budget or failed
	// fatally and was archived to the dead letter store. Terminal.
	StateFailed State = "failed"
)

// Attempt records one failed execution of a job. The full slice travels
// with the job into the dead letter store on terminal failure.
type Attempt struct {
	Number   int         `json:"number"`
	WorkerID id.WorkerID `json:"worker_id,omitempty"`
	Error    string      `json:"error"`
	FailedAt time.Time   `json:"failed_at"`
}

// Job represents a unit of backlog work claimed and executed by workers.
//
// Invariants maintained by the store: a job is in exactly one state;
// ClaimedBy/ClaimedAt/LeaseExpiresAt are set iff state is processing;
// Result is set iff state is completed; a completed job never regresses.
type Job struct {
	segue.Entity

	ID       id.JobID     `json:"id"`
	Type     string       `json:"type"`
	Payload  []byte       `json:"payload"`
	Priority int          `json:"priority"`
	State    State        `json:"state"`
	Segment  id.SegmentID `json:"segment_id,omitempty"`

	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	Attempts     []Attempt `json:"attempts,omitempty"`

	ClaimedBy      id.WorkerID `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time  `json:"claimed_at,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	Result    []byte `json:"result,omitempty"`
	LastError string `json:"last_error,omitempty"`

	// RunAt gates claim visibility: a job is not claimable before this
	// time. Retries push it forward by the backoff delay.
	RunAt       time.Time     `json:"run_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}
