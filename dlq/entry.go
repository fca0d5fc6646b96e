package dlq

import (
	"time"

	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
)

// Entry represents a job that has been moved to the dead letter store.
type Entry struct {
	ID      id.DLQID     `json:"id"`
	JobID   id.JobID     `json:"job_id"`
	JobType string       `json:"job_type"`
	Segment id.SegmentID `json:"segment_id,omitempty"`

	// PayloadSnapshot is the job payload as it was at terminal failure.
	PayloadSnapshot []byte `json:"payload_snapshot"`

	// Reason is the final error message that exhausted the job.
	Reason string `json:"reason"`

	// AttemptHistory records every failed attempt, oldest first.
	AttemptHistory []job.Attempt `json:"attempt_history"`

	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	FailedAt     time.Time  `json:"failed_at"`
	ReplayedAt   *time.Time `json:"replayed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
