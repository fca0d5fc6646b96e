package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/segment"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:segue_jobs"`

	ID             string     `bun:"id,pk"`
	Type           string     `bun:"type,notnull"`
	Payload        []byte     `bun:"payload,notnull,type:bytea"`
	Priority       int        `bun:"priority,notnull,default:0"`
	State          string     `bun:"state,notnull,default:'pending'"`
	SegmentID      string     `bun:"segment_id"`
	AttemptCount   int        `bun:"attempt_count,notnull,default:0"`
	MaxAttempts    int        `bun:"max_attempts,notnull,default:3"`
	Attempts       []byte     `bun:"attempts,type:jsonb"`
	ClaimedBy      string     `bun:"claimed_by"`
	ClaimedAt      *time.Time `bun:"claimed_at"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at"`
	Result         []byte     `bun:"result,type:bytea"`
	LastError      string     `bun:"last_error"`
	RunAt          time.Time  `bun:"run_at,notnull,default:current_timestamp"`
	CompletedAt    *time.Time `bun:"completed_at"`
	Timeout        int64      `bun:"timeout,notnull,default:0"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) (*jobModel, error) {
	attempts, err := json.Marshal(j.Attempts)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: marshal attempts: %w", err)
	}

	return &jobModel{
		ID:             j.ID.String(),
		Type:           j.Type,
		Payload:        j.Payload,
		Priority:       j.Priority,
		State:          string(j.State),
		SegmentID:      j.Segment.String(),
		AttemptCount:   j.AttemptCount,
		MaxAttempts:    j.MaxAttempts,
		Attempts:       attempts,
		ClaimedBy:      j.ClaimedBy.String(),
		ClaimedAt:      j.ClaimedAt,
		LeaseExpiresAt: j.LeaseExpiresAt,
		Result:         j.Result,
		LastError:      j.LastError,
		RunAt:          j.RunAt,
		CompletedAt:    j.CompletedAt,
		Timeout:        j.Timeout.Nanoseconds(),
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: segue.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Type:           m.Type,
		Payload:        m.Payload,
		Priority:       m.Priority,
		State:          job.State(m.State),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		ClaimedAt:      m.ClaimedAt,
		LeaseExpiresAt: m.LeaseExpiresAt,
		Result:         m.Result,
		LastError:      m.LastError,
		RunAt:          m.RunAt,
		CompletedAt:    m.CompletedAt,
		Timeout:        time.Duration(m.Timeout),
	}

	if len(m.Attempts) > 0 {
		if err := json.Unmarshal(m.Attempts, &j.Attempts); err != nil {
			return nil, fmt.Errorf("segue/bun: unmarshal attempts: %w", err)
		}
	}
	if m.SegmentID != "" {
		if parsed, sErr := id.ParseSegmentID(m.SegmentID); sErr == nil {
			j.Segment = parsed
		}
	}
	if m.ClaimedBy != "" {
		if parsed, wErr := id.ParseWorkerID(m.ClaimedBy); wErr == nil {
			j.ClaimedBy = parsed
		}
	}

	return j, nil
}

// ── Segment model ─────────────────────────────────────────────────

type segmentModel struct {
	bun.BaseModel `bun:"table:segue_segments"`

	ID             string    `bun:"id,pk"`
	Show           string    `bun:"show,notnull"`
	Title          string    `bun:"title"`
	State          string    `bun:"state,notnull,default:'queued'"`
	SlotAt         time.Time `bun:"slot_at,notnull"`
	IdempotencyKey string    `bun:"idempotency_key,notnull,unique"`
	RetryCount     int       `bun:"retry_count,notnull,default:0"`
	MaxRetries     int       `bun:"max_retries,notnull,default:3"`
	LastError      string    `bun:"last_error"`
	Chunks         []string  `bun:"chunks,array"`
	Script         string    `bun:"script"`
	AudioRef       string    `bun:"audio_ref"`
	DurationSec    float64   `bun:"duration_sec,notnull,default:0"`
	LoudnessLUFS   float64   `bun:"loudness_lufs,notnull,default:0"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toSegmentModel(s *segment.Segment) *segmentModel {
	return &segmentModel{
		ID:             s.ID.String(),
		Show:           s.Show,
		Title:          s.Title,
		State:          string(s.State),
		SlotAt:         s.SlotAt,
		IdempotencyKey: s.IdempotencyKey,
		RetryCount:     s.RetryCount,
		MaxRetries:     s.MaxRetries,
		LastError:      s.LastError,
		Chunks:         s.Chunks,
		Script:         s.Script,
		AudioRef:       s.AudioRef,
		DurationSec:    s.DurationSec,
		LoudnessLUFS:   s.LoudnessLUFS,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromSegmentModel(m *segmentModel) (*segment.Segment, error) {
	parsedID, err := id.ParseSegmentID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: parse segment id %q: %w", m.ID, err)
	}

	return &segment.Segment{
		Entity: segue.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Show:           m.Show,
		Title:          m.Title,
		State:          segment.State(m.State),
		SlotAt:         m.SlotAt,
		IdempotencyKey: m.IdempotencyKey,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		LastError:      m.LastError,
		Chunks:         m.Chunks,
		Script:         m.Script,
		AudioRef:       m.AudioRef,
		DurationSec:    m.DurationSec,
		LoudnessLUFS:   m.LoudnessLUFS,
	}, nil
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:segue_dlq"`

	ID              string     `bun:"id,pk"`
	JobID           string     `bun:"job_id,notnull"`
	JobType         string     `bun:"job_type,notnull"`
	SegmentID       string     `bun:"segment_id"`
	PayloadSnapshot []byte     `bun:"payload_snapshot,notnull,type:bytea"`
	Reason          string     `bun:"reason,notnull"`
	AttemptHistory  []byte     `bun:"attempt_history,type:jsonb"`
	AttemptCount    int        `bun:"attempt_count,notnull"`
	MaxAttempts     int        `bun:"max_attempts,notnull,default:3"`
	FailedAt        time.Time  `bun:"failed_at,notnull,default:current_timestamp"`
	ReplayedAt      *time.Time `bun:"replayed_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toDLQModel(e *dlq.Entry) (*dlqEntryModel, error) {
	history, err := json.Marshal(e.AttemptHistory)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: marshal attempt history: %w", err)
	}

	return &dlqEntryModel{
		ID:              e.ID.String(),
		JobID:           e.JobID.String(),
		JobType:         e.JobType,
		SegmentID:       e.Segment.String(),
		PayloadSnapshot: e.PayloadSnapshot,
		Reason:          e.Reason,
		AttemptHistory:  history,
		AttemptCount:    e.AttemptCount,
		MaxAttempts:     e.MaxAttempts,
		FailedAt:        e.FailedAt,
		ReplayedAt:      e.ReplayedAt,
		CreatedAt:       e.CreatedAt,
	}, nil
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: parse dlq id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("segue/bun: parse job id %q: %w", m.JobID, err)
	}

	e := &dlq.Entry{
		ID:              parsedID,
		JobID:           parsedJobID,
		JobType:         m.JobType,
		PayloadSnapshot: m.PayloadSnapshot,
		Reason:          m.Reason,
		AttemptCount:    m.AttemptCount,
		MaxAttempts:     m.MaxAttempts,
		FailedAt:        m.FailedAt,
		ReplayedAt:      m.ReplayedAt,
		CreatedAt:       m.CreatedAt,
	}

	if len(m.AttemptHistory) > 0 {
		if err := json.Unmarshal(m.AttemptHistory, &e.AttemptHistory); err != nil {
			return nil, fmt.Errorf("segue/bun: unmarshal attempt history: %w", err)
		}
	}
	if m.SegmentID != "" {
		if parsed, sErr := id.ParseSegmentID(m.SegmentID); sErr == nil {
			e.Segment = parsed
		}
	}

	return e, nil
}
