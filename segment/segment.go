package segment

import (
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/id"
)

// State represents a segment's position in the generation pipeline.
type State string

const (
	// StateQueued means the segment is waiting for retrieval to begin.
	StateQueued State = "queued"
	// StateRetrieving means context chunks are being fetched.
	StateRetrieving State = "retrieving"
	// StateGenerating means the script is being written.
	StateGenerating State = "generating"
	// StateRendering means speech synthesis is producing audio.
	StateRendering State = "rendering"
	// StateNormalizing means loudness normalization is running.
	StateNormalizing State = "normalizing"
	// StateReady means the segment is broadcast-ready.
	StateReady State = "ready"
	// StateAiring means the segment is currently on air.
	StateAiring State = "airing"
	// StateAired means the broadcast finished.
	StateAired State = "aired"
	// StateArchived is the terminal success state.
	StateArchived State = "archived"
	// StateFailed is reachable from any non-terminal state and recoverable
	// only through the explicit manual retry.
	StateFailed State = "failed"
)

// Segment is a content unit moving through the generation pipeline.
type Segment struct {
	segue.Entity

	ID    id.SegmentID `json:"id"`
	Show  string       `json:"show"`
	Title string       `json:"title,omitempty"`
	State State        `json:"state"`

	// SlotAt is the broadcast slot this segment was produced for.
	SlotAt time.Time `json:"slot_at"`

	// IdempotencyKey dedupes repeated generation requests for the same
	// logical unit (e.g. show + slot timestamp).
	IdempotencyKey string `json:"idempotency_key"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`

	// Stage artifacts, written by pipeline handlers as the segment
	// advances. Persisting them on the segment keeps stage jobs
	// re-runnable from the segment ID alone.
	Chunks       []string `json:"chunks,omitempty"`
	Script       string   `json:"script,omitempty"`
	AudioRef     string   `json:"audio_ref,omitempty"`
	DurationSec  float64  `json:"duration_sec,omitempty"`
	LoudnessLUFS float64  `json:"loudness_lufs,omitempty"`
}

// Terminal reports whether the segment reached its terminal success state.
// Failed is recoverable-terminal: only the manual retry leaves it.
func (s *Segment) Terminal() bool {
	return s.State == StateArchived
}
