package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/hook"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
	"github.com/onairlab/segue/queue"
	"github.com/onairlab/segue/segment"
)

// Job types for the four production stages.
const (
	TypeRetrieve   = "segment.retrieve"
	TypeScript     = "segment.script"
	TypeSynthesize = "segment.synthesize"
	TypeNormalize  = "segment.normalize"
)

// Task is the payload shared by all stage jobs. Stages read their inputs
// from the segment's persisted artifacts, so the segment ID is all a job
// needs — which also makes dead letter replays trivially valid.
type Task struct {
	SegmentID string `json:"segment_id"`
}

// Config holds the production parameters applied to every segment.
type Config struct {
	// VoiceModel is the speech model used for synthesis.
	VoiceModel string
	// VoiceSpeed is the synthesis speed multiplier.
	VoiceSpeed float64
	// TargetLUFS is the integrated loudness target for normalization.
	TargetLUFS float64
}

// DefaultConfig returns the standard broadcast production parameters.
func DefaultConfig() Config {
	return Config{
		VoiceModel: "en_US-lessac-medium",
		VoiceSpeed: 1.0,
		TargetLUFS: -16.0,
	}
}

// stageSpec describes one production stage: the state the segment holds
// while the stage runs, the state a success advances it to, and the job
// type that continues the chain.
type stageSpec struct {
	jobType string
	during  segment.State
	exitTo  segment.State
	next    string
}

var stages = map[string]stageSpec{
	TypeRetrieve:   {TypeRetrieve, segment.StateRetrieving, segment.StateGenerating, TypeScript},
	TypeScript:     {TypeScript, segment.StateGenerating, segment.StateRendering, TypeSynthesize},
	TypeSynthesize: {TypeSynthesize, segment.StateRendering, segment.StateNormalizing, TypeNormalize},
	TypeNormalize:  {TypeNormalize, segment.StateNormalizing, segment.StateReady, ""},
}

// Pipeline owns the stage handlers and the playout-facing segment
// operations.
type Pipeline struct {
	segments  segment.Store
	machine   *segment.Machine
	queue     *queue.Service
	hooks     *hook.Registry
	retrieval RetrievalClient
	script    ScriptClient
	speech    SpeechClient
	loudness  LoudnessClient
	sink      AudioSink
	config    Config
	logger    *slog.Logger
}

// New creates a Pipeline over the given stage service clients.
func New(
	segments segment.Store,
	machine *segment.Machine,
	queueService *queue.Service,
	hooks *hook.Registry,
	retrieval RetrievalClient,
	script ScriptClient,
	speech SpeechClient,
	loudness LoudnessClient,
	sink AudioSink,
	config Config,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		segments:  segments,
		machine:   machine,
		queue:     queueService,
		hooks:     hooks,
		retrieval: retrieval,
		script:    script,
		speech:    speech,
		loudness:  loudness,
		sink:      sink,
		config:    config,
		logger:    logger,
	}
}

// Register adds the four stage job types to the registry. Synthesis gets
// a longer timeout: rendering runs slower than real time.
func (p *Pipeline) Register(registry *job.Registry) {
	job.RegisterDefinition(registry, job.NewDefinition(TypeRetrieve, p.handleRetrieve,
		job.WithMaxAttempts(3), job.WithTimeout(2*time.Minute)))
	job.RegisterDefinition(registry, job.NewDefinition(TypeScript, p.handleScript,
		job.WithMaxAttempts(3), job.WithTimeout(5*time.Minute)))
	job.RegisterDefinition(registry, job.NewDefinition(TypeSynthesize, p.handleSynthesize,
		job.WithMaxAttempts(3), job.WithTimeout(10*time.Minute)))
	job.RegisterDefinition(registry, job.NewDefinition(TypeNormalize, p.handleNormalize,
		job.WithMaxAttempts(3), job.WithTimeout(2*time.Minute)))
}

// Start enqueues the first stage for a freshly created segment. Wired
// into the programmer as its StartFunc.
func (p *Pipeline) Start(ctx context.Context, seg *segment.Segment) error {
	_, err := p.queue.Enqueue(ctx, TypeRetrieve,
		mustTask(seg.ID), job.WithSegment(seg.ID.String()))
	return err
}

func mustTask(segmentID id.SegmentID) []byte {
	return []byte(fmt.Sprintf(`{"segment_id":%q}`, segmentID.String()))
}

// ──────────────────────────────────────────────────
// Stage handlers
// ──────────────────────────────────────────────────

func (p *Pipeline) handleRetrieve(ctx context.Context, t Task) (any, error) {
	seg, run, err := p.enterStage(ctx, t, stages[TypeRetrieve], true)
	if err != nil || !run {
		return nil, err
	}

	chunks, err := p.retrieval.Retrieve(ctx, seg.Show, seg.Title, seg.SlotAt)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, segue.Permanent(fmt.Errorf("no context available for show %q", seg.Show))
	}

	seg.Chunks = chunks
	if err := p.segments.UpdateSegmentArtifacts(ctx, seg); err != nil {
		return nil, err
	}

	if err := p.exitStage(ctx, seg, stages[TypeRetrieve]); err != nil {
		return nil, err
	}
	return map[string]int{"chunks": len(chunks)}, nil
}

func (p *Pipeline) handleScript(ctx context.Context, t Task) (any, error) {
	seg, run, err := p.enterStage(ctx, t, stages[TypeScript], false)
	if err != nil || !run {
		return nil, err
	}

	script, err := p.script.WriteScript(ctx, seg.Show, seg.Title, seg.Chunks)
	if err != nil {
		return nil, err
	}
	if script == "" {
		return nil, segue.Permanent(fmt.Errorf("script service returned an empty script for segment %s", seg.ID))
	}

	seg.Script = script
	if err := p.segments.UpdateSegmentArtifacts(ctx, seg); err != nil {
		return nil, err
	}

	if err := p.exitStage(ctx, seg, stages[TypeScript]); err != nil {
		return nil, err
	}
	return map[string]int{"script_chars": len(script)}, nil
}

func (p *Pipeline) handleSynthesize(ctx context.Context, t Task) (any, error) {
	seg, run, err := p.enterStage(ctx, t, stages[TypeSynthesize], false)
	if err != nil || !run {
		return nil, err
	}

	res, err := p.speech.Synthesize(ctx, seg.Script, p.config.VoiceModel, p.config.VoiceSpeed)
	if err != nil {
		return nil, err
	}

	audio, err := hex.DecodeString(res.Audio)
	if err != nil {
		return nil, segue.Permanent(fmt.Errorf("speech service returned malformed audio: %w", err))
	}

	name := seg.ID.String() + "-" + uuid.NewString()[:8]
	ref, err := p.sink.Put(ctx, name, audio)
	if err != nil {
		return nil, err
	}

	seg.AudioRef = ref
	seg.DurationSec = res.DurationSec
	if err := p.segments.UpdateSegmentArtifacts(ctx, seg); err != nil {
		return nil, err
	}

	if err := p.exitStage(ctx, seg, stages[TypeSynthesize]); err != nil {
		return nil, err
	}
	return map[string]any{"duration_sec": res.DurationSec, "cached": res.Cached}, nil
}

func (p *Pipeline) handleNormalize(ctx context.Context, t Task) (any, error) {
	seg, run, err := p.enterStage(ctx, t, stages[TypeNormalize], false)
	if err != nil || !run {
		return nil, err
	}

	res, err := p.loudness.Normalize(ctx, seg.AudioRef, p.config.TargetLUFS)
	if err != nil {
		return nil, err
	}

	seg.AudioRef = res.AudioRef
	seg.LoudnessLUFS = res.LoudnessLUFS
	if err := p.segments.UpdateSegmentArtifacts(ctx, seg); err != nil {
		return nil, err
	}

	if err := p.exitStage(ctx, seg, stages[TypeNormalize]); err != nil {
		return nil, err
	}

	p.logger.Info("segment broadcast-ready",
		slog.String("segment_id", seg.ID.String()),
		slog.String("show", seg.Show),
		slog.Float64("duration_sec", seg.DurationSec),
		slog.Float64("loudness_lufs", res.LoudnessLUFS),
	)
	return map[string]float64{"loudness_lufs": res.LoudnessLUFS}, nil
}

// ──────────────────────────────────────────────────
// Stage entry/exit
// ──────────────────────────────────────────────────

// enterStage resolves the segment and decides whether this delivery
// should run the stage's work. The first stage additionally performs the
// queued → retrieving entry transition; later stages find their during
// state already set by the previous stage's exit.
//
// A duplicate delivery that finds the segment already past the stage
// becomes a no-op, except when it sits exactly on the stage's exit state
// with the follow-up job possibly lost — then the follow-up is
// re-enqueued (duplicates of it are harmless for the same reason).
func (p *Pipeline) enterStage(ctx context.Context, t Task, spec stageSpec, first bool) (*segment.Segment, bool, error) {
	segID, err := id.ParseSegmentID(t.SegmentID)
	if err != nil {
		return nil, false, segue.Permanent(fmt.Errorf("bad segment reference: %w", err))
	}

	seg, err := p.segments.GetSegment(ctx, segID)
	if err != nil {
		return nil, false, err
	}

	if first && seg.State == segment.StateQueued {
		if err := p.machine.Transition(ctx, segID, segment.StateQueued, spec.during); err != nil {
			if !segment.IsConflict(err) {
				return nil, false, err
			}
			// Lost the entry race; reload and fall through.
			if seg, err = p.segments.GetSegment(ctx, segID); err != nil {
				return nil, false, err
			}
		} else {
			seg.State = spec.during
			p.hooks.EmitSegmentTransitioned(ctx, seg, segment.StateQueued, spec.during)
		}
	}

	switch seg.State {
	case spec.during:
		return seg, true, nil
	case segment.StateFailed:
		return nil, false, segue.Permanent(fmt.Errorf("segment %s is failed", seg.ID))
	case spec.exitTo:
		// The stage completed but the chain may have broken before the
		// next job landed. Re-enqueueing keeps the chain live.
		if spec.next != "" {
			if err := p.enqueueNext(ctx, seg, spec.next); err != nil {
				return nil, false, err
			}
		}
		return nil, false, nil
	default:
		p.logger.Debug("stale stage delivery dropped",
			slog.String("segment_id", seg.ID.String()),
			slog.String("stage", spec.jobType),
			slog.String("state", string(seg.State)),
		)
		return nil, false, nil
	}
}

// exitStage advances the segment out of the stage and enqueues the next
// stage job. Losing the exit race to a concurrent duplicate is fine: the
// winner drives the chain.
func (p *Pipeline) exitStage(ctx context.Context, seg *segment.Segment, spec stageSpec) error {
	if err := p.machine.Transition(ctx, seg.ID, spec.during, spec.exitTo); err != nil {
		if segment.IsConflict(err) {
			return nil
		}
		return err
	}
	seg.State = spec.exitTo
	p.hooks.EmitSegmentTransitioned(ctx, seg, spec.during, spec.exitTo)

	if spec.next == "" {
		return nil
	}
	return p.enqueueNext(ctx, seg, spec.next)
}

func (p *Pipeline) enqueueNext(ctx context.Context, seg *segment.Segment, jobType string) error {
	_, err := p.queue.Enqueue(ctx, jobType,
		mustTask(seg.ID), job.WithSegment(seg.ID.String()))
	return err
}

// ──────────────────────────────────────────────────
// Playout operations
// ──────────────────────────────────────────────────

// Air moves a broadcast-ready segment on air.
func (p *Pipeline) Air(ctx context.Context, segmentID id.SegmentID) error {
	return p.transitionAndEmit(ctx, segmentID, segment.StateReady, segment.StateAiring)
}

// MarkAired records that a segment's broadcast finished.
func (p *Pipeline) MarkAired(ctx context.Context, segmentID id.SegmentID) error {
	return p.transitionAndEmit(ctx, segmentID, segment.StateAiring, segment.StateAired)
}

// Archive retires an aired segment — the terminal state.
func (p *Pipeline) Archive(ctx context.Context, segmentID id.SegmentID) error {
	return p.transitionAndEmit(ctx, segmentID, segment.StateAired, segment.StateArchived)
}

func (p *Pipeline) transitionAndEmit(ctx context.Context, segmentID id.SegmentID, from, to segment.State) error {
	if err := p.machine.Transition(ctx, segmentID, from, to); err != nil {
		return err
	}
	if seg, err := p.segments.GetSegment(ctx, segmentID); err == nil {
		p.hooks.EmitSegmentTransitioned(ctx, seg, from, to)
	}
	return nil
}
