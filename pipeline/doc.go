// Package pipeline implements the four-stage segment production chain:
// retrieval, script generation, speech synthesis and loudness
// normalization. Each stage is a registered job type whose handler
// advances the segment through the state machine, stores the stage's
// artifacts, and enqueues the next stage.
//
// Stage handlers are written to be safely re-executed: every state
// advance is a compare-and-swap, so a duplicate delivery either finds
// the segment where it left it and proceeds, or finds it already
// advanced and becomes a no-op.
package pipeline
