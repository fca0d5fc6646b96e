// Package segue provides a durable job queue and pipeline state machine
// for multi-worker content generation — built for automated radio stations
// where every broadcast segment moves through retrieval, script generation,
// speech rendering and loudness normalization before air.
//
// Segue is a library, not a service. Import it, configure a store, and
// register job handlers as ordinary Go functions.
//
// # Quick Start
//
//	st, err := segue.New(
//	    segue.WithStore(pgStore),
//	    segue.WithConcurrency(8),
//	)
//
// # Architecture
//
// Each subsystem (job, segment, dlq) defines its own store interface and a
// single backend implements all of them. The only synchronization point
// between independent worker processes is the store's atomic claim: a
// pending job is handed to exactly one caller, under a processing lease
// that the reaper reclaims if the worker dies. Handlers run at-least-once;
// idempotent completion and the segment transition guard make duplicate
// deliveries harmless.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package segue
