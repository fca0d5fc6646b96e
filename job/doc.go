// Package job defines the unit of backlog work: the Job model and its
// lifecycle states, the attempt history recorded across retries, the Store
// contract with atomic claim semantics, and the typed definition registry
// that validates payloads at enqueue time.
package job
