// Package queue layers policy over the raw job store: validated enqueue,
// idempotent completion, and the fail path that decides between a
// backoff-delayed retry and the dead letter store. It also provides the
// per-job-type Limiter bounding throughput against capacity-constrained
// services such as the speech synthesizer.
package queue
