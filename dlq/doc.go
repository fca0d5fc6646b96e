// Package dlq implements the dead letter store: an append-only archive of
// jobs that exhausted their attempt budget or failed fatally. Entries keep
// a snapshot of the payload and the full attempt history so operators can
// diagnose the failure and replay the job once the cause is fixed.
package dlq
