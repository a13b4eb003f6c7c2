// Package queue hands accepted runs to a background worker. Delivery is
// at-least-once: the worker must tolerate duplicate deliveries of the same
// run ID, which the orchestrator guarantees by being idempotent on re-entry.
package queue

import (
	"context"
	"time"
)

// RunEvent is the payload delivered to the worker for one pipeline run.
type RunEvent struct {
	RunID string `json:"runId"`
}

// RunQueue enqueues runs for asynchronous execution.
type RunQueue interface {
	// Enqueue schedules the run for immediate background execution.
	Enqueue(ctx context.Context, event RunEvent) error
}

// Scheduler defers a run to a future publish time.
type Scheduler interface {
	// Schedule arranges for the run to be enqueued at the given time.
	Schedule(ctx context.Context, event RunEvent, at time.Time) error
}
