// Package store provides durable state for pipeline runs. It uses a
// single-table DynamoDB design where all records for a run share a partition
// key (RUN#{runId}). Sort keys distinguish record types: META for the run
// record and OUTCOME#{platform} for per-platform publish outcomes. A TTL
// attribute (expiresAt) auto-deletes records after 30 days.
//
// Keeping outcomes as separate items means each publisher dispatch writes
// only its own slot; there is no read-modify-write on a shared record during
// concurrent publishing.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/floraworks/florapost/internal/flower"
)

// RunTTL is the time-to-live for all run records.
const RunTTL = 30 * 24 * time.Hour

// ErrRunExists is returned by CreateRun when the run ID is already present.
// Submission uses it to keep duplicate requests idempotent.
var ErrRunExists = errors.New("run already exists")

// RunStore is the persistence capability required by the pipeline. Each
// method is safe for concurrent use. Get methods return (nil, nil) when the
// requested record does not exist.
type RunStore interface {
	// CreateRun writes a new run record, failing with ErrRunExists if a
	// run with the same ID is already stored.
	CreateRun(ctx context.Context, run *flower.PipelineRun) error

	// GetRun returns a full snapshot of a run, including all publish
	// outcomes. Returns nil, nil if the run does not exist.
	GetRun(ctx context.Context, runID string) (*flower.PipelineRun, error)

	// UpdateRunState atomically sets the run state and reason without
	// touching other fields.
	UpdateRunState(ctx context.Context, runID string, state flower.RunState, reason string) error

	// SetAnalysis stores the analysis result. Written exactly once per run.
	SetAnalysis(ctx context.Context, runID string, analysis *flower.AnalysisResult) error

	// SetContent stores the generated content. Written exactly once per run.
	SetContent(ctx context.Context, runID string, content *flower.GeneratedContent) error

	// SetVideo stores the rendered video descriptor.
	SetVideo(ctx context.Context, runID string, video *flower.RenderedVideo) error

	// SetArchiveKey records the S3 key of the run's artifact bundle.
	SetArchiveKey(ctx context.Context, runID, key string) error

	// RequestCancel flags the run for cancellation. The orchestrator
	// consults the flag at stage boundaries; the store never changes the
	// run state itself.
	RequestCancel(ctx context.Context, runID string) error

	// PutOutcome creates or replaces the publish outcome for one platform.
	// Attempt history inside the outcome is append-only by convention:
	// callers pass the full history on every write.
	PutOutcome(ctx context.Context, runID string, outcome *flower.PublishOutcome) error
}
