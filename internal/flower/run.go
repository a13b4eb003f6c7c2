package flower

import (
	"fmt"
	"time"
)

// RunState is the explicit pipeline run state. Transitions are validated by
// CanTransition so that a run can never be terminal with work still pending.
type RunState string

const (
	StateAccepted        RunState = "accepted"
	StateAnalyzing       RunState = "analyzing"
	StateGenerating      RunState = "generating"
	StateRendering       RunState = "rendering"
	StatePublishing      RunState = "publishing"
	StateCompleted       RunState = "completed"
	StatePartiallyFailed RunState = "partial-failure"
	StateFailed          RunState = "failed"
	StateCancelled       RunState = "cancelled"
)

// Terminal reports whether no further transition can occur from s.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StatePartiallyFailed, StateFailed, StateCancelled:
		return true
	}
	return false
}

// transitions enumerates every legal state edge. Cancellation is legal from
// any non-terminal state; publishers never drive transitions themselves.
var transitions = map[RunState][]RunState{
	StateAccepted:   {StateAnalyzing, StateCancelled},
	StateAnalyzing:  {StateGenerating, StateFailed, StateCancelled},
	StateGenerating: {StateRendering, StatePublishing, StateFailed, StateCancelled},
	StateRendering:  {StatePublishing, StateFailed, StateCancelled},
	StatePublishing: {StateCompleted, StatePartiallyFailed, StateFailed, StateCancelled},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OutcomeStatus is the per-platform publish status.
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// PublishAttempt records a single publish call against a platform. Attempts
// are append-only: retries add a new attempt rather than rewriting history.
type PublishAttempt struct {
	ID         string `json:"id" dynamodbav:"id"`
	StartedAt  int64  `json:"startedAt" dynamodbav:"startedAt"`
	FinishedAt int64  `json:"finishedAt" dynamodbav:"finishedAt"`
	Succeeded  bool   `json:"succeeded" dynamodbav:"succeeded"`
	Error      string `json:"error,omitempty" dynamodbav:"error,omitempty"`
}

// PublishOutcome is the per-(run, platform) publishing record. Status is
// terminal once succeeded or failed; only the matching publisher's dispatch
// goroutine writes this slot.
type PublishOutcome struct {
	Platform  Platform         `json:"platform" dynamodbav:"-"`
	Status    OutcomeStatus    `json:"status" dynamodbav:"status"`
	PostID    string           `json:"postId,omitempty" dynamodbav:"postId,omitempty"`
	URL       string           `json:"url,omitempty" dynamodbav:"url,omitempty"`
	Error     string           `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Attempts  []PublishAttempt `json:"attempts,omitempty" dynamodbav:"attempts,omitempty"`
	UpdatedAt int64            `json:"updatedAt" dynamodbav:"updatedAt"`
}

// PipelineRun aggregates one request with everything the pipeline produced
// for it. It is the snapshot shape returned to status pollers.
type PipelineRun struct {
	ID              string                       `json:"id" dynamodbav:"-"`
	Request         ContentRequest               `json:"request" dynamodbav:"request"`
	State           RunState                     `json:"state" dynamodbav:"state"`
	StateReason     string                       `json:"stateReason,omitempty" dynamodbav:"stateReason,omitempty"`
	CancelRequested bool                         `json:"cancelRequested,omitempty" dynamodbav:"cancelRequested,omitempty"`
	Analysis        *AnalysisResult              `json:"analysis,omitempty" dynamodbav:"analysis,omitempty"`
	Content         *GeneratedContent            `json:"content,omitempty" dynamodbav:"content,omitempty"`
	Video           *RenderedVideo               `json:"video,omitempty" dynamodbav:"video,omitempty"`
	ArchiveKey      string                       `json:"archiveKey,omitempty" dynamodbav:"archiveKey,omitempty"`
	Outcomes        map[Platform]*PublishOutcome `json:"outcomes,omitempty" dynamodbav:"-"`
	CreatedAt       int64                        `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt       int64                        `json:"updatedAt" dynamodbav:"updatedAt"`
}

// NewRun creates a run in the accepted state for the given request.
func NewRun(id string, req ContentRequest) *PipelineRun {
	now := time.Now().Unix()
	return &PipelineRun{
		ID:        id,
		Request:   req,
		State:     StateAccepted,
		Outcomes:  make(map[Platform]*PublishOutcome),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the structural invariants of a request before acceptance.
func (r ContentRequest) Validate() error {
	if len(r.ImageKeys) == 0 {
		return fmt.Errorf("request requires at least one image")
	}
	if len(r.Platforms) == 0 {
		return fmt.Errorf("request requires at least one target platform")
	}
	seen := make(map[Platform]bool, len(r.Platforms))
	for _, p := range r.Platforms {
		if _, err := ParsePlatform(string(p)); err != nil {
			return err
		}
		if seen[p] {
			return fmt.Errorf("duplicate platform %q", p)
		}
		seen[p] = true
	}
	return nil
}
