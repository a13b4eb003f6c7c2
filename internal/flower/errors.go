package flower

import "fmt"

// FailureKind classifies a publish failure so the publisher boundary can
// decide between retrying and giving up.
type FailureKind string

const (
	// FailAuth marks credential or permission failures. Fatal: retrying
	// with the same credentials cannot succeed.
	FailAuth FailureKind = "auth"
	// FailTransient marks timeouts, 5xx responses, and rate limits.
	FailTransient FailureKind = "transient"
	// FailRejected marks content the platform refused. Fatal: the content
	// would have to be regenerated before another attempt.
	FailRejected FailureKind = "content-rejected"
)

// AnalysisError is fatal to the run: no publisher is invoked after it.
type AnalysisError struct {
	Reason    string
	Transient bool
	Err       error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis: %s: %v", e.Reason, e.Err)
	}
	return "analysis: " + e.Reason
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// GenerationError is fatal to the run. Generation is a pure transform of a
// valid AnalysisResult, so it only fires on an empty or invalid analysis.
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string { return "generation: " + e.Reason }

// RenderError is non-fatal to the run: it removes video-requiring platforms
// from the publish set instead of aborting text-only publishers.
type RenderError struct {
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render: %s: %v", e.Reason, e.Err)
	}
	return "render: " + e.Reason
}

func (e *RenderError) Unwrap() error { return e.Err }

// PublishError is scoped to a single platform and never aborts siblings.
type PublishError struct {
	Platform Platform
	Kind     FailureKind
	Reason   string
	Err      error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("publish %s (%s): %s: %v", e.Platform, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("publish %s (%s): %s", e.Platform, e.Kind, e.Reason)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Retryable reports whether the publisher boundary may attempt the call again.
func (e *PublishError) Retryable() bool { return e.Kind == FailTransient }
