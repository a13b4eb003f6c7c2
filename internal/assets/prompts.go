// Package assets provides embedded static assets for the pipeline.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time, so prompt wording can change without touching Go code.
package assets

import (
	_ "embed"
)

// AnalysisSystemPrompt instructs the vision model to act as a botanical
// analyst and respond with strict JSON only.
//
//go:embed prompts/analysis-system.txt
var AnalysisSystemPrompt string

// AnalysisUserPrompt is the per-image extraction request describing the
// expected JSON fields.
//
//go:embed prompts/analysis-user.txt
var AnalysisUserPrompt string
