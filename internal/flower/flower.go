// Package flower defines the domain model for the content pipeline: the
// content request, the analysis and generation artifacts derived from it,
// per-platform publish outcomes, and the run state machine that ties them
// together.
//
// AnalysisResult and GeneratedContent are computed exactly once per run and
// never mutated afterwards. Publishers read them but own only their own
// PublishOutcome slot.
package flower

import (
	"fmt"
	"time"
)

// Platform identifies one external publishing surface.
type Platform string

const (
	// PlatformBlog is the long-form blog surface (session/cookie based).
	PlatformBlog Platform = "blog"
	// PlatformSocialImage is the token-authenticated image feed surface.
	PlatformSocialImage Platform = "social-image"
	// PlatformSocialVideo is the token-authenticated short-video surface.
	PlatformSocialVideo Platform = "social-video"
)

// Platforms lists every supported platform in dispatch order.
var Platforms = []Platform{PlatformBlog, PlatformSocialImage, PlatformSocialVideo}

// ParsePlatform converts a request string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformBlog, PlatformSocialImage, PlatformSocialVideo:
		return Platform(s), nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// ContentRequest is the immutable input to one pipeline run. ImageKeys is
// the ordered list of image object keys (S3 keys in Lambda deployments,
// file paths in local mode); order is part of the contract and drives both
// analysis tie-breaking and video sequencing.
type ContentRequest struct {
	ID           string     `json:"id" dynamodbav:"requestId"`
	Title        string     `json:"title,omitempty" dynamodbav:"title,omitempty"`
	Description  string     `json:"description,omitempty" dynamodbav:"description,omitempty"`
	ImageKeys    []string   `json:"imageKeys" dynamodbav:"imageKeys"`
	Platforms    []Platform `json:"platforms" dynamodbav:"platforms"`
	ScheduleTime *time.Time `json:"scheduleTime,omitempty" dynamodbav:"scheduleTime,omitempty"`
}

// ImageFindings holds the structured attributes extracted from a single image.
type ImageFindings struct {
	Species         string   `json:"species" dynamodbav:"species"`
	ScientificName  string   `json:"scientificName,omitempty" dynamodbav:"scientificName,omitempty"`
	Colors          []string `json:"colors" dynamodbav:"colors"`
	Meanings        []string `json:"meanings" dynamodbav:"meanings"`
	Season          string   `json:"season" dynamodbav:"season"`
	CareTips        string   `json:"careTips,omitempty" dynamodbav:"careTips,omitempty"`
	DecorationIdeas string   `json:"decorationIdeas,omitempty" dynamodbav:"decorationIdeas,omitempty"`
	GiftOccasions   []string `json:"giftOccasions,omitempty" dynamodbav:"giftOccasions,omitempty"`
}

// FlowerProfile is the aggregate of all per-image findings for a request:
// majority species, union of color and meaning tags, and the season tag when
// all images agree (otherwise "mixed").
type FlowerProfile struct {
	Species         string   `json:"species" dynamodbav:"species"`
	ScientificName  string   `json:"scientificName,omitempty" dynamodbav:"scientificName,omitempty"`
	Colors          []string `json:"colors" dynamodbav:"colors"`
	Meanings        []string `json:"meanings" dynamodbav:"meanings"`
	Season          string   `json:"season" dynamodbav:"season"`
	CareTips        string   `json:"careTips,omitempty" dynamodbav:"careTips,omitempty"`
	DecorationIdeas string   `json:"decorationIdeas,omitempty" dynamodbav:"decorationIdeas,omitempty"`
	GiftOccasions   []string `json:"giftOccasions,omitempty" dynamodbav:"giftOccasions,omitempty"`
	CapturedAt      string   `json:"capturedAt,omitempty" dynamodbav:"capturedAt,omitempty"`
}

// AnalysisResult is the ImageAnalyzer output, produced once per run.
type AnalysisResult struct {
	Images  []ImageFindings `json:"images" dynamodbav:"images"`
	Profile FlowerProfile   `json:"profile" dynamodbav:"profile"`
}

// GeneratedContent holds the platform-shaped text artifacts derived from an
// AnalysisResult, produced once per run.
type GeneratedContent struct {
	BlogTitle string   `json:"blogTitle" dynamodbav:"blogTitle"`
	BlogBody  string   `json:"blogBody" dynamodbav:"blogBody"`
	Caption   string   `json:"caption" dynamodbav:"caption"`
	Hashtags  []string `json:"hashtags" dynamodbav:"hashtags"`
}

// RenderedVideo describes the short-form vertical video produced by the
// composer, or is absent when no video platform was requested.
type RenderedVideo struct {
	Key             string  `json:"key" dynamodbav:"key"`
	DurationSeconds float64 `json:"durationSeconds" dynamodbav:"durationSeconds"`
	Format          string  `json:"format" dynamodbav:"format"`
	Width           int     `json:"width" dynamodbav:"width"`
	Height          int     `json:"height" dynamodbav:"height"`
}
