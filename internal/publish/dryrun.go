package publish

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/flower"
)

// DryRunPublisher logs what would be published without calling any platform.
// Used by the CLI's local mode.
type DryRunPublisher struct {
	platform  flower.Platform
	needVideo bool
}

// NewDryRunPublisher returns a dry-run stand-in for the given platform.
func NewDryRunPublisher(platform flower.Platform, requiresVideo bool) *DryRunPublisher {
	return &DryRunPublisher{platform: platform, needVideo: requiresVideo}
}

// Platform implements Publisher.
func (p *DryRunPublisher) Platform() flower.Platform { return p.platform }

// RequiresVideo implements Publisher.
func (p *DryRunPublisher) RequiresVideo() bool { return p.needVideo }

// Publish logs the would-be post and returns a synthetic result.
func (p *DryRunPublisher) Publish(ctx context.Context, job Job) (*Result, error) {
	log.Info().
		Str("platform", string(p.platform)).
		Str("runId", job.RunID).
		Str("title", job.Content.BlogTitle).
		Str("caption", job.Content.Caption).
		Int("hashtags", len(job.Content.Hashtags)).
		Int("images", len(job.ImageURLs)).
		Bool("hasVideo", job.VideoURL != "").
		Msg("Dry run: would publish")
	return &Result{PostID: fmt.Sprintf("dry-run-%s-%s", p.platform, job.RunID)}, nil
}
