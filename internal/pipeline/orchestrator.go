// Package pipeline drives a run from acceptance through analysis, content
// generation, video rendering, and publishing fan-out. The orchestrator is
// the only writer of run state; publishers write only their own outcome slot.
//
// Execute is idempotent: runs are delivered at-least-once, so re-entry on an
// already-terminal run is a no-op, and stages whose artifact already exists
// are skipped rather than recomputed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/floraworks/florapost/internal/analyze"
	"github.com/floraworks/florapost/internal/archive"
	"github.com/floraworks/florapost/internal/blob"
	"github.com/floraworks/florapost/internal/content"
	"github.com/floraworks/florapost/internal/flower"
	"github.com/floraworks/florapost/internal/media"
	"github.com/floraworks/florapost/internal/metrics"
	"github.com/floraworks/florapost/internal/publish"
	"github.com/floraworks/florapost/internal/queue"
	"github.com/floraworks/florapost/internal/runid"
	"github.com/floraworks/florapost/internal/store"
	"github.com/floraworks/florapost/internal/video"
)

// cancelPollInterval is how often the publishing wait loop re-reads the
// cancel flag while publisher goroutines are in flight. Variable so tests can
// shorten the poll.
var cancelPollInterval = 2 * time.Second

// ErrRunNotFound is returned when an operation references an unknown run.
var ErrRunNotFound = errors.New("run not found")

// ImageAnalyzer produces the per-image findings and aggregate profile.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, images []analyze.ImageSource) (*flower.AnalysisResult, error)
}

// VideoComposer renders the slideshow video to a local file.
type VideoComposer interface {
	Compose(ctx context.Context, images []video.ImageInput, profile flower.FlowerProfile) (video.Result, func(), error)
}

// MediaStore is the blob storage the pipeline reads sources from and writes
// artifacts to. *blob.Store implements it; local mode substitutes a
// filesystem-backed implementation.
type MediaStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PutFile(ctx context.Context, key, localPath, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ArchiveBundler packages a finished run's artifacts.
type ArchiveBundler interface {
	Upload(ctx context.Context, runID string, entries []archive.Entry) (string, error)
}

// Config wires an Orchestrator. Store, Media, and Queue are required;
// Analyzer, Composer, and Registry are needed only by Execute, so the API
// binary (submit/status/cancel only) leaves them unset. Scheduler, Retrier,
// and Bundler are optional.
type Config struct {
	Store     store.RunStore
	Media     MediaStore
	Queue     queue.RunQueue
	Scheduler queue.Scheduler
	Analyzer  ImageAnalyzer
	Composer  VideoComposer
	Registry  *publish.Registry
	Retrier   *publish.Retrier
	Bundler   ArchiveBundler
}

// Orchestrator owns the run lifecycle.
type Orchestrator struct {
	store     store.RunStore
	media     MediaStore
	queue     queue.RunQueue
	scheduler queue.Scheduler
	analyzer  ImageAnalyzer
	composer  VideoComposer
	registry  *publish.Registry
	retrier   *publish.Retrier
	bundler   ArchiveBundler

	newRunID func() string
}

// New creates an Orchestrator from the config.
func New(cfg Config) *Orchestrator {
	retrier := cfg.Retrier
	if retrier == nil {
		retrier = publish.NewRetrier()
	}
	return &Orchestrator{
		store:     cfg.Store,
		media:     cfg.Media,
		queue:     cfg.Queue,
		scheduler: cfg.Scheduler,
		analyzer:  cfg.Analyzer,
		composer:  cfg.Composer,
		registry:  cfg.Registry,
		retrier:   retrier,
		bundler:   cfg.Bundler,
		newRunID:  func() string { return runid.New("run") },
	}
}

// Submit validates and accepts a request, persists the run, and hands it to
// the background queue (or the scheduler when a future publish time is set).
func (o *Orchestrator) Submit(ctx context.Context, req flower.ContentRequest) (*flower.PipelineRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run := flower.NewRun(o.newRunID(), req)
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}

	event := queue.RunEvent{RunID: run.ID}
	if req.ScheduleTime != nil && req.ScheduleTime.After(time.Now()) && o.scheduler != nil {
		if err := o.scheduler.Schedule(ctx, event, *req.ScheduleTime); err != nil {
			return nil, fmt.Errorf("schedule run: %w", err)
		}
	} else {
		if err := o.queue.Enqueue(ctx, event); err != nil {
			return nil, fmt.Errorf("enqueue run: %w", err)
		}
	}

	metrics.New().Dimension("Stage", "Submit").Count("RunsAccepted").Property("runId", run.ID).Flush()
	log.Info().Str("runId", run.ID).Int("images", len(req.ImageKeys)).Int("platforms", len(req.Platforms)).Msg("Run accepted")
	return run, nil
}

// GetRun returns the current snapshot of a run.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*flower.PipelineRun, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Cancel flags a run for cancellation. The flag is consulted at stage
// boundaries; a run that already reached a terminal state is left untouched.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (*flower.PipelineRun, error) {
	run, err := o.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return run, nil
	}
	if err := o.store.RequestCancel(ctx, runID); err != nil {
		return nil, err
	}
	run.CancelRequested = true
	log.Info().Str("runId", runID).Str("state", string(run.State)).Msg("Cancellation requested")
	return run, nil
}

// Execute runs the pipeline for one run to a terminal state. Safe to call
// again for the same run: completed stages are skipped and terminal runs are
// a no-op.
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.State.Terminal() {
		log.Info().Str("runId", runID).Str("state", string(run.State)).Msg("Run already terminal, skipping redelivery")
		return nil
	}

	if run.CancelRequested {
		metrics.New().Count("RunsCancelled").Property("runId", run.ID).Flush()
		return o.transition(ctx, run, flower.StateCancelled, "cancelled before start")
	}

	if err := o.analyzeStage(ctx, run); err != nil || run.State.Terminal() {
		return err
	}
	if cancelled, err := o.cancelIfRequested(ctx, run); cancelled || err != nil {
		return err
	}

	if err := o.generateStage(ctx, run); err != nil || run.State.Terminal() {
		return err
	}
	if cancelled, err := o.cancelIfRequested(ctx, run); cancelled || err != nil {
		return err
	}

	renderReason, err := o.renderStage(ctx, run)
	if err != nil {
		return err
	}
	if cancelled, err := o.cancelIfRequested(ctx, run); cancelled || err != nil {
		return err
	}

	return o.publishStage(ctx, run, renderReason)
}

// --- stages ---

func (o *Orchestrator) analyzeStage(ctx context.Context, run *flower.PipelineRun) error {
	if run.Analysis != nil {
		return nil
	}
	if err := o.transition(ctx, run, flower.StateAnalyzing, ""); err != nil {
		return err
	}

	start := time.Now()
	sources, capturedAt, err := o.loadImages(ctx, run.Request.ImageKeys)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("load images: %v", err))
	}

	analysis, err := o.analyzer.Analyze(ctx, sources)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.New().Dimension("Stage", "Analyze").Count("AnalysisFailures").Property("runId", run.ID).Flush()
		return o.failRun(ctx, run, fmt.Sprintf("analysis failed: %v", err))
	}
	if analysis.Profile.CapturedAt == "" && capturedAt != "" {
		analysis.Profile.CapturedAt = capturedAt
	}

	if err := o.store.SetAnalysis(ctx, run.ID, analysis); err != nil {
		return fmt.Errorf("store analysis: %w", err)
	}
	run.Analysis = analysis

	metrics.New().Dimension("Stage", "Analyze").StageDuration("Analyze", time.Since(start)).Property("runId", run.ID).Flush()
	log.Info().Str("runId", run.ID).Str("species", analysis.Profile.Species).Int("images", len(analysis.Images)).Msg("Analysis complete")
	return nil
}

func (o *Orchestrator) generateStage(ctx context.Context, run *flower.PipelineRun) error {
	if run.Content != nil {
		return nil
	}
	if err := o.transition(ctx, run, flower.StateGenerating, ""); err != nil {
		return err
	}

	start := time.Now()
	generated, err := content.Generate(run.Analysis, run.Request)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("content generation failed: %v", err))
	}

	if err := o.store.SetContent(ctx, run.ID, generated); err != nil {
		return fmt.Errorf("store content: %w", err)
	}
	run.Content = generated

	metrics.New().Dimension("Stage", "Generate").StageDuration("Generate", time.Since(start)).Property("runId", run.ID).Flush()
	return nil
}

// renderStage renders the video when a requested platform needs one. A render
// failure never fails the run here; the returned reason narrows the publish
// set instead.
func (o *Orchestrator) renderStage(ctx context.Context, run *flower.PipelineRun) (renderReason string, err error) {
	if run.Video != nil || !o.videoRequested(run.Request.Platforms) {
		return "", nil
	}
	// Re-entry that already reached publishing recorded any render failure as
	// per-platform outcomes; rendering is not reattempted.
	if run.State == flower.StatePublishing {
		return "", nil
	}
	if err := o.transition(ctx, run, flower.StateRendering, ""); err != nil {
		return "", err
	}

	if o.composer == nil {
		log.Warn().Str("runId", run.ID).Msg("No video composer configured")
		return "video rendering unavailable", nil
	}

	start := time.Now()
	images, err := o.loadVideoImages(ctx, run.Request.ImageKeys)
	if err != nil {
		return fmt.Sprintf("load images for video: %v", err), nil
	}

	result, cleanup, err := o.composer.Compose(ctx, images, run.Analysis.Profile)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		metrics.New().Dimension("Stage", "Render").Count("RenderFailures").Property("runId", run.ID).Flush()
		log.Warn().Err(err).Str("runId", run.ID).Msg("Video render failed, narrowing publish set")
		return err.Error(), nil
	}
	defer cleanup()

	key := fmt.Sprintf("%s/video.%s", run.ID, result.Format)
	if err := o.media.PutFile(ctx, key, result.Path, "video/mp4"); err != nil {
		return fmt.Sprintf("upload rendered video: %v", err), nil
	}

	rendered := &flower.RenderedVideo{
		Key:             key,
		DurationSeconds: result.DurationSeconds,
		Format:          result.Format,
		Width:           result.Width,
		Height:          result.Height,
	}
	if err := o.store.SetVideo(ctx, run.ID, rendered); err != nil {
		return "", fmt.Errorf("store video: %w", err)
	}
	run.Video = rendered

	metrics.New().Dimension("Stage", "Render").StageDuration("Render", time.Since(start)).Property("runId", run.ID).Flush()
	return "", nil
}

func (o *Orchestrator) publishStage(ctx context.Context, run *flower.PipelineRun, renderReason string) error {
	// Split the requested platforms into deliverable and pre-failed sets.
	// Platforms that already hold a terminal outcome from an earlier delivery
	// of this run are skipped: re-entry must not double-post.
	var deliverable []publish.Publisher
	for _, platform := range run.Request.Platforms {
		if prior := run.Outcomes[platform]; prior != nil && prior.Status != flower.OutcomePending {
			continue
		}
		pub, ok := o.registry.Get(platform)
		if !ok {
			if err := o.writeOutcome(ctx, run, failedOutcome(platform, "no publisher configured")); err != nil {
				return err
			}
			continue
		}
		if pub.RequiresVideo() && run.Video == nil {
			reason := renderReason
			if reason == "" {
				reason = "no video rendered"
			}
			if err := o.writeOutcome(ctx, run, failedOutcome(platform, "video unavailable: "+reason)); err != nil {
				return err
			}
			continue
		}
		deliverable = append(deliverable, pub)
	}

	if len(deliverable) == 0 {
		// Re-entry after a crash between the last outcome write and the
		// terminal transition lands here with every outcome already terminal.
		if run.State == flower.StatePublishing {
			return o.finishRun(ctx, run)
		}
		reason := "no deliverable platforms"
		if renderReason != "" {
			reason = "video rendering failed: " + renderReason
		}
		return o.failRun(ctx, run, reason)
	}

	if err := o.transition(ctx, run, flower.StatePublishing, ""); err != nil {
		return err
	}

	job, err := o.buildJob(ctx, run)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("prepare publish media: %v", err))
	}

	// Pending slots are written before dispatch so a crash mid-publish leaves
	// a visible record for every platform.
	for _, pub := range deliverable {
		pending := &flower.PublishOutcome{
			Platform:  pub.Platform(),
			Status:    flower.OutcomePending,
			UpdatedAt: time.Now().Unix(),
		}
		if err := o.writeOutcome(ctx, run, pending); err != nil {
			return err
		}
	}

	tracker := newOutcomeTracker()
	var g errgroup.Group
	for _, pub := range deliverable {
		pub := pub
		g.Go(func() error {
			outcome := o.publishOne(ctx, pub, job)
			if tracker.deliver(pub.Platform()) {
				// The store is written directly here: the shared run snapshot
				// is not safe to mutate from publisher goroutines.
				if err := o.store.PutOutcome(ctx, run.ID, outcome); err != nil {
					log.Error().Err(err).Str("platform", string(pub.Platform())).Msg("Failed to store publish outcome")
				}
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait() //nolint:errcheck // goroutines never return an error
		close(done)
	}()

	if stopped, err := o.waitOrCancel(ctx, run, deliverable, tracker, done); err != nil || stopped {
		return err
	}

	return o.finishRun(ctx, run)
}

// publishOne runs a single platform through the retrier and shapes the
// resulting outcome.
func (o *Orchestrator) publishOne(ctx context.Context, pub publish.Publisher, job publish.Job) *flower.PublishOutcome {
	platform := pub.Platform()
	result, attempts, err := o.retrier.Publish(ctx, pub, job)

	outcome := &flower.PublishOutcome{
		Platform:  platform,
		Attempts:  attempts,
		UpdatedAt: time.Now().Unix(),
	}
	if err != nil {
		outcome.Status = flower.OutcomeFailed
		outcome.Error = err.Error()
		metrics.New().Dimension("Platform", string(platform)).Count("PublishFailures").Flush()
		log.Warn().Err(err).Str("platform", string(platform)).Str("runId", job.RunID).Msg("Publish failed")
		return outcome
	}

	outcome.Status = flower.OutcomeSucceeded
	outcome.PostID = result.PostID
	outcome.URL = result.URL
	metrics.New().Dimension("Platform", string(platform)).Count("PublishSuccesses").Flush()
	log.Info().Str("platform", string(platform)).Str("postId", result.PostID).Str("runId", job.RunID).Msg("Publish succeeded")
	return outcome
}

// waitOrCancel waits for all publisher goroutines, polling the cancel flag.
// When cancellation arrives mid-publish the wait stops immediately:
// undelivered platforms are marked "failed: cancelled-locally" and the run
// goes terminal, even though the platform calls themselves are not recalled.
func (o *Orchestrator) waitOrCancel(ctx context.Context, run *flower.PipelineRun, deliverable []publish.Publisher, tracker *outcomeTracker, done <-chan struct{}) (stopped bool, err error) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return false, nil
		case <-ctx.Done():
			return true, ctx.Err()
		case <-ticker.C:
			fresh, err := o.store.GetRun(ctx, run.ID)
			if err != nil || fresh == nil || !fresh.CancelRequested {
				continue
			}

			undelivered := tracker.stop()
			for _, pub := range deliverable {
				if !undelivered[pub.Platform()] {
					continue
				}
				outcome := failedOutcome(pub.Platform(), "cancelled-locally")
				if err := o.writeOutcome(ctx, run, outcome); err != nil {
					return true, err
				}
			}
			metrics.New().Count("RunsCancelled").Property("runId", run.ID).Flush()
			return true, o.transition(ctx, run, flower.StateCancelled, "cancelled during publishing")
		}
	}
}

// finishRun tallies the outcomes across all requested platforms and picks the
// terminal state.
func (o *Orchestrator) finishRun(ctx context.Context, run *flower.PipelineRun) error {
	fresh, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reload run for tally: %w", err)
	}
	run.Outcomes = fresh.Outcomes

	var succeeded, failed []string
	for _, platform := range run.Request.Platforms {
		outcome := run.Outcomes[platform]
		if outcome != nil && outcome.Status == flower.OutcomeSucceeded {
			succeeded = append(succeeded, string(platform))
		} else {
			failed = append(failed, string(platform))
		}
	}

	var state flower.RunState
	var reason string
	switch {
	case len(failed) == 0:
		state = flower.StateCompleted
	case len(succeeded) == 0:
		state = flower.StateFailed
		reason = "all platforms failed: " + strings.Join(failed, ", ")
	default:
		state = flower.StatePartiallyFailed
		reason = "failed platforms: " + strings.Join(failed, ", ")
	}

	if err := o.transition(ctx, run, state, reason); err != nil {
		return err
	}

	metrics.New().
		Dimension("Result", string(state)).
		Count("RunsFinished").
		Metric("PlatformsSucceeded", float64(len(succeeded)), metrics.UnitCount).
		Metric("PlatformsFailed", float64(len(failed)), metrics.UnitCount).
		Property("runId", run.ID).
		Flush()
	log.Info().Str("runId", run.ID).Str("state", string(state)).Strs("succeeded", succeeded).Strs("failed", failed).Msg("Run finished")

	o.archiveRun(ctx, run)
	return nil
}

// archiveRun bundles the run artifacts. Best effort: a failed archive never
// changes the run's terminal state.
func (o *Orchestrator) archiveRun(ctx context.Context, run *flower.PipelineRun) {
	if o.bundler == nil || run.Content == nil {
		return
	}

	entries := []archive.Entry{
		{Name: "blog.html", Data: []byte(run.Content.BlogBody)},
		{Name: "caption.txt", Data: []byte(run.Content.Caption)},
		{Name: "hashtags.txt", Data: []byte(strings.Join(run.Content.Hashtags, " "))},
	}
	if analysisJSON, err := json.MarshalIndent(run.Analysis, "", "  "); err == nil {
		entries = append(entries, archive.Entry{Name: "analysis.json", Data: analysisJSON})
	}
	if run.Video != nil {
		if videoData, err := o.media.Get(ctx, run.Video.Key); err == nil {
			entries = append(entries, archive.Entry{Name: path.Base(run.Video.Key), Data: videoData})
		} else {
			log.Warn().Err(err).Str("runId", run.ID).Msg("Skipping video in archive")
		}
	}

	key, err := o.bundler.Upload(ctx, run.ID, entries)
	if err != nil {
		log.Warn().Err(err).Str("runId", run.ID).Msg("Artifact archive failed")
		return
	}
	if err := o.store.SetArchiveKey(ctx, run.ID, key); err != nil {
		log.Warn().Err(err).Str("runId", run.ID).Msg("Failed to record archive key")
	}
	run.ArchiveKey = key
}

// --- helpers ---

// cancelIfRequested re-reads the cancel flag at a stage boundary and, when
// set, drives the run to the cancelled terminal state. Before publishing has
// dispatched, cancellation leaves zero publish outcomes.
func (o *Orchestrator) cancelIfRequested(ctx context.Context, run *flower.PipelineRun) (bool, error) {
	fresh, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		return false, fmt.Errorf("reload run: %w", err)
	}
	if fresh == nil || !fresh.CancelRequested {
		return false, nil
	}

	metrics.New().Count("RunsCancelled").Property("runId", run.ID).Flush()
	return true, o.transition(ctx, run, flower.StateCancelled, "cancelled before publishing")
}

func (o *Orchestrator) transition(ctx context.Context, run *flower.PipelineRun, to flower.RunState, reason string) error {
	if run.State == to {
		return nil
	}
	if !flower.CanTransition(run.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for run %s", run.State, to, run.ID)
	}
	if err := o.store.UpdateRunState(ctx, run.ID, to, reason); err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	log.Debug().Str("runId", run.ID).Str("from", string(run.State)).Str("to", string(to)).Msg("Run state changed")
	run.State = to
	run.StateReason = reason
	return nil
}

func (o *Orchestrator) failRun(ctx context.Context, run *flower.PipelineRun, reason string) error {
	metrics.New().Count("RunsFailed").Property("runId", run.ID).Flush()
	return o.transition(ctx, run, flower.StateFailed, reason)
}

// loadImages downloads the source photos and extracts the earliest EXIF
// capture time found among them.
func (o *Orchestrator) loadImages(ctx context.Context, keys []string) ([]analyze.ImageSource, string, error) {
	sources := make([]analyze.ImageSource, 0, len(keys))
	var earliest time.Time
	for _, key := range keys {
		data, err := o.media.Get(ctx, key)
		if err != nil {
			return nil, "", err
		}
		sources = append(sources, analyze.ImageSource{
			Name:     path.Base(key),
			MIMEType: media.DetectMIME(data),
			Data:     data,
		})
		if ts, ok := media.CaptureTime(data); ok {
			if earliest.IsZero() || ts.Before(earliest) {
				earliest = ts
			}
		}
	}
	var capturedAt string
	if !earliest.IsZero() {
		capturedAt = earliest.Format("2006-01-02")
	}
	return sources, capturedAt, nil
}

// loadVideoImages downloads and resizes the photos for composition.
func (o *Orchestrator) loadVideoImages(ctx context.Context, keys []string) ([]video.ImageInput, error) {
	images := make([]video.ImageInput, 0, len(keys))
	for _, key := range keys {
		data, err := o.media.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		resized, _, err := media.ResizeForUpload(data, media.MaxUploadDimension)
		if err != nil {
			return nil, err
		}
		images = append(images, video.ImageInput{Name: path.Base(key), Data: resized})
	}
	return images, nil
}

// buildJob presigns the media URLs shared by every publisher.
func (o *Orchestrator) buildJob(ctx context.Context, run *flower.PipelineRun) (publish.Job, error) {
	job := publish.Job{
		RunID:   run.ID,
		Content: *run.Content,
		Profile: run.Analysis.Profile,
	}
	for _, key := range run.Request.ImageKeys {
		u, err := o.media.PresignGet(ctx, key, blob.PresignTTL)
		if err != nil {
			return publish.Job{}, err
		}
		job.ImageURLs = append(job.ImageURLs, u)
	}
	if run.Video != nil {
		u, err := o.media.PresignGet(ctx, run.Video.Key, blob.PresignTTL)
		if err != nil {
			return publish.Job{}, err
		}
		job.VideoURL = u
	}
	return job, nil
}

func (o *Orchestrator) videoRequested(platforms []flower.Platform) bool {
	for _, platform := range platforms {
		if pub, ok := o.registry.Get(platform); ok && pub.RequiresVideo() {
			return true
		}
	}
	return false
}

func (o *Orchestrator) writeOutcome(ctx context.Context, run *flower.PipelineRun, outcome *flower.PublishOutcome) error {
	if err := o.store.PutOutcome(ctx, run.ID, outcome); err != nil {
		return fmt.Errorf("store outcome for %s: %w", outcome.Platform, err)
	}
	if run.Outcomes == nil {
		run.Outcomes = make(map[flower.Platform]*flower.PublishOutcome)
	}
	run.Outcomes[outcome.Platform] = outcome
	return nil
}

func failedOutcome(platform flower.Platform, reason string) *flower.PublishOutcome {
	return &flower.PublishOutcome{
		Platform:  platform,
		Status:    flower.OutcomeFailed,
		Error:     reason,
		UpdatedAt: time.Now().Unix(),
	}
}

// outcomeTracker arbitrates outcome writes between publisher goroutines and
// the cancellation path so exactly one side writes each slot.
type outcomeTracker struct {
	mu        sync.Mutex
	stopped   bool
	delivered map[flower.Platform]bool
}

func newOutcomeTracker() *outcomeTracker {
	return &outcomeTracker{delivered: make(map[flower.Platform]bool)}
}

// deliver claims the platform's slot for the publisher goroutine. Returns
// false when cancellation already claimed it.
func (t *outcomeTracker) deliver(platform flower.Platform) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.delivered[platform] = true
	return true
}

// stop claims every unclaimed slot for the cancellation path and returns the
// set of platforms whose outcome was never delivered.
func (t *outcomeTracker) stop() map[flower.Platform]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	undelivered := make(map[flower.Platform]bool)
	for _, platform := range flower.Platforms {
		if !t.delivered[platform] {
			undelivered[platform] = true
		}
	}
	return undelivered
}
