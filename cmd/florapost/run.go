package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/floraworks/florapost/internal/analyze"
	"github.com/floraworks/florapost/internal/archive"
	"github.com/floraworks/florapost/internal/blob"
	"github.com/floraworks/florapost/internal/flower"
	"github.com/floraworks/florapost/internal/logging"
	"github.com/floraworks/florapost/internal/media"
	"github.com/floraworks/florapost/internal/pipeline"
	"github.com/floraworks/florapost/internal/publish"
	"github.com/floraworks/florapost/internal/queue"
	"github.com/floraworks/florapost/internal/store"
	"github.com/floraworks/florapost/internal/video"
)

// pollInterval is how often the CLI re-reads run state while waiting.
const pollInterval = 500 * time.Millisecond

// runExecutor defers the orchestrator reference: the local queue needs an
// executor before the orchestrator (which needs the queue) exists.
type runExecutor struct {
	orchestrator *pipeline.Orchestrator
}

func (e *runExecutor) Execute(ctx context.Context, runID string) error {
	return e.orchestrator.Execute(ctx, runID)
}

func runPipeline(cmd *cobra.Command, args []string) {
	logging.Init()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY environment variable is required")
	}

	platforms := make([]flower.Platform, 0, len(platformsFlag))
	for _, raw := range platformsFlag {
		p, err := flower.ParsePlatform(raw)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid platform")
		}
		platforms = append(platforms, p)
	}

	ctx := context.Background()

	mediaStore, err := blob.NewFSStore(workdirFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create work directory")
	}
	log.Info().Str("dir", mediaStore.Root()).Msg("Using work directory")

	imageKeys, err := importImages(ctx, mediaStore, args)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to import images")
	}

	geminiClient, err := analyze.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	if err := video.CheckFFmpegAvailable(); err != nil {
		log.Warn().Err(err).Msg("ffmpeg not found; video rendering will fail and narrow the publish set")
	}

	var pubs []publish.Publisher
	for _, p := range platforms {
		pubs = append(pubs, publish.NewDryRunPublisher(p, p == flower.PlatformSocialVideo))
	}

	runStore := store.NewMemoryStore()
	exec := &runExecutor{}
	localQueue := queue.NewLocalQueue(exec, 1, 4)
	defer localQueue.Close()

	exec.orchestrator = pipeline.New(pipeline.Config{
		Store:    runStore,
		Media:    mediaStore,
		Queue:    localQueue,
		Analyzer: analyze.NewAnalyzer(geminiClient, modelFlag),
		Composer: video.NewComposer(),
		Registry: publish.NewRegistry(pubs...),
		Bundler:  archive.NewBundler(mediaStore),
	})

	run, err := exec.orchestrator.Submit(ctx, flower.ContentRequest{
		Title:       titleFlag,
		Description: descFlag,
		ImageKeys:   imageKeys,
		Platforms:   platforms,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to submit run")
	}
	log.Info().Str("runId", run.ID).Msg("Run accepted")

	final := waitForRun(ctx, runStore, run.ID)
	printSummary(final, mediaStore)

	if final.State != flower.StateCompleted {
		os.Exit(1)
	}
}

// importImages copies local image files into the media store under
// uploads/local/ and returns their keys.
func importImages(ctx context.Context, mediaStore *blob.FSStore, paths []string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		key := "uploads/local/" + filepath.Base(p)
		if err := mediaStore.Put(ctx, key, data, media.DetectMIME(data)); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// waitForRun polls the store until the run reaches a terminal state, logging
// each state change along the way.
func waitForRun(ctx context.Context, runStore store.RunStore, runID string) *flower.PipelineRun {
	lastState := flower.RunState("")
	for {
		run, err := runStore.GetRun(ctx, runID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read run state")
		}
		if run.State != lastState {
			log.Info().Str("state", string(run.State)).Msg("Run state changed")
			lastState = run.State
		}
		if run.State.Terminal() {
			return run
		}
		time.Sleep(pollInterval)
	}
}

func printSummary(run *flower.PipelineRun, mediaStore *blob.FSStore) {
	fmt.Printf("\nRun %s: %s", run.ID, run.State)
	if run.StateReason != "" {
		fmt.Printf(" (%s)", run.StateReason)
	}
	fmt.Println()

	if run.Analysis != nil {
		p := run.Analysis.Profile
		fmt.Printf("  Flower:   %s (%s), season: %s\n", p.Species, p.ScientificName, p.Season)
	}
	if run.Content != nil {
		fmt.Printf("  Caption:  %s\n", run.Content.Caption)
		fmt.Printf("  Hashtags: %d\n", len(run.Content.Hashtags))
	}
	if run.Video != nil {
		fmt.Printf("  Video:    %s (%.1fs)\n", filepath.Join(mediaStore.Root(), filepath.FromSlash(run.Video.Key)), run.Video.DurationSeconds)
	}
	if run.ArchiveKey != "" {
		fmt.Printf("  Archive:  %s\n", filepath.Join(mediaStore.Root(), filepath.FromSlash(run.ArchiveKey)))
	}
	for _, platform := range flower.Platforms {
		outcome, ok := run.Outcomes[platform]
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %-14s %s", platform+":", outcome.Status)
		if outcome.URL != "" {
			line += "  " + outcome.URL
		}
		if outcome.Error != "" {
			line += "  " + outcome.Error
		}
		fmt.Println(line)
	}
}
