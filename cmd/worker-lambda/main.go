// Worker Lambda: executes content pipeline runs. Invoked asynchronously by
// the API Lambda (direct Invoke) or by a one-shot EventBridge rule for
// scheduled runs. Safe to re-deliver: completed stages are skipped on
// re-entry.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/analyze"
	"github.com/floraworks/florapost/internal/archive"
	"github.com/floraworks/florapost/internal/lambdaboot"
	"github.com/floraworks/florapost/internal/logging"
	"github.com/floraworks/florapost/internal/pipeline"
	"github.com/floraworks/florapost/internal/queue"
	"github.com/floraworks/florapost/internal/video"
)

var (
	orchestrator *pipeline.Orchestrator
	scheduler    *queue.EventBridgeScheduler
)

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	mediaStore := lambdaboot.InitMediaStore(clients.Config, "MEDIA_BUCKET_NAME")
	runStore := lambdaboot.InitRunStore(clients.Config, "RUNS_TABLE_NAME")

	lambdaboot.LoadGeminiKey(clients.SSM)
	geminiClient, err := analyze.NewGeminiClient(context.Background(), os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	model := logging.EnvOrDefault("GEMINI_MODEL", analyze.DefaultModel)
	analyzer := analyze.NewAnalyzer(geminiClient, model)

	if err := video.CheckFFmpegAvailable(); err != nil {
		log.Warn().Err(err).Msg("ffmpeg not available; video rendering will fail and narrow the publish set")
	}

	registry := lambdaboot.LoadPublishers(clients.SSM)

	orchestrator = pipeline.New(pipeline.Config{
		Store:    runStore,
		Media:    mediaStore,
		Analyzer: analyzer,
		Composer: video.NewComposer(),
		Registry: registry,
		Bundler:  archive.NewBundler(mediaStore),
	})

	workerArn := os.Getenv("WORKER_LAMBDA_ARN")
	if workerArn != "" {
		scheduler = queue.NewEventBridgeScheduler(eventbridge.NewFromConfig(clients.Config), workerArn)
	}

	startup := lambdaboot.StartupLog("worker-lambda", initStart).
		Config("model", model)
	for _, p := range registry.Platforms() {
		startup.Feature(string(p), true)
	}
	startup.Log()
}

func handler(ctx context.Context, event queue.RunEvent) error {
	log.Info().Str("runId", event.RunID).Msg("Worker received run")

	err := orchestrator.Execute(ctx, event.RunID)

	// Scheduled runs leave behind a one-shot EventBridge rule. Remove it
	// regardless of outcome so rules don't accumulate; runs enqueued by
	// direct Invoke have no rule and Cleanup is a harmless no-op failure.
	if scheduler != nil {
		if cleanupErr := scheduler.Cleanup(context.Background(), event.RunID); cleanupErr != nil {
			log.Debug().Err(cleanupErr).Str("runId", event.RunID).Msg("No schedule rule to clean up")
		}
	}

	if err != nil {
		log.Error().Err(err).Str("runId", event.RunID).Msg("Run execution failed")
		return err
	}
	return nil
}

func main() {
	lambda.Start(handler)
}
