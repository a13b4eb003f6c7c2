// api-lambda is the HTTP-facing Lambda: it issues presigned upload URLs,
// accepts content requests, reports run status, and takes cancel requests.
// Pipeline execution happens in worker-lambda, reached through an async
// Lambda invocation.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/blob"
	"github.com/floraworks/florapost/internal/lambdaboot"
	"github.com/floraworks/florapost/internal/logging"
	"github.com/floraworks/florapost/internal/pipeline"
	"github.com/floraworks/florapost/internal/publish"
	"github.com/floraworks/florapost/internal/queue"
)

// maxPhotoSize bounds a single source photo upload.
const maxPhotoSize = 25 << 20 // 25 MiB

// allowedContentTypes is the upload allowlist; it matches the formats the
// analyzer accepts.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Initialized at cold start.
var (
	mediaStore   *blob.Store
	orchestrator *pipeline.Orchestrator
)

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	mediaStore = lambdaboot.InitMediaStore(clients.Config, "MEDIA_BUCKET_NAME")
	runStore := lambdaboot.InitRunStore(clients.Config, "RUNS_TABLE_NAME")

	workerArn := os.Getenv("WORKER_LAMBDA_ARN")
	if workerArn == "" {
		log.Fatal().Msg("WORKER_LAMBDA_ARN environment variable is required")
	}
	runQueue := queue.NewLambdaQueue(lambdasvc.NewFromConfig(clients.Config), workerArn)
	scheduler := queue.NewEventBridgeScheduler(eventbridge.NewFromConfig(clients.Config), workerArn)

	orchestrator = pipeline.New(pipeline.Config{
		Store:     runStore,
		Media:     mediaStore,
		Queue:     runQueue,
		Scheduler: scheduler,
		Registry:  publish.NewRegistry(),
	})

	lambdaboot.StartupLog("api-lambda", initStart).
		S3Bucket("media", mediaStore.Bucket()).
		DynamoTable("runs", os.Getenv("RUNS_TABLE_NAME")).
		LambdaFunc("worker", workerArn).
		Log()
}

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/upload-url", handleUploadURL)
	mux.HandleFunc("/api/runs", handleRuns)
	mux.HandleFunc("/api/runs/", handleRunRoutes)

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "florapost",
	})
}

// GET /api/upload-url?requestId=...&filename=...&contentType=...
// Returns a presigned S3 PUT URL so the client uploads photos directly to S3
// before submitting the run.
func handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID := r.URL.Query().Get("requestId")
	filename := r.URL.Query().Get("filename")
	contentType := r.URL.Query().Get("contentType")

	if requestID == "" || filename == "" || contentType == "" {
		httpError(w, http.StatusBadRequest, "requestId, filename, and contentType are required")
		return
	}
	if _, err := uuid.Parse(requestID); err != nil {
		httpError(w, http.StatusBadRequest, "requestId must be a UUID")
		return
	}
	filename = filepath.Base(filename)
	if !filenamePattern.MatchString(filename) {
		httpError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !allowedContentTypes[contentType] {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("unsupported content type: %s", contentType))
		return
	}

	key := fmt.Sprintf("uploads/%s/%s", requestID, filename)
	url, err := mediaStore.PresignPut(r.Context(), key, contentType, blob.PresignTTL)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to create upload URL", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"uploadUrl": url,
		"key":       key,
		"maxBytes":  maxPhotoSize,
		"expiresIn": int(blob.PresignTTL.Seconds()),
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}
