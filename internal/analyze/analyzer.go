// Package analyze implements the image analysis stage: each flower
// photograph is sent to a vision model for structured attribute extraction,
// and the per-image findings are aggregated into one profile for the run.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/floraworks/florapost/internal/assets"
	"github.com/floraworks/florapost/internal/flower"
	"github.com/floraworks/florapost/internal/jsonutil"
)

// DefaultModel is the vision model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

const (
	// maxAttempts bounds retries per image for transient failures.
	maxAttempts = 3

	// baseBackoff is the first retry delay; it doubles per attempt up to
	// maxBackoff.
	baseBackoff = 2 * time.Second
	maxBackoff  = 30 * time.Second
)

// supportedMIMETypes are the image formats the vision API accepts.
var supportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// ImageSource is one image to analyze: raw bytes plus the detected MIME type.
type ImageSource struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Analyzer extracts flower attributes from images via the Gemini API.
type Analyzer struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	sleep   func(context.Context, time.Duration) error
}

// NewAnalyzer creates an Analyzer using the given client and model name.
// Calls are paced to stay under the vision API free-tier request rate.
func NewAnalyzer(client *genai.Client, model string) *Analyzer {
	return &Analyzer{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		sleep:   sleepCtx,
	}
}

// NewGeminiClient creates a Gemini API client from an API key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}

// Analyze extracts findings from every image in order and aggregates them.
// Transient API failures are retried per image up to maxAttempts with
// exponential backoff; unsupported input fails immediately.
func (a *Analyzer) Analyze(ctx context.Context, images []ImageSource) (*flower.AnalysisResult, error) {
	if len(images) == 0 {
		return nil, &flower.AnalysisError{Reason: "no images to analyze"}
	}

	findings := make([]flower.ImageFindings, 0, len(images))
	for i, img := range images {
		if !supportedMIMETypes[img.MIMEType] {
			return nil, &flower.AnalysisError{
				Reason: fmt.Sprintf("image %d (%s): unsupported format %s", i, img.Name, img.MIMEType),
			}
		}

		f, err := a.analyzeOne(ctx, img)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Int("image", i).
			Str("species", f.Species).
			Strs("colors", f.Colors).
			Msg("Image analyzed")
		findings = append(findings, *f)
	}

	result := &flower.AnalysisResult{
		Images:  findings,
		Profile: Aggregate(findings),
	}
	log.Info().
		Int("imageCount", len(images)).
		Str("species", result.Profile.Species).
		Str("season", result.Profile.Season).
		Msg("Analysis complete")
	return result, nil
}

// analyzeOne sends a single image to the model with bounded retries.
func (a *Analyzer) analyzeOne(ctx context.Context, img ImageSource) (*flower.ImageFindings, error) {
	backoff := baseBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, &flower.AnalysisError{Reason: "analysis cancelled", Err: err}
		}

		f, err := a.callModel(ctx, img)
		if err == nil {
			return f, nil
		}
		lastErr = err

		var aerr *flower.AnalysisError
		if errors.As(err, &aerr) && !aerr.Transient {
			return nil, err
		}

		if attempt < maxAttempts {
			log.Warn().
				Err(err).
				Str("image", img.Name).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Transient analysis failure, retrying")
			if err := a.sleep(ctx, backoff); err != nil {
				return nil, &flower.AnalysisError{Reason: "analysis cancelled", Err: err}
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return nil, &flower.AnalysisError{
		Reason:    fmt.Sprintf("image %s: %d attempts exhausted", img.Name, maxAttempts),
		Transient: true,
		Err:       lastErr,
	}
}

// callModel performs one vision API call and parses the structured response.
func (a *Analyzer) callModel(ctx context.Context, img ImageSource) (*flower.ImageFindings, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.AnalysisSystemPrompt}},
		},
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
			{Text: assets.AnalysisUserPrompt},
		},
	}}

	callStart := time.Now()
	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	duration := time.Since(callStart)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if resp == nil {
		return nil, &flower.AnalysisError{Reason: "empty response from vision API", Transient: true}
	}

	text := resp.Text()
	log.Debug().
		Int("responseLength", len(text)).
		Dur("duration", duration).
		Msg("Vision API response received")

	return parseFindings(text)
}

// parseFindings converts the model's JSON response into ImageFindings.
// A malformed response is not retried: the model saw the image fine, the
// output shape is wrong, and resending the same input rarely fixes that.
func parseFindings(text string) (*flower.ImageFindings, error) {
	f, err := jsonutil.ParseJSON[flower.ImageFindings](text)
	if err != nil {
		return nil, &flower.AnalysisError{Reason: "malformed model response", Err: err}
	}
	if f.Species == "" {
		return nil, &flower.AnalysisError{Reason: "model response missing species"}
	}
	return &f, nil
}

// classifyAPIError maps a vision API failure onto the analysis error
// taxonomy: 5xx, 429, and transport timeouts are transient; everything else
// (bad request, invalid key) fails immediately.
func classifyAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		transient := apiErr.Code == 429 || apiErr.Code >= 500
		return &flower.AnalysisError{
			Reason:    fmt.Sprintf("vision API error %d", apiErr.Code),
			Transient: transient,
			Err:       err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &flower.AnalysisError{Reason: "vision API timeout", Transient: true, Err: err}
	}
	// Network-level failures without a structured code: assume transient.
	return &flower.AnalysisError{Reason: "vision API request failed", Transient: true, Err: err}
}

// sleepCtx blocks for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
