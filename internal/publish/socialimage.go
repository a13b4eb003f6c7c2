package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/flower"
)

const (
	// defaultGraphBaseURL is the Graph API base URL for image publishing.
	defaultGraphBaseURL = "https://graph.instagram.com/v22.0"

	// defaultGraphTimeout is the HTTP client timeout for API calls.
	defaultGraphTimeout = 30 * time.Second

	// maxCarouselItems is the platform's carousel size limit.
	maxCarouselItems = 20
)

// SocialImagePublisher publishes the caption plus photos to the image
// platform via its Graph API. Publishing is a two-step process: create media
// containers (one per image, uploaded via public URL; a carousel container on
// top when there is more than one image), then publish the container.
type SocialImagePublisher struct {
	httpClient  *http.Client
	accessToken string
	userID      string
	baseURL     string
}

// NewSocialImagePublisher creates the image-platform publisher.
// accessToken and userID are loaded from SSM Parameter Store at cold start.
func NewSocialImagePublisher(accessToken, userID string) *SocialImagePublisher {
	return &SocialImagePublisher{
		httpClient:  &http.Client{Timeout: defaultGraphTimeout},
		accessToken: accessToken,
		userID:      userID,
		baseURL:     defaultGraphBaseURL,
	}
}

// Platform implements Publisher.
func (p *SocialImagePublisher) Platform() flower.Platform { return flower.PlatformSocialImage }

// RequiresVideo implements Publisher.
func (p *SocialImagePublisher) RequiresVideo() bool { return false }

// Publish creates the container(s) and publishes them as one post.
func (p *SocialImagePublisher) Publish(ctx context.Context, job Job) (*Result, error) {
	if len(job.ImageURLs) == 0 {
		return nil, p.fail(flower.FailRejected, "no images to publish", nil)
	}
	if len(job.ImageURLs) > maxCarouselItems {
		return nil, p.fail(flower.FailRejected,
			fmt.Sprintf("carousel supports at most %d items, got %d", maxCarouselItems, len(job.ImageURLs)), nil)
	}

	caption := captionWithHashtags(job.Content)

	var containerID string
	var err error
	if len(job.ImageURLs) == 1 {
		containerID, err = p.createImageContainer(ctx, job.ImageURLs[0], caption, false)
	} else {
		containerID, err = p.createCarousel(ctx, job.ImageURLs, caption)
	}
	if err != nil {
		return nil, err
	}

	postID, err := p.publishContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}

	permalink, err := p.permalink(ctx, postID)
	if err != nil {
		// The post is live; a permalink lookup failure must not fail the
		// publish.
		log.Warn().Err(err).Str("postId", postID).Msg("Permalink lookup failed")
		permalink = ""
	}

	log.Info().Str("postId", postID).Int("images", len(job.ImageURLs)).Msg("Image post published")
	return &Result{PostID: postID, URL: permalink}, nil
}

// createImageContainer creates an image media container. imageURL must be a
// publicly accessible URL (presigned S3 GET URL). The caption is only set on
// top-level containers, never on carousel children.
func (p *SocialImagePublisher) createImageContainer(ctx context.Context, imageURL, caption string, isCarouselItem bool) (string, error) {
	params := url.Values{
		"image_url":    {imageURL},
		"access_token": {p.accessToken},
	}
	if isCarouselItem {
		params.Set("is_carousel_item", "true")
	} else {
		params.Set("caption", caption)
	}

	resp, err := p.postForm(ctx, fmt.Sprintf("/%s/media", p.userID), params)
	if err != nil {
		return "", err
	}
	log.Debug().Str("containerId", resp.ID).Bool("carouselItem", isCarouselItem).Msg("Image container created")
	return resp.ID, nil
}

// createCarousel creates child containers for every image and a carousel
// container referencing them.
func (p *SocialImagePublisher) createCarousel(ctx context.Context, imageURLs []string, caption string) (string, error) {
	children := make([]string, 0, len(imageURLs))
	for _, u := range imageURLs {
		id, err := p.createImageContainer(ctx, u, "", true)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	params := url.Values{
		"media_type":   {"CAROUSEL"},
		"children":     {strings.Join(children, ",")},
		"caption":      {caption},
		"access_token": {p.accessToken},
	}
	resp, err := p.postForm(ctx, fmt.Sprintf("/%s/media", p.userID), params)
	if err != nil {
		return "", err
	}
	log.Debug().Str("containerId", resp.ID).Int("children", len(children)).Msg("Carousel container created")
	return resp.ID, nil
}

// publishContainer publishes a media container and returns the post ID.
func (p *SocialImagePublisher) publishContainer(ctx context.Context, containerID string) (string, error) {
	params := url.Values{
		"creation_id":  {containerID},
		"access_token": {p.accessToken},
	}
	resp, err := p.postForm(ctx, fmt.Sprintf("/%s/media_publish", p.userID), params)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// permalink fetches the public URL of a published post.
func (p *SocialImagePublisher) permalink(ctx context.Context, postID string) (string, error) {
	endpoint := fmt.Sprintf("/%s?fields=permalink&access_token=%s", postID, url.QueryEscape(p.accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("permalink request: %w", err)
	}
	defer httpResp.Body.Close()

	var out struct {
		Permalink string `json:"permalink"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse permalink response: %w", err)
	}
	return out.Permalink, nil
}

// --- API plumbing ---

// graphResponse is the generic Graph API response.
type graphResponse struct {
	ID    string    `json:"id"`
	Error *graphErr `json:"error,omitempty"`
}

type graphErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// postForm sends a form-encoded POST to the Graph API and classifies
// failures into PublishError kinds.
func (p *SocialImagePublisher) postForm(ctx context.Context, endpoint string, params url.Values) (*graphResponse, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, p.fail(flower.FailRejected, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := p.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, p.fail(flower.FailTransient, "request failed", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Str("path", endpoint).Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Graph API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, p.fail(flower.FailTransient, "read response", err)
	}

	var resp graphResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, p.fail(flower.FailTransient,
			fmt.Sprintf("parse response (body: %s)", truncate(string(body), 200)), err)
	}

	if resp.Error != nil {
		kind := classifyGraphErr(httpResp.StatusCode, resp.Error.Code)
		return nil, p.fail(kind,
			fmt.Sprintf("API error: %s (type: %s, code: %d)", resp.Error.Message, resp.Error.Type, resp.Error.Code), nil)
	}
	if httpResp.StatusCode >= 500 {
		return nil, p.fail(flower.FailTransient, fmt.Sprintf("server error: HTTP %d", httpResp.StatusCode), nil)
	}
	if resp.ID == "" {
		return nil, p.fail(flower.FailTransient,
			fmt.Sprintf("unexpected response: no ID returned (body: %s)", truncate(string(body), 200)), nil)
	}
	return &resp, nil
}

// classifyGraphErr maps Graph API error codes onto failure kinds. Code 190 is
// an invalid or expired token; 4, 17, and 32 are rate limits.
func classifyGraphErr(statusCode, apiCode int) flower.FailureKind {
	switch apiCode {
	case 190:
		return flower.FailAuth
	case 4, 17, 32:
		return flower.FailTransient
	}
	if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
		return flower.FailTransient
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return flower.FailAuth
	}
	return flower.FailRejected
}

func (p *SocialImagePublisher) fail(kind flower.FailureKind, reason string, err error) *flower.PublishError {
	return &flower.PublishError{Platform: p.Platform(), Kind: kind, Reason: reason, Err: err}
}

// captionWithHashtags joins the caption and hashtag block the way the image
// platform displays them.
func captionWithHashtags(content flower.GeneratedContent) string {
	if len(content.Hashtags) == 0 {
		return content.Caption
	}
	return content.Caption + "\n\n" + strings.Join(content.Hashtags, " ")
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
