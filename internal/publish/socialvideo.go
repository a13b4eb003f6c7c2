package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/flower"
)

const (
	// defaultVideoBaseURL is the short-video platform's upload API base URL.
	defaultVideoBaseURL = "https://upload.video-platform.example/v2"

	// uploadChunkSize is the resumable-upload chunk size.
	uploadChunkSize = 4 << 20 // 4 MiB

	// perRequestTimeout bounds each individual upload or API call; the whole
	// publish is bounded by the caller's context.
	perRequestTimeout = 2 * time.Minute

	// Processing poll settings after the upload is finalized.
	videoInitialPollInterval = 5 * time.Second
	videoMaxPollInterval     = 30 * time.Second
	videoPollTimeout         = 5 * time.Minute
)

// SocialVideoPublisher uploads the rendered video to the short-video platform.
// Publishing is a four-step process:
//  1. Initialize a resumable upload session (returns an upload ID)
//  2. Upload the video in fixed-size chunks with byte offsets
//  3. Finalize the upload with the caption, creating the post
//  4. Poll processing status until the platform finishes transcoding
type SocialVideoPublisher struct {
	httpClient  *http.Client
	accessToken string
	baseURL     string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSocialVideoPublisher creates the video-platform publisher.
// accessToken is loaded from SSM Parameter Store at cold start.
func NewSocialVideoPublisher(accessToken string) *SocialVideoPublisher {
	return &SocialVideoPublisher{
		httpClient:  &http.Client{Timeout: perRequestTimeout},
		accessToken: accessToken,
		baseURL:     defaultVideoBaseURL,
		sleep:       sleepCtx,
	}
}

// Platform implements Publisher.
func (p *SocialVideoPublisher) Platform() flower.Platform { return flower.PlatformSocialVideo }

// RequiresVideo implements Publisher.
func (p *SocialVideoPublisher) RequiresVideo() bool { return true }

// Publish downloads the rendered video from its presigned URL and streams it
// to the platform in chunks.
func (p *SocialVideoPublisher) Publish(ctx context.Context, job Job) (*Result, error) {
	if job.VideoURL == "" {
		return nil, p.fail(flower.FailRejected, "no rendered video available", nil)
	}

	body, size, err := p.openVideo(ctx, job.VideoURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	uploadID, err := p.initUpload(ctx, size)
	if err != nil {
		return nil, err
	}

	if err := p.uploadChunks(ctx, uploadID, body, size); err != nil {
		return nil, err
	}

	videoID, err := p.finalize(ctx, uploadID, captionWithHashtags(job.Content))
	if err != nil {
		return nil, err
	}

	permalink, err := p.waitForProcessing(ctx, videoID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("videoId", videoID).Int64("sizeBytes", size).Msg("Video post published")
	return &Result{PostID: videoID, URL: permalink}, nil
}

// openVideo opens the rendered video from its presigned GET URL.
func (p *SocialVideoPublisher) openVideo(ctx context.Context, videoURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, 0, p.fail(flower.FailRejected, "build video fetch request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, p.fail(flower.FailTransient, "fetch rendered video", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, p.fail(flower.FailTransient,
			fmt.Sprintf("fetch rendered video: HTTP %d", resp.StatusCode), nil)
	}
	if resp.ContentLength <= 0 {
		resp.Body.Close()
		return nil, 0, p.fail(flower.FailTransient, "rendered video has unknown length", nil)
	}
	return resp.Body, resp.ContentLength, nil
}

// initUpload opens a resumable upload session.
func (p *SocialVideoPublisher) initUpload(ctx context.Context, size int64) (string, error) {
	params := url.Values{
		"file_size":    {strconv.FormatInt(size, 10)},
		"media_type":   {"SHORT_VIDEO"},
		"access_token": {p.accessToken},
	}
	var out struct {
		UploadID string `json:"uploadId"`
	}
	if err := p.postFormJSON(ctx, "/uploads/init", params, &out); err != nil {
		return "", err
	}
	if out.UploadID == "" {
		return "", p.fail(flower.FailTransient, "init upload: no uploadId returned", nil)
	}
	log.Debug().Str("uploadId", out.UploadID).Int64("fileSize", size).Msg("Upload session opened")
	return out.UploadID, nil
}

// uploadChunks streams the video body in uploadChunkSize pieces. Each chunk
// carries its byte offset so the platform can detect gaps.
func (p *SocialVideoPublisher) uploadChunks(ctx context.Context, uploadID string, body io.Reader, size int64) error {
	buf := make([]byte, uploadChunkSize)
	var offset int64
	for offset < size {
		n, err := io.ReadFull(body, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// Final short chunk.
		} else if err != nil {
			return p.fail(flower.FailTransient, "read video chunk", err)
		}
		if n == 0 {
			break
		}

		if err := p.uploadChunk(ctx, uploadID, buf[:n], offset, size); err != nil {
			return err
		}
		offset += int64(n)
	}
	if offset != size {
		return p.fail(flower.FailTransient,
			fmt.Sprintf("upload truncated: sent %d of %d bytes", offset, size), nil)
	}
	return nil
}

func (p *SocialVideoPublisher) uploadChunk(ctx context.Context, uploadID string, chunk []byte, offset, total int64) error {
	endpoint := fmt.Sprintf("%s/uploads/%s", p.baseURL, url.PathEscape(uploadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(chunk))
	if err != nil {
		return p.fail(flower.FailRejected, "build chunk request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("X-Upload-Offset", strconv.FormatInt(offset, 10))
	req.Header.Set("X-Total-Size", strconv.FormatInt(total, 10))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.fail(flower.FailTransient, fmt.Sprintf("upload chunk at offset %d", offset), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	log.Debug().Str("uploadId", uploadID).Int64("offset", offset).Int("bytes", len(chunk)).Int("statusCode", resp.StatusCode).Msg("Chunk uploaded")

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return p.fail(flower.FailAuth, fmt.Sprintf("chunk upload rejected: HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return p.fail(flower.FailTransient, fmt.Sprintf("chunk upload failed: HTTP %d", resp.StatusCode), nil)
	default:
		return p.fail(flower.FailRejected, fmt.Sprintf("chunk upload rejected: HTTP %d", resp.StatusCode), nil)
	}
}

// finalize closes the upload session and creates the post.
func (p *SocialVideoPublisher) finalize(ctx context.Context, uploadID, caption string) (string, error) {
	params := url.Values{
		"upload_id":    {uploadID},
		"caption":      {caption},
		"access_token": {p.accessToken},
	}
	var out struct {
		VideoID string `json:"videoId"`
	}
	if err := p.postFormJSON(ctx, "/uploads/finalize", params, &out); err != nil {
		return "", err
	}
	if out.VideoID == "" {
		return "", p.fail(flower.FailTransient, "finalize upload: no videoId returned", nil)
	}
	return out.VideoID, nil
}

// waitForProcessing polls the processing status until the platform reports
// ready or failed. Uses exponential backoff: 5s, 10s, 20s, 30s (max).
func (p *SocialVideoPublisher) waitForProcessing(ctx context.Context, videoID string) (string, error) {
	deadline := time.Now().Add(videoPollTimeout)
	interval := videoInitialPollInterval

	for {
		if time.Now().After(deadline) {
			return "", p.fail(flower.FailTransient,
				fmt.Sprintf("video %s: timed out after %s waiting for processing", videoID, videoPollTimeout), nil)
		}

		status, permalink, err := p.processingStatus(ctx, videoID)
		if err != nil {
			log.Warn().Err(err).Str("videoId", videoID).Msg("Status poll error, retrying")
		} else {
			switch status {
			case "ready":
				log.Debug().Str("videoId", videoID).Msg("Video processing finished")
				return permalink, nil
			case "failed":
				return "", p.fail(flower.FailRejected,
					fmt.Sprintf("video %s: processing failed on the platform's side", videoID), nil)
			case "processing":
				log.Debug().Str("videoId", videoID).Dur("nextPoll", interval).Msg("Video still processing")
			default:
				log.Warn().Str("videoId", videoID).Str("status", status).Msg("Unknown processing status")
			}
		}

		if err := p.sleep(ctx, interval); err != nil {
			return "", err
		}
		interval *= 2
		if interval > videoMaxPollInterval {
			interval = videoMaxPollInterval
		}
	}
}

func (p *SocialVideoPublisher) processingStatus(ctx context.Context, videoID string) (status, permalink string, err error) {
	endpoint := fmt.Sprintf("%s/videos/%s/status?access_token=%s",
		p.baseURL, url.PathEscape(videoID), url.QueryEscape(p.accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", "", fmt.Errorf("build status request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Status    string `json:"status"`
		Permalink string `json:"permalink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("parse status response: %w", err)
	}
	return out.Status, out.Permalink, nil
}

// postFormJSON posts a form and decodes a JSON response, classifying HTTP
// failures into PublishError kinds.
func (p *SocialVideoPublisher) postFormJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return p.fail(flower.FailRejected, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.fail(flower.FailTransient, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.fail(flower.FailTransient, "read response", err)
	}

	log.Debug().Str("path", endpoint).Int("statusCode", resp.StatusCode).Msg("Video API response")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return p.fail(flower.FailAuth, fmt.Sprintf("%s: HTTP %d", endpoint, resp.StatusCode), nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return p.fail(flower.FailTransient, fmt.Sprintf("%s: HTTP %d", endpoint, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return p.fail(flower.FailRejected,
			fmt.Sprintf("%s: HTTP %d (body: %s)", endpoint, resp.StatusCode, truncate(string(body), 200)), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return p.fail(flower.FailTransient,
			fmt.Sprintf("parse response (body: %s)", truncate(string(body), 200)), err)
	}
	return nil
}

func (p *SocialVideoPublisher) fail(kind flower.FailureKind, reason string, err error) *flower.PublishError {
	return &flower.PublishError{Platform: p.Platform(), Kind: kind, Reason: reason, Err: err}
}
