package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/flower"
)

// defaultBlogTimeout covers login plus the multipart submission.
const defaultBlogTimeout = 60 * time.Second

// BlogPublisher posts the long-form article to the blog service. The service
// uses session-cookie authentication: a form login establishes the session,
// then the post is submitted as a multipart form. The session is reused
// across publishes and re-established on a 401.
type BlogPublisher struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string

	mu       sync.Mutex
	loggedIn bool
}

// NewBlogPublisher creates the blog publisher. Credentials are loaded from
// SSM Parameter Store at cold start.
func NewBlogPublisher(baseURL, username, password string) *BlogPublisher {
	jar, _ := cookiejar.New(nil)
	return &BlogPublisher{
		httpClient: &http.Client{
			Timeout: defaultBlogTimeout,
			Jar:     jar,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
	}
}

// Platform implements Publisher.
func (p *BlogPublisher) Platform() flower.Platform { return flower.PlatformBlog }

// RequiresVideo implements Publisher.
func (p *BlogPublisher) RequiresVideo() bool { return false }

// Publish logs in if needed and submits the blog post.
func (p *BlogPublisher) Publish(ctx context.Context, job Job) (*Result, error) {
	if job.Content.BlogTitle == "" || job.Content.BlogBody == "" {
		return nil, p.fail(flower.FailRejected, "empty blog title or body", nil)
	}

	if err := p.ensureSession(ctx); err != nil {
		return nil, err
	}

	res, err := p.submitPost(ctx, job)
	if err == nil {
		return res, nil
	}

	// An expired session shows up as an auth failure on submission; one
	// re-login is attempted before giving up.
	var pubErr *flower.PublishError
	if errors.As(err, &pubErr) && pubErr.Kind == flower.FailAuth {
		log.Debug().Msg("Blog session rejected, re-authenticating")
		p.invalidateSession()
		if err := p.ensureSession(ctx); err != nil {
			return nil, err
		}
		return p.submitPost(ctx, job)
	}
	return nil, err
}

// ensureSession performs the form login once per session lifetime.
func (p *BlogPublisher) ensureSession(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggedIn {
		return nil
	}

	params := url.Values{
		"username": {p.username},
		"password": {p.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/login",
		strings.NewReader(params.Encode()))
	if err != nil {
		return p.fail(flower.FailRejected, "build login request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.fail(flower.FailTransient, "login request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		p.loggedIn = true
		log.Debug().Msg("Blog session established")
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return p.fail(flower.FailAuth, fmt.Sprintf("login rejected: HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return p.fail(flower.FailTransient, fmt.Sprintf("login failed: HTTP %d", resp.StatusCode), nil)
	default:
		return p.fail(flower.FailRejected, fmt.Sprintf("login failed: HTTP %d", resp.StatusCode), nil)
	}
}

func (p *BlogPublisher) invalidateSession() {
	p.mu.Lock()
	p.loggedIn = false
	p.mu.Unlock()
}

// submitPost sends the article as a multipart form: title, HTML content,
// comma-joined tags, and the source image URLs for the service to inline.
func (p *BlogPublisher) submitPost(ctx context.Context, job Job) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"title":   job.Content.BlogTitle,
		"content": job.Content.BlogBody,
		"tags":    strings.Join(tagNames(job.Content.Hashtags), ","),
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, p.fail(flower.FailRejected, "write form field", err)
		}
	}
	for _, u := range job.ImageURLs {
		if err := w.WriteField("imageUrl", u); err != nil {
			return nil, p.fail(flower.FailRejected, "write image url field", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, p.fail(flower.FailRejected, "finalize multipart form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/posts", &buf)
	if err != nil {
		return nil, p.fail(flower.FailRejected, "build post request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.fail(flower.FailTransient, "post request failed", err)
	}
	defer resp.Body.Close()
	log.Debug().Int("statusCode", resp.StatusCode).Dur("duration", time.Since(start)).Msg("Blog API response")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.fail(flower.FailTransient, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, p.fail(flower.FailAuth, fmt.Sprintf("post rejected: HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, p.fail(flower.FailTransient, fmt.Sprintf("post failed: HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, p.fail(flower.FailRejected,
			fmt.Sprintf("post rejected: HTTP %d (body: %s)", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var out struct {
		PostID string `json:"postId"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, p.fail(flower.FailTransient,
			fmt.Sprintf("parse response (body: %s)", truncate(string(body), 200)), err)
	}
	if out.PostID == "" {
		return nil, p.fail(flower.FailTransient, "unexpected response: no postId returned", nil)
	}

	log.Info().Str("postId", out.PostID).Str("url", out.URL).Msg("Blog post published")
	return &Result{PostID: out.PostID, URL: out.URL}, nil
}

func (p *BlogPublisher) fail(kind flower.FailureKind, reason string, err error) *flower.PublishError {
	return &flower.PublishError{Platform: p.Platform(), Kind: kind, Reason: reason, Err: err}
}

// tagNames strips the leading '#' so hashtags double as blog tags.
func tagNames(hashtags []string) []string {
	out := make([]string, 0, len(hashtags))
	for _, h := range hashtags {
		out = append(out, strings.TrimPrefix(h, "#"))
	}
	return out
}
