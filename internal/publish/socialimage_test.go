package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/floraworks/florapost/internal/flower"
)

// newTestImagePublisher creates a SocialImagePublisher pointing at a test
// HTTP server.
func newTestImagePublisher(server *httptest.Server) *SocialImagePublisher {
	return &SocialImagePublisher{
		httpClient:  server.Client(),
		accessToken: "test-token",
		userID:      "12345",
		baseURL:     server.URL,
	}
}

func imageJob(urls ...string) Job {
	return Job{
		RunID: "run-1",
		Content: flower.GeneratedContent{
			Caption:  "A rose for today",
			Hashtags: []string{"#rose", "#flowers"},
		},
		ImageURLs: urls,
	}
}

func TestSocialImageSinglePost(t *testing.T) {
	var captured struct {
		caption  string
		imageURL string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/12345/media"):
			r.ParseForm()
			captured.caption = r.Form.Get("caption")
			captured.imageURL = r.Form.Get("image_url")
			json.NewEncoder(w).Encode(graphResponse{ID: "container-001"})
		case strings.HasSuffix(r.URL.Path, "/12345/media_publish"):
			r.ParseForm()
			if r.Form.Get("creation_id") != "container-001" {
				t.Errorf("unexpected creation_id: %s", r.Form.Get("creation_id"))
			}
			json.NewEncoder(w).Encode(graphResponse{ID: "post-001"})
		case strings.Contains(r.URL.Path, "/post-001"):
			json.NewEncoder(w).Encode(map[string]string{"permalink": "https://social.example/p/post-001"})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	pub := newTestImagePublisher(server)
	res, err := pub.Publish(context.Background(), imageJob("https://example.com/photo.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PostID != "post-001" {
		t.Errorf("expected post-001, got %s", res.PostID)
	}
	if res.URL != "https://social.example/p/post-001" {
		t.Errorf("unexpected permalink: %s", res.URL)
	}
	if captured.imageURL != "https://example.com/photo.jpg" {
		t.Errorf("unexpected image_url: %s", captured.imageURL)
	}
	if !strings.Contains(captured.caption, "A rose for today") || !strings.Contains(captured.caption, "#rose #flowers") {
		t.Errorf("caption should include text and hashtag block, got: %q", captured.caption)
	}
}

func TestSocialImageCarousel(t *testing.T) {
	var childCount int
	var carouselChildren string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/12345/media"):
			r.ParseForm()
			if r.Form.Get("is_carousel_item") == "true" {
				childCount++
				json.NewEncoder(w).Encode(graphResponse{ID: "child-" + r.Form.Get("image_url")[len(r.Form.Get("image_url"))-1:]})
				return
			}
			if r.Form.Get("media_type") != "CAROUSEL" {
				t.Errorf("expected CAROUSEL container, got media_type=%q", r.Form.Get("media_type"))
			}
			carouselChildren = r.Form.Get("children")
			json.NewEncoder(w).Encode(graphResponse{ID: "carousel-001"})
		case strings.HasSuffix(r.URL.Path, "/12345/media_publish"):
			json.NewEncoder(w).Encode(graphResponse{ID: "post-002"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"permalink": ""})
		}
	}))
	defer server.Close()

	pub := newTestImagePublisher(server)
	res, err := pub.Publish(context.Background(), imageJob("https://example.com/1", "https://example.com/2", "https://example.com/3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PostID != "post-002" {
		t.Errorf("expected post-002, got %s", res.PostID)
	}
	if childCount != 3 {
		t.Errorf("expected 3 child containers, got %d", childCount)
	}
	if carouselChildren != "child-1,child-2,child-3" {
		t.Errorf("unexpected children list: %s", carouselChildren)
	}
}

func TestSocialImageAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(graphResponse{Error: &graphErr{
			Message: "Invalid OAuth access token",
			Type:    "OAuthException",
			Code:    190,
		}})
	}))
	defer server.Close()

	pub := newTestImagePublisher(server)
	_, err := pub.Publish(context.Background(), imageJob("https://example.com/photo.jpg"))
	var pubErr *flower.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Kind != flower.FailAuth {
		t.Errorf("expected auth failure, got %s", pubErr.Kind)
	}
	if pubErr.Retryable() {
		t.Error("auth failures must not be retryable")
	}
}

func TestSocialImageRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(graphResponse{Error: &graphErr{
			Message: "Application request limit reached",
			Code:    4,
		}})
	}))
	defer server.Close()

	pub := newTestImagePublisher(server)
	_, err := pub.Publish(context.Background(), imageJob("https://example.com/photo.jpg"))
	var pubErr *flower.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if !pubErr.Retryable() {
		t.Error("rate limit failures must be retryable")
	}
}

func TestSocialImageNoImagesRejected(t *testing.T) {
	pub := NewSocialImagePublisher("tok", "12345")
	_, err := pub.Publish(context.Background(), imageJob())
	var pubErr *flower.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Kind != flower.FailRejected {
		t.Errorf("expected content-rejected, got %s", pubErr.Kind)
	}
}

func TestClassifyGraphErr(t *testing.T) {
	cases := []struct {
		status, code int
		want         flower.FailureKind
	}{
		{400, 190, flower.FailAuth},
		{429, 4, flower.FailTransient},
		{500, 1, flower.FailTransient},
		{401, 0, flower.FailAuth},
		{400, 100, flower.FailRejected},
	}
	for _, c := range cases {
		if got := classifyGraphErr(c.status, c.code); got != c.want {
			t.Errorf("classifyGraphErr(%d, %d) = %s, want %s", c.status, c.code, got, c.want)
		}
	}
}
