package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/floraworks/florapost/internal/flower"
)

func newTestVideoPublisher(server *httptest.Server) *SocialVideoPublisher {
	return &SocialVideoPublisher{
		httpClient:  server.Client(),
		accessToken: "test-token",
		baseURL:     server.URL,
		sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func TestSocialVideoPublishFullFlow(t *testing.T) {
	videoBytes := bytes.Repeat([]byte{0xAB}, 10<<20) // 10 MiB -> 3 chunks

	var chunkOffsets []int64
	var totalUploaded int
	var finalizedCaption string
	polls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video.mp4":
			w.Header().Set("Content-Length", strconv.Itoa(len(videoBytes)))
			w.Write(videoBytes)
		case "/uploads/init":
			r.ParseForm()
			if r.Form.Get("file_size") != strconv.Itoa(len(videoBytes)) {
				t.Errorf("unexpected file_size: %s", r.Form.Get("file_size"))
			}
			json.NewEncoder(w).Encode(map[string]string{"uploadId": "up-001"})
		case "/uploads/up-001":
			offset, _ := strconv.ParseInt(r.Header.Get("X-Upload-Offset"), 10, 64)
			chunkOffsets = append(chunkOffsets, offset)
			body, _ := io.ReadAll(r.Body)
			totalUploaded += len(body)
			w.WriteHeader(http.StatusNoContent)
		case "/uploads/finalize":
			r.ParseForm()
			finalizedCaption = r.Form.Get("caption")
			json.NewEncoder(w).Encode(map[string]string{"videoId": "vid-001"})
		case "/videos/vid-001/status":
			polls++
			status := "processing"
			if polls >= 2 {
				status = "ready"
			}
			json.NewEncoder(w).Encode(map[string]string{
				"status":    status,
				"permalink": "https://video.example/v/vid-001",
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	pub := newTestVideoPublisher(server)
	job := Job{
		RunID: "run-1",
		Content: flower.GeneratedContent{
			Caption:  "Short rose film",
			Hashtags: []string{"#rose"},
		},
		VideoURL: server.URL + "/video.mp4",
	}

	res, err := pub.Publish(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PostID != "vid-001" {
		t.Errorf("expected vid-001, got %s", res.PostID)
	}
	if res.URL != "https://video.example/v/vid-001" {
		t.Errorf("unexpected permalink: %s", res.URL)
	}
	if totalUploaded != len(videoBytes) {
		t.Errorf("uploaded %d bytes, want %d", totalUploaded, len(videoBytes))
	}
	wantOffsets := []int64{0, 4 << 20, 8 << 20}
	if len(chunkOffsets) != len(wantOffsets) {
		t.Fatalf("expected %d chunks, got %d (%v)", len(wantOffsets), len(chunkOffsets), chunkOffsets)
	}
	for i, want := range wantOffsets {
		if chunkOffsets[i] != want {
			t.Errorf("chunk %d offset = %d, want %d", i, chunkOffsets[i], want)
		}
	}
	if finalizedCaption == "" {
		t.Error("finalize must carry the caption")
	}
}

func TestSocialVideoNoVideoRejected(t *testing.T) {
	pub := NewSocialVideoPublisher("tok")
	_, err := pub.Publish(context.Background(), Job{})
	var pubErr *flower.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Kind != flower.FailRejected {
		t.Errorf("expected content-rejected, got %s", pubErr.Kind)
	}
}

func TestSocialVideoProcessingFailure(t *testing.T) {
	videoBytes := []byte("tiny")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video.mp4":
			w.Header().Set("Content-Length", strconv.Itoa(len(videoBytes)))
			w.Write(videoBytes)
		case "/uploads/init":
			json.NewEncoder(w).Encode(map[string]string{"uploadId": "up-002"})
		case "/uploads/up-002":
			w.WriteHeader(http.StatusOK)
		case "/uploads/finalize":
			json.NewEncoder(w).Encode(map[string]string{"videoId": "vid-002"})
		case "/videos/vid-002/status":
			json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
		}
	}))
	defer server.Close()

	pub := newTestVideoPublisher(server)
	_, err := pub.Publish(context.Background(), Job{VideoURL: server.URL + "/video.mp4"})
	var pubErr *flower.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Kind != flower.FailRejected {
		t.Errorf("processing failure should be content-rejected, got %s", pubErr.Kind)
	}
}

func TestSocialVideoInitAuthFailure(t *testing.T) {
	videoBytes := []byte("tiny")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video.mp4":
			w.Header().Set("Content-Length", strconv.Itoa(len(videoBytes)))
			w.Write(videoBytes)
		case "/uploads/init":
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	pub := newTestVideoPublisher(server)
	_, err := pub.Publish(context.Background(), Job{VideoURL: server.URL + "/video.mp4"})
	var pubErr *flower.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Kind != flower.FailAuth {
		t.Errorf("expected auth failure, got %s", pubErr.Kind)
	}
}
