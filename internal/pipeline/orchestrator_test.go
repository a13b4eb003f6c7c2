package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/floraworks/florapost/internal/analyze"
	"github.com/floraworks/florapost/internal/archive"
	"github.com/floraworks/florapost/internal/flower"
	"github.com/floraworks/florapost/internal/publish"
	"github.com/floraworks/florapost/internal/queue"
	"github.com/floraworks/florapost/internal/store"
	"github.com/floraworks/florapost/internal/video"
)

// --- fakes ---

type fakeMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{objects: make(map[string][]byte)}
}

func (m *fakeMedia) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (m *fakeMedia) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *fakeMedia) PutFile(_ context.Context, key, localPath, _ string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *fakeMedia) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "mem://" + key, nil
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	err    error
	result *flower.AnalysisResult
}

func (a *fakeAnalyzer) Analyze(_ context.Context, images []analyze.ImageSource) (*flower.AnalysisResult, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.result != nil {
		return a.result, nil
	}
	findings := make([]flower.ImageFindings, len(images))
	for i := range findings {
		findings[i] = flower.ImageFindings{Species: "Rose", Colors: []string{"red"}, Meanings: []string{"love"}, Season: "spring"}
	}
	return &flower.AnalysisResult{
		Images: findings,
		Profile: flower.FlowerProfile{
			Species:  "Rose",
			Colors:   []string{"red"},
			Meanings: []string{"love"},
			Season:   "spring",
		},
	}, nil
}

type fakeComposer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeComposer) Compose(_ context.Context, images []video.ImageInput, _ flower.FlowerProfile) (video.Result, func(), error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return video.Result{}, nil, c.err
	}
	dir, err := os.MkdirTemp("", "fake-video-*")
	if err != nil {
		return video.Result{}, nil, err
	}
	path := filepath.Join(dir, "output.mp4")
	if err := os.WriteFile(path, []byte("mp4-bytes"), 0o600); err != nil {
		return video.Result{}, nil, err
	}
	return video.Result{Path: path, DurationSeconds: 14, Format: "mp4", Width: 1080, Height: 1920},
		func() { os.RemoveAll(dir) }, nil
}

type fakePublisher struct {
	platform  flower.Platform
	needVideo bool
	err       error
	block     chan struct{}

	mu    sync.Mutex
	calls int
}

func (p *fakePublisher) Platform() flower.Platform { return p.platform }
func (p *fakePublisher) RequiresVideo() bool       { return p.needVideo }

func (p *fakePublisher) Publish(ctx context.Context, job publish.Job) (*publish.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &publish.Result{PostID: "post-" + string(p.platform), URL: "https://x/" + string(p.platform)}, nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingQueue struct {
	mu     sync.Mutex
	events []queue.RunEvent
}

func (q *recordingQueue) Enqueue(_ context.Context, event queue.RunEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
	return nil
}

// --- helpers ---

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	orch     *Orchestrator
	store    *store.MemoryStore
	media    *fakeMedia
	queue    *recordingQueue
	analyzer *fakeAnalyzer
	composer *fakeComposer
	pubs     map[flower.Platform]*fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		media:    newFakeMedia(),
		queue:    &recordingQueue{},
		analyzer: &fakeAnalyzer{},
		composer: &fakeComposer{},
		pubs: map[flower.Platform]*fakePublisher{
			flower.PlatformBlog:        {platform: flower.PlatformBlog},
			flower.PlatformSocialImage: {platform: flower.PlatformSocialImage},
			flower.PlatformSocialVideo: {platform: flower.PlatformSocialVideo, needVideo: true},
		},
	}

	retrier := publish.NewRetrier()
	retrier.BaseBackoff = time.Millisecond
	retrier.MaxBackoff = time.Millisecond

	f.orch = New(Config{
		Store:    f.store,
		Media:    f.media,
		Queue:    f.queue,
		Analyzer: f.analyzer,
		Composer: f.composer,
		Registry: publish.NewRegistry(
			f.pubs[flower.PlatformBlog],
			f.pubs[flower.PlatformSocialImage],
			f.pubs[flower.PlatformSocialVideo],
		),
		Retrier: retrier,
		Bundler: archive.NewBundler(f.media),
	})

	img := pngBytes(t)
	f.media.objects["uploads/a.png"] = img
	f.media.objects["uploads/b.png"] = img
	return f
}

func (f *fixture) submit(t *testing.T, platforms ...flower.Platform) *flower.PipelineRun {
	t.Helper()
	run, err := f.orch.Submit(context.Background(), flower.ContentRequest{
		ID:        "req-1",
		ImageKeys: []string{"uploads/a.png", "uploads/b.png"},
		Platforms: platforms,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return run
}

func (f *fixture) reload(t *testing.T, runID string) *flower.PipelineRun {
	t.Helper()
	run, err := f.store.GetRun(context.Background(), runID)
	if err != nil || run == nil {
		t.Fatalf("GetRun(%s): run=%v err=%v", runID, run, err)
	}
	return run
}

// --- tests ---

func TestSubmitEnqueuesRun(t *testing.T) {
	f := newFixture(t)
	run := f.submit(t, flower.PlatformBlog)

	if run.State != flower.StateAccepted {
		t.Errorf("state = %s, want accepted", run.State)
	}
	if len(f.queue.events) != 1 || f.queue.events[0].RunID != run.ID {
		t.Errorf("queue events = %+v, want one event for %s", f.queue.events, run.ID)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Submit(context.Background(), flower.ContentRequest{Platforms: []flower.Platform{flower.PlatformBlog}})
	if err == nil {
		t.Error("expected validation error for request without images")
	}
	if len(f.queue.events) != 0 {
		t.Error("invalid request must not be enqueued")
	}
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t)
	run := f.submit(t, flower.PlatformBlog, flower.PlatformSocialImage, flower.PlatformSocialVideo)

	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final := f.reload(t, run.ID)
	if final.State != flower.StateCompleted {
		t.Fatalf("state = %s (%s), want completed", final.State, final.StateReason)
	}
	if final.Analysis == nil || final.Analysis.Profile.Species != "Rose" {
		t.Error("analysis missing or wrong")
	}
	if final.Content == nil || final.Content.BlogTitle == "" {
		t.Error("generated content missing")
	}
	if final.Video == nil || final.Video.Format != "mp4" {
		t.Errorf("video missing: %+v", final.Video)
	}
	if len(final.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(final.Outcomes))
	}
	for platform, outcome := range final.Outcomes {
		if outcome.Status != flower.OutcomeSucceeded {
			t.Errorf("%s outcome = %s (%s)", platform, outcome.Status, outcome.Error)
		}
		if outcome.PostID == "" {
			t.Errorf("%s outcome missing post ID", platform)
		}
		if len(outcome.Attempts) != 1 || !outcome.Attempts[0].Succeeded {
			t.Errorf("%s attempts = %+v", platform, outcome.Attempts)
		}
	}
	if f.analyzer.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", f.analyzer.calls)
	}
	if _, ok := f.media.objects[run.ID+"/video.mp4"]; !ok {
		t.Error("rendered video was not uploaded")
	}
	if final.ArchiveKey != run.ID+"/artifacts.zip" {
		t.Errorf("archive key = %q", final.ArchiveKey)
	}
	if _, ok := f.media.objects[final.ArchiveKey]; !ok {
		t.Error("artifact archive was not uploaded")
	}
}

func TestExecuteRenderFailureNarrowsPublishSet(t *testing.T) {
	f := newFixture(t)
	f.composer.err = &flower.RenderError{Reason: "ffmpeg exploded"}
	run := f.submit(t, flower.PlatformBlog, flower.PlatformSocialVideo)

	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final := f.reload(t, run.ID)
	if final.State != flower.StatePartiallyFailed {
		t.Fatalf("state = %s, want partial-failure", final.State)
	}
	if got := final.Outcomes[flower.PlatformBlog]; got == nil || got.Status != flower.OutcomeSucceeded {
		t.Errorf("blog outcome = %+v, want succeeded", got)
	}
	vid := final.Outcomes[flower.PlatformSocialVideo]
	if vid == nil || vid.Status != flower.OutcomeFailed {
		t.Fatalf("video outcome = %+v, want failed", vid)
	}
	if !strings.Contains(vid.Error, "video unavailable") {
		t.Errorf("video outcome error = %q, want render reason", vid.Error)
	}
	if f.pubs[flower.PlatformSocialVideo].callCount() != 0 {
		t.Error("video publisher must not be invoked after a render failure")
	}
}

func TestExecuteRenderFailureAloneFailsRun(t *testing.T) {
	f := newFixture(t)
	f.composer.err = &flower.RenderError{Reason: "ffmpeg exploded"}
	run := f.submit(t, flower.PlatformSocialVideo)

	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final := f.reload(t, run.ID)
	if final.State != flower.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if !strings.Contains(final.StateReason, "video rendering failed") {
		t.Errorf("reason = %q, want video render reason", final.StateReason)
	}
	if got := final.Outcomes[flower.PlatformSocialVideo]; got == nil || got.Status != flower.OutcomeFailed {
		t.Errorf("video outcome = %+v, want failed outcome before terminal", got)
	}
}

func TestExecutePublisherFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.pubs[flower.PlatformBlog].err = &flower.PublishError{
		Platform: flower.PlatformBlog, Kind: flower.FailAuth, Reason: "bad credentials",
	}
	run := f.submit(t, flower.PlatformBlog, flower.PlatformSocialImage)

	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final := f.reload(t, run.ID)
	if final.State != flower.StatePartiallyFailed {
		t.Fatalf("state = %s, want partial-failure", final.State)
	}
	blog := final.Outcomes[flower.PlatformBlog]
	if blog == nil || blog.Status != flower.OutcomeFailed {
		t.Fatalf("blog outcome = %+v, want failed", blog)
	}
	if len(blog.Attempts) != 1 {
		t.Errorf("auth failure should stop after 1 attempt, got %d", len(blog.Attempts))
	}
	if got := final.Outcomes[flower.PlatformSocialImage]; got == nil || got.Status != flower.OutcomeSucceeded {
		t.Errorf("sibling publisher must be unaffected, got %+v", got)
	}
}

func TestExecuteAllPublishersFail(t *testing.T) {
	f := newFixture(t)
	for _, p := range f.pubs {
		p.err = &flower.PublishError{Platform: p.platform, Kind: flower.FailRejected, Reason: "nope"}
	}
	run := f.submit(t, flower.PlatformBlog, flower.PlatformSocialImage)

	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	final := f.reload(t, run.ID)
	if final.State != flower.StateFailed {
		t.Errorf("state = %s, want failed", final.State)
	}
}

func TestExecuteAnalysisFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = &flower.AnalysisError{Reason: "model rejected images"}
	run := f.submit(t, flower.PlatformBlog)

	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	final := f.reload(t, run.ID)
	if final.State != flower.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if len(final.Outcomes) != 0 {
		t.Errorf("analysis failure must leave zero outcomes, got %d", len(final.Outcomes))
	}
	if f.pubs[flower.PlatformBlog].callCount() != 0 {
		t.Error("no publisher may run after analysis failure")
	}
}

func TestExecuteCancelledBeforeStartLeavesZeroOutcomes(t *testing.T) {
	f := newFixture(t)
	run := f.submit(t, flower.PlatformBlog, flower.PlatformSocialImage)

	if _, err := f.orch.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final := f.reload(t, run.ID)
	if final.State != flower.StateCancelled {
		t.Fatalf("state = %s, want cancelled", final.State)
	}
	if len(final.Outcomes) != 0 {
		t.Errorf("cancelled run must have zero outcomes, got %d", len(final.Outcomes))
	}
	for platform, p := range f.pubs {
		if p.callCount() != 0 {
			t.Errorf("%s publisher invoked on cancelled run", platform)
		}
	}
}

func TestExecuteRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	run := f.submit(t, flower.PlatformBlog)

	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("redelivered Execute: %v", err)
	}

	if got := f.pubs[flower.PlatformBlog].callCount(); got != 1 {
		t.Errorf("publisher called %d times across redelivery, want 1", got)
	}
	if f.analyzer.calls != 1 {
		t.Errorf("analyzer called %d times across redelivery, want 1", f.analyzer.calls)
	}
}

func TestCancelDuringPublishingStopsWaiting(t *testing.T) {
	old := cancelPollInterval
	cancelPollInterval = 10 * time.Millisecond
	defer func() { cancelPollInterval = old }()

	f := newFixture(t)
	block := make(chan struct{})
	f.pubs[flower.PlatformBlog].block = block
	run := f.submit(t, flower.PlatformBlog, flower.PlatformSocialImage)

	done := make(chan error, 1)
	go func() { done <- f.orch.Execute(context.Background(), run.ID) }()

	// Wait until the fast publisher has delivered its outcome.
	deadline := time.After(5 * time.Second)
	for {
		snapshot := f.reload(t, run.ID)
		if o := snapshot.Outcomes[flower.PlatformSocialImage]; o != nil && o.Status == flower.OutcomeSucceeded {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for fast publisher")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := f.orch.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not stop waiting after cancel")
	}
	close(block)

	final := f.reload(t, run.ID)
	if final.State != flower.StateCancelled {
		t.Fatalf("state = %s, want cancelled", final.State)
	}
	img := final.Outcomes[flower.PlatformSocialImage]
	if img == nil || img.Status != flower.OutcomeSucceeded {
		t.Errorf("delivered outcome must be kept, got %+v", img)
	}
	blog := final.Outcomes[flower.PlatformBlog]
	if blog == nil || blog.Status != flower.OutcomeFailed || !strings.Contains(blog.Error, "cancelled-locally") {
		t.Errorf("undelivered outcome = %+v, want failed cancelled-locally", blog)
	}
}

func TestCancelTerminalRunIsNoOp(t *testing.T) {
	f := newFixture(t)
	run := f.submit(t, flower.PlatformBlog)
	if err := f.orch.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := f.orch.Cancel(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != flower.StateCompleted {
		t.Errorf("cancel after terminal changed state to %s", got.State)
	}
}
