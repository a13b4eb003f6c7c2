package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func flushToDoc(t *testing.T, r *Recorder) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	r.SetOutput(&buf).Flush()
	if buf.Len() == 0 {
		return nil
	}
	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "\n") {
		t.Fatalf("EMF output must be a single line, got %q", line)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	return doc
}

func TestFlushEmitsDirectiveAndValues(t *testing.T) {
	r := New().
		Dimension("Stage", "publishing").
		Metric("PublishSucceeded", 2, UnitCount).
		StageDuration("Publishing", 1500*time.Millisecond).
		Property("runId", "run-abc")

	doc := flushToDoc(t, r)
	if doc == nil {
		t.Fatal("expected output, got none")
	}

	if doc["Stage"] != "publishing" {
		t.Errorf("dimension value missing: %v", doc["Stage"])
	}
	if doc["PublishSucceeded"] != float64(2) {
		t.Errorf("metric value missing: %v", doc["PublishSucceeded"])
	}
	if doc["PublishingDurationMs"] != float64(1500) {
		t.Errorf("stage duration missing: %v", doc["PublishingDurationMs"])
	}
	if doc["runId"] != "run-abc" {
		t.Errorf("property missing: %v", doc["runId"])
	}

	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	cw, ok := aws["CloudWatchMetrics"].([]any)
	if !ok || len(cw) != 1 {
		t.Fatalf("expected one CloudWatchMetrics entry, got %v", aws["CloudWatchMetrics"])
	}
	entry := cw[0].(map[string]any)
	if entry["Namespace"] != Namespace {
		t.Errorf("unexpected namespace: %v", entry["Namespace"])
	}
}

func TestFlushWithoutMetricsEmitsNothing(t *testing.T) {
	r := New().Dimension("Stage", "analyzing").Property("runId", "run-x")
	if doc := flushToDoc(t, r); doc != nil {
		t.Errorf("expected no output without metrics, got %v", doc)
	}
}
