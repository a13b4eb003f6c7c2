package store

import (
	"context"
	"sync"
	"time"

	"github.com/floraworks/florapost/internal/flower"
)

// MemoryStore is an in-process RunStore used by the local CLI and by tests.
// It mirrors DynamoStore semantics: snapshots are copies, outcome writes are
// full replacements, and CreateRun rejects duplicate IDs.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*flower.PipelineRun
}

var _ RunStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*flower.PipelineRun)}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *flower.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return ErrRunExists
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*flower.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return copyRun(run), nil
}

func (s *MemoryStore) UpdateRunState(_ context.Context, runID string, state flower.RunState, reason string) error {
	return s.mutate(runID, func(run *flower.PipelineRun) {
		run.State = state
		run.StateReason = reason
	})
}

func (s *MemoryStore) SetAnalysis(_ context.Context, runID string, analysis *flower.AnalysisResult) error {
	return s.mutate(runID, func(run *flower.PipelineRun) {
		a := *analysis
		run.Analysis = &a
	})
}

func (s *MemoryStore) SetContent(_ context.Context, runID string, content *flower.GeneratedContent) error {
	return s.mutate(runID, func(run *flower.PipelineRun) {
		c := *content
		run.Content = &c
	})
}

func (s *MemoryStore) SetVideo(_ context.Context, runID string, video *flower.RenderedVideo) error {
	return s.mutate(runID, func(run *flower.PipelineRun) {
		v := *video
		run.Video = &v
	})
}

func (s *MemoryStore) SetArchiveKey(_ context.Context, runID, key string) error {
	return s.mutate(runID, func(run *flower.PipelineRun) {
		run.ArchiveKey = key
	})
}

func (s *MemoryStore) RequestCancel(_ context.Context, runID string) error {
	return s.mutate(runID, func(run *flower.PipelineRun) {
		run.CancelRequested = true
	})
}

func (s *MemoryStore) PutOutcome(_ context.Context, runID string, outcome *flower.PublishOutcome) error {
	return s.mutate(runID, func(run *flower.PipelineRun) {
		o := *outcome
		o.Attempts = append([]flower.PublishAttempt(nil), outcome.Attempts...)
		run.Outcomes[o.Platform] = &o
	})
}

func (s *MemoryStore) mutate(runID string, fn func(*flower.PipelineRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errRunNotFound(runID)
	}
	fn(run)
	run.UpdatedAt = time.Now().Unix()
	return nil
}

func copyRun(run *flower.PipelineRun) *flower.PipelineRun {
	out := *run
	out.Outcomes = make(map[flower.Platform]*flower.PublishOutcome, len(run.Outcomes))
	for p, o := range run.Outcomes {
		oc := *o
		oc.Attempts = append([]flower.PublishAttempt(nil), o.Attempts...)
		out.Outcomes[p] = &oc
	}
	if run.Analysis != nil {
		a := *run.Analysis
		out.Analysis = &a
	}
	if run.Content != nil {
		c := *run.Content
		out.Content = &c
	}
	if run.Video != nil {
		v := *run.Video
		out.Video = &v
	}
	return &out
}
