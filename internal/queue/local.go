package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Executor runs a single pipeline run to completion.
type Executor interface {
	Execute(ctx context.Context, runID string) error
}

// LocalQueue executes runs on in-process worker goroutines. Used by the CLI's
// local mode, where there is no Lambda to invoke.
type LocalQueue struct {
	events chan RunEvent
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewLocalQueue starts the given number of workers draining the queue into
// the executor. Close must be called to drain and stop the workers.
func NewLocalQueue(executor Executor, workers, buffer int) *LocalQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &LocalQueue{
		events: make(chan RunEvent, buffer),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, executor)
	}
	return q
}

// Enqueue implements RunQueue.
func (q *LocalQueue) Enqueue(ctx context.Context, event RunEvent) error {
	select {
	case q.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("local queue full")
	}
}

// Close stops accepting work, drains queued events, and waits for in-flight
// runs to finish.
func (q *LocalQueue) Close() {
	close(q.events)
	q.wg.Wait()
	q.cancel()
}

func (q *LocalQueue) worker(ctx context.Context, executor Executor) {
	defer q.wg.Done()
	for event := range q.events {
		if err := executor.Execute(ctx, event.RunID); err != nil {
			log.Error().Err(err).Str("runId", event.RunID).Msg("Run execution failed")
		}
	}
}
