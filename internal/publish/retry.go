package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/flower"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 5 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Retrier wraps a publisher call in a bounded retry loop. Only failures the
// publisher classified as transient are retried; auth and content-rejection
// failures end the loop immediately.
type Retrier struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with the default attempt budget and backoff.
func NewRetrier() *Retrier {
	return &Retrier{
		MaxAttempts: defaultMaxAttempts,
		BaseBackoff: defaultBaseBackoff,
		MaxBackoff:  defaultMaxBackoff,
		sleep:       sleepCtx,
	}
}

// Publish runs the publisher with retries and returns the attempt history
// alongside the result. The history is never empty and records every attempt
// made, including the failed ones that preceded a success.
func (r *Retrier) Publish(ctx context.Context, pub Publisher, job Job) (*Result, []flower.PublishAttempt, error) {
	var attempts []flower.PublishAttempt
	backoff := r.BaseBackoff

	for i := 0; i < r.MaxAttempts; i++ {
		attempt := flower.PublishAttempt{
			ID:        fmt.Sprintf("attempt-%d", i+1),
			StartedAt: time.Now().Unix(),
		}

		res, err := pub.Publish(ctx, job)
		attempt.FinishedAt = time.Now().Unix()
		if err == nil {
			attempt.Succeeded = true
			attempts = append(attempts, attempt)
			return res, attempts, nil
		}

		attempt.Error = err.Error()
		attempts = append(attempts, attempt)

		var pubErr *flower.PublishError
		if !errors.As(err, &pubErr) {
			pubErr = &flower.PublishError{
				Platform: pub.Platform(),
				Kind:     flower.FailTransient,
				Reason:   "unclassified failure",
				Err:      err,
			}
		}

		if !pubErr.Retryable() || i == r.MaxAttempts-1 {
			return nil, attempts, pubErr
		}

		log.Warn().
			Str("platform", string(pub.Platform())).
			Int("attempt", i+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("Publish attempt failed, retrying")

		if err := r.sleep(ctx, backoff); err != nil {
			return nil, attempts, err
		}
		backoff *= 2
		if backoff > r.MaxBackoff {
			backoff = r.MaxBackoff
		}
	}

	// Unreachable: the loop always returns.
	return nil, attempts, &flower.PublishError{Platform: pub.Platform(), Kind: flower.FailTransient, Reason: "attempts exhausted"}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
