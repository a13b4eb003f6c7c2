package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// EventBridgeScheduler defers a run by creating a one-shot EventBridge rule
// that invokes the worker Lambda at the requested publish time. The worker
// deletes the rule as part of handling the event; a leftover rule only causes
// a duplicate delivery, which the idempotent worker absorbs.
type EventBridgeScheduler struct {
	client    *eventbridge.Client
	workerArn string
}

// NewEventBridgeScheduler creates a scheduler targeting the worker Lambda.
func NewEventBridgeScheduler(client *eventbridge.Client, workerArn string) *EventBridgeScheduler {
	return &EventBridgeScheduler{client: client, workerArn: workerArn}
}

// RuleName returns the EventBridge rule name for a run.
func RuleName(runID string) string {
	return "florapost-run-" + runID
}

// Schedule implements Scheduler.
func (s *EventBridgeScheduler) Schedule(ctx context.Context, event RunEvent, at time.Time) error {
	if s.client == nil || s.workerArn == "" {
		return fmt.Errorf("scheduler not configured")
	}
	if !at.After(time.Now()) {
		return fmt.Errorf("schedule time %s is not in the future", at)
	}

	ruleName := RuleName(event.RunID)
	_, err := s.client.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(ruleName),
		ScheduleExpression: aws.String(cronAt(at.UTC())),
		State:              ebtypes.RuleStateEnabled,
	})
	if err != nil {
		return fmt.Errorf("put schedule rule: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	_, err = s.client.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(ruleName),
		Targets: []ebtypes.Target{{
			Id:    aws.String("worker"),
			Arn:   aws.String(s.workerArn),
			Input: aws.String(string(payload)),
		}},
	})
	if err != nil {
		return fmt.Errorf("put schedule target: %w", err)
	}

	log.Info().Str("runId", event.RunID).Time("at", at).Str("rule", ruleName).Msg("Run scheduled")
	return nil
}

// Cleanup removes the one-shot rule after the scheduled run fired.
func (s *EventBridgeScheduler) Cleanup(ctx context.Context, runID string) error {
	ruleName := RuleName(runID)
	_, err := s.client.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
		Rule: aws.String(ruleName),
		Ids:  []string{"worker"},
	})
	if err != nil {
		return fmt.Errorf("remove schedule target: %w", err)
	}
	_, err = s.client.DeleteRule(ctx, &eventbridge.DeleteRuleInput{
		Name: aws.String(ruleName),
	})
	if err != nil {
		return fmt.Errorf("delete schedule rule: %w", err)
	}
	log.Debug().Str("runId", runID).Msg("Schedule rule removed")
	return nil
}

// cronAt renders a one-time cron expression for the given UTC instant.
func cronAt(t time.Time) string {
	return fmt.Sprintf("cron(%d %d %d %d ? %d)",
		t.Minute(), t.Hour(), t.Day(), int(t.Month()), t.Year())
}
