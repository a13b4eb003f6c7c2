package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
)

// LambdaQueue enqueues runs by invoking the worker Lambda asynchronously.
// InvocationType=Event returns immediately; Lambda's async invoke retries
// deliver the at-least-once guarantee.
type LambdaQueue struct {
	client    *lambdasvc.Client
	workerArn string
}

// NewLambdaQueue creates a queue targeting the worker Lambda function.
func NewLambdaQueue(client *lambdasvc.Client, workerArn string) *LambdaQueue {
	return &LambdaQueue{client: client, workerArn: workerArn}
}

// Enqueue implements RunQueue.
func (q *LambdaQueue) Enqueue(ctx context.Context, event RunEvent) error {
	if q.client == nil || q.workerArn == "" {
		return fmt.Errorf("worker lambda not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	_, err = q.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(q.workerArn),
		InvocationType: lambdatypes.InvocationTypeEvent, // async, returns 202 immediately
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke worker lambda: %w", err)
	}

	log.Debug().Str("runId", event.RunID).Msg("Worker Lambda invoked asynchronously")
	return nil
}
