package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/floraworks/florapost/internal/flower"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix  = "RUN#"
	skMeta    = "META"
	skOutcome = "OUTCOME#"
)

// DynamoStore implements RunStore using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ RunStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func runPK(runID string) string {
	return pkPrefix + runID
}

func outcomeSK(platform flower.Platform) string {
	return skOutcome + string(platform)
}

// expiresAt returns the Unix epoch timestamp for record expiration.
func expiresAt() int64 {
	return time.Now().Add(RunTTL).Unix()
}

// putItem marshals a domain object and writes it with PK, SK, and TTL.
// condition, when non-empty, is applied as a ConditionExpression.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data any, condition string) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(), 10)}

	input := &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// updateMeta applies an UpdateItem expression to the run's META record.
func (s *DynamoStore) updateMeta(ctx context.Context, runID, expr string, values map[string]types.AttributeValue, names map[string]string) error {
	values[":updatedAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)}

	input := &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String(expr + ", updatedAt = :updatedAt"),
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("UpdateItem run=%s: %w", runID, err)
	}
	return nil
}

// CreateRun writes the META record, conditioned on the run not existing yet.
func (s *DynamoStore) CreateRun(ctx context.Context, run *flower.PipelineRun) error {
	err := s.putItem(ctx, runPK(run.ID), skMeta, run, "attribute_not_exists(PK)")
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrRunExists
		}
		return err
	}
	return nil
}

// GetRun queries all records for the run and assembles a full snapshot.
func (s *DynamoStore) GetRun(ctx context.Context, runID string) (*flower.PipelineRun, error) {
	pk := runPK(runID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}

	var items []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	if len(items) == 0 {
		return nil, nil
	}

	run := &flower.PipelineRun{Outcomes: make(map[flower.Platform]*flower.PublishOutcome)}
	foundMeta := false
	for _, item := range items {
		sk := stringAttr(item["SK"])
		switch {
		case sk == skMeta:
			if err := attributevalue.UnmarshalMap(item, run); err != nil {
				return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
			}
			run.ID = runID
			foundMeta = true
		case strings.HasPrefix(sk, skOutcome):
			outcome := &flower.PublishOutcome{}
			if err := attributevalue.UnmarshalMap(item, outcome); err != nil {
				return nil, fmt.Errorf("unmarshal outcome %s: %w", sk, err)
			}
			outcome.Platform = flower.Platform(strings.TrimPrefix(sk, skOutcome))
			run.Outcomes[outcome.Platform] = outcome
		}
	}
	if !foundMeta {
		return nil, fmt.Errorf("run %s has outcomes but no META record", runID)
	}
	return run, nil
}

// UpdateRunState atomically updates the state and reason fields.
func (s *DynamoStore) UpdateRunState(ctx context.Context, runID string, state flower.RunState, reason string) error {
	return s.updateMeta(ctx, runID,
		"SET #st = :state, stateReason = :reason",
		map[string]types.AttributeValue{
			":state":  &types.AttributeValueMemberS{Value: string(state)},
			":reason": &types.AttributeValueMemberS{Value: reason},
		},
		map[string]string{"#st": "state"},
	)
}

// SetAnalysis stores the analysis result on the META record.
func (s *DynamoStore) SetAnalysis(ctx context.Context, runID string, analysis *flower.AnalysisResult) error {
	av, err := attributevalue.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	return s.updateMeta(ctx, runID, "SET analysis = :v",
		map[string]types.AttributeValue{":v": av}, nil)
}

// SetContent stores the generated content on the META record.
func (s *DynamoStore) SetContent(ctx context.Context, runID string, content *flower.GeneratedContent) error {
	av, err := attributevalue.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	return s.updateMeta(ctx, runID, "SET content = :v",
		map[string]types.AttributeValue{":v": av}, nil)
}

// SetVideo stores the rendered video descriptor on the META record.
func (s *DynamoStore) SetVideo(ctx context.Context, runID string, video *flower.RenderedVideo) error {
	av, err := attributevalue.Marshal(video)
	if err != nil {
		return fmt.Errorf("marshal video: %w", err)
	}
	return s.updateMeta(ctx, runID, "SET video = :v",
		map[string]types.AttributeValue{":v": av}, nil)
}

// SetArchiveKey records the artifact bundle key on the META record.
func (s *DynamoStore) SetArchiveKey(ctx context.Context, runID, key string) error {
	return s.updateMeta(ctx, runID, "SET archiveKey = :v",
		map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: key}}, nil)
}

// RequestCancel flags the run for cancellation.
func (s *DynamoStore) RequestCancel(ctx context.Context, runID string) error {
	return s.updateMeta(ctx, runID, "SET cancelRequested = :v",
		map[string]types.AttributeValue{":v": &types.AttributeValueMemberBOOL{Value: true}}, nil)
}

// PutOutcome creates or replaces the outcome record for one platform.
func (s *DynamoStore) PutOutcome(ctx context.Context, runID string, outcome *flower.PublishOutcome) error {
	return s.putItem(ctx, runPK(runID), outcomeSK(outcome.Platform), outcome, "")
}

// stringAttr extracts the string value of a DynamoDB attribute, or "".
func stringAttr(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
