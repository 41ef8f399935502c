package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoAPI is the subset of the DynamoDB client the stores use.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoCreatedIndex is a sparse GSI holding only the first event of each
// aggregate, keyed by aggregate type and sorted by creation time.
const dynamoCreatedIndex = "GSI1"

// dynamoTimeLayout sorts lexically; RFC3339Nano trims trailing zeros and does not.
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z"

// DynamoEventStore stores events in DynamoDB, keyed by aggregate_id and
// version. Stored events are published after the write.
type DynamoEventStore struct {
	client    DynamoAPI
	tableName string
	publisher Publisher
	now       func() time.Time
}

type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Data          string `dynamodbav:"data"`
	CreatedAt     string `dynamodbav:"created_at"`
	GSI1PK        string `dynamodbav:"gsi1pk,omitempty"`
}

func NewDynamoEventStore(client DynamoAPI, tableName string, publisher Publisher) *DynamoEventStore {
	return &DynamoEventStore{
		client:    client,
		tableName: tableName,
		publisher: publisher,
		now:       time.Now,
	}
}

// Append writes version expectedVersion+1. The conditional put fails when that
// version already exists, which is how a concurrent writer is detected.
func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	if expectedVersion > 0 {
		current, err := es.latestVersion(ctx, aggregateID)
		if err != nil {
			return nil, fmt.Errorf("failed to read current version: %w", err)
		}
		if current != expectedVersion {
			return nil, ErrVersionConflict
		}
	}

	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     es.now().UTC(),
		Version:       expectedVersion + 1,
	}
	av, err := attributevalue.MarshalMap(toDynamoEvent(event))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(version)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to put event: %w", err)
	}

	publish(ctx, es.publisher, event)
	return &event, nil
}

func (es *DynamoEventStore) latestVersion(ctx context.Context, aggregateID string) (int, error) {
	latest, err := es.latest(ctx, aggregateID)
	if err != nil || latest == nil {
		return 0, err
	}
	return latest.Version, nil
}

func (es *DynamoEventStore) latest(ctx context.Context, aggregateID string) (*dynamoEvent, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	var de dynamoEvent
	if err := attributevalue.UnmarshalMap(result.Items[0], &de); err != nil {
		return nil, err
	}
	return &de, nil
}

// GetEvents returns all events for an aggregate in version order
func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	paginator := dynamodb.NewQueryPaginator(es.client, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(true),
	})

	var events []Event
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		batch, err := unmarshalDynamoEvents(page.Items)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}

// FindStale walks the creation index up to the cutoff and keeps aggregates
// whose latest event is still open.
func (es *DynamoEventStore) FindStale(ctx context.Context, q StaleQuery) ([]string, error) {
	paginator := dynamodb.NewQueryPaginator(es.client, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String(dynamoCreatedIndex),
		KeyConditionExpression: aws.String("gsi1pk = :pk AND created_at < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: q.AggregateType},
			":cutoff": &types.AttributeValueMemberS{Value: q.CreatedBefore.UTC().Format(dynamoTimeLayout)},
		},
		ProjectionExpression: aws.String("aggregate_id"),
		ScanIndexForward:     aws.Bool(true),
	})

	var found []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query created index: %w", err)
		}
		for _, item := range page.Items {
			var head struct {
				AggregateID string `dynamodbav:"aggregate_id"`
			}
			if err := attributevalue.UnmarshalMap(item, &head); err != nil {
				return nil, err
			}
			latest, err := es.latest(ctx, head.AggregateID)
			if err != nil {
				return nil, fmt.Errorf("failed to read latest event of %s: %w", head.AggregateID, err)
			}
			if latest != nil && slices.Contains(q.OpenEventTypes, latest.EventType) {
				found = append(found, head.AggregateID)
				if q.Limit > 0 && len(found) == q.Limit {
					return found, nil
				}
			}
		}
	}
	return found, nil
}

func toDynamoEvent(e Event) dynamoEvent {
	de := dynamoEvent{
		AggregateID:   e.AggregateID,
		Version:       e.Version,
		ID:            e.ID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Data:          string(e.Data),
		CreatedAt:     e.Timestamp.UTC().Format(dynamoTimeLayout),
	}
	if e.Version == 1 {
		de.GSI1PK = e.AggregateType
	}
	return de
}

func unmarshalDynamoEvents(items []map[string]types.AttributeValue) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		var de dynamoEvent
		if err := attributevalue.UnmarshalMap(item, &de); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		timestamp, err := time.Parse(dynamoTimeLayout, de.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad created_at %q: %w", de.ID, de.CreatedAt, err)
		}
		events = append(events, Event{
			ID:            de.ID,
			AggregateID:   de.AggregateID,
			AggregateType: de.AggregateType,
			EventType:     de.EventType,
			Data:          json.RawMessage(de.Data),
			Timestamp:     timestamp,
			Version:       de.Version,
		})
	}
	return events, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func dynamoNumber(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
