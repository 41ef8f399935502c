package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/ec-fulfillment/internal/idempotency"
)

// DynamoIdempotencyStore keeps dedup keys in a table keyed by idem_key. The
// ttl attribute (epoch seconds) lets DynamoDB expire records on its own;
// Purge covers tables without TTL enabled.
type DynamoIdempotencyStore struct {
	client    DynamoAPI
	tableName string
}

type dynamoIdemRecord struct {
	Key        string `dynamodbav:"idem_key"`
	Status     string `dynamodbav:"status"`
	Outcome    string `dynamodbav:"outcome"`
	ClaimedAt  int64  `dynamodbav:"claimed_at"`
	LeaseUntil int64  `dynamodbav:"lease_until"`
	ExpiresAt  int64  `dynamodbav:"expires_at"`
	TTL        int64  `dynamodbav:"ttl"`
}

func NewDynamoIdempotencyStore(client DynamoAPI, tableName string) *DynamoIdempotencyStore {
	return &DynamoIdempotencyStore{client: client, tableName: tableName}
}

func (s *DynamoIdempotencyStore) Claim(ctx context.Context, req idempotency.ClaimRequest) (idempotency.Record, bool, error) {
	req = req.Normalized()
	rec := req.NewRecord()

	av, err := attributevalue.MarshalMap(toDynamoIdem(rec))
	if err != nil {
		return idempotency.Record{}, false, err
	}
	now := toUnix(req.Now)
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
		// Insert, or take over an expired record or a lapsed lease.
		ConditionExpression: aws.String("attribute_not_exists(idem_key) OR expires_at <= :now OR (#s = :inprog AND lease_until <= :now)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":    dynamoNumber(now),
			":inprog": &types.AttributeValueMemberS{Value: string(idempotency.StatusInProgress)},
		},
	})
	if err == nil {
		return rec, true, nil
	}
	if !isConditionFailed(err) {
		return idempotency.Record{}, false, fmt.Errorf("failed to claim %s: %w", req.Key, err)
	}

	existing, ok, err := s.Get(ctx, req.Key)
	if err != nil {
		return idempotency.Record{}, false, err
	}
	if !ok {
		// Deleted between the put and the read; the caller may simply retry.
		return idempotency.Record{}, false, fmt.Errorf("claim %s raced with a delete", req.Key)
	}
	return existing, false, nil
}

func (s *DynamoIdempotencyStore) Complete(ctx context.Context, key, outcome string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(key),
		UpdateExpression:    aws.String("SET #s = :done, outcome = :outcome"),
		ConditionExpression: aws.String("attribute_exists(idem_key)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":    &types.AttributeValueMemberS{Value: string(idempotency.StatusDone)},
			":outcome": &types.AttributeValueMemberS{Value: outcome},
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("%w: %s", idempotency.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to complete %s: %w", key, err)
	}
	return nil
}

// Release deletes the key only while it is still in progress.
func (s *DynamoIdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(key),
		ConditionExpression: aws.String("#s = :inprog"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprog": &types.AttributeValueMemberS{Value: string(idempotency.StatusInProgress)},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

func (s *DynamoIdempotencyStore) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if out.Item == nil {
		return idempotency.Record{}, false, nil
	}
	var dr dynamoIdemRecord
	if err := attributevalue.UnmarshalMap(out.Item, &dr); err != nil {
		return idempotency.Record{}, false, err
	}
	return fromDynamoIdem(dr), true, nil
}

// Purge scans for expired records and deletes them one by one.
func (s *DynamoIdempotencyStore) Purge(ctx context.Context, now time.Time) (int, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		FilterExpression:     aws.String("expires_at <= :now"),
		ProjectionExpression: aws.String("idem_key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": dynamoNumber(toUnix(now)),
		},
	})

	removed := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("failed to scan expired keys: %w", err)
		}
		for _, item := range page.Items {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:           aws.String(s.tableName),
				Key:                 map[string]types.AttributeValue{"idem_key": item["idem_key"]},
				ConditionExpression: aws.String("expires_at <= :now"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now": dynamoNumber(toUnix(now)),
				},
			})
			if isConditionFailed(err) {
				continue // reclaimed since the scan
			}
			if err != nil {
				return removed, fmt.Errorf("failed to delete expired key: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *DynamoIdempotencyStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idem_key": &types.AttributeValueMemberS{Value: key},
	}
}

func toDynamoIdem(rec idempotency.Record) dynamoIdemRecord {
	return dynamoIdemRecord{
		Key:        rec.Key,
		Status:     string(rec.Status),
		Outcome:    rec.Outcome,
		ClaimedAt:  toUnix(rec.ClaimedAt),
		LeaseUntil: toUnix(rec.LeaseUntil),
		ExpiresAt:  toUnix(rec.ExpiresAt),
		TTL:        rec.ExpiresAt.Unix(),
	}
}

func fromDynamoIdem(dr dynamoIdemRecord) idempotency.Record {
	return idempotency.Record{
		Key:        dr.Key,
		Status:     idempotency.Status(dr.Status),
		Outcome:    dr.Outcome,
		ClaimedAt:  fromUnix(dr.ClaimedAt),
		LeaseUntil: fromUnix(dr.LeaseUntil),
		ExpiresAt:  fromUnix(dr.ExpiresAt),
	}
}
