package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/ec-fulfillment/internal/records"
)

// dynamoOrderIndex is the GSI on order_id used by ListByOrder.
const dynamoOrderIndex = "order_id-index"

// DynamoPaymentRecords is the payment record log in DynamoDB, keyed by
// idempotency_key.
type DynamoPaymentRecords struct {
	client    DynamoAPI
	tableName string
}

type dynamoPaymentRecord struct {
	IdempotencyKey  string `dynamodbav:"idempotency_key"`
	OrderID         string `dynamodbav:"order_id"`
	Provider        string `dynamodbav:"provider"`
	ProviderOrderID string `dynamodbav:"provider_order_id"`
	PaymentID       string `dynamodbav:"payment_id,omitempty"`
	Signature       string `dynamodbav:"signature,omitempty"`
	Amount          int64  `dynamodbav:"amount"`
	Currency        string `dynamodbav:"currency"`
	Source          string `dynamodbav:"source"`
	RecordedAt      int64  `dynamodbav:"recorded_at"`
}

func NewDynamoPaymentRecords(client DynamoAPI, tableName string) *DynamoPaymentRecords {
	return &DynamoPaymentRecords{client: client, tableName: tableName}
}

// Append inserts rec unless its key exists and reports whether it was written.
func (s *DynamoPaymentRecords) Append(ctx context.Context, rec records.Record) (bool, error) {
	if rec.IdempotencyKey == "" {
		return false, fmt.Errorf("payment record for order %s has no idempotency key", rec.OrderID)
	}
	av, err := attributevalue.MarshalMap(toDynamoPaymentRecord(rec))
	if err != nil {
		return false, err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(idempotency_key)"),
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to put payment record: %w", err)
	}
	return true, nil
}

func (s *DynamoPaymentRecords) Get(ctx context.Context, idempotencyKey string) (*records.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: idempotencyKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get payment record: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var dr dynamoPaymentRecord
	if err := attributevalue.UnmarshalMap(out.Item, &dr); err != nil {
		return nil, err
	}
	rec := fromDynamoPaymentRecord(dr)
	return &rec, nil
}

func (s *DynamoPaymentRecords) ListByOrder(ctx context.Context, orderID string) ([]records.Record, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(dynamoOrderIndex),
		KeyConditionExpression: aws.String("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
	})

	var out []records.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query payment records: %w", err)
		}
		var batch []dynamoPaymentRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		for _, dr := range batch {
			out = append(out, fromDynamoPaymentRecord(dr))
		}
	}
	records.SortByTime(out)
	return out, nil
}

func toDynamoPaymentRecord(rec records.Record) dynamoPaymentRecord {
	return dynamoPaymentRecord{
		IdempotencyKey:  rec.IdempotencyKey,
		OrderID:         rec.OrderID,
		Provider:        rec.Provider,
		ProviderOrderID: rec.ProviderOrderID,
		PaymentID:       rec.PaymentID,
		Signature:       rec.Signature,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
		Source:          string(rec.Source),
		RecordedAt:      toUnix(rec.RecordedAt),
	}
}

func fromDynamoPaymentRecord(dr dynamoPaymentRecord) records.Record {
	return records.Record{
		IdempotencyKey:  dr.IdempotencyKey,
		OrderID:         dr.OrderID,
		Provider:        dr.Provider,
		ProviderOrderID: dr.ProviderOrderID,
		PaymentID:       dr.PaymentID,
		Signature:       dr.Signature,
		Amount:          dr.Amount,
		Currency:        dr.Currency,
		Source:          records.Source(dr.Source),
		RecordedAt:      fromUnix(dr.RecordedAt),
	}
}
