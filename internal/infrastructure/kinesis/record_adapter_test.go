package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

func orderImage(id string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"id":             events.NewStringAttribute(id),
		"aggregate_id":   events.NewStringAttribute("order-456"),
		"aggregate_type": events.NewStringAttribute("Order"),
		"event_type":     events.NewStringAttribute("ShipmentBooked"),
		"data":           events.NewStringAttribute(`{"waybill":"WB1"}`),
		"created_at":     events.NewStringAttribute("2026-01-15T10:30:00.120000000Z"),
		"version":        events.NewNumberAttribute("5"),
		"gsi1pk":         events.NewStringAttribute("Order"),
	}
}

func kinesisRecord(t *testing.T, seq string, rec events.DynamoDBEventRecord) events.KinesisEventRecord {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return events.KinesisEventRecord{
		EventID: "kinesis-" + seq,
		Kinesis: events.KinesisRecord{Data: data, SequenceNumber: seq},
	}
}

func insert(image map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{EventName: "INSERT", Change: events.DynamoDBStreamRecord{NewImage: image}}
}

// ============================================================================
// Conversion Tests
// ============================================================================

func TestConvertDynamoDBImage(t *testing.T) {
	event, err := convertDynamoDBImage(orderImage("event-123"))
	require.NoError(t, err)

	assert.Equal(t, "event-123", event.ID)
	assert.Equal(t, "order-456", event.AggregateID)
	assert.Equal(t, "Order", event.AggregateType)
	assert.Equal(t, "ShipmentBooked", event.EventType)
	assert.JSONEq(t, `{"waybill":"WB1"}`, string(event.Data))
	assert.Equal(t, 5, event.Version)
	assert.Equal(t, 120000000, event.Timestamp.Nanosecond())
}

func TestConvertDynamoDBImage_Errors(t *testing.T) {
	badTime := orderImage("e")
	badTime["created_at"] = events.NewStringAttribute("yesterday")
	badData := orderImage("e")
	badData["data"] = events.NewStringAttribute("{not json")
	badVersion := orderImage("e")
	badVersion["version"] = events.NewNumberAttribute("x")

	tests := []struct {
		name  string
		image map[string]events.DynamoDBAttributeValue
	}{
		{"nil image", nil},
		{"missing required fields", map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("event-123")}},
		{"bad created_at", badTime},
		{"bad data", badData},
		{"bad version", badVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := convertDynamoDBImage(tt.image)
			assert.Error(t, err)
		})
	}
}

func TestConvertFromDynamoDBStreamRecord_SkipsNonInsert(t *testing.T) {
	for _, name := range []string{"MODIFY", "REMOVE"} {
		event, err := ConvertFromDynamoDBStreamRecord(events.DynamoDBEventRecord{EventName: name})
		require.NoError(t, err)
		assert.Nil(t, event, name)
	}
}

func TestConvertFromKinesisRecord(t *testing.T) {
	event, err := ConvertFromKinesisRecord(kinesisRecord(t, "1", insert(orderImage("event-123"))))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "event-123", event.ID)

	_, err = ConvertFromKinesisRecord(events.KinesisEventRecord{Kinesis: events.KinesisRecord{Data: []byte("invalid json")}})
	assert.Error(t, err)
}

// ============================================================================
// Batch Tests
// ============================================================================

func TestHandleBatch(t *testing.T) {
	kinesisEvent := events.KinesisEvent{
		Records: []events.KinesisEventRecord{
			kinesisRecord(t, "100", insert(orderImage("event-1"))),
			kinesisRecord(t, "101", events.DynamoDBEventRecord{EventName: "MODIFY"}),
			{EventID: "bad", Kinesis: events.KinesisRecord{Data: []byte("invalid json"), SequenceNumber: "102"}},
			kinesisRecord(t, "103", insert(orderImage("event-2"))),
			kinesisRecord(t, "104", insert(orderImage("event-3"))),
		},
	}

	var handled []string
	resp := HandleBatch(context.Background(), kinesisEvent, func(ctx context.Context, e *store.Event) error {
		handled = append(handled, e.ID)
		if e.ID == "event-2" {
			return errors.New("smtp down")
		}
		return nil
	})

	assert.Equal(t, []string{"event-1", "event-2", "event-3"}, handled)
	assert.Equal(t, []events.KinesisBatchItemFailure{
		{ItemIdentifier: "102"},
		{ItemIdentifier: "103"},
	}, resp.BatchItemFailures)
}

func TestHandleBatch_Empty(t *testing.T) {
	resp := HandleBatch(context.Background(), events.KinesisEvent{}, func(context.Context, *store.Event) error {
		t.Fatal("handler should not be called")
		return nil
	})
	assert.Empty(t, resp.BatchItemFailures)
}
