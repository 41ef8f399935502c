package kinesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

// EventHandler receives one decoded event from the stream.
type EventHandler func(ctx context.Context, event *store.Event) error

// ConvertFromKinesisRecord decodes a DynamoDB stream record forwarded through
// Kinesis. Only INSERTs carry new events; anything else returns nil, nil.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var dynamoDBRecord events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(dynamoDBRecord)
}

// ConvertFromDynamoDBStreamRecord decodes a record read straight from DynamoDB Streams.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	if record.EventName != "INSERT" {
		return nil, nil
	}
	return convertDynamoDBImage(record.Change.NewImage)
}

// convertDynamoDBImage reads the attributes written by the DynamoDB event store.
func convertDynamoDBImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, fmt.Errorf("DynamoDB image is nil")
	}

	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event := &store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
	}
	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("missing required fields: id=%q, aggregate_id=%q, event_type=%q",
			event.ID, event.AggregateID, event.EventType)
	}

	if data := str("data"); data != "" {
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("event %s: data is not JSON", event.ID)
		}
		event.Data = json.RawMessage(data)
	}
	if created := str("created_at"); created != "" {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("event %s: failed to parse created_at: %w", event.ID, err)
		}
		event.Timestamp = t
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("event %s: failed to parse version: %w", event.ID, err)
		}
		event.Version = int(version)
	}
	return event, nil
}

// HandleBatch decodes every record and passes the events to handle in stream
// order. Records that fail to decode or handle are reported back so Lambda
// retries only those.
func HandleBatch(ctx context.Context, kinesisEvent events.KinesisEvent, handle EventHandler) events.KinesisEventResponse {
	var failures []events.KinesisBatchItemFailure
	fail := func(record events.KinesisEventRecord) {
		failures = append(failures, events.KinesisBatchItemFailure{ItemIdentifier: record.Kinesis.SequenceNumber})
	}

	for _, record := range kinesisEvent.Records {
		event, err := ConvertFromKinesisRecord(record)
		if err != nil {
			log.Printf("[Kinesis] Failed to convert record %s: %v", record.EventID, err)
			fail(record)
			continue
		}
		if event == nil {
			continue
		}
		if err := handle(ctx, event); err != nil {
			log.Printf("[Kinesis] Failed to handle event %s (%s): %v", event.ID, event.EventType, err)
			fail(record)
		}
	}

	log.Printf("[Kinesis] Processed %d/%d records successfully",
		len(kinesisEvent.Records)-len(failures), len(kinesisEvent.Records))
	return events.KinesisEventResponse{BatchItemFailures: failures}
}
