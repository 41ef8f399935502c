package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

const (
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// Producer publishes stored events to one topic. Events for the same order
// share a key and therefore a partition, so consumers see them in order.
type Producer struct {
	writer *kafka.Writer
	now    func() time.Time
}

var _ store.Publisher = (*Producer)(nil)

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer, now: time.Now}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := p.message(key, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", key, err)
	}
	return nil
}

func (p *Producer) message(key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  p.now(),
	}
	var e *store.Event
	switch v := event.(type) {
	case store.Event:
		e = &v
	case *store.Event:
		e = v
	}
	if e != nil {
		msg.Headers = []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderAggregateType, Value: []byte(e.AggregateType)},
		}
		msg.Time = e.Timestamp
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
