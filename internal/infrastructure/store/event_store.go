package store

import (
	"context"
	"encoding/json"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// MarshalJSON returns the JSON encoding of the event
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct{ Alias }{Alias: Alias(e)})
}

// EventStore keeps events in memory and publishes them after they are stored
type EventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	publisher Publisher
	now       func() time.Time
}

func NewEventStore(publisher Publisher) *EventStore {
	return &EventStore{
		events:    make(map[string][]Event),
		publisher: publisher,
		now:       time.Now,
	}
}

// Append stores an event when the aggregate is still at expectedVersion
func (es *EventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	es.mu.Lock()
	if len(es.events[aggregateID]) != expectedVersion {
		es.mu.Unlock()
		return nil, ErrVersionConflict
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
	es.events[aggregateID] = append(es.events[aggregateID], event)
	es.mu.Unlock()

	publish(ctx, es.publisher, event)
	return &event, nil
}

// GetEvents returns all events for an aggregate
func (es *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return slices.Clone(es.events[aggregateID]), nil
}

// FindStale returns aggregates that were created before the cutoff and are still open
func (es *EventStore) FindStale(ctx context.Context, q StaleQuery) ([]string, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	type candidate struct {
		id      string
		created time.Time
	}
	var found []candidate
	for id, events := range es.events {
		if len(events) == 0 {
			continue
		}
		first, last := events[0], events[len(events)-1]
		if first.AggregateType != q.AggregateType || !first.Timestamp.Before(q.CreatedBefore) {
			continue
		}
		if slices.Contains(q.OpenEventTypes, last.EventType) {
			found = append(found, candidate{id: id, created: first.Timestamp})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].created.Before(found[j].created) })
	if q.Limit > 0 && len(found) > q.Limit {
		found = found[:q.Limit]
	}

	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids, nil
}

// publish forwards a stored event; the event is already durable, so a broker
// failure is logged rather than returned.
func publish(ctx context.Context, publisher Publisher, event Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event.AggregateID, event); err != nil {
		log.Printf("[EventStore] Failed to publish %s for %s: %v", event.EventType, event.AggregateID, err)
	}
}
