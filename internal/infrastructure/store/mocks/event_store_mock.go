package mocks

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is a mock implementation of EventStoreInterface for testing
type MockEventStore struct {
	mu     sync.RWMutex
	events map[string][]store.Event

	// For tracking calls in tests
	AppendCalls    []AppendCall
	AppendErr      error
	GetEventsErr   error
	AppendCallback func(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error)
}

// AppendCall records parameters passed to Append
type AppendCall struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	ExpectedVersion int
	Data            any
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		events:      make(map[string][]store.Event),
		AppendCalls: make([]AppendCall, 0),
	}
}

// Append stores an event in memory, honouring the expected version
func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error) {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		EventType:       eventType,
		ExpectedVersion: expectedVersion,
		Data:            data,
	})
	callback := m.AppendCallback
	appendErr := m.AppendErr
	m.mu.Unlock()

	// Use callback if provided
	if callback != nil {
		return callback(ctx, aggregateID, aggregateType, eventType, expectedVersion, data)
	}

	// Return error if set
	if appendErr != nil {
		return nil, appendErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events[aggregateID]) != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	event, err := newEvent(aggregateID, aggregateType, eventType, expectedVersion+1, data)
	if err != nil {
		return nil, err
	}
	m.events[aggregateID] = append(m.events[aggregateID], event)
	return &event, nil
}

// GetEvents returns events for an aggregate
func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	return slices.Clone(m.events[aggregateID]), nil
}

// FindStale returns aggregates of the requested type created before the cutoff
// whose last event is open, ordered by ID
func (m *MockEventStore) FindStale(ctx context.Context, q store.StaleQuery) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, events := range m.events {
		if len(events) == 0 || events[0].AggregateType != q.AggregateType {
			continue
		}
		if !events[0].Timestamp.Before(q.CreatedBefore) {
			continue
		}
		if slices.Contains(q.OpenEventTypes, events[len(events)-1].EventType) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// GetAllEvents returns all events
func (m *MockEventStore) GetAllEvents() []store.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []store.Event
	for _, events := range m.events {
		all = append(all, events...)
	}
	return all
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]store.Event)
	m.AppendCalls = make([]AppendCall, 0)
	m.AppendErr = nil
	m.GetEventsErr = nil
	m.AppendCallback = nil
}

// SetEvents sets events directly for testing
func (m *MockEventStore) SetEvents(aggregateID string, events []store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[aggregateID] = events
}

// AddEvent adds a single event for testing
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, err := newEvent(aggregateID, aggregateType, eventType, len(m.events[aggregateID])+1, data)
	if err != nil {
		return err
	}
	m.events[aggregateID] = append(m.events[aggregateID], event)
	return nil
}

func newEvent(aggregateID, aggregateType, eventType string, version int, data any) (store.Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return store.Event{}, err
	}
	return store.Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     time.Now().UTC(),
		Version:       version,
	}, nil
}
