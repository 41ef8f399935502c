package aggregate

import (
	"context"
	"fmt"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// LoadAggregate loads an aggregate by replaying its events.
// Returns the aggregate, a boolean indicating if data was found, and any error
func LoadAggregate[T Aggregate](
	ctx context.Context,
	eventStore store.EventStoreInterface,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	var zero T
	agg := newAggregate()

	events, err := eventStore.GetEvents(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("failed to load events: %w", err)
	}

	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			return zero, false, fmt.Errorf("failed to apply event %s v%d: %w", event.EventType, event.Version, err)
		}
	}

	return agg, len(events) > 0, nil
}
