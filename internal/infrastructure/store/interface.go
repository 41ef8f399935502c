package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
)

// ErrVersionConflict is returned by Append when another writer already stored
// the version the caller expected to write.
var ErrVersionConflict = fmt.Errorf("%w: event version conflict", apperr.ErrConflict)

// EventStoreInterface defines the interface for event stores.
//
// Append is a compare-and-set: the event is written as expectedVersion+1 and
// fails with ErrVersionConflict when that version already exists.
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	FindStale(ctx context.Context, q StaleQuery) ([]string, error)
}

// StaleQuery selects aggregates whose first event is older than CreatedBefore
// and whose latest event is one of OpenEventTypes.
type StaleQuery struct {
	AggregateType  string
	OpenEventTypes []string
	CreatedBefore  time.Time
	Limit          int
}

// Publisher receives every stored event, keyed by aggregate ID.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}
