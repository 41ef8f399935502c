// Package records is the append-only log of verified payments. It is read for
// audit and reconciliation; the saga never branches on its contents.
package records

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// Source says which signal verified the payment.
type Source string

const (
	SourceClient  Source = "client"
	SourceWebhook Source = "webhook"
	SourceSweep   Source = "sweep"
)

// Record is one verified payment.
type Record struct {
	IdempotencyKey  string    `json:"idempotency_key"`
	OrderID         string    `json:"order_id"`
	Provider        string    `json:"provider"`
	ProviderOrderID string    `json:"provider_order_id"`
	PaymentID       string    `json:"payment_id,omitempty"`
	Signature       string    `json:"signature,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Source          Source    `json:"source"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Key is the idempotency key of a payment record.
func Key(provider, providerOrderID string) string {
	return fmt.Sprintf("%s:%s", provider, providerOrderID)
}

// Store appends payment records. Append reports false when a record with the
// same idempotency key already exists; the existing record is left untouched.
type Store interface {
	Append(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, idempotencyKey string) (*Record, error)
	ListByOrder(ctx context.Context, orderID string) ([]Record, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Append(ctx context.Context, rec Record) (bool, error) {
	if rec.IdempotencyKey == "" {
		return false, fmt.Errorf("payment record for %s has no idempotency key", rec.OrderID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.IdempotencyKey]; ok {
		return false, nil
	}
	s.records[rec.IdempotencyKey] = rec
	return true, nil
}

// Get returns nil when no record exists for the key.
func (s *MemoryStore) Get(ctx context.Context, idempotencyKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[idempotencyKey]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) ListByOrder(ctx context.Context, orderID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	SortByTime(out)
	return out, nil
}

// SortByTime orders records oldest first.
func SortByTime(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].RecordedAt.Before(recs[j].RecordedAt) })
}

// All returns every stored record. Used by tests and the CLI dump.
func (s *MemoryStore) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	SortByTime(out)
	return slices.Clip(out)
}
