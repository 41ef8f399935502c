// Package idempotency provides the dedup store that makes every saga side
// effect happen at most once.
//
// A key is claimed with an atomic insert-if-absent before the guarded work
// starts, completed with the outcome afterwards, or released when the work
// failed so a later retry can claim it again. Claims carry a lease so a
// crashed holder does not block the key forever, and every record expires
// after the retention window.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
)

const (
	// DefaultRetention covers the webhook retry windows of the providers.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultLease bounds how long an unfinished claim blocks other callers.
	DefaultLease = time.Minute
	// LinkRetention keeps a link for as long as the linked order exists.
	// Orders are never deleted, so links outlive every purge.
	LinkRetention = 100 * 365 * 24 * time.Hour
)

// Status of a dedup record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ErrNotFound is returned by Complete when the key was never claimed.
var ErrNotFound = fmt.Errorf("idempotency key %w", apperr.ErrNotFound)

// Record is the stored state of one key.
type Record struct {
	Key        string    `json:"key"`
	Status     Status    `json:"status"`
	Outcome    string    `json:"outcome,omitempty"`
	ClaimedAt  time.Time `json:"claimed_at"`
	LeaseUntil time.Time `json:"lease_until"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ClaimRequest describes an insert-if-absent attempt.
type ClaimRequest struct {
	Key       string
	Now       time.Time
	Lease     time.Duration
	Retention time.Duration
}

// Normalized fills in the default lease, retention and clock.
func (r ClaimRequest) Normalized() ClaimRequest {
	if r.Lease <= 0 {
		r.Lease = DefaultLease
	}
	if r.Retention <= 0 {
		r.Retention = DefaultRetention
	}
	if r.Now.IsZero() {
		r.Now = time.Now()
	}
	r.Now = r.Now.UTC()
	return r
}

// NewRecord builds the in-progress record a successful claim stores.
func (r ClaimRequest) NewRecord() Record {
	return Record{
		Key:        r.Key,
		Status:     StatusInProgress,
		ClaimedAt:  r.Now,
		LeaseUntil: r.Now.Add(r.Lease),
		ExpiresAt:  r.Now.Add(r.Retention),
	}
}

// Takeable reports whether an existing record may be overwritten by a new claim.
func (rec Record) Takeable(now time.Time) bool {
	if !rec.ExpiresAt.After(now) {
		return true
	}
	return rec.Status == StatusInProgress && !rec.LeaseUntil.After(now)
}

// Store is the dedup store contract.
type Store interface {
	// Claim atomically inserts the key in progress. When the key already
	// exists and is not takeable, the existing record is returned with
	// claimed=false.
	Claim(ctx context.Context, req ClaimRequest) (rec Record, claimed bool, err error)
	// Complete marks a claimed key done with its outcome.
	Complete(ctx context.Context, key, outcome string) error
	// Release drops an in-progress claim so the work can be retried.
	Release(ctx context.Context, key string) error
	// Get returns the record for key.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Purge removes expired records and reports how many were removed.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Link stores key -> value once. It returns the stored value, which differs
// from value when the key was linked before. A zero retention means
// LinkRetention.
func Link(ctx context.Context, s Store, key, value string, now time.Time, retention time.Duration) (string, error) {
	if retention <= 0 {
		retention = LinkRetention
	}
	rec, claimed, err := s.Claim(ctx, ClaimRequest{Key: key, Now: now, Retention: retention})
	if err != nil {
		return "", err
	}
	if !claimed {
		if rec.Status != StatusDone {
			return "", fmt.Errorf("link %s: %w", key, apperr.ErrInProgress)
		}
		return rec.Outcome, nil
	}
	if err := s.Complete(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

// Resolve returns the value linked to key.
func Resolve(ctx context.Context, s Store, key string) (string, error) {
	rec, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok || rec.Status != StatusDone {
		return "", fmt.Errorf("resolve %s: %w", key, ErrNotFound)
	}
	return rec.Outcome, nil
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
