package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/idempotency"
)

// SQLIdempotencyStore keeps dedup keys in the idempotency_keys table
type SQLIdempotencyStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLIdempotencyStore(db *sql.DB, dialect Dialect) *SQLIdempotencyStore {
	return &SQLIdempotencyStore{db: db, dialect: dialect}
}

// Claim inserts the key if absent, then tries to take over an expired record
// or a lapsed lease. Both statements are single-row atomic writes.
func (s *SQLIdempotencyStore) Claim(ctx context.Context, req idempotency.ClaimRequest) (idempotency.Record, bool, error) {
	req = req.Normalized()
	rec := req.NewRecord()
	now := toUnix(req.Now)

	// A concurrent Release can delete the row between the statements; one
	// more round settles it.
	for range 3 {
		res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
			`INSERT INTO idempotency_keys (idem_key, status, outcome, claimed_at, lease_until, expires_at)
			 VALUES (?, ?, '', ?, ?, ?)
			 ON CONFLICT (idem_key) DO NOTHING`),
			rec.Key, string(rec.Status), now, toUnix(rec.LeaseUntil), toUnix(rec.ExpiresAt),
		)
		if err != nil {
			return idempotency.Record{}, false, fmt.Errorf("claim %s: %w", req.Key, err)
		}
		if affected(res) {
			return rec, true, nil
		}

		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(
			`UPDATE idempotency_keys
			 SET status = ?, outcome = '', claimed_at = ?, lease_until = ?, expires_at = ?
			 WHERE idem_key = ?
			   AND (expires_at <= ? OR (status = ? AND lease_until <= ?))`),
			string(rec.Status), now, toUnix(rec.LeaseUntil), toUnix(rec.ExpiresAt),
			rec.Key, now, string(idempotency.StatusInProgress), now,
		)
		if err != nil {
			return idempotency.Record{}, false, fmt.Errorf("claim %s: %w", req.Key, err)
		}
		if affected(res) {
			return rec, true, nil
		}

		existing, ok, err := s.Get(ctx, req.Key)
		if err != nil {
			return idempotency.Record{}, false, err
		}
		if ok {
			return existing, false, nil
		}
	}
	return idempotency.Record{}, false, fmt.Errorf("claim %s: key kept changing", req.Key)
}

func (s *SQLIdempotencyStore) Complete(ctx context.Context, key, outcome string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE idempotency_keys SET status = ?, outcome = ? WHERE idem_key = ?`),
		string(idempotency.StatusDone), outcome, key,
	)
	if err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	if !affected(res) {
		return idempotency.ErrNotFound
	}
	return nil
}

func (s *SQLIdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM idempotency_keys WHERE idem_key = ? AND status = ?`),
		key, string(idempotency.StatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (s *SQLIdempotencyStore) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	var (
		rec                            idempotency.Record
		status                         string
		claimedAt, leaseUntil, expires int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT idem_key, status, outcome, claimed_at, lease_until, expires_at
		 FROM idempotency_keys WHERE idem_key = ?`),
		key,
	).Scan(&rec.Key, &status, &rec.Outcome, &claimedAt, &leaseUntil, &expires)
	if isNoRows(err) {
		return idempotency.Record{}, false, nil
	}
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	rec.Status = idempotency.Status(status)
	rec.ClaimedAt = fromUnix(claimedAt)
	rec.LeaseUntil = fromUnix(leaseUntil)
	rec.ExpiresAt = fromUnix(expires)
	return rec, true, nil
}

func (s *SQLIdempotencyStore) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM idempotency_keys WHERE expires_at <= ?`),
		toUnix(now),
	)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
