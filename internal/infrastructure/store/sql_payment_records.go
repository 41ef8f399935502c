package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/ec-fulfillment/internal/records"
)

// SQLPaymentRecords is the payment_records table
type SQLPaymentRecords struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLPaymentRecords(db *sql.DB, dialect Dialect) *SQLPaymentRecords {
	return &SQLPaymentRecords{db: db, dialect: dialect}
}

const paymentRecordColumns = `idempotency_key, order_id, provider, provider_order_id, payment_id,
	signature, amount, currency, source, recorded_at`

// Append inserts the record unless its idempotency key already exists
func (s *SQLPaymentRecords) Append(ctx context.Context, rec records.Record) (bool, error) {
	if rec.IdempotencyKey == "" {
		return false, fmt.Errorf("payment record for %s has no idempotency key", rec.OrderID)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO payment_records (`+paymentRecordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`),
		rec.IdempotencyKey,
		rec.OrderID,
		rec.Provider,
		rec.ProviderOrderID,
		rec.PaymentID,
		rec.Signature,
		rec.Amount,
		rec.Currency,
		string(rec.Source),
		toUnix(rec.RecordedAt),
	)
	if err != nil {
		return false, fmt.Errorf("append payment record %s: %w", rec.IdempotencyKey, err)
	}
	return affected(res), nil
}

func (s *SQLPaymentRecords) Get(ctx context.Context, idempotencyKey string) (*records.Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT `+paymentRecordColumns+` FROM payment_records WHERE idempotency_key = ?`),
		idempotencyKey,
	)
	rec, err := scanPaymentRecord(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLPaymentRecords) ListByOrder(ctx context.Context, orderID string) ([]records.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT `+paymentRecordColumns+` FROM payment_records
		 WHERE order_id = ?
		 ORDER BY recorded_at ASC`),
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		rec, err := scanPaymentRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentRecord(row rowScanner) (records.Record, error) {
	var (
		rec        records.Record
		source     string
		recordedAt int64
	)
	err := row.Scan(
		&rec.IdempotencyKey,
		&rec.OrderID,
		&rec.Provider,
		&rec.ProviderOrderID,
		&rec.PaymentID,
		&rec.Signature,
		&rec.Amount,
		&rec.Currency,
		&source,
		&recordedAt,
	)
	if err != nil {
		return records.Record{}, err
	}
	rec.Source = records.Source(source)
	rec.RecordedAt = fromUnix(recordedAt)
	return rec, nil
}
