package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SQLEventStore stores events in PostgreSQL or SQLite and publishes them to
// Kafka after commit
type SQLEventStore struct {
	db        *sql.DB
	dialect   Dialect
	publisher Publisher
	now       func() time.Time
}

func NewSQLEventStore(db *sql.DB, dialect Dialect, publisher Publisher) *SQLEventStore {
	return &SQLEventStore{
		db:        db,
		dialect:   dialect,
		publisher: publisher,
		now:       time.Now,
	}
}

// Append inserts the next version of an aggregate inside a transaction; the
// UNIQUE(aggregate_id, version) constraint settles concurrent writers.
func (es *SQLEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
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

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx,
		es.dialect.Rebind("SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?"),
		aggregateID,
	).Scan(&currentVersion)
	if err != nil {
		return nil, err
	}
	if currentVersion != expectedVersion {
		return nil, ErrVersionConflict
	}

	res, err := tx.ExecContext(ctx, es.dialect.Rebind(
		`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (aggregate_id, version) DO NOTHING`),
		event.ID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		string(event.Data),
		event.Version,
		toUnix(event.Timestamp),
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	publish(ctx, es.publisher, event)
	return &event, nil
}

// GetEvents returns all events for an aggregate ordered by version
func (es *SQLEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, es.dialect.Rebind(
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events
		 WHERE aggregate_id = ?
		 ORDER BY version ASC`),
		aggregateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			data    string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Version, &created); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		e.Timestamp = fromUnix(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// FindStale joins each aggregate's first and latest event
func (es *SQLEventStore) FindStale(ctx context.Context, q StaleQuery) ([]string, error) {
	if len(q.OpenEventTypes) == 0 {
		return nil, nil
	}

	query := `SELECT f.aggregate_id
		FROM events f
		JOIN (SELECT aggregate_id, MAX(version) AS version
		      FROM events
		      WHERE aggregate_type = ?
		      GROUP BY aggregate_id) m ON m.aggregate_id = f.aggregate_id
		JOIN events l ON l.aggregate_id = m.aggregate_id AND l.version = m.version
		WHERE f.version = 1
		  AND f.created_at < ?
		  AND l.event_type IN (` + placeholders(len(q.OpenEventTypes)) + `)
		ORDER BY f.created_at ASC`

	args := []any{q.AggregateType, toUnix(q.CreatedBefore)}
	for _, t := range q.OpenEventTypes {
		args = append(args, t)
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := es.db.QueryContext(ctx, es.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
