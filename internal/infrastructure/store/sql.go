package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a storage driver name to a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// Rebind rewrites ? placeholders into the dialect's style.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Connect opens and pings a database for the dialect.
func Connect(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Configure connection pool
	if d == DialectSQLite {
		// one writer; an in-memory database only lives on its own connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id             TEXT PRIMARY KEY,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		data           TEXT NOT NULL,
		version        INTEGER NOT NULL,
		created_at     BIGINT NOT NULL,
		UNIQUE (aggregate_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS events_type_created ON events (aggregate_type, created_at)`,

	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		idem_key    TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		outcome     TEXT NOT NULL DEFAULT '',
		claimed_at  BIGINT NOT NULL,
		lease_until BIGINT NOT NULL,
		expires_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idempotency_keys_expires ON idempotency_keys (expires_at)`,

	`CREATE TABLE IF NOT EXISTS payment_records (
		idempotency_key   TEXT PRIMARY KEY,
		order_id          TEXT NOT NULL,
		provider          TEXT NOT NULL,
		provider_order_id TEXT NOT NULL,
		payment_id        TEXT NOT NULL DEFAULT '',
		signature         TEXT NOT NULL DEFAULT '',
		amount            BIGINT NOT NULL,
		currency          TEXT NOT NULL,
		source            TEXT NOT NULL,
		recorded_at       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS payment_records_order ON payment_records (order_id)`,
}

// Migrate creates the tables used by the SQL stores. The schema is portable
// between Postgres and SQLite.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
