package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps database/sql with the driver it was opened against. The two
// backends share DML; sqlite queries use ? placeholders and are rebound to
// $n for Postgres.
type DB struct {
	*sql.DB
	driver string
}

// Open opens the buffer store. A postgres:// (or postgresql://) DSN selects
// the Postgres backend; anything else is treated as a sqlite file path.
func Open(dsn string) (*DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		d := &DB{DB: db, driver: DriverPostgres}
		if err := d.bootstrap(); err != nil {
			db.Close()
			return nil, err
		}
		return d, nil
	}

	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Concurrent webhook handlers and the scheduler share this database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{DB: db, driver: DriverSQLite}
	if err := d.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
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

func (d *DB) bootstrap() error {
	msgID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.driver == DriverPostgres {
		msgID = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS buffer_sessions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			owner_id TEXT,
			status TEXT NOT NULL,
			opened_at BIGINT NOT NULL,
			last_message_at BIGINT NOT NULL,
			closes_at BIGINT NOT NULL,
			claimed_at BIGINT,
			processed_at BIGINT,
			message_count INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		// One active session per conversation, enforced by the store itself.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_conversation
			ON buffer_sessions(conversation_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status_closes
			ON buffer_sessions(status, closes_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS buffered_messages (
			id %s,
			buffer_id TEXT NOT NULL,
			external_message_id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			sender_phone TEXT NOT NULL DEFAULT '',
			received_at BIGINT NOT NULL,
			UNIQUE (buffer_id, external_message_id)
		)`, msgID),
		`CREATE INDEX IF NOT EXISTS idx_messages_buffer
			ON buffered_messages(buffer_id, received_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_state (
			conversation_id TEXT PRIMARY KEY,
			owner_id TEXT,
			active_buffer_id TEXT,
			state TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS buffer_processing_jobs (
			id TEXT PRIMARY KEY,
			buffer_id TEXT UNIQUE NOT NULL,
			scheduled_for BIGINT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := d.Exec(stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

// Timestamps are stored as unix milliseconds so sliding deadlines keep
// sub-second resolution.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}
