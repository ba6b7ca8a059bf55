// Package sqlstore keeps thread checkpoints in a SQL table through
// database/sql. SQLite, MySQL and PostgreSQL are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/conductor/pkg/domain"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names accepted by Open.
const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
)

// DefaultTable is the checkpoint table name.
const DefaultTable = "conductor_threads"

type dialect struct {
	driver string
	schema string
	upsert string
	// bind rewrites ? placeholders for drivers that use $n.
	bind func(string) string
}

func dialectFor(name string) (dialect, error) {
	identity := func(q string) string { return q }
	switch strings.ToLower(name) {
	case SQLite, "sqlite3":
		return dialect{
			driver: "sqlite",
			schema: `CREATE TABLE IF NOT EXISTS %s (
	thread_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`,
			upsert: `INSERT INTO %s (thread_id, status, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`,
			bind: identity,
		}, nil
	case MySQL:
		return dialect{
			driver: "mysql",
			schema: `CREATE TABLE IF NOT EXISTS %s (
	thread_id VARCHAR(191) PRIMARY KEY,
	status VARCHAR(32) NOT NULL,
	data LONGTEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`,
			upsert: `INSERT INTO %s (thread_id, status, data, updated_at) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE status = VALUES(status), data = VALUES(data), updated_at = VALUES(updated_at)`,
			bind: identity,
		}, nil
	case Postgres, "postgresql", "pgx":
		return dialect{
			driver: "pgx",
			schema: `CREATE TABLE IF NOT EXISTS %s (
	thread_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	data JSONB NOT NULL,
	updated_at BIGINT NOT NULL
)`,
			upsert: `INSERT INTO %s (thread_id, status, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (thread_id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
			bind: dollarPlaceholders,
		}, nil
	}
	return dialect{}, fmt.Errorf("sqlstore: unsupported dialect %q", name)
}

func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store implements ports.StateStore over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect dialect
	table   string
	owned   bool
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides DefaultTable.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// Open connects with the driver matching dialectName and ensures the
// checkpoint table exists. For SQLite, dsn is a file path whose parent
// directory is created on demand.
func Open(ctx context.Context, dialectName, dsn string, opts ...Option) (*Store, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: dsn cannot be empty")
	}
	if d.driver == "sqlite" && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: create db directory: %w", err)
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if d.driver == "sqlite" {
		// a single connection avoids SQLITE_BUSY between writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	s, err := newStore(ctx, db, d, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing connection pool. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, dialectName string, opts ...Option) (*Store, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	return newStore(ctx, db, d, opts...)
}

func newStore(ctx context.Context, db *sql.DB, d dialect, opts ...Option) (*Store, error) {
	s := &Store{db: db, dialect: d, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	if !validTable(s.table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", s.table)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(d.schema, s.table)); err != nil {
		return nil, fmt.Errorf("sqlstore: init schema: %w", err)
	}
	return s, nil
}

func validTable(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (s *Store) query(q string) string {
	return s.dialect.bind(fmt.Sprintf(q, s.table))
}

// Save upserts the checkpoint row.
func (s *Store) Save(ctx context.Context, threadID string, state *domain.State) error {
	if threadID == "" {
		return fmt.Errorf("threadID cannot be empty")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.query(s.dialect.upsert),
		threadID, string(state.Status), string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlstore: save %s: %w", threadID, err)
	}
	return nil
}

// Load reads the checkpoint row.
func (s *Store) Load(ctx context.Context, threadID string) (*domain.State, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.query(`SELECT data FROM %s WHERE thread_id = ?`), threadID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrThreadNotFound
		}
		return nil, fmt.Errorf("sqlstore: load %s: %w", threadID, err)
	}

	var state domain.State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes the checkpoint row.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, s.query(`DELETE FROM %s WHERE thread_id = ?`), threadID); err != nil {
		return fmt.Errorf("sqlstore: delete %s: %w", threadID, err)
	}
	return nil
}

// List returns thread IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.query(`SELECT thread_id FROM %s ORDER BY thread_id`))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list: %w", err)
	}
	defer rows.Close()

	threads := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlstore: list: %w", err)
		}
		threads = append(threads, id)
	}
	return threads, rows.Err()
}

// Suspended returns the IDs of threads waiting for a resume value.
func (s *Store) Suspended(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.query(`SELECT thread_id FROM %s WHERE status = ? ORDER BY updated_at`), string(domain.StatusSuspended))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: suspended: %w", err)
	}
	defer rows.Close()

	threads := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		threads = append(threads, id)
	}
	return threads, rows.Err()
}

// Close closes the pool if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
