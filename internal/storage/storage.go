package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/bookshelf/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrNotConfigured indicates a nil or closed database.
	ErrNotConfigured = errors.New("storage is not configured")
)

// SessionFactory opens storage sessions. Services contributed by plugins close
// over it and open one session per call.
type SessionFactory interface {
	Session(ctx context.Context) (*Session, error)
}

// Session is one dedicated connection. Callers must Close it.
type Session struct {
	conn *sql.Conn
}

// ExecContext executes a statement on the session connection.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the session connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the session connection.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on the session connection.
func (s *Session) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.conn.BeginTx(ctx, opts)
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// WithSession opens a session, runs fn and closes the session.
func WithSession(ctx context.Context, sessions SessionFactory, fn func(*Session) error) error {
	if sessions == nil {
		return ErrNotConfigured
	}
	session, err := sessions.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

// DB is the SQLite handle shared by the process.
type DB struct {
	sqlDB *sql.DB
}

// Open opens a SQLite database at path, creating its directory.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &DB{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (d *DB) Close() error {
	if d == nil || d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.sqlDB == nil {
		return ErrNotConfigured
	}
	return d.sqlDB.PingContext(ctx)
}

// Session implements SessionFactory.
func (d *DB) Session(ctx context.Context) (*Session, error) {
	if d == nil || d.sqlDB == nil {
		return nil, ErrNotConfigured
	}
	conn, err := d.sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Migrate creates the tables of every model that was not migrated before.
func (d *DB) Migrate(ctx context.Context, models []Model) error {
	if d == nil || d.sqlDB == nil {
		return ErrNotConfigured
	}
	ms, err := migrations(models)
	if err != nil {
		return err
	}
	if err := sqlitemigrate.Apply(ctx, d.sqlDB, ms); err != nil {
		return fmt.Errorf("migrate models: %w", err)
	}
	return nil
}

// Setup drops every model table and creates it again, discarding all rows.
func (d *DB) Setup(ctx context.Context, models []Model) error {
	if d == nil || d.sqlDB == nil {
		return ErrNotConfigured
	}
	ms, err := migrations(models)
	if err != nil {
		return err
	}
	for _, m := range models {
		if _, err := d.sqlDB.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(m.Table)); err != nil {
			return fmt.Errorf("drop table %s: %w", m.Table, err)
		}
	}
	if err := sqlitemigrate.Revert(ctx, d.sqlDB, ms); err != nil {
		return fmt.Errorf("reset models: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, d.sqlDB, ms); err != nil {
		return fmt.Errorf("create models: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
