// Package sqlitemigrate applies named `-- +migrate Up` scripts to SQLite at
// most once each, recording them in a schema_migrations table.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	migrationTable = "schema_migrations"
	upMarker       = "-- +migrate Up"
	downMarker     = "-- +migrate Down"
)

// Migration is one named script holding an Up and optional Down section.
type Migration struct {
	Name   string
	Script string
}

// Execer is satisfied by *sql.DB and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Apply executes each migration's Up section unless it was already recorded.
// Migrations run in the order given.
func Apply(ctx context.Context, db Execer, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}
	if err := ensureTable(ctx, db); err != nil {
		return err
	}

	for _, m := range migrations {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("migration name is required")
		}

		applied, err := isApplied(ctx, db, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		upSQL := ExtractUpMigration(m.Script)
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx, upSQL); err != nil {
			if !IsAlreadyExistsError(err) {
				_ = tx.Rollback()
				return fmt.Errorf("exec migration %s: %w", name, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			name,
			time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}

	return nil
}

// Revert runs each migration's Down section in reverse order and forgets it.
// Migrations without a Down section are only forgotten.
func Revert(ctx context.Context, db Execer, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}
	if err := ensureTable(ctx, db); err != nil {
		return err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		name := strings.TrimSpace(m.Name)
		if downSQL := ExtractDownMigration(m.Script); strings.TrimSpace(downSQL) != "" {
			if _, err := db.ExecContext(ctx, downSQL); err != nil {
				return fmt.Errorf("revert migration %s: %w", name, err)
			}
		}
		if _, err := db.ExecContext(ctx, "DELETE FROM "+migrationTable+" WHERE name = ?", name); err != nil {
			return fmt.Errorf("forget migration %s: %w", name, err)
		}
	}
	return nil
}

// ExtractUpMigration returns the SQL in the -- +migrate Up section.
func ExtractUpMigration(content string) string {
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, downMarker)
	if downIdx == -1 || downIdx < upIdx {
		return content[upIdx+len(upMarker):]
	}
	return content[upIdx+len(upMarker) : downIdx]
}

// ExtractDownMigration returns the SQL in the -- +migrate Down section.
func ExtractDownMigration(content string) string {
	downIdx := strings.Index(content, downMarker)
	if downIdx == -1 {
		return ""
	}
	rest := content[downIdx+len(downMarker):]
	if upIdx := strings.Index(rest, upMarker); upIdx != -1 {
		rest = rest[:upIdx]
	}
	return rest
}

// IsAlreadyExistsError reports whether this error indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}

func ensureTable(ctx context.Context, db Execer) error {
	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, migrationTable)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func isApplied(ctx context.Context, db Execer, name string) (bool, error) {
	var found int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", name).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
