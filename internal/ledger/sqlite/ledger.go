// Package sqlite records write decisions in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

const defaultTable = "write_ledger"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config points at the database file.
type Config struct {
	Path  string
	Table string
}

// Ledger writes ledger rows into SQLite.
type Ledger struct {
	db    *sql.DB
	table string
}

// Open creates the database file if needed and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer process; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, table: table}
	if err := l.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	day TEXT NOT NULL,
	outcome TEXT NOT NULL,
	snapshot_file TEXT NOT NULL,
	snapshot_sha256 TEXT NOT NULL,
	sources_ok INTEGER NOT NULL,
	sources_total INTEGER NOT NULL,
	recorded_utc TEXT NOT NULL
)`, l.table)
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Record inserts one decision.
func (l *Ledger) Record(ctx context.Context, entry monitor.LedgerEntry) error {
	if entry.Day == "" || entry.Outcome == "" {
		return fmt.Errorf("ledger entry requires day and outcome")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, day, outcome, snapshot_file, snapshot_sha256, sources_ok, sources_total, recorded_utc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, l.table)
	_, err := l.db.ExecContext(ctx, query,
		entry.RunID,
		entry.Day,
		entry.Outcome,
		entry.SnapshotFile,
		entry.SnapshotSHA256,
		entry.SourcesOK,
		entry.SourcesTotal,
		entry.RecordedUTC,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// List returns the most recent entries first.
func (l *Ledger) List(ctx context.Context, limit int) ([]monitor.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT run_id, day, outcome, snapshot_file, snapshot_sha256, sources_ok, sources_total, recorded_utc
FROM %s
ORDER BY id DESC
LIMIT ?`, l.table)

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []monitor.LedgerEntry
	for rows.Next() {
		var e monitor.LedgerEntry
		if err := rows.Scan(
			&e.RunID,
			&e.Day,
			&e.Outcome,
			&e.SnapshotFile,
			&e.SnapshotSHA256,
			&e.SourcesOK,
			&e.SourcesTotal,
			&e.RecordedUTC,
		); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
