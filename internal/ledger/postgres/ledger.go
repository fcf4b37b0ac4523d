// Package postgres records write decisions in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

const defaultTable = "write_ledger"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Ledger writes ledger rows into Postgres.
type Ledger struct {
	pool  pgxPool
	table string
}

// New connects to Postgres and ensures the ledger table exists.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := l.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{pool: pool, table: table}, nil
}

// EnsureSchema creates the ledger table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	day TEXT NOT NULL,
	outcome TEXT NOT NULL,
	snapshot_file TEXT NOT NULL,
	snapshot_sha256 TEXT NOT NULL,
	sources_ok INTEGER NOT NULL,
	sources_total INTEGER NOT NULL,
	recorded_utc TEXT NOT NULL
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
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
INSERT INTO %s (
	run_id,
	day,
	outcome,
	snapshot_file,
	snapshot_sha256,
	sources_ok,
	sources_total,
	recorded_utc
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, l.table)

	args := []any{
		entry.RunID,
		entry.Day,
		entry.Outcome,
		entry.SnapshotFile,
		entry.SnapshotSHA256,
		entry.SourcesOK,
		entry.SourcesTotal,
		entry.RecordedUTC,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
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
LIMIT $1`, l.table)

	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

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

// Close releases the underlying pool resources.
func (l *Ledger) Close() error {
	if l == nil || l.pool == nil {
		return nil
	}
	l.pool.Close()
	return nil
}
