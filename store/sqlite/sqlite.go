/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  One database file holds the fund data, the load log, the holiday
  calendar and the workflow run history.

INTERFACES IMPLEMENTED:
  fund.Store:            Partition reads, upserts, partition replacement
  fund.LoadLog:          etl_log entries
  fund.HolidayStore:     Operator-managed holidays
  fund.HolidayCalendar:  IsHoliday over the holidays table
  workflow.RunStore:     Run history

KEY TABLES:
  fund_data:  One row per (date, region, fund_code). Numbers are stored
              as decimal TEXT so values round-trip exactly; NULL is "no value".
  etl_log:    One row per partition load attempt
  holidays:   Market holidays, region '' = all regions
  workflows:  Run history keyed by run id

TRANSACTIONS:
  Upsert and ReplacePartition each run in their own transaction. A
  failed ReplacePartition leaves the previous partition untouched.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode (many readers,
  one writer). ":memory:" databases are pinned to one connection, since
  every new connection would open a fresh empty database.

USAGE:
  store, err := sqlite.New("./fund_data.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - fund/store.go:           Interface definitions
  - workflow/run.go:         RunStore interface
  - store/memory/memory.go:  In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	upsertSQL string
	insertSQL string
	selectSQL string
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	store.buildFundSQL()
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	var cols strings.Builder
	for _, f := range fundFields {
		fmt.Fprintf(&cols, "\t\t%s TEXT,\n", f.Name)
	}

	schema := `
	-- Daily fund snapshots, one partition per (date, region)
	CREATE TABLE IF NOT EXISTS fund_data (
		date TEXT NOT NULL,
		region TEXT NOT NULL,
		fund_code TEXT NOT NULL,
` + cols.String() + `		loaded_at TEXT NOT NULL,
		PRIMARY KEY (date, region, fund_code)
	);

	CREATE INDEX IF NOT EXISTS idx_fund_data_region_date
		ON fund_data(region, date);

	-- Load log, one row per partition load attempt
	CREATE TABLE IF NOT EXISTS etl_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_date TEXT NOT NULL,
		region TEXT NOT NULL,
		file_date TEXT,
		status TEXT NOT NULL,
		records_processed INTEGER DEFAULT 0,
		issues_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_etl_log_run_date
		ON etl_log(run_date);

	-- Market holidays (region-specific and global)
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		region TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(region, date);

	-- Workflow run history
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		ended_at TEXT,
		error TEXT,
		output_json TEXT,
		output_dropped INTEGER DEFAULT 0,
		result_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_workflows_status
		ON workflows(status);
	CREATE INDEX IF NOT EXISTS idx_workflows_kind_created
		ON workflows(kind, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
