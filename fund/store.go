/*
store.go - Persistence contracts for fund data

PURPOSE:
  The reconciliation core only sees a Reader (partition lookups) and a
  Writer (single-row upsert, whole-partition replace). Each Writer call
  is its own transaction: a failure affects that row or that partition
  and nothing else.

PARTITIONS:
  A partition is every record of one (region, date). An absent partition
  loads as an empty slice, never an error.

IMPLEMENTATIONS:
  - store/sqlite: go-sqlite3
  - store/memory: maps, for tests and dry runs

SEE ALSO:
  - reconcile/engine.go: Reader consumer
  - reconcile/apply.go:  Writer consumer
*/
package fund

import (
	"context"
	"time"
)

// Reader returns the stored partition for (region, date), empty if absent.
type Reader interface {
	LoadPartition(ctx context.Context, region Region, date Date) ([]FundRecord, error)
}

// Writer persists fund records. Every call is one transaction.
type Writer interface {
	// Upsert inserts or replaces the row keyed by (region, date, fund_code).
	Upsert(ctx context.Context, rec FundRecord) error

	// ReplacePartition deletes every row of (region, date) and inserts records.
	// Either all of it happens or none of it does.
	ReplacePartition(ctx context.Context, region Region, date Date, records []FundRecord) error
}

// Store is the full fund-data surface used by the ETL workflows.
type Store interface {
	Reader
	Writer

	// LatestDateBefore returns the newest partition date strictly before the given day.
	LatestDateBefore(ctx context.Context, region Region, before Date) (Date, bool, error)

	// ListDates returns the partition dates in [from, to], ascending.
	ListDates(ctx context.Context, region Region, from, to Date) ([]Date, error)
}

// =============================================================================
// LOAD LOG - One entry per partition load attempt
// =============================================================================

type LoadStatus string

const (
	LoadSuccess        LoadStatus = "SUCCESS"
	LoadCarriedForward LoadStatus = "CARRIED_FORWARD"
	LoadFailed         LoadStatus = "FAILED"
	LoadLookbackUpdate LoadStatus = "LOOKBACK_UPDATE"
)

// LoadLogEntry records what a run did to one region's data.
type LoadLogEntry struct {
	ID               int64      `json:"id"`
	RunDate          Date       `json:"run_date"`
	Region           Region     `json:"region"`
	FileDate         Date       `json:"file_date"`
	Status           LoadStatus `json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	Issues           []string   `json:"issues,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type LoadLog interface {
	AppendLoadLog(ctx context.Context, entry LoadLogEntry) error

	// ListLoadLog returns entries with run_date >= since, newest first.
	ListLoadLog(ctx context.Context, since Date, limit int) ([]LoadLogEntry, error)
}

// HolidayStore persists operator-managed market holidays.
type HolidayStore interface {
	ListHolidays(ctx context.Context) ([]Holiday, error)
	AddHoliday(ctx context.Context, h Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
}
