// Package memory provides in-memory stores for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/workflow"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Op names a write operation for failure injection.
type Op string

const (
	OpUpsert  Op = "upsert"
	OpReplace Op = "replace"
	OpSaveRun Op = "save_run"
)

// FailFunc decides whether a write fails. FundCode is empty for partition writes.
type FailFunc func(op Op, key fund.RecordKey) error

type Memory struct {
	mu         sync.RWMutex
	partitions map[fund.PartitionKey]map[string]fund.FundRecord
	loadLog    []fund.LoadLogEntry
	holidays   map[string]fund.Holiday
	runs       map[string]workflow.Run
	fail       FailFunc
}

func New() *Memory {
	return &Memory{
		partitions: make(map[fund.PartitionKey]map[string]fund.FundRecord),
		holidays:   make(map[string]fund.Holiday),
		runs:       make(map[string]workflow.Run),
	}
}

// FailWith installs a failure hook for subsequent writes. nil clears it.
func (m *Memory) FailWith(f FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = f
}

func (m *Memory) check(op Op, key fund.RecordKey) error {
	if m.fail == nil {
		return nil
	}
	return m.fail(op, key)
}

// =============================================================================
// FUND DATA
// =============================================================================

func (m *Memory) LoadPartition(_ context.Context, region fund.Region, date fund.Date) ([]fund.FundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	part := m.partitions[fund.PartitionKey{Region: region, Date: date}]
	out := make([]fund.FundRecord, 0, len(part))
	for _, r := range part {
		out = append(out, r)
	}
	fund.SortByCode(out)
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, rec fund.FundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpUpsert, rec.Key()); err != nil {
		return err
	}
	k := rec.Partition()
	if m.partitions[k] == nil {
		m.partitions[k] = make(map[string]fund.FundRecord)
	}
	m.partitions[k][rec.FundCode] = rec
	return nil
}

func (m *Memory) ReplacePartition(_ context.Context, region fund.Region, date fund.Date, records []fund.FundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fund.PartitionKey{Region: region, Date: date}
	if err := m.check(OpReplace, fund.RecordKey{Region: region, Date: date}); err != nil {
		return err
	}
	part := make(map[string]fund.FundRecord, len(records))
	for _, r := range records {
		r.Region, r.Date = region, date
		if _, dup := part[r.FundCode]; dup {
			return fmt.Errorf("duplicate fund code %q in %s", r.FundCode, k)
		}
		part[r.FundCode] = r
	}
	if len(part) == 0 {
		delete(m.partitions, k)
		return nil
	}
	m.partitions[k] = part
	return nil
}

func (m *Memory) LatestDateBefore(_ context.Context, region fund.Region, before fund.Date) (fund.Date, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest fund.Date
	found := false
	for k := range m.partitions {
		if k.Region != region || !k.Date.Before(before) {
			continue
		}
		if !found || k.Date.After(latest) {
			latest, found = k.Date, true
		}
	}
	return latest, found, nil
}

func (m *Memory) ListDates(_ context.Context, region fund.Region, from, to fund.Date) ([]fund.Date, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fund.Date
	for k := range m.partitions {
		if k.Region == region && from.BeforeOrEqual(k.Date) && k.Date.BeforeOrEqual(to) {
			out = append(out, k.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Count returns the number of stored rows across all partitions.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.partitions {
		n += len(p)
	}
	return n
}

// =============================================================================
// LOAD LOG
// =============================================================================

func (m *Memory) AppendLoadLog(_ context.Context, entry fund.LoadLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.loadLog) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.loadLog = append(m.loadLog, entry)
	return nil
}

func (m *Memory) ListLoadLog(_ context.Context, since fund.Date, limit int) ([]fund.LoadLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fund.LoadLogEntry
	for i := len(m.loadLog) - 1; i >= 0; i-- {
		e := m.loadLog[i]
		if e.RunDate.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (m *Memory) ListHolidays(_ context.Context) ([]fund.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]fund.Holiday, 0, len(m.holidays))
	for _, h := range m.holidays {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) AddHoliday(_ context.Context, h fund.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.holidays {
		if existing.ID == h.ID || (existing.Region == h.Region && existing.Date == h.Date) {
			return fmt.Errorf("%w: %s %s", fund.ErrHolidayExists, h.Region, h.Date)
		}
	}
	m.holidays[h.ID] = h
	return nil
}

// IsHoliday lets the memory store act as the operator holiday calendar.
func (m *Memory) IsHoliday(region fund.Region, d fund.Date) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.holidays {
		if h.Matches(region, d) {
			return true
		}
	}
	return false
}

func (m *Memory) DeleteHoliday(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holidays[id]; !ok {
		return fmt.Errorf("%w: %s", fund.ErrHolidayMissing, id)
	}
	delete(m.holidays, id)
	return nil
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpSaveRun, fund.RecordKey{FundCode: run.ID}); err != nil {
		return err
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return workflow.Run{}, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, id)
	}
	return run, nil
}

func (m *Memory) ListRuns(_ context.Context, filter workflow.RunFilter) ([]workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []workflow.Run
	for _, r := range m.runs {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) ListActiveRuns(_ context.Context) ([]workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []workflow.Run
	for _, r := range m.runs {
		if r.Status.Active() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
