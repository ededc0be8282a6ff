package sqlite_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/store/sqlite"
	"github.com/warp/fund-etl/workflow"
)

var (
	jun12 = fund.NewDate(2025, 6, 12)
	jun13 = fund.NewDate(2025, 6, 13)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fundRow(region fund.Region, date fund.Date, code, assets string) fund.FundRecord {
	return fund.FundRecord{
		Region:           region,
		Date:             date,
		FundCode:         code,
		FundName:         "Fund " + code,
		Currency:         "USD",
		ShareClassAssets: fund.ParseNumber(assets),
		OneDayYield:      fund.ParseNumber("4.21"),
	}
}

// =============================================================================
// FUND DATA
// =============================================================================

func TestStore_UpsertAndLoadPartition(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: two funds upserted, then one of them updated
	require.NoError(t, store.Upsert(ctx, fundRow(fund.RegionAMRS, jun12, "B2", "1,500.25")))
	require.NoError(t, store.Upsert(ctx, fundRow(fund.RegionAMRS, jun12, "A1", "1000")))
	require.NoError(t, store.Upsert(ctx, fundRow(fund.RegionAMRS, jun12, "A1", "1100")))

	// WHEN: loading the partition
	recs, err := store.LoadPartition(ctx, fund.RegionAMRS, jun12)
	require.NoError(t, err)

	// THEN: rows come back ordered by code with exact decimals
	require.Len(t, recs, 2)
	assert.Equal(t, "A1", recs[0].FundCode)
	assert.Equal(t, "1100", recs[0].ShareClassAssets.Decimal.String())
	assert.Equal(t, "B2", recs[1].FundCode)
	assert.Equal(t, "1500.25", recs[1].ShareClassAssets.Decimal.String())
	assert.Equal(t, jun12, recs[1].Date)
	assert.Equal(t, fund.RegionAMRS, recs[1].Region)
	assert.Equal(t, "Fund B2", recs[1].FundName)
}

func TestStore_NullNumbersRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: a fund with a "-" cell
	rec := fundRow(fund.RegionEMEA, jun12, "E1", "-")
	require.NoError(t, store.Upsert(ctx, rec))

	// THEN: it loads back as no value, not zero
	recs, err := store.LoadPartition(ctx, fund.RegionEMEA, jun12)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].ShareClassAssets.Valid)
	assert.False(t, recs[0].WAM.Valid)
	assert.True(t, recs[0].OneDayYield.Valid)
}

func TestStore_LoadPartition_AbsentIsEmpty(t *testing.T) {
	store := newStore(t)

	recs, err := store.LoadPartition(context.Background(), fund.RegionAMRS, jun13)

	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_ReplacePartition(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: an old partition of three funds, and a row in another region
	for _, code := range []string{"A", "B", "C"} {
		require.NoError(t, store.Upsert(ctx, fundRow(fund.RegionAMRS, jun12, code, "10")))
	}
	require.NoError(t, store.Upsert(ctx, fundRow(fund.RegionEMEA, jun12, "A", "10")))

	// WHEN: replacing AMRS with two funds
	err := store.ReplacePartition(ctx, fund.RegionAMRS, jun12, []fund.FundRecord{
		fundRow(fund.RegionAMRS, jun12, "B", "20"),
		fundRow(fund.RegionAMRS, jun12, "D", "30"),
	})
	require.NoError(t, err)

	// THEN: only the new rows remain and EMEA is untouched
	recs, err := store.LoadPartition(ctx, fund.RegionAMRS, jun12)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "B", recs[0].FundCode)
	assert.Equal(t, "20", recs[0].ShareClassAssets.Decimal.String())
	assert.Equal(t, "D", recs[1].FundCode)

	emea, err := store.LoadPartition(ctx, fund.RegionEMEA, jun12)
	require.NoError(t, err)
	assert.Len(t, emea, 1)
}

func TestStore_ReplacePartition_RollsBackOnDuplicate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: a stored partition
	require.NoError(t, store.Upsert(ctx, fundRow(fund.RegionAMRS, jun12, "A", "10")))

	// WHEN: the replacement carries the same code twice
	err := store.ReplacePartition(ctx, fund.RegionAMRS, jun12, []fund.FundRecord{
		fundRow(fund.RegionAMRS, jun12, "X", "1"),
		fundRow(fund.RegionAMRS, jun12, "X", "2"),
	})

	// THEN: the write fails and the old partition is still there
	require.Error(t, err)
	recs, err := store.LoadPartition(ctx, fund.RegionAMRS, jun12)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0].FundCode)
}

func TestStore_LatestDateBeforeAndListDates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, found, err := store.LatestDateBefore(ctx, fund.RegionAMRS, jun13)
	require.NoError(t, err)
	assert.False(t, found)

	jun10 := fund.NewDate(2025, 6, 10)
	for _, d := range []fund.Date{jun10, jun12, jun13} {
		require.NoError(t, store.Upsert(ctx, fundRow(fund.RegionAMRS, d, "A", "10")))
	}

	latest, found, err := store.LatestDateBefore(ctx, fund.RegionAMRS, jun13)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, jun12, latest)

	dates, err := store.ListDates(ctx, fund.RegionAMRS, jun10.AddDays(1), jun13)
	require.NoError(t, err)
	assert.Equal(t, []fund.Date{jun12, jun13}, dates)

	none, err := store.ListDates(ctx, fund.RegionEMEA, jun10, jun13)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// LOAD LOG
// =============================================================================

func TestStore_LoadLog(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendLoadLog(ctx, fund.LoadLogEntry{
		RunDate: jun12, Region: fund.RegionAMRS, FileDate: jun12,
		Status: fund.LoadSuccess, RecordsProcessed: 812,
	}))
	require.NoError(t, store.AppendLoadLog(ctx, fund.LoadLogEntry{
		RunDate: jun13, Region: fund.RegionEMEA,
		Status: fund.LoadFailed, Issues: []string{"source unavailable"},
	}))

	entries, err := store.ListLoadLog(ctx, jun12, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, jun13, entries[0].RunDate)
	assert.Equal(t, fund.LoadFailed, entries[0].Status)
	assert.True(t, entries[0].FileDate.IsZero())
	assert.Equal(t, []string{"source unavailable"}, entries[0].Issues)

	assert.Equal(t, 812, entries[1].RecordsProcessed)
	assert.Equal(t, jun12, entries[1].FileDate)
	assert.NotZero(t, entries[1].ID)

	recent, err := store.ListLoadLog(ctx, jun13, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	limited, err := store.ListLoadLog(ctx, jun12, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestStore_Holidays(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	boxing := fund.Holiday{ID: "h1", Region: fund.RegionEMEA, Date: fund.NewDate(2025, 12, 26), Name: "Boxing Day", Recurring: true}
	oneOff := fund.Holiday{ID: "h2", Date: fund.NewDate(2025, 1, 9), Name: "National Day of Mourning"}
	require.NoError(t, store.AddHoliday(ctx, boxing))
	require.NoError(t, store.AddHoliday(ctx, oneOff))

	// Duplicate region/date
	err := store.AddHoliday(ctx, fund.Holiday{ID: "h3", Region: fund.RegionEMEA, Date: boxing.Date, Name: "dup"})
	assert.ErrorIs(t, err, fund.ErrHolidayExists)

	list, err := store.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "h2", list[0].ID)
	assert.True(t, list[1].Recurring)

	// Recurring matches other years, region-scoped
	assert.True(t, store.IsHoliday(fund.RegionEMEA, fund.NewDate(2026, 12, 26)))
	assert.False(t, store.IsHoliday(fund.RegionAMRS, fund.NewDate(2026, 12, 26)))
	// Global one-off matches every region, that year only
	assert.True(t, store.IsHoliday(fund.RegionAMRS, oneOff.Date))
	assert.False(t, store.IsHoliday(fund.RegionAMRS, fund.NewDate(2026, 1, 9)))

	require.NoError(t, store.DeleteHoliday(ctx, "h1"))
	assert.False(t, store.IsHoliday(fund.RegionEMEA, fund.NewDate(2026, 12, 26)))
	assert.ErrorIs(t, store.DeleteHoliday(ctx, "h1"), fund.ErrHolidayMissing)
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func TestStore_SaveAndGetRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 13, 6, 0, 0, 0, time.UTC)
	run := workflow.Run{
		ID:        "run-1",
		Kind:      workflow.KindValidation,
		Status:    workflow.StatusRunning,
		Params:    map[string]string{"mode": "full"},
		CreatedAt: created,
		StartedAt: &created,
	}
	require.NoError(t, store.SaveRun(ctx, run))

	// WHEN: the run finishes and is saved again
	ended := created.Add(90 * time.Second)
	run.Status = workflow.StatusCompleted
	run.EndedAt = &ended
	run.Output = []string{"fetched AMRS", "fetched EMEA"}
	run.OutputDropped = 3
	run.Result = json.RawMessage(`{"requires_update":false}`)
	require.NoError(t, store.SaveRun(ctx, run))

	// THEN: the stored record reflects the latest save
	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, got.Status)
	assert.Equal(t, "full", got.Params["mode"])
	assert.True(t, got.CreatedAt.Equal(created))
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
	assert.Equal(t, run.Output, got.Output)
	assert.Equal(t, 3, got.OutputDropped)
	assert.JSONEq(t, `{"requires_update":false}`, string(got.Result))

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrRunNotFound)
}

func TestStore_ListRuns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 13, 6, 0, 0, 0, time.UTC)
	runs := []workflow.Run{
		{ID: "a", Kind: workflow.KindDailyRun, Status: workflow.StatusCompleted, CreatedAt: base},
		{ID: "b", Kind: workflow.KindValidation, Status: workflow.StatusFailed, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Kind: workflow.KindDailyRun, Status: workflow.StatusRunning, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		require.NoError(t, store.SaveRun(ctx, r))
	}

	all, err := store.ListRuns(ctx, workflow.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	daily, err := store.ListRuns(ctx, workflow.RunFilter{Kind: workflow.KindDailyRun, Limit: 1})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "c", daily[0].ID)

	failed, err := store.ListRuns(ctx, workflow.RunFilter{Status: workflow.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)

	active, err := store.ListActiveRuns(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c", active[0].ID)
}
