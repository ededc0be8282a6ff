/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Workflow triggers, conflicts, cancellation and reports
- Run history filters
- Load log, fund data and missing dates
- Holiday calendar endpoints
*/
package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fund-etl/api"
	"github.com/warp/fund-etl/etl"
	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/store/memory"
	"github.com/warp/fund-etl/workflow"
)

// Tuesday; the daily run loads Monday 2025-06-16.
var (
	runDay  = fund.NewDate(2025, 6, 17)
	dataDay = fund.NewDate(2025, 6, 16)
)

var columns = []string{"Date", "Fund Code", "Fund Name", "Currency", "NASDAQ", "Share Class Assets (dly/$mils)"}

func rows(d fund.Date, codeAssets ...string) [][]string {
	var out [][]string
	for i := 0; i+1 < len(codeAssets); i += 2 {
		code := codeAssets[i]
		out = append(out, []string{
			fmt.Sprintf("%d/%d/%d", int(d.Month), d.Day, d.Year),
			code, "Fund " + code, "USD", "T" + code, codeAssets[i+1],
		})
	}
	return out
}

// gatedSource serves the same rows for every feed. While gated, fetches
// block until the gate opens or the run is cancelled.
type gatedSource struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan struct{}
	rows    [][]string
}

func (s *gatedSource) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.started = make(chan struct{}, 8)
}

func (s *gatedSource) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *gatedSource) Fetch(ctx context.Context, _ fund.Region, _ fund.Feed) (*fund.Dataset, error) {
	s.mu.Lock()
	gate, started := s.gate, s.started
	s.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &fund.Dataset{Columns: columns, Rows: s.rows}, nil
}

type env struct {
	router  *chi.Mux
	handler *api.Handler
	svc     *etl.Service
	store   *memory.Memory
	src     *gatedSource
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	reg := prometheus.NewRegistry()
	tracker := workflow.NewTracker(store, workflow.WithMetrics(workflow.NewMetrics(reg)))
	src := &gatedSource{rows: rows(dataDay, "A", "1000", "B", "2000")}
	svc := etl.NewService(tracker, src, store, nil, etl.Options{
		Calendar: fund.ChainCalendar{fund.USFederalCalendar{}, store},
		Today:    func() fund.Date { return runDay },
	})
	h := api.NewHandler(svc, store, reg)
	h.Now = func() time.Time { return time.Date(2025, 6, 17, 12, 0, 0, 0, time.UTC) }

	t.Cleanup(func() {
		src.open()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &env{router: api.NewRouter(h, api.RouterOptions{}), handler: h, svc: svc, store: store, src: src}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *env) wait(t *testing.T, id string) workflow.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := e.svc.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

// =============================================================================
// WORKFLOWS
// =============================================================================

func TestHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Empty(t, resp.ActiveRuns)
}

func TestRunDaily_AcceptedThenCompleted(t *testing.T) {
	e := newEnv(t)

	// WHEN: a daily run is triggered
	rec := e.do(t, http.MethodPost, "/api/etl/run-daily", "")

	// THEN: 202 with the workflow id
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[api.TriggerResponse](t, rec)
	require.NotEmpty(t, resp.WorkflowID)
	assert.Equal(t, workflow.KindDailyRun, resp.Kind)

	// AND: once finished, its status shows output and the data is stored
	e.wait(t, resp.WorkflowID)
	rec = e.do(t, http.MethodGet, "/api/etl/workflows/"+resp.WorkflowID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[api.RunDTO](t, rec)
	assert.Equal(t, workflow.StatusCompleted, run.Status, run.Error)
	assert.Contains(t, run.Output, "processing data for 2025-06-16")
	assert.NotNil(t, run.EndedAt)

	recs, err := e.store.LoadPartition(context.Background(), fund.RegionAMRS, dataDay)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRunDaily_InvalidDate(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/etl/run-daily", `{"date":"not-a-date"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[api.ErrorResponse](t, rec).Code)
}

func TestValidate_InvalidMode(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/etl/validate", `{"mode":"partial"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidate_ConflictReportAndCancel(t *testing.T) {
	e := newEnv(t)
	e.src.hold()

	// GIVEN: a validation blocked in its fetch
	rec := e.do(t, http.MethodPost, "/api/etl/validate", `{"mode":"full"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[api.TriggerResponse](t, rec).WorkflowID
	<-e.src.started

	// WHEN: a second validation is requested
	rec = e.do(t, http.MethodPost, "/api/etl/validate", "")

	// THEN: 409 naming the active run
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, id, decode[api.ConflictResponse](t, rec).ActiveRunID)

	// AND: the report is not available while active
	rec = e.do(t, http.MethodGet, "/api/etl/workflows/"+id+"/report", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: health shows the active run
	assert.Equal(t, id, decode[api.HealthResponse](t, e.do(t, http.MethodGet, "/health", "")).ActiveRuns[workflow.KindValidation])

	// WHEN: it is cancelled
	rec = e.do(t, http.MethodPost, "/api/etl/workflows/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StatusCancelled, decode[api.RunDTO](t, rec).Status)

	// THEN: a second cancel is a conflict
	e.wait(t, id)
	rec = e.do(t, http.MethodPost, "/api/etl/workflows/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetReport(t *testing.T) {
	e := newEnv(t)

	// GIVEN: a finished validation against empty storage
	rec := e.do(t, http.MethodPost, "/api/etl/validate", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[api.TriggerResponse](t, rec).WorkflowID
	e.wait(t, id)

	// WHEN: the report is requested
	rec = e.do(t, http.MethodGet, "/api/etl/workflows/"+id+"/report", "")

	// THEN: both regions report the missing date, which was applied
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		WorkflowID     string `json:"workflow_id"`
		RequiresUpdate bool   `json:"requires_update"`
		Summary        string `json:"summary"`
		Reports        []struct {
			Region  fund.Region `json:"region"`
			Summary struct {
				MissingDatesCount int `json:"missing_dates_count"`
			} `json:"summary"`
		} `json:"reports"`
		Apply struct {
			PartitionsReplaced int  `json:"partitions_replaced"`
			Verified           bool `json:"verified"`
		} `json:"apply"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id, body.WorkflowID)
	assert.True(t, body.RequiresUpdate)
	require.Len(t, body.Reports, 2)
	assert.Equal(t, 1, body.Reports[0].Summary.MissingDatesCount)
	assert.Equal(t, 2, body.Apply.PartitionsReplaced)
	assert.True(t, body.Apply.Verified)
	assert.Contains(t, body.Summary, "missing 2025-06-16")

	// AND: the run snapshot carries the same summary
	run := decode[api.RunDTO](t, e.do(t, http.MethodGet, "/api/etl/workflows/"+id, ""))
	assert.Equal(t, body.Summary, run.Summary)
}

func TestGetReport_Errors(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/etl/workflows/nope/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A daily run has no validation report
	id := decode[api.TriggerResponse](t, e.do(t, http.MethodPost, "/api/etl/run-daily", "")).WorkflowID
	e.wait(t, id)
	rec = e.do(t, http.MethodGet, "/api/etl/workflows/"+id+"/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_report", decode[api.ErrorResponse](t, rec).Code)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/etl/workflows/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWorkflows(t *testing.T) {
	e := newEnv(t)
	daily := decode[api.TriggerResponse](t, e.do(t, http.MethodPost, "/api/etl/run-daily", "")).WorkflowID
	e.wait(t, daily)
	validation := decode[api.TriggerResponse](t, e.do(t, http.MethodPost, "/api/etl/validate", "")).WorkflowID
	e.wait(t, validation)

	t.Run("all, newest first", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/etl/workflows", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.RunListResponse](t, rec)
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, validation, resp.Workflows[0].ID)
		assert.Empty(t, resp.Workflows[0].Output)
	})

	t.Run("by kind", func(t *testing.T) {
		resp := decode[api.RunListResponse](t, e.do(t, http.MethodGet, "/api/etl/workflows?kind=daily_run", ""))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, daily, resp.Workflows[0].ID)
	})

	t.Run("by status and limit", func(t *testing.T) {
		resp := decode[api.RunListResponse](t, e.do(t, http.MethodGet, "/api/etl/workflows?status=completed&limit=1", ""))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("invalid filters", func(t *testing.T) {
		for _, q := range []string{"status=done", "kind=weekly", "limit=0", "limit=x"} {
			rec := e.do(t, http.MethodGet, "/api/etl/workflows?"+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})
}

// =============================================================================
// DATA
// =============================================================================

func TestGetLoadLog(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.AppendLoadLog(ctx, fund.LoadLogEntry{RunDate: runDay, Region: fund.RegionAMRS, Status: fund.LoadSuccess}))
	require.NoError(t, e.store.AppendLoadLog(ctx, fund.LoadLogEntry{RunDate: runDay.AddDays(-20), Region: fund.RegionEMEA, Status: fund.LoadFailed}))

	rec := e.do(t, http.MethodGet, "/api/etl/log?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.LoadLogResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, fund.LoadSuccess, resp.Entries[0].Status)

	resp = decode[api.LoadLogResponse](t, e.do(t, http.MethodGet, "/api/etl/log?days=30", ""))
	assert.Equal(t, 2, resp.Count)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/etl/log?days=-1", "").Code)
}

func TestListFunds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, code := range []string{"B", "A", "C"} {
		require.NoError(t, e.store.Upsert(ctx, fund.FundRecord{Region: fund.RegionAMRS, Date: dataDay, FundCode: code}))
	}

	rec := e.do(t, http.MethodGet, "/api/funds?region=amrs&date=2025-06-16&limit=2", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.FundsResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, "A", resp.Funds[0].FundCode)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/funds?region=APAC&date=2025-06-16", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/funds?region=AMRS", "").Code)
}

func TestMissingDates(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Upsert(context.Background(), fund.FundRecord{Region: fund.RegionAMRS, Date: dataDay, FundCode: "A"}))

	rec := e.do(t, http.MethodGet, "/api/funds/missing-dates?from=2025-06-16&to=2025-06-20&region=AMRS", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.MissingDatesResponse](t, rec)
	// Juneteenth (Thu 19) is a holiday
	assert.Equal(t, []fund.Date{
		fund.NewDate(2025, 6, 17),
		fund.NewDate(2025, 6, 18),
		fund.NewDate(2025, 6, 20),
	}, resp.Missing[fund.RegionAMRS])
	assert.NotContains(t, resp.Missing, fund.RegionEMEA)

	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodGet, "/api/funds/missing-dates?from=2025-06-20&to=2025-06-16", "").Code)
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestHolidays(t *testing.T) {
	e := newEnv(t)

	// Seeding defaults twice adds each holiday once
	rec := e.do(t, http.MethodPost, "/api/holidays/defaults", `{"year":2025}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[map[string]any](t, rec)
	assert.EqualValues(t, 11, first["added"])
	second := decode[map[string]any](t, e.do(t, http.MethodPost, "/api/holidays/defaults", `{"year":2025}`))
	assert.EqualValues(t, 0, second["added"])
	assert.EqualValues(t, 11, second["skipped"])

	// An operator closure for EMEA only
	rec = e.do(t, http.MethodPost, "/api/holidays", `{"region":"EMEA","date":"2025-06-18","name":"Site outage"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[fund.Holiday](t, rec)
	assert.Equal(t, fund.RegionEMEA, created.Region)
	require.NotEmpty(t, created.ID)

	// It drops out of EMEA's missing dates
	missing := decode[api.MissingDatesResponse](t,
		e.do(t, http.MethodGet, "/api/funds/missing-dates?from=2025-06-16&to=2025-06-18", ""))
	assert.Len(t, missing.Missing[fund.RegionAMRS], 3)
	assert.Len(t, missing.Missing[fund.RegionEMEA], 2)

	list := decode[map[string][]fund.Holiday](t, e.do(t, http.MethodGet, "/api/holidays", ""))
	assert.Len(t, list["holidays"], 12)

	rec = e.do(t, http.MethodDelete, "/api/holidays/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/holidays/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateHoliday_Invalid(t *testing.T) {
	e := newEnv(t)

	for _, body := range []string{
		`{"date":"2025-06-18"}`,
		`{"date":"18th June","name":"x"}`,
		`{"date":"2025-06-18","name":"x","region":"APAC"}`,
		`not json`,
	} {
		rec := e.do(t, http.MethodPost, "/api/holidays", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestMetrics(t *testing.T) {
	e := newEnv(t)
	id := decode[api.TriggerResponse](t, e.do(t, http.MethodPost, "/api/etl/run-daily", "")).WorkflowID
	e.wait(t, id)

	rec := e.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fund_etl_workflow_runs_started_total{kind="daily_run"} 1`)
}
