/*
handlers.go - HTTP API handlers for the fund ETL service

PURPOSE:
  Exposes workflow triggers, run history, load log, stored fund data and
  the holiday calendar. Handlers parse and validate input, delegate to
  etl.Service or the store, and map errors to status codes.

ENDPOINTS:
  Workflows:
    POST   /api/etl/run-daily                Trigger a daily run
    POST   /api/etl/validate                 Trigger a lookback validation
    GET    /api/etl/workflows                Run history
    GET    /api/etl/workflows/{id}           Run status with live output
    GET    /api/etl/workflows/{id}/report    Validation report
    POST   /api/etl/workflows/{id}/cancel    Cancel an active run

  Data:
    GET    /api/etl/log                      Load log for the last N days
    GET    /api/funds                        Stored records for region/date
    GET    /api/funds/missing-dates          Business days without data

  Holidays:
    GET    /api/holidays                     List
    POST   /api/holidays                     Create
    POST   /api/holidays/defaults            Seed US federal holidays
    DELETE /api/holidays/{id}                Delete

ERROR HANDLING:
  - 400: Invalid input (date, region, mode, status, kind)
  - 404: Unknown run or holiday, run without a report
  - 409: Active run of the same kind, run not finished, run already finished
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - etl/service.go: Workflow facade
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/fund-etl/etl"
	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/workflow"
)

const (
	defaultRunLimit     = 50
	maxRunLimit         = 50
	defaultLogDays      = 7
	defaultFundLimit    = 100
	defaultMissingRange = fund.LookbackDays
)

// Store is the storage the handlers read directly.
type Store interface {
	fund.Store
	fund.LoadLog
	fund.HolidayStore
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *etl.Service
	Store    Store
	Gatherer prometheus.Gatherer

	Now func() time.Time
}

// NewHandler creates a handler. A nil gatherer serves the default registry.
func NewHandler(svc *etl.Service, store Store, gatherer prometheus.Gatherer) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{Service: svc, Store: store, Gatherer: gatherer, Now: time.Now}
}

func (h *Handler) today() fund.Date { return fund.DateOf(h.Now()) }

// Health reports liveness and the active run per kind.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	active := make(map[workflow.Kind]string)
	for _, kind := range workflow.Kinds {
		if run, ok := h.Service.Tracker().ActiveRun(kind); ok {
			active[kind] = run.ID
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Time: h.Now().UTC(), ActiveRuns: active})
}

// =============================================================================
// WORKFLOW ENDPOINTS
// =============================================================================

// RunDaily triggers a daily run. The date comes from the body or ?date=.
// POST /api/etl/run-daily
func (h *Handler) RunDaily(w http.ResponseWriter, r *http.Request) {
	var req RunDailyRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Date == "" {
		req.Date = r.URL.Query().Get("date")
	}

	params := map[string]string{}
	if req.Date != "" {
		params[etl.ParamDate] = req.Date
	}
	h.trigger(r.Context(), w, workflow.KindDailyRun, params)
}

// Validate triggers a lookback validation.
// POST /api/etl/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Mode == "" {
		req.Mode = r.URL.Query().Get("mode")
	}

	params := map[string]string{}
	if req.Mode != "" {
		params[etl.ParamMode] = req.Mode
	}
	h.trigger(r.Context(), w, workflow.KindValidation, params)
}

func (h *Handler) trigger(ctx context.Context, w http.ResponseWriter, kind workflow.Kind, params map[string]string) {
	res, err := h.Service.Trigger(ctx, kind, params)
	if err != nil {
		writeServiceError(w, "Failed to start "+string(kind), err)
		return
	}
	if res.Status == workflow.Conflict {
		c := res.Conflict
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:       c.Error(),
			Kind:        c.Kind,
			ActiveRunID: c.ActiveRunID,
			Since:       c.Since,
		})
		return
	}

	run, err := h.Service.Status(ctx, res.Handle.ID())
	if err != nil {
		writeServiceError(w, "Failed to read run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{
		WorkflowID: run.ID,
		Kind:       run.Kind,
		Status:     run.Status,
		Params:     run.Params,
		Message:    string(kind) + " started",
	})
}

// ListWorkflows returns run history, newest first.
// GET /api/etl/workflows?status=&kind=&limit=
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := workflow.RunFilter{Limit: defaultRunLimit}

	if s := q.Get("status"); s != "" {
		status, err := workflow.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status", err)
			return
		}
		filter.Status = status
	}
	if k := q.Get("kind"); k != "" {
		kind, err := workflow.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid kind", err)
			return
		}
		filter.Kind = kind
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = min(n, maxRunLimit)
	}

	runs, err := h.Service.Runs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, "Failed to list workflows", err)
		return
	}

	now := h.Now()
	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dto := toRunDTO(run, now)
		dto.Output = nil
		dto.Result = nil
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, RunListResponse{Workflows: dtos, Count: len(dtos)})
}

// GetWorkflow returns a run snapshot, live output included while active.
// GET /api/etl/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "Failed to get workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run, h.Now()))
}

// GetReport returns the validation result of a finished validation run.
// GET /api/etl/workflows/{id}/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Service.Report(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Report not available", err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{WorkflowID: id, ValidationResult: res, Summary: res.Summary()})
}

// CancelWorkflow cancels an active run.
// POST /api/etl/workflows/{id}/cancel
func (h *Handler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, "Failed to cancel workflow", err)
		return
	}
	run, err := h.Service.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to get workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run, h.Now()))
}

func toRunDTO(run workflow.Run, now time.Time) RunDTO {
	dto := RunDTO{
		ID:              run.ID,
		Kind:            run.Kind,
		Status:          run.Status,
		Params:          run.Params,
		CreatedAt:       run.CreatedAt,
		StartedAt:       run.StartedAt,
		EndedAt:         run.EndedAt,
		DurationSeconds: run.Duration(now).Seconds(),
		Output:          run.Output,
		OutputDropped:   run.OutputDropped,
		Error:           run.Error,
	}
	if len(run.Result) == 0 {
		return dto
	}
	dto.Result = run.Result
	if run.Kind == workflow.KindValidation {
		var res etl.ValidationResult
		if err := json.Unmarshal(run.Result, &res); err == nil {
			dto.Summary = res.Summary()
		}
	}
	return dto
}

// =============================================================================
// DATA ENDPOINTS
// =============================================================================

// GetLoadLog returns load-log entries of the last N days.
// GET /api/etl/log?days=7
func (h *Handler) GetLoadLog(w http.ResponseWriter, r *http.Request) {
	days := defaultLogDays
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer", err)
			return
		}
		days = n
	}

	since := h.today().AddDays(-days)
	entries, err := h.Store.ListLoadLog(r.Context(), since, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read load log", err)
		return
	}
	if entries == nil {
		entries = []fund.LoadLogEntry{}
	}
	writeJSON(w, http.StatusOK, LoadLogResponse{Since: since, Entries: entries, Count: len(entries)})
}

// ListFunds returns the stored partition of a region and date.
// GET /api/funds?region=AMRS&date=2025-06-16&limit=100
func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	region, err := fund.ParseRegion(q.Get("region"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid region", err)
		return
	}
	date, err := fund.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	limit := defaultFundLimit
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	recs, err := h.Store.LoadPartition(r.Context(), region, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load funds", err)
		return
	}
	total := len(recs)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	writeJSON(w, http.StatusOK, FundsResponse{Region: region, Date: date, Funds: recs, Count: len(recs), Total: total})
}

// MissingDates lists business days without stored data.
// GET /api/funds/missing-dates?from=&to=&region=
func (h *Handler) MissingDates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := h.today()
	from := to.AddDays(-defaultMissingRange)
	var err error
	if s := q.Get("to"); s != "" {
		if to, err = fund.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
	}
	if s := q.Get("from"); s != "" {
		if from, err = fund.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "from must not be after to", nil)
		return
	}

	regions := fund.Regions
	if s := q.Get("region"); s != "" {
		region, err := fund.ParseRegion(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid region", err)
			return
		}
		regions = []fund.Region{region}
	}

	resp := MissingDatesResponse{From: from, To: to, Missing: make(map[fund.Region][]fund.Date)}
	for _, region := range regions {
		missing, err := h.Service.MissingDates(r.Context(), region, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list dates", err)
			return
		}
		if missing == nil {
			missing = []fund.Date{}
		}
		resp.Missing[region] = missing
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns all holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}
	if holidays == nil {
		holidays = []fund.Holiday{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": holidays})
}

// CreateHoliday creates a new holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Date == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}
	date, err := fund.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	holiday := fund.Holiday{
		ID:        uuid.NewString(),
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	}
	if req.Region != "" {
		if holiday.Region, err = fund.ParseRegion(req.Region); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid region", err)
			return
		}
	}

	if err := h.Store.AddHoliday(r.Context(), holiday); err != nil {
		writeServiceError(w, "Failed to create holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, holiday)
}

// DeleteHoliday deletes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// AddDefaultHolidays seeds the US federal holidays of a year (default
// current year). Holidays already present are skipped.
// POST /api/holidays/defaults
func (h *Handler) AddDefaultHolidays(w http.ResponseWriter, r *http.Request) {
	var req DefaultHolidaysRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	year := req.Year
	if year == 0 {
		year = h.today().Year
	}

	added, skipped := 0, 0
	for _, hol := range fund.USFederalHolidays(year) {
		err := h.Store.AddHoliday(r.Context(), hol)
		switch {
		case errors.Is(err, fund.ErrHolidayExists):
			skipped++
		case err != nil:
			writeError(w, http.StatusInternalServerError, "Failed to add holiday "+hol.Name, err)
			return
		default:
			added++
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created", "year": year, "added": added, "skipped": skipped})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError picks the status code from the error class.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	code := ""
	switch {
	case errors.Is(err, fund.ErrHolidayExists):
		status, code = http.StatusConflict, "holiday_exists"
	case etl.IsClientError(err):
		status, code = http.StatusBadRequest, "invalid_input"
	case workflow.IsNotFound(err), fund.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, workflow.ErrNoResult):
		status, code = http.StatusNotFound, "no_report"
	case workflow.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	}
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeOptional decodes a JSON body; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
