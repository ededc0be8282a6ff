/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Wire shapes for the handlers. Domain types that already carry JSON tags
  (fund.FundRecord, fund.LoadLogEntry, fund.Holiday, reconcile.Report) are
  returned as they are.

CONVENTIONS:
  - Dates are ISO "YYYY-MM-DD" strings
  - Timestamps are RFC3339
  - Errors use ErrorResponse
*/
package api

import (
	"time"

	"github.com/warp/fund-etl/etl"
	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/workflow"
)

// =============================================================================
// WORKFLOWS
// =============================================================================

// RunDailyRequest is the optional body of POST /api/etl/run-daily.
type RunDailyRequest struct {
	Date string `json:"date,omitempty"`
}

// ValidateRequest is the optional body of POST /api/etl/validate.
type ValidateRequest struct {
	Mode string `json:"mode,omitempty"`
}

// TriggerResponse is returned with 202 when a run is admitted.
type TriggerResponse struct {
	WorkflowID string            `json:"workflow_id"`
	Kind       workflow.Kind     `json:"kind"`
	Status     workflow.Status   `json:"status"`
	Params     map[string]string `json:"params,omitempty"`
	Message    string            `json:"message"`
}

// ConflictResponse is returned with 409 when a run of the same kind is active.
type ConflictResponse struct {
	Error       string        `json:"error"`
	Kind        workflow.Kind `json:"kind"`
	ActiveRunID string        `json:"active_run_id"`
	Since       time.Time     `json:"since"`
}

// RunDTO is a workflow run snapshot.
type RunDTO struct {
	ID              string            `json:"workflow_id"`
	Kind            workflow.Kind     `json:"kind"`
	Status          workflow.Status   `json:"status"`
	Params          map[string]string `json:"params,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
	Output          []string          `json:"output,omitempty"`
	OutputDropped   int               `json:"output_dropped,omitempty"`
	Error           string            `json:"error,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Result          any               `json:"result,omitempty"`
}

// RunListResponse is the body of GET /api/etl/workflows.
type RunListResponse struct {
	Workflows []RunDTO `json:"workflows"`
	Count     int      `json:"count"`
}

// ReportResponse is the body of GET /api/etl/workflows/{id}/report.
type ReportResponse struct {
	WorkflowID string `json:"workflow_id"`
	*etl.ValidationResult
	Summary string `json:"summary"`
}

// =============================================================================
// DATA
// =============================================================================

type LoadLogResponse struct {
	Since   fund.Date           `json:"since"`
	Entries []fund.LoadLogEntry `json:"entries"`
	Count   int                 `json:"count"`
}

type FundsResponse struct {
	Region fund.Region       `json:"region"`
	Date   fund.Date         `json:"date"`
	Funds  []fund.FundRecord `json:"funds"`
	Count  int               `json:"count"`
	Total  int               `json:"total"`
}

type MissingDatesResponse struct {
	From    fund.Date                   `json:"from"`
	To      fund.Date                   `json:"to"`
	Missing map[fund.Region][]fund.Date `json:"missing"`
}

// CreateHolidayRequest is the body of POST /api/holidays.
type CreateHolidayRequest struct {
	Region    string `json:"region,omitempty"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// DefaultHolidaysRequest is the optional body of POST /api/holidays/defaults.
type DefaultHolidaysRequest struct {
	Year int `json:"year,omitempty"`
}

// =============================================================================
// COMMON
// =============================================================================

type HealthResponse struct {
	Status     string                   `json:"status"`
	Time       time.Time                `json:"time"`
	ActiveRuns map[workflow.Kind]string `json:"active_runs"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
