/*
Package workflow tracks ETL runs and admits at most one active run per kind.

PURPOSE:
  The Tracker is the only shared mutable state of the pipeline. It owns
  the registry of active runs, drives each run through its lifecycle and
  persists every transition that matters to a RunStore.

LIFECYCLE:
  PENDING -> RUNNING -> COMPLETED | FAILED | CANCELLED

  PENDING and RUNNING are active. Terminal runs are persisted and
  leave the active registry, which re-admits their kind.

KEY CONCEPTS:
  - Kind:         Admission key (daily_run, validation)
  - Run:          Snapshot of one execution
  - OutputBuffer: Bounded progress log, oldest lines dropped first
  - StartResult:  Tagged admission outcome (Admitted or Conflict)

SEE ALSO:
  - tracker.go: State machine
  - errors.go:  ConflictError, StaleRunError, TimeoutError
*/
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// KIND & STATUS
// =============================================================================

// Kind is the category of run; one active run per kind is allowed.
type Kind string

const (
	KindDailyRun   Kind = "daily_run"
	KindValidation Kind = "validation"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindDailyRun, KindValidation}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Active reports whether the status holds the admission slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// =============================================================================
// RUN
// =============================================================================

// Run is a snapshot of one workflow execution.
type Run struct {
	ID            string            `json:"id"`
	Kind          Kind              `json:"kind"`
	Status        Status            `json:"status"`
	Params        map[string]string `json:"params,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	Output        []string          `json:"output"`
	OutputDropped int               `json:"output_dropped,omitempty"`
	Error         string            `json:"error,omitempty"`
	Result        json.RawMessage   `json:"result,omitempty"`
}

// Duration is the wall time of the run so far, or in total once ended.
func (r Run) Duration(now time.Time) time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.EndedAt != nil {
		return r.EndedAt.Sub(*r.StartedAt)
	}
	return now.Sub(*r.StartedAt)
}

func (r Run) clone() Run {
	out := r
	if r.Params != nil {
		out.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	out.Output = append([]string(nil), r.Output...)
	out.Result = append(json.RawMessage(nil), r.Result...)
	return out
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Kind   Kind
	Status Status
	Limit  int
}

// RunStore persists run history.
type RunStore interface {
	// SaveRun inserts or replaces the run keyed by ID.
	SaveRun(ctx context.Context, run Run) error

	// GetRun returns ErrRunNotFound for unknown ids.
	GetRun(ctx context.Context, id string) (Run, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// ListActiveRuns returns runs persisted as PENDING or RUNNING.
	ListActiveRuns(ctx context.Context) ([]Run, error)
}

// =============================================================================
// OUTPUT BUFFER
// =============================================================================

// DefaultOutputLines is the number of progress lines a run keeps.
const DefaultOutputLines = 100

// OutputBuffer is a fixed-size ring of progress lines. Not safe for
// concurrent use; the Tracker guards it.
type OutputBuffer struct {
	lines   []string
	start   int
	size    int
	dropped int
}

func NewOutputBuffer(capacity int) *OutputBuffer {
	if capacity <= 0 {
		capacity = DefaultOutputLines
	}
	return &OutputBuffer{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when full.
func (b *OutputBuffer) Append(line string) {
	if b.size < len(b.lines) {
		b.lines[(b.start+b.size)%len(b.lines)] = line
		b.size++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % len(b.lines)
	b.dropped++
}

// Lines returns the retained lines, oldest first.
func (b *OutputBuffer) Lines() []string {
	out := make([]string, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.start+i)%len(b.lines)]
	}
	return out
}

func (b *OutputBuffer) Len() int     { return b.size }
func (b *OutputBuffer) Dropped() int { return b.dropped }
