package workflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRunNotFound    = errors.New("workflow run not found")
	ErrRunTerminal    = errors.New("workflow run already finished")
	ErrRunNotTerminal = errors.New("workflow run still active")
	ErrNoResult       = errors.New("workflow run has no result")
	ErrUnknownKind    = errors.New("unknown workflow kind")
	ErrUnknownStatus  = errors.New("unknown workflow status")
	ErrInvalidOutcome = errors.New("outcome must be COMPLETED or FAILED")

	// ErrActiveRun is the sentinel behind ConflictError.
	ErrActiveRun = errors.New("workflow already running")

	// ErrCancelled is the cancellation cause of a cancelled run's context.
	ErrCancelled = errors.New("workflow run cancelled")

	// ErrTimeout is the sentinel behind TimeoutError.
	ErrTimeout = errors.New("workflow run timed out")

	// ErrStaleRun is the sentinel behind StaleRunError.
	ErrStaleRun = errors.New("stale workflow run")
)

// ConflictError describes the active run that blocked an admission.
type ConflictError struct {
	Kind        Kind
	ActiveRunID string
	Since       time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already running (run %s since %s)", e.Kind, e.ActiveRunID, e.Since.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrActiveRun }

// TimeoutError ends a run that outlived its wall-clock budget.
type TimeoutError struct {
	RunID string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run %s exceeded timeout of %s", e.RunID, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// StaleRunError marks a run found active at startup with no live owner.
type StaleRunError struct {
	RunID  string
	Status Status
}

func (e *StaleRunError) Error() string {
	return fmt.Sprintf("stale run: %s was %s when the process stopped", e.RunID, e.Status)
}

func (e *StaleRunError) Unwrap() error { return ErrStaleRun }

// IsNotFound returns true if the error indicates an unknown run.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsConflict returns true if the error is about a run's state rather than a failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrActiveRun) ||
		errors.Is(err, ErrRunTerminal) ||
		errors.Is(err, ErrRunNotTerminal)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrUnknownStatus) ||
		errors.Is(err, ErrInvalidOutcome)
}
