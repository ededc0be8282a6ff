/*
errors.go - Error taxonomy for fund data paths

PURPOSE:
  Sentinels for errors.Is() plus structured errors that carry the key or
  region they concern. Structured errors Unwrap to their sentinel so
  callers can classify without type switches.

PROPAGATION:
  Run-level errors (SourceUnavailableError) end the run.
  Per-key errors (ComparisonError, ApplyError) are collected into the
  result and never abort the pass.

SEE ALSO:
  - workflow/errors.go: ConflictError, StaleRunError
  - reconcile/engine.go: Collects ComparisonError
  - reconcile/apply.go: Collects ApplyError
*/
package fund

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrSourceUnavailable is returned when a dataset source cannot deliver a feed.
	ErrSourceUnavailable = errors.New("dataset source unavailable")

	// ErrComparison is returned when a record pair cannot be compared.
	ErrComparison = errors.New("comparison failed")

	// ErrApply is returned when a single storage write fails.
	ErrApply = errors.New("apply failed")

	// ErrInvalidDataset is returned when a dataset is unusable (empty, missing key columns).
	ErrInvalidDataset = errors.New("invalid dataset")

	ErrInvalidDate    = errors.New("invalid date")
	ErrUnknownRegion  = errors.New("unknown region")
	ErrUnknownField   = errors.New("unknown field")
	ErrHolidayExists  = errors.New("holiday already exists")
	ErrHolidayMissing = errors.New("holiday not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// SourceUnavailableError reports a failed fetch for one region's feed.
type SourceUnavailableError struct {
	Region Region
	Feed   Feed
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s %s feed: %v", e.Region, e.Feed, e.Err)
}

func (e *SourceUnavailableError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// ComparisonError reports a record pair that could not be compared.
type ComparisonError struct {
	Key    RecordKey
	Reason string
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("cannot compare %s: %s", e.Key, e.Reason)
}

func (e *ComparisonError) Unwrap() error {
	return ErrComparison
}

// ApplyError reports a failed write of one key or one partition.
// Key.FundCode is empty for partition writes.
type ApplyError struct {
	Key RecordKey
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Key, e.Err)
}

func (e *ApplyError) Unwrap() []error {
	return []error{ErrApply, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRunLevel returns true if the error must terminate the whole run.
func IsRunLevel(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrInvalidDataset)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrUnknownRegion) ||
		errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrHolidayExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrHolidayMissing)
}
