package reconcile

import (
	"fmt"
	"strings"

	"github.com/warp/fund-etl/fund"
)

// ChangeKind tags a discrepancy.
type ChangeKind string

const (
	ChangeMissingDate ChangeKind = "missing_date"
	ChangeValue       ChangeKind = "value_change"
)

// ChangeRecord is one discrepancy between storage and the lookback feed.
// A missing_date record has no FundCode and no Fields.
type ChangeRecord struct {
	Kind     ChangeKind  `json:"kind"`
	Region   fund.Region `json:"region"`
	Date     fund.Date   `json:"date"`
	FundCode string      `json:"fund_code,omitempty"`
	Fields   []FieldDiff `json:"fields,omitempty"`
	Critical bool        `json:"critical"`
	Rows     int         `json:"rows,omitempty"` // lookback rows for a missing date
}

func (c ChangeRecord) Key() fund.RecordKey {
	return fund.RecordKey{Region: c.Region, Date: c.Date, FundCode: c.FundCode}
}

// Summary carries the counts of a Report.
type Summary struct {
	TotalLookbackRecords int  `json:"total_lookback_records"`
	DatesChecked         int  `json:"dates_checked"`
	MissingDatesCount    int  `json:"missing_dates_count"`
	ChangedRecordsCount  int  `json:"changed_records_count"`
	DriftRecordsCount    int  `json:"drift_records_count"` // differences below the material bar
	AdditionsCount       int  `json:"additions_count"`
	ComparisonErrors     int  `json:"comparison_errors"`
	RequiresUpdate       bool `json:"requires_update"`
}

// Report is the result of one region's reconciliation pass.
// It is never modified after Engine.Reconcile returns it.
type Report struct {
	Region    fund.Region      `json:"region"`
	Dates     []fund.Date      `json:"dates"`
	Summary   Summary          `json:"summary"`
	Changes   []ChangeRecord   `json:"changes"`
	Drift     []ChangeRecord   `json:"drift,omitempty"`
	Additions []fund.RecordKey `json:"additions,omitempty"`
	Errors    []string         `json:"errors,omitempty"`

	lookback map[fund.Date][]fund.FundRecord
}

// Lookback returns the lookback partition for a date as fed to the engine.
func (r *Report) Lookback(d fund.Date) []fund.FundRecord {
	return r.lookback[d]
}

// HasDate reports whether the lookback feed contained the date.
func (r *Report) HasDate(d fund.Date) bool {
	_, ok := r.lookback[d]
	return ok
}

// MissingDates lists dates absent from storage.
func (r *Report) MissingDates() []fund.Date {
	var out []fund.Date
	for _, c := range r.Changes {
		if c.Kind == ChangeMissingDate {
			out = append(out, c.Date)
		}
	}
	return out
}

// ValueChanges lists the material value_change records.
func (r *Report) ValueChanges() []ChangeRecord {
	var out []ChangeRecord
	for _, c := range r.Changes {
		if c.Kind == ChangeValue {
			out = append(out, c)
		}
	}
	return out
}

// FlaggedDates lists dates with at least one material value change.
func (r *Report) FlaggedDates() []fund.Date {
	seen := make(map[fund.Date]bool)
	var out []fund.Date
	for _, c := range r.ValueChanges() {
		if !seen[c.Date] {
			seen[c.Date] = true
			out = append(out, c.Date)
		}
	}
	return out
}

// RequiresUpdate reports whether any of the reports needs a write.
func RequiresUpdate(reports ...*Report) bool {
	for _, r := range reports {
		if r != nil && r.Summary.RequiresUpdate {
			return true
		}
	}
	return false
}

// Format renders a plain-text summary for logs and alerts.
func Format(reports ...*Report) string {
	var b strings.Builder
	for _, r := range reports {
		if r == nil {
			continue
		}
		s := r.Summary
		fmt.Fprintf(&b, "%s: %d records over %d dates, %d missing dates, %d changed records, %d additions",
			r.Region, s.TotalLookbackRecords, s.DatesChecked, s.MissingDatesCount, s.ChangedRecordsCount, s.AdditionsCount)
		if s.ComparisonErrors > 0 {
			fmt.Fprintf(&b, ", %d comparison errors", s.ComparisonErrors)
		}
		b.WriteString("\n")
		for _, d := range r.MissingDates() {
			fmt.Fprintf(&b, "  missing %s\n", d)
		}
		for _, c := range r.ValueChanges() {
			fmt.Fprintf(&b, "  %s %s:", c.Date, c.FundCode)
			for _, f := range c.Fields {
				if !f.Material {
					continue
				}
				pct := "n/a"
				if f.Pct.Valid {
					pct = f.Pct.Decimal.StringFixed(2) + "%"
				}
				fmt.Fprintf(&b, " %s %q -> %q (%s)", f.Field, f.Stored, f.Lookback, pct)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
