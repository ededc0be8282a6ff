package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/reconcile"
	"github.com/warp/fund-etl/workflow"
)

// =============================================================================
// LOOKBACK VALIDATION
// =============================================================================

// ValidationResult is the result of a validation run and what Report returns.
type ValidationResult struct {
	Mode           reconcile.UpdateMode              `json:"mode"`
	Reports        []*reconcile.Report               `json:"reports"`
	Parse          map[fund.Region]*fund.ParseResult `json:"parse"`
	RequiresUpdate bool                              `json:"requires_update"`
	Plan           *reconcile.Plan                   `json:"plan,omitempty"`
	Apply          *reconcile.ApplyResult            `json:"apply,omitempty"`
}

// Summary renders the result for alerts and the CLI.
func (r *ValidationResult) Summary() string {
	var b strings.Builder
	b.WriteString(reconcile.Format(r.Reports...))
	if r.Apply == nil {
		b.WriteString("No update required.\n")
		return b.String()
	}
	a := r.Apply
	fmt.Fprintf(&b, "Applied %s update: %d partitions replaced, %d records upserted, %d rows written\n",
		a.Mode, a.PartitionsReplaced, a.Upserted, a.RowsWritten)
	if a.Failed() {
		fmt.Fprintf(&b, "Failed writes: %d keys, %d dates\n", len(a.FailedKeys), len(a.FailedDates))
		for _, e := range a.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	if !a.Verified {
		fmt.Fprintf(&b, "Verification found %d residual keys\n", len(a.Residual))
	}
	return b.String()
}

// runValidation reconciles the lookback feed of every region against
// storage and applies the resulting plan.
func (s *Service) runValidation(ctx context.Context, h *workflow.Handle) error {
	mode := s.cfg.Mode()
	if raw := h.Param(ParamMode); raw != "" {
		m, err := reconcile.ParseMode(raw)
		if err != nil {
			return err
		}
		mode = m
	}
	h.Logf("lookback validation, %s mode, threshold %s%%", mode, s.cfg.Threshold())

	// Every feed is fetched before anything is compared: a missing region
	// fails the run without a partial report.
	datasets := make(map[fund.Region]*fund.Dataset, len(fund.Regions))
	for _, region := range fund.Regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		ds, err := s.source.Fetch(ctx, region, fund.FeedLookback)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var unavailable *fund.SourceUnavailableError
			if !errors.As(err, &unavailable) {
				err = &fund.SourceUnavailableError{Region: region, Feed: fund.FeedLookback, Err: err}
			}
			return err
		}
		h.Logf("%s: fetched %d lookback rows", region, len(ds.Rows))
		datasets[region] = ds
	}

	res := &ValidationResult{Mode: mode, Parse: make(map[fund.Region]*fund.ParseResult)}
	for _, region := range fund.Regions {
		parsed, err := fund.ParseDataset(region, datasets[region])
		if err != nil {
			return err
		}
		for _, issue := range parsed.Issues {
			h.Logf("%s warning: %s", region, issue)
		}
		res.Parse[region] = parsed

		report, err := s.engine.Reconcile(ctx, region, parsed.Records, s.store)
		if err != nil {
			return err
		}
		sum := report.Summary
		h.Logf("%s: %d dates checked, %d missing dates, %d changed records, %d additions",
			region, sum.DatesChecked, sum.MissingDatesCount, sum.ChangedRecordsCount, sum.AdditionsCount)
		res.Reports = append(res.Reports, report)
	}

	res.RequiresUpdate = reconcile.RequiresUpdate(res.Reports...)
	if !res.RequiresUpdate {
		h.Logf("no update required")
		saveResult(h, res)
		s.alert(ctx, res)
		return nil
	}

	res.Plan = reconcile.BuildPlan(mode, res.Reports...)
	h.Logf("applying %s plan: %d partitions, %d upserts", mode, len(res.Plan.Partitions), len(res.Plan.Upserts))
	applied, err := s.applier.Apply(ctx, res.Plan)
	res.Apply = applied
	if err != nil {
		return err
	}
	h.Logf("applied: %d partitions replaced, %d upserted, %d failed keys, %d failed dates",
		applied.PartitionsReplaced, applied.Upserted, len(applied.FailedKeys), len(applied.FailedDates))
	if !applied.Verified {
		h.Logf("verification: %d keys still differ", len(applied.Residual))
	}

	s.logLookbackUpdates(ctx, res.Plan, applied)
	saveResult(h, res)
	s.alert(ctx, res)
	return nil
}

// logLookbackUpdates writes one LOOKBACK_UPDATE entry per region that
// had rows written.
func (s *Service) logLookbackUpdates(ctx context.Context, plan *reconcile.Plan, applied *reconcile.ApplyResult) {
	failedDates := make(map[fund.PartitionKey]bool)
	for _, k := range applied.FailedDates {
		failedDates[k] = true
	}
	failedKeys := make(map[fund.RecordKey]bool)
	for _, k := range applied.FailedKeys {
		failedKeys[k] = true
	}

	type regionLog struct {
		rows   int
		latest fund.Date
		notes  []string
	}
	logs := make(map[fund.Region]*regionLog)
	get := func(r fund.Region) *regionLog {
		if logs[r] == nil {
			logs[r] = &regionLog{}
		}
		return logs[r]
	}
	touch := func(l *regionLog, d fund.Date) {
		if d.After(l.latest) {
			l.latest = d
		}
	}

	for _, p := range plan.Partitions {
		if failedDates[p.Key()] {
			continue
		}
		l := get(p.Region)
		l.rows += p.Rows
		touch(l, p.Date)
		l.notes = append(l.notes, fmt.Sprintf("replaced %s (%s, %d rows)", p.Date, p.Reason, p.Rows))
	}
	upserts := make(map[fund.Region]int)
	for _, k := range plan.UpsertKeys {
		if failedKeys[k] {
			continue
		}
		l := get(k.Region)
		l.rows++
		touch(l, k.Date)
		upserts[k.Region]++
	}

	regions := make([]fund.Region, 0, len(logs))
	for r := range logs {
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })

	today := s.today()
	for _, region := range regions {
		l := logs[region]
		if n := upserts[region]; n > 0 {
			l.notes = append(l.notes, fmt.Sprintf("upserted %d records", n))
		}
		s.appendLog(ctx, fund.LoadLogEntry{
			RunDate:          today,
			Region:           region,
			FileDate:         l.latest,
			Status:           fund.LoadLookbackUpdate,
			RecordsProcessed: l.rows,
			Issues:           l.notes,
		})
	}
}

func (s *Service) alert(ctx context.Context, res *ValidationResult) {
	errs := 0
	for _, r := range res.Reports {
		errs += r.Summary.ComparisonErrors
	}
	if !res.RequiresUpdate && errs == 0 {
		return
	}
	subject := "Fund ETL lookback validation: update applied"
	switch {
	case res.Apply != nil && res.Apply.Failed():
		subject = "Fund ETL lookback validation: update failed for some records"
	case !res.RequiresUpdate:
		subject = "Fund ETL lookback validation: comparison errors"
	}
	notify(ctx, s.notifier, Alert{Subject: subject, Body: res.Summary()})
}
