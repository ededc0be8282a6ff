package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/warp/fund-etl/fund"
)

// Engine runs the comparator over a lookback batch.
type Engine struct {
	cfg *Config
}

func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() *Config { return e.cfg }

type pairResult struct {
	code  string
	diffs []FieldDiff
	err   error
}

// Reconcile compares a region's lookback rows with storage.
//
// Dates are processed in ascending order and ctx is checked between
// them. Funds within a date are compared in parallel. A date with no
// stored rows yields one missing_date change. Lookback codes missing
// from storage are additions; stored codes missing from the lookback
// are ignored.
func (e *Engine) Reconcile(ctx context.Context, region fund.Region, lookback []fund.FundRecord, reader fund.Reader) (*Report, error) {
	report := &Report{
		Region:   region,
		lookback: make(map[fund.Date][]fund.FundRecord),
	}

	for _, rec := range lookback {
		if rec.Region != region {
			report.Errors = append(report.Errors, (&fund.ComparisonError{
				Key:    rec.Key(),
				Reason: fmt.Sprintf("lookback row belongs to region %s", rec.Region),
			}).Error())
			continue
		}
		report.lookback[rec.Date] = append(report.lookback[rec.Date], rec)
		report.Summary.TotalLookbackRecords++
	}

	for _, date := range fund.SortedDates(report.lookback) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Dates = append(report.Dates, date)

		stored, err := reader.LoadPartition(ctx, region, date)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", region, date, err)
		}
		rows := report.lookback[date]
		if len(stored) == 0 {
			report.Changes = append(report.Changes, ChangeRecord{
				Kind:   ChangeMissingDate,
				Region: region,
				Date:   date,
				Rows:   len(rows),
			})
			continue
		}

		if err := e.reconcileDate(ctx, report, date, rows, fund.IndexByCode(stored)); err != nil {
			return nil, err
		}
	}

	s := &report.Summary
	s.DatesChecked = len(report.Dates)
	s.MissingDatesCount = len(report.MissingDates())
	s.ChangedRecordsCount = len(report.ValueChanges())
	s.DriftRecordsCount = len(report.Drift)
	s.AdditionsCount = len(report.Additions)
	s.ComparisonErrors = len(report.Errors)
	s.RequiresUpdate = s.MissingDatesCount > 0 || s.ChangedRecordsCount > 0
	return report, nil
}

func (e *Engine) reconcileDate(ctx context.Context, report *Report, date fund.Date, rows []fund.FundRecord, stored map[string]fund.FundRecord) error {
	// Codes must be unique within a date; repeats cannot be matched to a stored row.
	seen := make(map[string]int, len(rows))
	for _, r := range rows {
		seen[r.FundCode]++
	}

	results := make([]pairResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers())

	for i := range rows {
		lb := &rows[i]
		res := &results[i]
		res.code = lb.FundCode

		if seen[lb.FundCode] > 1 {
			res.err = &fund.ComparisonError{Key: lb.Key(), Reason: "fund code repeated in lookback feed"}
			continue
		}
		st, ok := stored[lb.FundCode]
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res.diffs, res.err = Compare(&st, lb, e.cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sortResults(results)
	for _, res := range results {
		key := fund.RecordKey{Region: report.Region, Date: date, FundCode: res.code}
		switch {
		case res.err != nil:
			log.Printf("[Reconcile] skipping %s: %v", key, res.err)
			report.Errors = append(report.Errors, res.err.Error())
		case !hasStored(stored, res.code):
			report.Additions = append(report.Additions, key)
		case len(res.diffs) == 0:
		case HasMaterial(res.diffs):
			report.Changes = append(report.Changes, changeRecord(key, res.diffs))
		default:
			report.Drift = append(report.Drift, changeRecord(key, res.diffs))
		}
	}
	return nil
}

func changeRecord(key fund.RecordKey, diffs []FieldDiff) ChangeRecord {
	return ChangeRecord{
		Kind:     ChangeValue,
		Region:   key.Region,
		Date:     key.Date,
		FundCode: key.FundCode,
		Fields:   diffs,
		Critical: hasCritical(diffs),
	}
}

func hasCritical(diffs []FieldDiff) bool {
	for _, d := range diffs {
		if d.Critical {
			return true
		}
	}
	return false
}

func sortResults(results []pairResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].code < results[j].code })
}

func hasStored(stored map[string]fund.FundRecord, code string) bool {
	_, ok := stored[code]
	return ok
}
