package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/workflow"
)

// =============================================================================
// DAILY RUN
// =============================================================================

// RegionOutcome is what a daily run did for one region.
type RegionOutcome struct {
	Region   fund.Region     `json:"region"`
	Status   fund.LoadStatus `json:"status"`
	FileDate fund.Date       `json:"file_date"`
	Dates    []fund.Date     `json:"dates,omitempty"`
	Records  int             `json:"records"`
	Issues   []string        `json:"issues,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// DailyResult is the result of a daily_run.
type DailyResult struct {
	RunDate     fund.Date       `json:"run_date"`
	DataDate    fund.Date       `json:"data_date"`
	BusinessDay bool            `json:"business_day"`
	Regions     []RegionOutcome `json:"regions"`
}

// runDaily loads the prior business day's feed for each region.
//
// The run date's business-day status follows the AMRS calendar, as the
// feeds are published on the US schedule.
func (s *Service) runDaily(ctx context.Context, h *workflow.Handle) error {
	runDate := s.today()
	if raw := h.Param(ParamDate); raw != "" {
		d, err := fund.ParseDate(raw)
		if err != nil {
			return err
		}
		runDate = d
	}
	res := &DailyResult{RunDate: runDate}

	if !fund.IsBusinessDay(s.calendar, fund.RegionAMRS, runDate) {
		h.Logf("%s is not a business day, carrying data forward", runDate)
		var errs []error
		for _, region := range fund.Regions {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := s.carryForward(ctx, h, runDate, region, runDate)
			res.Regions = append(res.Regions, out)
			errs = append(errs, err)
		}
		saveResult(h, res)
		return errors.Join(errs...)
	}

	res.BusinessDay = true
	res.DataDate = fund.PriorBusinessDay(s.calendar, fund.RegionAMRS, runDate)
	h.Logf("processing data for %s", res.DataDate)

	var errs []error
	for _, region := range fund.Regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := s.loadRegion(ctx, h, runDate, res.DataDate, region)
		res.Regions = append(res.Regions, out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	saveResult(h, res)
	return errors.Join(errs...)
}

func (s *Service) loadRegion(ctx context.Context, h *workflow.Handle, runDate, dataDate fund.Date, region fund.Region) (RegionOutcome, error) {
	out := RegionOutcome{Region: region, FileDate: dataDate}

	ds, err := s.source.Fetch(ctx, region, fund.FeedDaily)
	if err != nil {
		var unavailable *fund.SourceUnavailableError
		if !errors.As(err, &unavailable) && ctx.Err() == nil {
			err = &fund.SourceUnavailableError{Region: region, Feed: fund.FeedDaily, Err: err}
		}
		return s.failRegion(ctx, h, runDate, dataDate, out, err)
	}

	parsed, err := fund.ParseDataset(region, ds)
	if err != nil {
		return s.failRegion(ctx, h, runDate, dataDate, out, err)
	}
	for _, issue := range parsed.Issues {
		h.Logf("%s warning: %s", region, issue)
	}
	out.Issues = parsed.Issues

	groups := fund.GroupByDate(parsed.Records)
	if _, ok := groups[dataDate]; !ok {
		out.Issues = append(out.Issues, fmt.Sprintf("feed has no rows for %s", dataDate))
	}
	extendWeekend(groups)

	for _, d := range fund.SortedDates(groups) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rows := groups[d]
		if err := s.store.ReplacePartition(ctx, region, d, rows); err != nil {
			return s.failRegion(ctx, h, runDate, dataDate, out, fmt.Errorf("write %s %s: %w", region, d, err))
		}
		out.Dates = append(out.Dates, d)
		out.Records += len(rows)
		h.Logf("%s: loaded %d records for %s", region, len(rows), d)
	}

	out.Status = fund.LoadSuccess
	s.appendLog(ctx, fund.LoadLogEntry{
		RunDate:          runDate,
		Region:           region,
		FileDate:         dataDate,
		Status:           fund.LoadSuccess,
		RecordsProcessed: len(parsed.Records),
		Issues:           out.Issues,
	})
	return out, nil
}

// failRegion records a failed region load and, if configured, carries the
// latest stored partition forward to the data date.
func (s *Service) failRegion(ctx context.Context, h *workflow.Handle, runDate, dataDate fund.Date, out RegionOutcome, err error) (RegionOutcome, error) {
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	h.Logf("%s failed: %v", out.Region, err)
	out.Status = fund.LoadFailed
	out.Error = err.Error()

	if s.carryForwardOnFailure {
		if _, cfErr := s.carryForward(ctx, h, runDate, out.Region, dataDate); cfErr != nil {
			out.Issues = append(out.Issues, cfErr.Error())
		}
	}
	s.appendLog(ctx, fund.LoadLogEntry{
		RunDate:  runDate,
		Region:   out.Region,
		FileDate: dataDate,
		Status:   fund.LoadFailed,
		Issues:   append([]string{err.Error()}, out.Issues...),
	})
	return out, err
}

// carryForward copies the latest partition before target onto target.
func (s *Service) carryForward(ctx context.Context, h *workflow.Handle, runDate fund.Date, region fund.Region, target fund.Date) (RegionOutcome, error) {
	out := RegionOutcome{Region: region, FileDate: target, Status: fund.LoadCarriedForward}

	src, found, err := s.store.LatestDateBefore(ctx, region, target)
	if err != nil {
		return out, fmt.Errorf("carry forward %s: %w", region, err)
	}
	if !found {
		h.Logf("%s: no earlier data to carry forward to %s", region, target)
		out.Issues = []string{"no earlier data to carry forward"}
		return out, nil
	}

	recs, err := s.store.LoadPartition(ctx, region, src)
	if err != nil {
		return out, fmt.Errorf("carry forward %s: %w", region, err)
	}
	for i := range recs {
		recs[i] = recs[i].WithDate(target)
	}
	if err := s.store.ReplacePartition(ctx, region, target, recs); err != nil {
		return out, fmt.Errorf("carry forward %s to %s: %w", region, target, err)
	}

	note := fmt.Sprintf("data carried forward from %s", src)
	out.Dates = []fund.Date{target}
	out.Records = len(recs)
	out.Issues = []string{note}
	h.Logf("%s: %s to %s (%d records)", region, note, target, len(recs))
	s.appendLog(ctx, fund.LoadLogEntry{
		RunDate:          runDate,
		Region:           region,
		FileDate:         target,
		Status:           fund.LoadCarriedForward,
		RecordsProcessed: len(recs),
		Issues:           out.Issues,
	})
	return out, nil
}

// extendWeekend copies Friday partitions onto the following Saturday and
// Sunday unless the feed already has rows for them.
func extendWeekend(groups map[fund.Date][]fund.FundRecord) {
	for _, d := range fund.SortedDates(groups) {
		if d.Weekday() != time.Friday {
			continue
		}
		for _, offset := range []int{1, 2} {
			day := d.AddDays(offset)
			if _, ok := groups[day]; ok {
				continue
			}
			rows := make([]fund.FundRecord, len(groups[d]))
			for i, r := range groups[d] {
				rows[i] = r.WithDate(day)
			}
			groups[day] = rows
		}
	}
}

func (s *Service) appendLog(ctx context.Context, e fund.LoadLogEntry) {
	if err := s.store.AppendLoadLog(ctx, e); err != nil {
		log.Printf("[ETL] load log %s %s: %v", e.Region, e.Status, err)
	}
}
