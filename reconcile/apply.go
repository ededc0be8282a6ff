package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/fund-etl/fund"
)

// ReadWriter is the storage surface the applier needs: writes, then re-reads to verify.
type ReadWriter interface {
	fund.Reader
	fund.Writer
}

// ApplyResult reports what an apply pass wrote and what failed.
// Failures are collected here; they never abort the remaining writes.
type ApplyResult struct {
	Mode               UpdateMode          `json:"mode"`
	Upserted           int                 `json:"upserted"`
	PartitionsReplaced int                 `json:"partitions_replaced"`
	RowsWritten        int                 `json:"rows_written"`
	FailedKeys         []fund.RecordKey    `json:"failed_keys"`
	FailedDates        []fund.PartitionKey `json:"failed_dates"`
	Errors             []string            `json:"errors,omitempty"`
	Verified           bool                `json:"verified"`
	Residual           []fund.RecordKey    `json:"residual,omitempty"` // still differing after apply
}

// Failed reports whether any write failed.
func (r *ApplyResult) Failed() bool {
	return len(r.FailedKeys) > 0 || len(r.FailedDates) > 0
}

// Applier executes plans against storage.
type Applier struct {
	store   ReadWriter
	cfg     *Config
	metrics *Metrics
}

func NewApplier(store ReadWriter, cfg *Config, metrics *Metrics) *Applier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Applier{store: store, cfg: cfg, metrics: metrics}
}

// ApplyReports builds a plan from reports and applies it. Nothing is
// written unless at least one report requires an update.
func (a *Applier) ApplyReports(ctx context.Context, mode UpdateMode, reports ...*Report) (*ApplyResult, error) {
	if !RequiresUpdate(reports...) {
		return &ApplyResult{Mode: mode, Verified: true}, nil
	}
	return a.Apply(ctx, BuildPlan(mode, reports...))
}

// Apply performs every write in the plan, then verifies the result.
//
// Partitions are written first, each in one transaction. Upserts follow,
// one transaction each. ctx is checked between writes; on cancellation
// the partial result is returned with ctx's error.
func (a *Applier) Apply(ctx context.Context, plan *Plan) (*ApplyResult, error) {
	res := &ApplyResult{Mode: plan.Mode}

	for _, p := range plan.Partitions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := a.store.ReplacePartition(ctx, p.Region, p.Date, p.Records); err != nil {
			applyErr := &fund.ApplyError{Key: fund.RecordKey{Region: p.Region, Date: p.Date}, Err: err}
			log.Printf("[Apply] %v", applyErr)
			res.FailedDates = append(res.FailedDates, p.Key())
			res.Errors = append(res.Errors, applyErr.Error())
			continue
		}
		res.PartitionsReplaced++
		res.RowsWritten += len(p.Records)
		a.metrics.partitionReplaced(p.Reason, len(p.Records))
	}

	for _, rec := range plan.Upserts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := a.store.Upsert(ctx, rec); err != nil {
			applyErr := &fund.ApplyError{Key: rec.Key(), Err: err}
			log.Printf("[Apply] %v", applyErr)
			res.FailedKeys = append(res.FailedKeys, rec.Key())
			res.Errors = append(res.Errors, applyErr.Error())
			continue
		}
		res.Upserted++
		res.RowsWritten++
		a.metrics.recordUpserted()
	}

	residual, err := a.Verify(ctx, plan)
	if err != nil {
		return res, err
	}
	res.Residual = residual
	res.Verified = len(residual) == 0
	return res, nil
}

// Verify re-runs the comparator for every key the plan wrote and returns
// the keys whose stored values still differ materially, or are absent.
func (a *Applier) Verify(ctx context.Context, plan *Plan) ([]fund.RecordKey, error) {
	cache := make(map[fund.PartitionKey]map[string]fund.FundRecord)
	load := func(k fund.PartitionKey) (map[string]fund.FundRecord, error) {
		if m, ok := cache[k]; ok {
			return m, nil
		}
		recs, err := a.store.LoadPartition(ctx, k.Region, k.Date)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", k, err)
		}
		m := fund.IndexByCode(recs)
		cache[k] = m
		return m, nil
	}

	var residual []fund.RecordKey
	check := func(want fund.FundRecord) error {
		stored, err := load(want.Partition())
		if err != nil {
			return err
		}
		got, ok := stored[want.FundCode]
		if !ok {
			residual = append(residual, want.Key())
			return nil
		}
		diffs, err := Compare(&got, &want, a.cfg)
		if err != nil || HasMaterial(diffs) {
			residual = append(residual, want.Key())
		}
		return nil
	}

	for _, p := range plan.Partitions {
		for _, rec := range p.Records {
			if err := check(rec); err != nil {
				return nil, err
			}
		}
	}
	for _, rec := range plan.Upserts {
		if err := check(rec); err != nil {
			return nil, err
		}
	}
	return residual, nil
}
