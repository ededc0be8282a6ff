package reconcile

import (
	"sort"

	"github.com/warp/fund-etl/fund"
)

// WriteReason explains why a partition is rewritten.
type WriteReason string

const (
	ReasonMissingDate WriteReason = "missing_date"
	ReasonFullUpdate  WriteReason = "full_update"
)

// PartitionWrite replaces one (region, date) with the lookback rows.
type PartitionWrite struct {
	Region  fund.Region       `json:"region"`
	Date    fund.Date         `json:"date"`
	Reason  WriteReason       `json:"reason"`
	Records []fund.FundRecord `json:"-"`
	Rows    int               `json:"rows"`
}

func (p PartitionWrite) Key() fund.PartitionKey {
	return fund.PartitionKey{Region: p.Region, Date: p.Date}
}

// Plan is the set of writes derived from one or more reports.
type Plan struct {
	Mode       UpdateMode        `json:"mode"`
	Partitions []PartitionWrite  `json:"partitions"`
	Upserts    []fund.FundRecord `json:"-"`
	UpsertKeys []fund.RecordKey  `json:"upserts"`
}

func (p *Plan) Empty() bool {
	return len(p.Partitions) == 0 && len(p.Upserts) == 0
}

// BuildPlan derives the writes for reports under mode.
//
// Missing dates are always replaced wholesale. In selective mode every
// material value change and every addition is one upsert. In full mode a
// date with a material change in any report replaces that date in every
// report whose lookback has it; remaining additions are upserts.
func BuildPlan(mode UpdateMode, reports ...*Report) *Plan {
	plan := &Plan{Mode: mode}
	replaced := make(map[fund.PartitionKey]bool)

	addPartition := func(r *Report, d fund.Date, reason WriteReason) {
		key := fund.PartitionKey{Region: r.Region, Date: d}
		if replaced[key] {
			return
		}
		replaced[key] = true
		rows := r.Lookback(d)
		plan.Partitions = append(plan.Partitions, PartitionWrite{
			Region: r.Region, Date: d, Reason: reason, Records: rows, Rows: len(rows),
		})
	}
	addUpsert := func(r *Report, key fund.RecordKey) {
		if replaced[fund.PartitionKey{Region: key.Region, Date: key.Date}] {
			return
		}
		for _, rec := range r.Lookback(key.Date) {
			if rec.FundCode == key.FundCode {
				plan.Upserts = append(plan.Upserts, rec)
				plan.UpsertKeys = append(plan.UpsertKeys, key)
				return
			}
		}
	}

	for _, r := range reports {
		if r == nil {
			continue
		}
		for _, d := range r.MissingDates() {
			addPartition(r, d, ReasonMissingDate)
		}
	}

	if mode == ModeFull {
		flagged := make(map[fund.Date]bool)
		for _, r := range reports {
			if r == nil {
				continue
			}
			for _, d := range r.FlaggedDates() {
				flagged[d] = true
			}
		}
		for _, d := range fund.SortedDates(flagged) {
			for _, r := range reports {
				if r != nil && r.HasDate(d) {
					addPartition(r, d, ReasonFullUpdate)
				}
			}
		}
	}

	for _, r := range reports {
		if r == nil {
			continue
		}
		if mode != ModeFull {
			for _, c := range r.ValueChanges() {
				addUpsert(r, c.Key())
			}
		}
		for _, key := range r.Additions {
			addUpsert(r, key)
		}
	}

	sort.SliceStable(plan.Partitions, func(i, j int) bool {
		a, b := plan.Partitions[i], plan.Partitions[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		return a.Region < b.Region
	})
	return plan
}
