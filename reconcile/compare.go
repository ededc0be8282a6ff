package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/warp/fund-etl/fund"
)

var hundred = decimal.NewFromInt(100)

// FieldDiff is one field that differs between the stored and lookback record.
type FieldDiff struct {
	Field    string              `json:"field"`
	Numeric  bool                `json:"numeric"`
	Stored   string              `json:"stored"`
	Lookback string              `json:"lookback"`
	Pct      decimal.NullDecimal `json:"pct_change"` // null when either side has no value
	Critical bool                `json:"critical"`
	Material bool                `json:"material"` // critical and past the threshold
}

// Compare returns the fields on which lookback differs from stored.
//
// Numeric fields: no value on both sides is equal. No value on one side
// is a change with a null pct. Otherwise pct = (l-s)/max(|s|,eps)*100.
// Text fields: trimmed exact comparison, never material.
//
// Material changes are limited to critical fields. Compare reads nothing
// but its arguments.
func Compare(stored, lookback *fund.FundRecord, cfg *Config) ([]FieldDiff, error) {
	if stored == nil || lookback == nil {
		key := fund.RecordKey{}
		if lookback != nil {
			key = lookback.Key()
		} else if stored != nil {
			key = stored.Key()
		}
		return nil, &fund.ComparisonError{Key: key, Reason: "record is nil"}
	}
	if stored.Key() != lookback.Key() {
		return nil, &fund.ComparisonError{
			Key:    lookback.Key(),
			Reason: "stored record has key " + stored.Key().String(),
		}
	}

	var diffs []FieldDiff
	for _, f := range fund.Fields() {
		if f.Kind == fund.KindNumeric {
			if d, changed := compareNumber(f, stored, lookback, cfg); changed {
				diffs = append(diffs, d)
			}
			continue
		}
		s, l := fund.NormalizeText(f.Text(stored)), fund.NormalizeText(f.Text(lookback))
		if s != l {
			diffs = append(diffs, FieldDiff{Field: f.Name, Stored: s, Lookback: l})
		}
	}
	return diffs, nil
}

func compareNumber(f fund.Field, stored, lookback *fund.FundRecord, cfg *Config) (FieldDiff, bool) {
	s, l := f.Number(stored), f.Number(lookback)
	d := FieldDiff{
		Field:    f.Name,
		Numeric:  true,
		Stored:   fund.FormatNumber(s),
		Lookback: fund.FormatNumber(l),
		Critical: cfg.IsCritical(f.Name),
	}

	switch {
	case !s.Valid && !l.Valid:
		return d, false
	case s.Valid != l.Valid:
		d.Material = d.Critical
		return d, true
	case s.Decimal.Equal(l.Decimal):
		return d, false
	}

	d.Pct = decimal.NewNullDecimal(PctChange(s.Decimal, l.Decimal, cfg.Epsilon()))
	d.Material = d.Critical && d.Pct.Decimal.Abs().GreaterThanOrEqual(cfg.Threshold())
	return d, true
}

// PctChange is (lookback - stored) / max(|stored|, eps) * 100.
func PctChange(stored, lookback, eps decimal.Decimal) decimal.Decimal {
	base := stored.Abs()
	if base.LessThan(eps) {
		base = eps
	}
	return lookback.Sub(stored).Div(base).Mul(hundred)
}

// HasMaterial reports whether any diff is material.
func HasMaterial(diffs []FieldDiff) bool {
	for _, d := range diffs {
		if d.Material {
			return true
		}
	}
	return false
}
