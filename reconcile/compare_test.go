package reconcile_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fund-etl/fund"
	"github.com/warp/fund-etl/reconcile"
)

func diffFor(diffs []reconcile.FieldDiff, field string) (reconcile.FieldDiff, bool) {
	for _, d := range diffs {
		if d.Field == field {
			return d, true
		}
	}
	return reconcile.FieldDiff{}, false
}

func TestCompare_ScenarioA_AboveThreshold(t *testing.T) {
	// GIVEN: stored share_class_assets=1000, lookback 1051, threshold 5%
	cfg := reconcile.DefaultConfig()
	s := record(fund.RegionAMRS, jun13, "ABC", "1000")
	l := record(fund.RegionAMRS, jun13, "ABC", "1051")

	// WHEN: Comparing
	diffs, err := reconcile.Compare(&s, &l, cfg)

	// THEN: One material diff at +5.1%
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	d := diffs[0]
	assert.Equal(t, "share_class_assets", d.Field)
	assert.True(t, d.Critical)
	assert.True(t, d.Material)
	require.True(t, d.Pct.Valid)
	assert.True(t, d.Pct.Decimal.Equal(decimal.RequireFromString("5.1")), d.Pct.Decimal.String())
}

func TestCompare_ScenarioB_BelowThreshold(t *testing.T) {
	// GIVEN: stored 1000, lookback 1040
	cfg := reconcile.DefaultConfig()
	s := record(fund.RegionAMRS, jun13, "ABC", "1000")
	l := record(fund.RegionAMRS, jun13, "ABC", "1040")

	diffs, err := reconcile.Compare(&s, &l, cfg)

	// THEN: The change is reported at 4% but is not material
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Critical)
	assert.False(t, diffs[0].Material)
	assert.True(t, diffs[0].Pct.Decimal.Equal(decimal.NewFromInt(4)))
	assert.False(t, reconcile.HasMaterial(diffs))
}

func TestCompare_ThresholdIsSymmetric(t *testing.T) {
	cfg := reconcile.DefaultConfig()
	tests := []struct {
		lookback string
		material bool
	}{
		{"1050", true},   // exactly +5%
		{"950", true},    // exactly -5%
		{"949", true},    // -5.1%
		{"1049.99", false},
		{"950.01", false},
		{"1000.5", false},
		{"2000", true},
		{"0", true},
	}
	for _, tt := range tests {
		s := record(fund.RegionAMRS, jun13, "ABC", "1000")
		l := record(fund.RegionAMRS, jun13, "ABC", tt.lookback)

		diffs, err := reconcile.Compare(&s, &l, cfg)

		require.NoError(t, err)
		assert.Equal(t, tt.material, reconcile.HasMaterial(diffs), "lookback %s", tt.lookback)
	}
}

func TestCompare_IdenticalCriticalValuesAreUnchanged(t *testing.T) {
	cfg := reconcile.DefaultConfig()
	for _, v := range []string{"0", "1000", "-3.25", "0.000001", "-"} {
		s := record(fund.RegionEMEA, jun13, "X", v)
		l := record(fund.RegionEMEA, jun13, "X", v)

		diffs, err := reconcile.Compare(&s, &l, cfg)

		require.NoError(t, err)
		assert.Empty(t, diffs, "value %q", v)
	}
}

func TestCompare_NoValueOnOneSide(t *testing.T) {
	// GIVEN: Stored has a dash, lookback has a figure
	cfg := reconcile.DefaultConfig()
	s := record(fund.RegionAMRS, jun13, "ABC", "-")
	l := record(fund.RegionAMRS, jun13, "ABC", "1000")

	diffs, err := reconcile.Compare(&s, &l, cfg)

	// THEN: Changed, pct undefined (null), material because the field is critical
	require.NoError(t, err)
	d, ok := diffFor(diffs, "share_class_assets")
	require.True(t, ok)
	assert.False(t, d.Pct.Valid)
	assert.True(t, d.Material)
	assert.Equal(t, "", d.Stored)
	assert.Equal(t, "1000", d.Lookback)
}

func TestCompare_NonCriticalNumericNeverMaterial(t *testing.T) {
	cfg := reconcile.DefaultConfig()
	s := record(fund.RegionAMRS, jun13, "ABC", "1000")
	l := s
	l.WAM = fund.ParseNumber("60")

	diffs, err := reconcile.Compare(&s, &l, cfg)

	require.NoError(t, err)
	d, ok := diffFor(diffs, "wam")
	require.True(t, ok)
	assert.False(t, d.Critical)
	assert.False(t, d.Material)
	assert.True(t, d.Pct.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestCompare_TextIsInformational(t *testing.T) {
	cfg := reconcile.DefaultConfig()
	s := record(fund.RegionAMRS, jun13, "ABC", "1000")
	l := s
	l.FundName = "Renamed Fund"
	l.Rating = "  " + s.Rating + "  "

	diffs, err := reconcile.Compare(&s, &l, cfg)

	require.NoError(t, err)
	require.Len(t, diffs, 1, "whitespace-only text drift is not a difference")
	assert.Equal(t, "fund_name", diffs[0].Field)
	assert.False(t, diffs[0].Numeric)
	assert.False(t, diffs[0].Material)
}

func TestCompare_ZeroStoredUsesEpsilon(t *testing.T) {
	cfg := reconcile.DefaultConfig()
	s := record(fund.RegionAMRS, jun13, "ABC", "0")
	l := record(fund.RegionAMRS, jun13, "ABC", "0.001")

	diffs, err := reconcile.Compare(&s, &l, cfg)

	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Material)
	assert.True(t, diffs[0].Pct.Decimal.GreaterThan(decimal.NewFromInt(1000)))
}

func TestCompare_KeyMismatch(t *testing.T) {
	cfg := reconcile.DefaultConfig()
	s := record(fund.RegionAMRS, jun13, "ABC", "1000")
	l := record(fund.RegionAMRS, jun13, "XYZ", "1000")

	_, err := reconcile.Compare(&s, &l, cfg)

	var cmpErr *fund.ComparisonError
	require.ErrorAs(t, err, &cmpErr)
	assert.Equal(t, "XYZ", cmpErr.Key.FundCode)
	assert.ErrorIs(t, err, fund.ErrComparison)
}

func TestCompare_CustomThreshold(t *testing.T) {
	cfg, err := reconcile.NewConfig(reconcile.Options{
		ThresholdPercent: 1,
		CriticalFields:   []string{"wam"},
	})
	require.NoError(t, err)
	s := record(fund.RegionAMRS, jun13, "ABC", "1000")
	l := record(fund.RegionAMRS, jun13, "ABC", "5000")
	l.WAM = fund.ParseNumber("30.5")

	diffs, err := reconcile.Compare(&s, &l, cfg)

	require.NoError(t, err)
	assets, _ := diffFor(diffs, "share_class_assets")
	wam, _ := diffFor(diffs, "wam")
	assert.False(t, assets.Material, "assets is no longer critical")
	assert.True(t, wam.Material, "1.67% >= 1%")
}

func TestNewConfig_Validation(t *testing.T) {
	_, err := reconcile.NewConfig(reconcile.Options{ThresholdPercent: -1, CriticalFields: []string{"wam"}})
	assert.ErrorIs(t, err, reconcile.ErrInvalidConfig)

	_, err = reconcile.NewConfig(reconcile.Options{ThresholdPercent: 5, CriticalFields: []string{"bogus"}})
	assert.ErrorIs(t, err, fund.ErrUnknownField)

	_, err = reconcile.NewConfig(reconcile.Options{ThresholdPercent: 5, CriticalFields: []string{"fund_name"}})
	assert.ErrorIs(t, err, reconcile.ErrInvalidConfig)

	_, err = reconcile.NewConfig(reconcile.Options{ThresholdPercent: 5, CriticalFields: []string{"wam"}, Mode: "sometimes"})
	assert.ErrorIs(t, err, reconcile.ErrInvalidMode)

	cfg := reconcile.DefaultConfig()
	assert.Equal(t, reconcile.ModeSelective, cfg.Mode())
	assert.ElementsMatch(t, reconcile.DefaultCriticalFields, cfg.CriticalFields())
}
