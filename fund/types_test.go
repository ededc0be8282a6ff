package fund_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fund-etl/fund"
)

func TestParseDate_Layouts(t *testing.T) {
	want := fund.NewDate(2025, time.June, 5)
	for _, in := range []string{"2025-06-05", "6/5/2025", "06/05/2025", "2025-06-05 00:00:00", "2025-06-05T10:00:00Z"} {
		got, err := fund.ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := fund.ParseDate("June 5th")
	assert.ErrorIs(t, err, fund.ErrInvalidDate)
}

func TestDate_Arithmetic(t *testing.T) {
	fri := fund.NewDate(2025, time.June, 13)

	assert.Equal(t, time.Friday, fri.Weekday())
	assert.False(t, fri.IsWeekend())
	assert.True(t, fri.AddDays(1).IsWeekend())
	assert.Equal(t, fund.NewDate(2025, time.July, 1), fund.NewDate(2025, time.June, 30).AddDays(1))
	assert.True(t, fri.Before(fri.AddDays(1)))
	assert.True(t, fri.BeforeOrEqual(fri))
	assert.True(t, fri.BeforeOrEqual(fri.AddDays(1)))
	assert.False(t, fri.AddDays(1).BeforeOrEqual(fri))
	assert.Equal(t, "2025-06-13", fri.String())
}

func TestDate_JSONMapKey(t *testing.T) {
	in := map[fund.Date]int{fund.NewDate(2025, 6, 13): 3}

	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"2025-06-13":3}`, string(b))

	var out map[fund.Date]int
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		want  string
	}{
		{"1000", true, "1000"},
		{" 4.25 ", true, "4.25"},
		{"0", true, "0"},
		{"12,345.6", true, "12345.6"},
		{"55%", true, "55"},
		{"-1.5", true, "-1.5"},
		{"-", false, ""},
		{"", false, ""},
		{"n/a", false, ""},
	}
	for _, tt := range tests {
		got := fund.ParseNumber(tt.in)
		assert.Equal(t, tt.valid, got.Valid, tt.in)
		assert.Equal(t, tt.want, fund.FormatNumber(got), tt.in)
	}
}

func TestFieldRegistry(t *testing.T) {
	fields := fund.Fields()
	assert.Len(t, fields, 24)

	f, ok := fund.FieldByName("share_class_assets")
	require.True(t, ok)
	assert.Equal(t, fund.KindNumeric, f.Kind)

	var rec fund.FundRecord
	f.Set(&rec, "1051")
	assert.True(t, rec.ShareClassAssets.Decimal.Equal(decimal.NewFromInt(1051)))
	assert.Equal(t, "1051", f.Display(&rec))

	byCol, ok := fund.FieldByColumn("Fund Name")
	require.True(t, ok)
	assert.Equal(t, "fund_name", byCol.Name)

	_, ok = fund.FieldByName("nope")
	assert.False(t, ok)
}

func TestParseRegion(t *testing.T) {
	r, err := fund.ParseRegion("emea")
	require.NoError(t, err)
	assert.Equal(t, fund.RegionEMEA, r)

	_, err = fund.ParseRegion("APAC")
	assert.ErrorIs(t, err, fund.ErrUnknownRegion)
	assert.True(t, fund.IsClientError(err))
}
