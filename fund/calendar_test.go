package fund_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/fund-etl/fund"
)

func TestUSFederalCalendar(t *testing.T) {
	cal := fund.USFederalCalendar{}

	tests := []struct {
		name    string
		date    fund.Date
		holiday bool
	}{
		{"new year 2024", fund.NewDate(2024, time.January, 1), true},
		{"mlk 2024", fund.NewDate(2024, time.January, 15), true},
		{"regular tuesday", fund.NewDate(2024, time.January, 16), false},
		{"new year 2022 observed on friday", fund.NewDate(2021, time.December, 31), true},
		{"christmas 2022 observed on monday", fund.NewDate(2022, time.December, 26), true},
		{"memorial day 2025", fund.NewDate(2025, time.May, 26), true},
		{"thanksgiving 2025", fund.NewDate(2025, time.November, 27), true},
		{"juneteenth 2025", fund.NewDate(2025, time.June, 19), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.holiday, cal.IsHoliday(fund.RegionAMRS, tt.date))
		})
	}
}

func TestPriorBusinessDay(t *testing.T) {
	cal := fund.USFederalCalendar{}

	// Tuesday after MLK day skips the holiday Monday and the weekend
	assert.Equal(t, fund.NewDate(2024, time.January, 12),
		fund.PriorBusinessDay(cal, fund.RegionAMRS, fund.NewDate(2024, time.January, 16)))

	// Monday goes back to Friday
	assert.Equal(t, fund.NewDate(2025, time.June, 13),
		fund.PriorBusinessDay(cal, fund.RegionAMRS, fund.NewDate(2025, time.June, 16)))
}

func TestStaticCalendar_RegionAndRecurring(t *testing.T) {
	cal := fund.StaticCalendar{
		{ID: "boxing", Region: fund.RegionEMEA, Date: fund.NewDate(2000, time.December, 26), Name: "Boxing Day", Recurring: true},
		{ID: "one-off", Date: fund.NewDate(2025, time.January, 9), Name: "National Day of Mourning"},
	}

	assert.True(t, cal.IsHoliday(fund.RegionEMEA, fund.NewDate(2025, time.December, 26)))
	assert.False(t, cal.IsHoliday(fund.RegionAMRS, fund.NewDate(2025, time.December, 26)))
	assert.True(t, cal.IsHoliday(fund.RegionAMRS, fund.NewDate(2025, time.January, 9)))
	assert.False(t, cal.IsHoliday(fund.RegionAMRS, fund.NewDate(2026, time.January, 9)))

	chain := fund.ChainCalendar{fund.USFederalCalendar{}, cal}
	days := fund.BusinessDays(chain, fund.RegionAMRS, fund.NewDate(2025, time.January, 6), fund.NewDate(2025, time.January, 12))
	assert.Len(t, days, 4)
}
