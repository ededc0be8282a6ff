package fund

import "time"

// =============================================================================
// HOLIDAY CALENDAR - Market holidays per region
// =============================================================================

// Holiday is a market closure. Region "" applies to every region.
type Holiday struct {
	ID        string `json:"id"`
	Region    Region `json:"region,omitempty"`
	Date      Date   `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"` // same month/day every year
}

// Matches reports whether h closes the market for region on d.
func (h Holiday) Matches(region Region, d Date) bool {
	if h.Region != "" && h.Region != region {
		return false
	}
	if h.Recurring {
		return h.Date.Month == d.Month && h.Date.Day == d.Day
	}
	return h.Date == d
}

// HolidayCalendar answers whether a market is closed on a day.
type HolidayCalendar interface {
	IsHoliday(region Region, d Date) bool
}

// NoHolidays is a calendar where only weekends are closed.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(Region, Date) bool { return false }

// StaticCalendar evaluates a fixed holiday list.
type StaticCalendar []Holiday

func (c StaticCalendar) IsHoliday(region Region, d Date) bool {
	for _, h := range c {
		if h.Matches(region, d) {
			return true
		}
	}
	return false
}

// USFederalCalendar closes the market on US federal holidays, observed dates included.
type USFederalCalendar struct{}

func (USFederalCalendar) IsHoliday(_ Region, d Date) bool {
	// Jan 1 on a Saturday is observed on Dec 31 of the prior year.
	for _, year := range []int{d.Year, d.Year + 1} {
		for _, h := range USFederalHolidays(year) {
			if h.Date == d {
				return true
			}
		}
	}
	return false
}

// ChainCalendar is closed when any member calendar is closed.
type ChainCalendar []HolidayCalendar

func (c ChainCalendar) IsHoliday(region Region, d Date) bool {
	for _, cal := range c {
		if cal != nil && cal.IsHoliday(region, d) {
			return true
		}
	}
	return false
}

// =============================================================================
// BUSINESS DAYS
// =============================================================================

// IsBusinessDay reports whether d is neither a weekend nor a holiday.
func IsBusinessDay(cal HolidayCalendar, region Region, d Date) bool {
	if d.IsWeekend() {
		return false
	}
	return cal == nil || !cal.IsHoliday(region, d)
}

// PriorBusinessDay returns the last business day strictly before d.
func PriorBusinessDay(cal HolidayCalendar, region Region, d Date) Date {
	prev := d.AddDays(-1)
	for !IsBusinessDay(cal, region, prev) {
		prev = prev.AddDays(-1)
	}
	return prev
}

// BusinessDays lists business days in [from, to].
func BusinessDays(cal HolidayCalendar, region Region, from, to Date) []Date {
	var out []Date
	for d := from; d.BeforeOrEqual(to); d = d.AddDays(1) {
		if IsBusinessDay(cal, region, d) {
			out = append(out, d)
		}
	}
	return out
}

// =============================================================================
// US FEDERAL HOLIDAYS
// =============================================================================

// USFederalHolidays returns the observed federal holidays of a year.
func USFederalHolidays(year int) []Holiday {
	fixed := func(m time.Month, day int, name string) Holiday {
		return Holiday{Date: observed(NewDate(year, m, day)), Name: name}
	}
	nth := func(m time.Month, wd time.Weekday, n int, name string) Holiday {
		return Holiday{Date: nthWeekday(year, m, wd, n), Name: name}
	}

	hs := []Holiday{
		fixed(time.January, 1, "New Year's Day"),
		nth(time.January, time.Monday, 3, "Martin Luther King Jr. Day"),
		nth(time.February, time.Monday, 3, "Washington's Birthday"),
		{Date: lastWeekday(year, time.May, time.Monday), Name: "Memorial Day"},
		fixed(time.July, 4, "Independence Day"),
		nth(time.September, time.Monday, 1, "Labor Day"),
		nth(time.October, time.Monday, 2, "Columbus Day"),
		fixed(time.November, 11, "Veterans Day"),
		nth(time.November, time.Thursday, 4, "Thanksgiving"),
		fixed(time.December, 25, "Christmas Day"),
	}
	if year >= 2021 {
		hs = append(hs, fixed(time.June, 19, "Juneteenth National Independence Day"))
	}
	for i := range hs {
		hs[i].ID = "us-" + hs[i].Date.String()
	}
	return hs
}

func observed(d Date) Date {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDays(-1)
	case time.Sunday:
		return d.AddDays(1)
	}
	return d
}

func nthWeekday(year int, m time.Month, wd time.Weekday, n int) Date {
	d := NewDate(year, m, 1)
	for d.Weekday() != wd {
		d = d.AddDays(1)
	}
	return d.AddDays(7 * (n - 1))
}

func lastWeekday(year int, m time.Month, wd time.Weekday) Date {
	d := NewDate(year, m+1, 1).AddDays(-1)
	for d.Weekday() != wd {
		d = d.AddDays(-1)
	}
	return d
}
