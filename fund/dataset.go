/*
dataset.go - Raw tabular feeds and their conversion to FundRecords

PURPOSE:
  A dataset source delivers a Dataset: header row plus string cells, the
  shape of a spreadsheet export. ParseDataset turns it into FundRecords
  keyed by (region, date, fund_code), after CheckDataset has vetted it.

DISAMBIGUATION:
  Fund codes are not unique in the feed (share classes reported under the
  same "#MULTIVALUE" code). Within one (region, date) every occurrence of
  a repeated code is renamed <code>_<n>, n counting from 1 in source
  order, so the suffix is stable across reloads of the same feed.

SEE ALSO:
  - etl/source.go: Source implementations
  - types.go:      Field registry used to map columns
*/
package fund

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Feed distinguishes the single-day feed from the trailing lookback feed.
type Feed string

const (
	FeedDaily    Feed = "daily"
	FeedLookback Feed = "lookback"
)

// LookbackDays is the span of the lookback feed.
const LookbackDays = 30

// Dataset is a tabular feed as delivered by a source.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// Source fetches one region's feed. Retry policy belongs to the caller.
type Source interface {
	Fetch(ctx context.Context, region Region, feed Feed) (*Dataset, error)
}

func (ds *Dataset) columnIndex() map[string]int {
	idx := make(map[string]int, len(ds.Columns))
	for i, c := range ds.Columns {
		c = strings.TrimSpace(c)
		if _, dup := idx[c]; !dup {
			idx[c] = i
		}
	}
	return idx
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// =============================================================================
// QUALITY CHECKS
// =============================================================================

// CheckResult lists quality issues. Fatal issues make the dataset unusable.
type CheckResult struct {
	Issues []string `json:"issues"`
	Fatal  bool     `json:"fatal"`
}

func (c *CheckResult) add(format string, args ...any) {
	c.Issues = append(c.Issues, fmt.Sprintf(format, args...))
}

// MaxMissingTickerRatio is the share of AMRS rows allowed without a NASDAQ ticker.
const MaxMissingTickerRatio = 0.10

// CheckDataset inspects a dataset before parsing.
func CheckDataset(region Region, ds *Dataset) CheckResult {
	var res CheckResult
	if ds == nil || len(ds.Rows) == 0 {
		res.add("dataset is empty")
		res.Fatal = true
		return res
	}

	idx := ds.columnIndex()
	for _, key := range []string{ColumnDate, ColumnFundCode} {
		if _, ok := idx[key]; !ok {
			res.add("missing key column %q", key)
			res.Fatal = true
		}
	}
	if res.Fatal {
		return res
	}

	var missing []string
	for _, col := range ExpectedColumns() {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		res.add("missing columns: %s", strings.Join(missing, ", "))
	}

	lookup := func(col string) int {
		if i, ok := idx[col]; ok {
			return i
		}
		return -1
	}
	dateCol, codeCol := lookup(ColumnDate), lookup(ColumnFundCode)
	nullChecked := []string{ColumnDate, ColumnFundCode, "Fund Name", "Currency"}
	nulls := make(map[string]int)
	seen := make(map[string]int)
	blank, rows, noTicker := 0, 0, 0
	tickerCol := lookup("NASDAQ")

	for _, row := range ds.Rows {
		if blankRow(row) {
			blank++
			continue
		}
		rows++
		for _, col := range nullChecked {
			if i := lookup(col); i >= 0 {
				if v := cell(row, i); v == "" || v == NoValue {
					nulls[col]++
				}
			}
		}
		if code := cell(row, codeCol); code != "" {
			seen[cell(row, dateCol)+"\x00"+code]++
		}
		if tickerCol >= 0 {
			if v := cell(row, tickerCol); v == "" || v == NoValue {
				noTicker++
			}
		}
	}

	if blank > 0 {
		res.add("dropped %d empty rows", blank)
	}
	if rows == 0 {
		res.add("dataset has no data rows")
		res.Fatal = true
		return res
	}
	dups := 0
	for _, n := range seen {
		if n > 1 {
			dups += n
		}
	}
	if dups > 0 {
		res.add("found %d rows with duplicate fund codes", dups)
	}
	for _, col := range nullChecked {
		if n := nulls[col]; n > 0 {
			res.add("column %q has %d null values", col, n)
		}
	}
	if region == RegionAMRS && tickerCol >= 0 {
		if ratio := float64(noTicker) / float64(rows); ratio > MaxMissingTickerRatio {
			res.add("%.1f%% of AMRS funds missing NASDAQ ticker", ratio*100)
		}
	}
	return res
}

// =============================================================================
// PARSING
// =============================================================================

// ParseResult holds the records of a parsed dataset and everything dropped on the way.
type ParseResult struct {
	Records []FundRecord `json:"-"`
	Issues  []string     `json:"issues,omitempty"`
	Dropped int          `json:"dropped"`
}

// ParseDataset converts a dataset into FundRecords for a region.
// A fatal quality issue returns ErrInvalidDataset.
func ParseDataset(region Region, ds *Dataset) (*ParseResult, error) {
	check := CheckDataset(region, ds)
	if check.Fatal {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidDataset, region, strings.Join(check.Issues, "; "))
	}

	idx := ds.columnIndex()
	dateCol, codeCol := idx[ColumnDate], idx[ColumnFundCode]
	fields := make([]Field, 0, len(registry))
	cols := make([]int, 0, len(registry))
	for _, f := range registry {
		if i, ok := idx[f.Column]; ok {
			fields = append(fields, f)
			cols = append(cols, i)
		}
	}

	res := &ParseResult{Issues: check.Issues}
	for n, row := range ds.Rows {
		if blankRow(row) {
			continue
		}
		d, err := ParseDate(cell(row, dateCol))
		if err != nil {
			res.Dropped++
			res.Issues = append(res.Issues, fmt.Sprintf("row %d: %v", n+1, err))
			continue
		}
		code := NormalizeText(cell(row, codeCol))
		if code == "" || code == NoValue {
			res.Dropped++
			res.Issues = append(res.Issues, fmt.Sprintf("row %d: missing fund code", n+1))
			continue
		}

		rec := FundRecord{Region: region, Date: d, FundCode: code}
		for i, f := range fields {
			f.Set(&rec, cell(row, cols[i]))
		}
		res.Records = append(res.Records, rec)
	}

	disambiguate(res.Records)
	return res, nil
}

// disambiguate renames repeated fund codes within each date to <code>_<n>.
func disambiguate(records []FundRecord) {
	type dayCode struct {
		date Date
		code string
	}
	counts := make(map[dayCode]int)
	for _, r := range records {
		counts[dayCode{r.Date, r.FundCode}]++
	}
	ordinal := make(map[dayCode]int)
	for i := range records {
		k := dayCode{records[i].Date, records[i].FundCode}
		if counts[k] < 2 {
			continue
		}
		ordinal[k]++
		records[i].FundCode = fmt.Sprintf("%s_%d", k.code, ordinal[k])
	}
}

// =============================================================================
// GROUPING
// =============================================================================

// GroupByDate buckets records by their date.
func GroupByDate(records []FundRecord) map[Date][]FundRecord {
	out := make(map[Date][]FundRecord)
	for _, r := range records {
		out[r.Date] = append(out[r.Date], r)
	}
	return out
}

// SortedDates returns the keys of a date grouping in ascending order.
func SortedDates[T any](groups map[Date]T) []Date {
	dates := make([]Date, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// IndexByCode maps fund code to record. Codes are assumed disambiguated.
func IndexByCode(records []FundRecord) map[string]FundRecord {
	out := make(map[string]FundRecord, len(records))
	for _, r := range records {
		out[r.FundCode] = r
	}
	return out
}

// SortByCode orders records by fund code in place.
func SortByCode(records []FundRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].FundCode < records[j].FundCode })
}
