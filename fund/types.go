/*
Package fund defines the daily money-market fund snapshot model.

PURPOSE:
  Everything the reconciliation and workflow layers need to talk about
  fund data lives here: the FundRecord itself, the calendar Date used as
  a partition key, the Region of the source feed, and the field registry
  that lets the comparator walk a record field by field without
  reflection.

KEY CONCEPTS IN THIS FILE (types.go):
  - Region:      Source feed region (AMRS, EMEA)
  - Date:        Calendar day, comparable, usable as a map key
  - FundRecord:  One (region, date, fund_code) observation
  - RecordKey:   The storage key of a FundRecord
  - Field:       Typed accessor for one business field

NUMERIC VALUES:
  Numeric fields are decimal.NullDecimal. A dash, an empty cell or an
  unparseable cell is "no value" (Valid=false), never zero. Zero is a
  legitimate yield.

TEXT VALUES:
  Text fields are trimmed and NFC-normalised on ingest so that two
  renderings of the same fund name compare equal.

SEE ALSO:
  - dataset.go: Turning a raw tabular dataset into FundRecords
  - store.go:   Storage reader/writer contracts
  - reconcile/compare.go: Field-by-field comparison
*/
package fund

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// REGION
// =============================================================================

// Region identifies the source feed a record came from.
type Region string

const (
	RegionAMRS Region = "AMRS"
	RegionEMEA Region = "EMEA"
)

// Regions lists every region the pipeline loads, in processing order.
var Regions = []Region{RegionAMRS, RegionEMEA}

// ParseRegion accepts a region name in any case.
func ParseRegion(s string) (Region, error) {
	switch Region(strings.ToUpper(strings.TrimSpace(s))) {
	case RegionAMRS:
		return RegionAMRS, nil
	case RegionEMEA:
		return RegionEMEA, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRegion, s)
}

// =============================================================================
// DATE - Calendar day used as the partition key
// =============================================================================

// DateLayout is the canonical text form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate normalises out-of-range values the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current calendar day in UTC.
func Today() Date {
	return DateOf(time.Now().UTC())
}

var dateLayouts = []string{
	DateLayout,
	"1/2/2006",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDate accepts ISO dates, US month/day/year dates and timestamps.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// MustParseDate panics on malformed input. Intended for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(DateLayout)
}

func (d Date) IsZero() bool                  { return d == Date{} }
func (d Date) AddDays(n int) Date            { return DateOf(d.Time().AddDate(0, 0, n)) }
func (d Date) Before(other Date) bool        { return d.Time().Before(other.Time()) }
func (d Date) After(other Date) bool         { return d.Time().After(other.Time()) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) Weekday() time.Weekday         { return d.Time().Weekday() }

// IsWeekend reports whether d is a Saturday or Sunday.
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// MarshalText renders the canonical layout so Date works as a JSON value and map key.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// FUND RECORD
// =============================================================================

// RecordKey is the storage identity of a FundRecord.
type RecordKey struct {
	Region   Region `json:"region"`
	Date     Date   `json:"date"`
	FundCode string `json:"fund_code"`
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Region, k.Date, k.FundCode)
}

// PartitionKey identifies every record of one region on one day.
type PartitionKey struct {
	Region Region `json:"region"`
	Date   Date   `json:"date"`
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%s", k.Region, k.Date)
}

// FundRecord is one daily observation of a fund share class.
type FundRecord struct {
	Region   Region `json:"region"`
	Date     Date   `json:"date"`
	FundCode string `json:"fund_code"`

	FundName            string `json:"fund_name"`
	MasterClassFundName string `json:"master_class_fund_name"`
	Rating              string `json:"rating"`
	UniqueIdentifier    string `json:"unique_identifier"`
	NASDAQ              string `json:"nasdaq"`
	FundComplex         string `json:"fund_complex"`
	SubCategory         string `json:"subcategory"`
	Domicile            string `json:"domicile"`
	Currency            string `json:"currency"`

	ShareClassAssets   decimal.NullDecimal `json:"share_class_assets"`
	PortfolioAssets    decimal.NullDecimal `json:"portfolio_assets"`
	OneDayYield        decimal.NullDecimal `json:"one_day_yield"`
	OneDayGrossYield   decimal.NullDecimal `json:"one_day_gross_yield"`
	SevenDayYield      decimal.NullDecimal `json:"seven_day_yield"`
	SevenDayGrossYield decimal.NullDecimal `json:"seven_day_gross_yield"`
	ExpenseRatio       decimal.NullDecimal `json:"expense_ratio"`
	WAM                decimal.NullDecimal `json:"wam"`
	WAL                decimal.NullDecimal `json:"wal"`
	DailyLiquidity     decimal.NullDecimal `json:"daily_liquidity"`
	WeeklyLiquidity    decimal.NullDecimal `json:"weekly_liquidity"`

	TransactionalNAV string `json:"transactional_nav"`
	MarketNAV        string `json:"market_nav"`
	Fees             string `json:"fees"`
	Gates            string `json:"gates"`
}

func (r FundRecord) Key() RecordKey {
	return RecordKey{Region: r.Region, Date: r.Date, FundCode: r.FundCode}
}

func (r FundRecord) Partition() PartitionKey {
	return PartitionKey{Region: r.Region, Date: r.Date}
}

// WithDate returns a copy of r re-keyed to another day (weekend and carry-forward copies).
func (r FundRecord) WithDate(d Date) FundRecord {
	r.Date = d
	return r
}

// =============================================================================
// FIELD REGISTRY
// =============================================================================

// FieldKind distinguishes numeric fields, which can drive updates, from text fields.
type FieldKind int

const (
	KindText FieldKind = iota
	KindNumeric
)

func (k FieldKind) String() string {
	if k == KindNumeric {
		return "numeric"
	}
	return "text"
}

// Field is a typed accessor for one business field of a FundRecord.
type Field struct {
	Name   string    // canonical column name in storage
	Column string    // header in the source dataset
	Kind   FieldKind

	text func(*FundRecord) *string
	num  func(*FundRecord) *decimal.NullDecimal
}

// Text returns the value of a text field.
func (f Field) Text(r *FundRecord) string {
	if f.text == nil {
		return ""
	}
	return *f.text(r)
}

// Number returns the value of a numeric field.
func (f Field) Number(r *FundRecord) decimal.NullDecimal {
	if f.num == nil {
		return decimal.NullDecimal{}
	}
	return *f.num(r)
}

// Set parses a raw cell into the field.
func (f Field) Set(r *FundRecord, raw string) {
	switch f.Kind {
	case KindNumeric:
		*f.num(r) = ParseNumber(raw)
	default:
		*f.text(r) = NormalizeText(raw)
	}
}

// SetNumber assigns a numeric field directly.
func (f Field) SetNumber(r *FundRecord, v decimal.NullDecimal) {
	if f.num != nil {
		*f.num(r) = v
	}
}

// Display renders the field value for reports. Missing numbers render as "".
func (f Field) Display(r *FundRecord) string {
	if f.Kind == KindNumeric {
		return FormatNumber(f.Number(r))
	}
	return f.Text(r)
}

func textField(name, column string, get func(*FundRecord) *string) Field {
	return Field{Name: name, Column: column, Kind: KindText, text: get}
}

func numField(name, column string, get func(*FundRecord) *decimal.NullDecimal) Field {
	return Field{Name: name, Column: column, Kind: KindNumeric, num: get}
}

// Source column headers for the key columns.
const (
	ColumnDate     = "Date"
	ColumnFundCode = "Fund Code"
)

var registry = []Field{
	textField("fund_name", "Fund Name", func(r *FundRecord) *string { return &r.FundName }),
	textField("master_class_fund_name", "Master Class Fund Name", func(r *FundRecord) *string { return &r.MasterClassFundName }),
	textField("rating", "Rating (M/S&P/F)", func(r *FundRecord) *string { return &r.Rating }),
	textField("unique_identifier", "Unique Identifier", func(r *FundRecord) *string { return &r.UniqueIdentifier }),
	textField("nasdaq", "NASDAQ", func(r *FundRecord) *string { return &r.NASDAQ }),
	textField("fund_complex", "Fund Complex (Historical)", func(r *FundRecord) *string { return &r.FundComplex }),
	textField("subcategory", "SubCategory Historical", func(r *FundRecord) *string { return &r.SubCategory }),
	textField("domicile", "Domicile", func(r *FundRecord) *string { return &r.Domicile }),
	textField("currency", "Currency", func(r *FundRecord) *string { return &r.Currency }),
	numField("share_class_assets", "Share Class Assets (dly/$mils)", func(r *FundRecord) *decimal.NullDecimal { return &r.ShareClassAssets }),
	numField("portfolio_assets", "Portfolio Assets (dly/$mils)", func(r *FundRecord) *decimal.NullDecimal { return &r.PortfolioAssets }),
	numField("one_day_yield", "1-DSY (dly)", func(r *FundRecord) *decimal.NullDecimal { return &r.OneDayYield }),
	numField("one_day_gross_yield", "1-GDSY (dly)", func(r *FundRecord) *decimal.NullDecimal { return &r.OneDayGrossYield }),
	numField("seven_day_yield", "7-DSY (dly)", func(r *FundRecord) *decimal.NullDecimal { return &r.SevenDayYield }),
	numField("seven_day_gross_yield", "7-GDSY (dly)", func(r *FundRecord) *decimal.NullDecimal { return &r.SevenDayGrossYield }),
	numField("expense_ratio", "Chgd Expense Ratio (mo/dly)", func(r *FundRecord) *decimal.NullDecimal { return &r.ExpenseRatio }),
	numField("wam", "WAM (dly)", func(r *FundRecord) *decimal.NullDecimal { return &r.WAM }),
	numField("wal", "WAL (dly)", func(r *FundRecord) *decimal.NullDecimal { return &r.WAL }),
	textField("transactional_nav", "Transactional NAV", func(r *FundRecord) *string { return &r.TransactionalNAV }),
	textField("market_nav", "Market NAV", func(r *FundRecord) *string { return &r.MarketNAV }),
	numField("daily_liquidity", "Daily Liquidity (%)", func(r *FundRecord) *decimal.NullDecimal { return &r.DailyLiquidity }),
	numField("weekly_liquidity", "Weekly Liquidity (%)", func(r *FundRecord) *decimal.NullDecimal { return &r.WeeklyLiquidity }),
	textField("fees", "Fees", func(r *FundRecord) *string { return &r.Fees }),
	textField("gates", "Gates", func(r *FundRecord) *string { return &r.Gates }),
}

// Fields returns the business fields in storage column order.
func Fields() []Field {
	out := make([]Field, len(registry))
	copy(out, registry)
	return out
}

// FieldByName looks a field up by its canonical name.
func FieldByName(name string) (Field, bool) {
	for _, f := range registry {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByColumn looks a field up by its source header.
func FieldByColumn(column string) (Field, bool) {
	column = strings.TrimSpace(column)
	for _, f := range registry {
		if f.Column == column {
			return f, true
		}
	}
	return Field{}, false
}

// ExpectedColumns lists every header a complete source dataset carries.
func ExpectedColumns() []string {
	cols := []string{ColumnDate, ColumnFundCode}
	for _, f := range registry {
		cols = append(cols, f.Column)
	}
	return cols
}

// =============================================================================
// VALUE PARSING
// =============================================================================

// NoValue is the sentinel the source uses for a missing figure.
const NoValue = "-"

// ParseNumber converts a raw cell to a nullable decimal.
// Dashes, blanks and unparseable cells are "no value".
func ParseNumber(raw string) decimal.NullDecimal {
	s := strings.TrimSpace(raw)
	if s == "" || s == NoValue {
		return decimal.NullDecimal{}
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// FormatNumber is the inverse of ParseNumber for display and storage.
func FormatNumber(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}

// NormalizeText trims and NFC-normalises a text cell.
func NormalizeText(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}
