/*
Package reconcile validates stored fund data against the lookback feed.

PURPOSE:
  Compare (compare.go) classifies one stored/lookback pair.
  Engine (engine.go) drives it across a region's lookback batch and
  produces a Report. BuildPlan (plan.go) turns reports into writes under
  an UpdateMode and Applier (apply.go) performs them.

READ/WRITE SPLIT:
  Compare and Engine never write. Only Applier touches fund.Writer, and
  only in transactions scoped to one row or one partition.

SEE ALSO:
  - fund/store.go:        Reader/Writer contracts
  - etl/validate.go:      The workflow that runs all of this
*/
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/fund-etl/fund"
)

// =============================================================================
// UPDATE MODE
// =============================================================================

// UpdateMode selects how flagged data is rewritten.
type UpdateMode string

const (
	// ModeSelective rewrites only rows with a material change.
	ModeSelective UpdateMode = "selective"

	// ModeFull replaces every region's partition for a date with any flagged row.
	ModeFull UpdateMode = "full"
)

var (
	ErrInvalidMode   = errors.New("invalid update mode")
	ErrInvalidConfig = errors.New("invalid reconciliation config")
)

// ParseMode accepts "selective" or "full". Empty means selective.
func ParseMode(s string) (UpdateMode, error) {
	switch UpdateMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSelective:
		return ModeSelective, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("%w: %q (want selective or full)", ErrInvalidMode, s)
}

// =============================================================================
// CONFIG
// =============================================================================

// DefaultCriticalFields are the fields whose drift can force a rewrite.
var DefaultCriticalFields = []string{
	"share_class_assets",
	"portfolio_assets",
	"one_day_yield",
	"seven_day_yield",
}

const (
	DefaultThresholdPercent = 5.0
	DefaultEpsilon          = 1e-9
	DefaultWorkers          = 4
)

// Options are the raw settings a Config is built from.
type Options struct {
	ThresholdPercent float64
	CriticalFields   []string
	Mode             UpdateMode
	Epsilon          float64
	Workers          int
}

// Config is the validated reconciliation configuration.
// Built once at startup and shared read-only.
type Config struct {
	threshold decimal.Decimal
	epsilon   decimal.Decimal
	critical  map[string]bool
	mode      UpdateMode
	workers   int
}

// NewConfig validates opts. Zero epsilon and workers take defaults.
func NewConfig(opts Options) (*Config, error) {
	if opts.ThresholdPercent < 0 {
		return nil, fmt.Errorf("%w: threshold_percent must be >= 0, got %v", ErrInvalidConfig, opts.ThresholdPercent)
	}
	if len(opts.CriticalFields) == 0 {
		return nil, fmt.Errorf("%w: critical_fields is empty", ErrInvalidConfig)
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}

	critical := make(map[string]bool, len(opts.CriticalFields))
	for _, name := range opts.CriticalFields {
		f, ok := fund.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidConfig, fund.ErrUnknownField, name)
		}
		if f.Kind != fund.KindNumeric {
			return nil, fmt.Errorf("%w: critical field %q is not numeric", ErrInvalidConfig, name)
		}
		critical[name] = true
	}

	eps := opts.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Config{
		threshold: decimal.NewFromFloat(opts.ThresholdPercent),
		epsilon:   decimal.NewFromFloat(eps),
		critical:  critical,
		mode:      mode,
		workers:   workers,
	}, nil
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	cfg, err := NewConfig(Options{
		ThresholdPercent: DefaultThresholdPercent,
		CriticalFields:   DefaultCriticalFields,
		Mode:             ModeSelective,
	})
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Threshold() decimal.Decimal { return c.threshold }
func (c *Config) Epsilon() decimal.Decimal   { return c.epsilon }
func (c *Config) Mode() UpdateMode           { return c.mode }
func (c *Config) Workers() int               { return c.workers }

// IsCritical reports membership in the critical-field set.
func (c *Config) IsCritical(field string) bool {
	return c.critical[field]
}

// CriticalFields returns the critical set, sorted.
func (c *Config) CriticalFields() []string {
	out := make([]string, 0, len(c.critical))
	for name := range c.critical {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
