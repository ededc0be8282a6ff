package etl

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warp/fund-etl/fund"
)

// =============================================================================
// DATASET SOURCES
// =============================================================================

// DirSource reads feeds exported as CSV into one directory, named
// "<region>_<feed>.csv" in lower case (amrs_daily.csv, emea_lookback.csv).
type DirSource struct {
	Dir string
}

// Path returns the file DirSource reads for region and feed.
func (s DirSource) Path(region fund.Region, feed fund.Feed) string {
	name := fmt.Sprintf("%s_%s.csv", strings.ToLower(string(region)), feed)
	return filepath.Join(s.Dir, name)
}

func (s DirSource) Fetch(ctx context.Context, region fund.Region, feed fund.Feed) (*fund.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(region, feed)
	f, err := os.Open(path)
	if err != nil {
		return nil, &fund.SourceUnavailableError{Region: region, Feed: feed, Err: err}
	}
	defer f.Close()

	ds, err := ReadCSV(f)
	if err != nil {
		return nil, &fund.SourceUnavailableError{Region: region, Feed: feed, Err: fmt.Errorf("%s: %w", path, err)}
	}
	return ds, nil
}

// ReadCSV reads a header row followed by data rows. Ragged rows are kept
// as they are; the dataset checks deal with short rows.
func ReadCSV(r io.Reader) (*fund.Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &fund.Dataset{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	ds := &fund.Dataset{Columns: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// SourceFunc adapts a function to fund.Source.
type SourceFunc func(ctx context.Context, region fund.Region, feed fund.Feed) (*fund.Dataset, error)

func (f SourceFunc) Fetch(ctx context.Context, region fund.Region, feed fund.Feed) (*fund.Dataset, error) {
	return f(ctx, region, feed)
}

// RetrySource retries a failing source with a fixed delay between attempts.
type RetrySource struct {
	Source   fund.Source
	Attempts int
	Delay    time.Duration
}

func (s RetrySource) Fetch(ctx context.Context, region fund.Region, feed fund.Feed) (*fund.Dataset, error) {
	attempts := max(s.Attempts, 1)
	var err error
	for i := 1; i <= attempts; i++ {
		var ds *fund.Dataset
		ds, err = s.Source.Fetch(ctx, region, feed)
		if err == nil {
			return ds, nil
		}
		if i == attempts {
			break
		}
		log.Printf("[Source] %s %s attempt %d/%d failed: %v", region, feed, i, attempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	var unavailable *fund.SourceUnavailableError
	if errors.As(err, &unavailable) {
		return nil, err
	}
	return nil, &fund.SourceUnavailableError{Region: region, Feed: feed, Err: err}
}
