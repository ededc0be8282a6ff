package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/fund-etl/fund"
)

// =============================================================================
// FUND DATA (fund.Store interface)
// =============================================================================

var fundFields = fund.Fields()

func (s *Store) buildFundSQL() {
	names := make([]string, 0, len(fundFields))
	updates := make([]string, 0, len(fundFields)+1)
	for _, f := range fundFields {
		names = append(names, f.Name)
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", f.Name, f.Name))
	}
	updates = append(updates, "loaded_at = excluded.loaded_at")

	cols := "date, region, fund_code, " + strings.Join(names, ", ") + ", loaded_at"
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(fundFields)+4), ", ")

	s.insertSQL = fmt.Sprintf("INSERT INTO fund_data (%s) VALUES (%s)", cols, marks)
	s.upsertSQL = s.insertSQL + " ON CONFLICT(date, region, fund_code) DO UPDATE SET " + strings.Join(updates, ", ")
	s.selectSQL = fmt.Sprintf("SELECT date, region, fund_code, %s FROM fund_data", strings.Join(names, ", "))
}

func fundArgs(rec fund.FundRecord, loadedAt time.Time) []any {
	args := make([]any, 0, len(fundFields)+4)
	args = append(args, rec.Date.String(), string(rec.Region), rec.FundCode)
	for _, f := range fundFields {
		args = append(args, nullString(f.Display(&rec)))
	}
	return append(args, formatTime(loadedAt))
}

// LoadPartition returns every fund row for (region, date), ordered by code.
func (s *Store) LoadPartition(ctx context.Context, region fund.Region, date fund.Date) ([]fund.FundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.selectSQL+" WHERE date = ? AND region = ? ORDER BY fund_code",
		date.String(), string(region))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.FundRecord
	for rows.Next() {
		rec, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanFund(rows *sql.Rows) (fund.FundRecord, error) {
	var rec fund.FundRecord
	var dateStr, region string
	values := make([]sql.NullString, len(fundFields))
	dest := make([]any, 0, len(fundFields)+3)
	dest = append(dest, &dateStr, &region, &rec.FundCode)
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return rec, err
	}

	d, err := fund.ParseDate(dateStr)
	if err != nil {
		return rec, err
	}
	rec.Date, rec.Region = d, fund.Region(region)
	for i, f := range fundFields {
		f.Set(&rec, values[i].String)
	}
	return rec, nil
}

// Upsert inserts or replaces one row in its own transaction.
func (s *Store) Upsert(ctx context.Context, rec fund.FundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.upsertSQL, fundArgs(rec, time.Now())...)
		return err
	})
}

// ReplacePartition swaps the (region, date) partition in one transaction.
func (s *Store) ReplacePartition(ctx context.Context, region fund.Region, date fund.Date, records []fund.FundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadedAt := time.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM fund_data WHERE date = ? AND region = ?",
			date.String(), string(region)); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, s.insertSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			rec.Region, rec.Date = region, date
			if _, err := stmt.ExecContext(ctx, fundArgs(rec, loadedAt)...); err != nil {
				return fmt.Errorf("insert %s: %w", rec.Key(), err)
			}
		}
		return nil
	})
}

// LatestDateBefore returns the newest partition date before the given day.
func (s *Store) LatestDateBefore(ctx context.Context, region fund.Region, before fund.Date) (fund.Date, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(date) FROM fund_data WHERE region = ? AND date < ?",
		string(region), before.String()).Scan(&latest)
	if err != nil {
		return fund.Date{}, false, err
	}
	if !latest.Valid {
		return fund.Date{}, false, nil
	}
	d, err := fund.ParseDate(latest.String)
	if err != nil {
		return fund.Date{}, false, err
	}
	return d, true, nil
}

// ListDates returns partition dates in [from, to].
func (s *Store) ListDates(ctx context.Context, region fund.Region, from, to fund.Date) ([]fund.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT date FROM fund_data WHERE region = ? AND date BETWEEN ? AND ? ORDER BY date",
		string(region), from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.Date
	for rows.Next() {
		var ds string
		if err := rows.Scan(&ds); err != nil {
			return nil, err
		}
		d, err := fund.ParseDate(ds)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// LOAD LOG (fund.LoadLog interface)
// =============================================================================

func (s *Store) AppendLoadLog(ctx context.Context, e fund.LoadLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues, err := marshalJSON(e.Issues)
	if err != nil {
		return err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO etl_log (run_date, region, file_date, status, records_processed, issues_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunDate.String(), string(e.Region), nullString(e.FileDate.String()), string(e.Status),
		e.RecordsProcessed, issues, formatTime(created),
	)
	return err
}

func (s *Store) ListLoadLog(ctx context.Context, since fund.Date, limit int) ([]fund.LoadLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_date, region, file_date, status, records_processed, issues_json, created_at
		FROM etl_log
		WHERE run_date >= ?
		ORDER BY run_date DESC, id DESC
		LIMIT ?`, since.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.LoadLogEntry
	for rows.Next() {
		var e fund.LoadLogEntry
		var runDate, region, status, created string
		var fileDate, issues sql.NullString
		if err := rows.Scan(&e.ID, &runDate, &region, &fileDate, &status, &e.RecordsProcessed, &issues, &created); err != nil {
			return nil, err
		}
		e.RunDate, _ = fund.ParseDate(runDate)
		if fileDate.Valid {
			e.FileDate, _ = fund.ParseDate(fileDate.String)
		}
		e.Region = fund.Region(region)
		e.Status = fund.LoadStatus(status)
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		if err := unmarshalJSON(issues, &e.Issues); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

// AddHoliday saves a holiday. A second holiday on the same region and date is rejected.
func (s *Store) AddHoliday(ctx context.Context, h fund.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, region, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, string(h.Region), h.Date.String(), h.Name, h.Recurring, formatTime(time.Now()),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s %s", fund.ErrHolidayExists, h.Region, h.Date)
	}
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", fund.ErrHolidayMissing, id)
	}
	return nil
}

// ListHolidays returns all holidays (for admin UI).
func (s *Store) ListHolidays(ctx context.Context) ([]fund.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, region, date, name, recurring
		FROM holidays
		ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []fund.Holiday
	for rows.Next() {
		var h fund.Holiday
		var region, dateStr string
		if err := rows.Scan(&h.ID, &region, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Region = fund.Region(region)
		h.Date, _ = fund.ParseDate(dateStr)
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// IsHoliday checks the holidays table for region (or all regions) on date.
func (s *Store) IsHoliday(region fund.Region, date fund.Date) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COUNT(*) FROM holidays
		WHERE (region = ? OR region = '')
		  AND (
			(recurring = FALSE AND date = ?)
			OR (recurring = TRUE AND strftime('%m-%d', date) = ?)
		  )
	`

	var count int
	monthDay := fmt.Sprintf("%02d-%02d", int(date.Month), date.Day)
	err := s.db.QueryRow(query, string(region), date.String(), monthDay).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}
