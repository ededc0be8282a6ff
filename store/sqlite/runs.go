package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/fund-etl/workflow"
)

// =============================================================================
// RUN HISTORY (workflow.RunStore interface)
// =============================================================================

const runColumns = `id, kind, status, params_json, created_at, started_at, ended_at,
	error, output_json, output_dropped, result_json`

// SaveRun inserts or replaces a run by id.
func (s *Store) SaveRun(ctx context.Context, r workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := marshalJSON(r.Params)
	if err != nil {
		return err
	}
	output, err := marshalJSON(r.Output)
	if err != nil {
		return err
	}
	result := sql.NullString{}
	if len(r.Result) > 0 {
		result = sql.NullString{String: string(r.Result), Valid: true}
	}

	query := `
		INSERT INTO workflows (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			params_json = excluded.params_json,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			error = excluded.error,
			output_json = excluded.output_json,
			output_dropped = excluded.output_dropped,
			result_json = excluded.result_json
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, string(r.Kind), string(r.Status), params, formatTime(r.CreatedAt),
		formatTimePtr(r.StartedAt), formatTimePtr(r.EndedAt),
		nullString(r.Error), output, r.OutputDropped, result,
	)
	return err
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM workflows WHERE id = ?", id)
	if err != nil {
		return workflow.Run{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return workflow.Run{}, err
		}
		return workflow.Run{}, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, id)
	}
	return scanRun(rows)
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := "SELECT " + runColumns + " FROM workflows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryRuns(ctx, query, args...)
}

// ListActiveRuns returns runs persisted as PENDING or RUNNING.
func (s *Store) ListActiveRuns(ctx context.Context) ([]workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRuns(ctx,
		"SELECT "+runColumns+" FROM workflows WHERE status IN (?, ?) ORDER BY created_at ASC",
		string(workflow.StatusPending), string(workflow.StatusRunning))
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]workflow.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []workflow.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (workflow.Run, error) {
	var r workflow.Run
	var kind, status, createdAt string
	var params, startedAt, endedAt, errMsg, output, result sql.NullString
	if err := rows.Scan(
		&r.ID, &kind, &status, &params, &createdAt, &startedAt, &endedAt,
		&errMsg, &output, &r.OutputDropped, &result,
	); err != nil {
		return r, err
	}

	r.Kind = workflow.Kind(kind)
	r.Status = workflow.Status(status)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.StartedAt = parseTimePtr(startedAt)
	r.EndedAt = parseTimePtr(endedAt)
	r.Error = errMsg.String
	if err := unmarshalJSON(params, &r.Params); err != nil {
		return r, err
	}
	if err := unmarshalJSON(output, &r.Output); err != nil {
		return r, err
	}
	if result.Valid && result.String != "" {
		r.Result = json.RawMessage(result.String)
	}
	return r, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(ns sql.NullString, v any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), v); err != nil {
		return errors.Join(errors.New("corrupt json column"), err)
	}
	return nil
}
