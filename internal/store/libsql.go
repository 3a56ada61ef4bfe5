package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/restprobe/restprobe/pkg/contract"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *contract.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, suite_name, status, passed, failed, errored, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SuiteName, string(run.Status),
		run.Passed, run.Failed, run.Errored,
		timeOrNow(run.StartedAt), nullTime(run.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*contract.Run, error) {
	run := &contract.Run{}
	var status string
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, suite_name, status, passed, failed, errored, started_at, completed_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.SuiteName, &status, &run.Passed, &run.Failed, &run.Errored,
		&run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.Status = contract.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// CompleteRun persists the terminal state and counters of a run.
func (s *LibSQLStore) CompleteRun(ctx context.Context, run *contract.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, passed = ?, failed = ?, errored = ?, completed_at = ?
		 WHERE id = ?`,
		string(run.Status), run.Passed, run.Failed, run.Errored, nullTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*contract.Run, error) {
	var where []string
	var args []any

	if filter.SuiteName != "" {
		where = append(where, "suite_name = ?")
		args = append(args, filter.SuiteName)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, suite_name, status, passed, failed, errored, started_at, completed_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*contract.Run
	for rows.Next() {
		run := &contract.Run{}
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.SuiteName, &status, &run.Passed, &run.Failed,
			&run.Errored, &run.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Status = contract.RunStatus(status)
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Case results ---

func (s *LibSQLStore) SaveCaseResult(ctx context.Context, result *contract.CaseResult) error {
	violations, err := nullableJSONSlice(result.Violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	captures, err := nullableJSONMap(result.Captures)
	if err != nil {
		return fmt.Errorf("marshal captures: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_results (run_id, case_id, status, status_code, attempts, duration_ms, violations, captures, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.CaseID, string(result.Status),
		nullInt(result.StatusCode), result.Attempts, result.DurationMs,
		violations, captures, nullStr(result.Error),
	)
	return err
}

func (s *LibSQLStore) ListCaseResults(ctx context.Context, runID string) ([]*contract.CaseResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, case_id, status, status_code, attempts, duration_ms, violations, captures, error
		 FROM case_results WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*contract.CaseResult
	for rows.Next() {
		r := &contract.CaseResult{}
		var status string
		var statusCode sql.NullInt64
		var violations, captures, errMsg sql.NullString
		if err := rows.Scan(&r.RunID, &r.CaseID, &status, &statusCode, &r.Attempts,
			&r.DurationMs, &violations, &captures, &errMsg); err != nil {
			return nil, err
		}
		r.Status = contract.CaseStatus(status)
		r.StatusCode = int(statusCode.Int64)
		r.Error = errMsg.String
		if violations.Valid && violations.String != "" {
			if err := json.Unmarshal([]byte(violations.String), &r.Violations); err != nil {
				return nil, fmt.Errorf("unmarshal violations: %w", err)
			}
		}
		if captures.Valid && captures.String != "" {
			if err := json.Unmarshal([]byte(captures.String), &r.Captures); err != nil {
				return nil, fmt.Errorf("unmarshal captures: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Scheduled probes ---

func (s *LibSQLStore) CreateScheduledProbe(ctx context.Context, probe *ScheduledProbe) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_probes (id, suite_path, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		probe.ID, probe.SuitePath, probe.CronExpression, probe.Enabled,
		nullTime(probe.LastRunAt), nullTime(probe.NextRunAt), nullStr(probe.LastRunStatus),
		timeOrNow(probe.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledProbe(ctx context.Context, id string) (*ScheduledProbe, error) {
	probe := &ScheduledProbe{}
	var lastRunAt, nextRunAt sql.NullTime
	var lastRunStatus sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, suite_path, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_probes WHERE id = ?`, id,
	).Scan(&probe.ID, &probe.SuitePath, &probe.CronExpression, &probe.Enabled,
		&lastRunAt, &nextRunAt, &lastRunStatus, &probe.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled probe", id)
	}
	if err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		probe.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		probe.NextRunAt = &nextRunAt.Time
	}
	probe.LastRunStatus = lastRunStatus.String
	return probe, nil
}

func (s *LibSQLStore) UpdateScheduledProbe(ctx context.Context, id string, update ScheduledProbeUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_probes SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled probe", id)
}

func (s *LibSQLStore) ListScheduledProbes(ctx context.Context, filter ScheduledProbeFilter) ([]*ScheduledProbe, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	query := `SELECT id, suite_path, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_probes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var probes []*ScheduledProbe
	for rows.Next() {
		probe := &ScheduledProbe{}
		var lastRunAt, nextRunAt sql.NullTime
		var lastRunStatus sql.NullString
		if err := rows.Scan(&probe.ID, &probe.SuitePath, &probe.CronExpression, &probe.Enabled,
			&lastRunAt, &nextRunAt, &lastRunStatus, &probe.CreatedAt); err != nil {
			return nil, err
		}
		if lastRunAt.Valid {
			probe.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			probe.NextRunAt = &nextRunAt.Time
		}
		probe.LastRunStatus = lastRunStatus.String
		probes = append(probes, probe)
	}
	return probes, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledProbe(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_probes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled probe", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *contract.ProbeError {
	return contract.NewErrorf(contract.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullableJSONSlice(s []string) (any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableJSONMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Store = (*LibSQLStore)(nil)
