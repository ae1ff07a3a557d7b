package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/infco/internal/models"
)

// History repository errors.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrInvalidRun  = errors.New("invalid run")
)

// HistoryRepository persists runs and their task results.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// CreateRun inserts a run, assigning an ID and start time when unset.
func (r *HistoryRepository) CreateRun(ctx context.Context, run *models.Run) error {
	if run.HostsFile == "" || run.TasksFile == "" {
		return fmt.Errorf("%w: hosts and tasks files are required", ErrInvalidRun)
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, hosts_file, tasks_file, dry_run, status, hosts_matched, hosts_failed, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.HostsFile,
		run.TasksFile,
		run.DryRun,
		string(run.Status),
		run.HostsMatched,
		run.HostsFailed,
		nullString(run.Error),
		formatTime(run.StartedAt),
		formatTimePtr(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run.
func (r *HistoryRepository) FinishRun(ctx context.Context, run *models.Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, hosts_matched = ?, hosts_failed = ?, error = ?, finished_at = ?
		WHERE id = ?
	`,
		string(run.Status),
		run.HostsMatched,
		run.HostsFailed,
		nullString(run.Error),
		formatTimePtr(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// AddTaskResult records one task outcome for a run.
func (r *HistoryRepository) AddTaskResult(ctx context.Context, result *models.TaskResult) error {
	if result.RunID == "" {
		return fmt.Errorf("task result run id is required")
	}
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = time.Now().UTC()
	}

	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, result.RunID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRunNotFound
			}
			return fmt.Errorf("failed to look up run: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_results (
				id, run_id, host, task_index, task_type, status, output, error, started_at, duration_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.ID,
			result.RunID,
			result.Host,
			result.Index,
			string(result.Type),
			string(result.Status),
			nullString(result.Output),
			nullString(result.Error),
			formatTime(result.StartedAt),
			result.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert task result: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run by ID.
func (r *HistoryRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hosts_file, tasks_file, dry_run, status, hosts_matched, hosts_failed, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (r *HistoryRepository) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hosts_file, tasks_file, dry_run, status, hosts_matched, hosts_failed, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListTaskResults returns the task results of a run in execution order.
func (r *HistoryRepository) ListTaskResults(ctx context.Context, runID string) ([]*models.TaskResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, host, task_index, task_type, status, output, error, started_at, duration_ms
		FROM task_results WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	var results []*models.TaskResult
	for rows.Next() {
		var (
			result     models.TaskResult
			taskType   string
			status     string
			output     sql.NullString
			errText    sql.NullString
			startedAt  string
			durationMs int64
		)
		if err := rows.Scan(&result.ID, &result.RunID, &result.Host, &result.Index, &taskType, &status,
			&output, &errText, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		result.Type = models.TaskType(taskType)
		result.Status = models.TaskStatus(status)
		result.Output = output.String
		result.Error = errText.String
		result.StartedAt = parseTime(startedAt)
		result.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task results: %w", err)
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run        models.Run
		status     string
		errText    sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.HostsFile, &run.TasksFile, &run.DryRun, &status,
		&run.HostsMatched, &run.HostsFailed, &errText, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.Error = errText.String
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
