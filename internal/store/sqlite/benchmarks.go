package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// BenchmarkStore implements store.BenchmarkStore using SQLite.
type BenchmarkStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *BenchmarkStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// CreateRun creates a new benchmark run record.
func (s *BenchmarkStore) CreateRun(ctx context.Context, run *models.BenchmarkRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO benchmark_runs (id, suite, status, tasks, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn().ExecContext(ctx, query,
		run.ID, run.Suite, string(run.Status), run.Tasks, run.Error,
		run.CreatedAt, nullTime(run.StartedAt), nullTime(run.FinishedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("inserting benchmark run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *BenchmarkStore) GetRun(ctx context.Context, id string) (*models.BenchmarkRun, error) {
	query := `
		SELECT id, suite, status, tasks, error, created_at, started_at, finished_at
		FROM benchmark_runs WHERE id = ?`

	row := s.conn().QueryRowContext(ctx, query, id)
	run, err := scanBenchmarkRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying benchmark run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent runs, newest first.
func (s *BenchmarkStore) ListRuns(ctx context.Context, limit int) ([]*models.BenchmarkRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, suite, status, tasks, error, created_at, started_at, finished_at
		FROM benchmark_runs
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.conn().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying benchmark runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BenchmarkRun
	for rows.Next() {
		run, err := scanBenchmarkRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning benchmark run row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating benchmark run rows: %w", err)
	}

	return runs, nil
}

// UpdateRun updates an existing run.
func (s *BenchmarkStore) UpdateRun(ctx context.Context, run *models.BenchmarkRun) error {
	query := `
		UPDATE benchmark_runs
		SET status = ?, tasks = ?, error = ?, started_at = ?, finished_at = ?
		WHERE id = ?`

	res, err := s.conn().ExecContext(ctx, query,
		string(run.Status), run.Tasks, run.Error,
		nullTime(run.StartedAt), nullTime(run.FinishedAt), run.ID)
	if err != nil {
		return fmt.Errorf("updating benchmark run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// CreateResult persists a single task result.
func (s *BenchmarkStore) CreateResult(ctx context.Context, result *models.BenchmarkResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO benchmark_results (id, run_id, task_name, attempt, success, duration_ns, score, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn().ExecContext(ctx, query,
		result.ID, result.RunID, result.TaskName, result.Attempt,
		result.Success, int64(result.Duration), result.Score, result.Error,
		result.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting benchmark result: %w", err)
	}

	return nil
}

// ListResults retrieves all results for a run.
func (s *BenchmarkStore) ListResults(ctx context.Context, runID string) ([]*models.BenchmarkResult, error) {
	query := `
		SELECT id, run_id, task_name, attempt, success, duration_ns, score, error, created_at
		FROM benchmark_results
		WHERE run_id = ?
		ORDER BY created_at`

	rows, err := s.conn().QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying benchmark results: %w", err)
	}
	defer rows.Close()

	var results []*models.BenchmarkResult
	for rows.Next() {
		result := &models.BenchmarkResult{}
		var durationNs int64
		if err := rows.Scan(
			&result.ID, &result.RunID, &result.TaskName, &result.Attempt,
			&result.Success, &durationNs, &result.Score, &result.Error,
			&result.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning benchmark result row: %w", err)
		}
		result.Duration = time.Duration(durationNs)
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating benchmark result rows: %w", err)
	}

	return results, nil
}

// scanBenchmarkRun scans a benchmark run from a row scan function.
func scanBenchmarkRun(scan func(dest ...any) error) (*models.BenchmarkRun, error) {
	run := &models.BenchmarkRun{}
	var status string
	var startedAt, finishedAt sql.NullTime

	err := scan(
		&run.ID, &run.Suite, &status, &run.Tasks, &run.Error,
		&run.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = models.BenchmarkStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	return run, nil
}
