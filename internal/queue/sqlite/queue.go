// Package sqlite provides a SQLite-backed implementation of the benchmark queue.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/queue"
)

// SQLiteQueue implements queue.Queue using SQLite.
// The claim is transactional; SQLite's writer lock serializes concurrent
// dequeues, so SKIP LOCKED is not needed.
type SQLiteQueue struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteQueue creates a new SQLite-backed queue over an existing database.
func NewSQLiteQueue(db *sql.DB, logger *slog.Logger) *SQLiteQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteQueue{
		db:     db,
		logger: logger,
	}
}

// Enqueue adds a new benchmark job to the queue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, job *models.BenchmarkJob) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job to JSON: %w", err)
	}

	query := `
		INSERT INTO benchmark_queue (id, job_data, status, created_at)
		VALUES (?, ?, 'pending', ?)`

	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, query, job.ID, string(jobData), now)
	if err != nil {
		return fmt.Errorf("inserting job into queue: %w", err)
	}

	q.logger.Debug("enqueued benchmark job", "job_id", job.ID, "run_id", job.RunID)
	return nil
}

// Dequeue retrieves and locks the next available benchmark job from the queue.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*models.BenchmarkJob, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, job_data, retry_count
		FROM benchmark_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1`

	var jobID, jobData string
	var retryCount int
	err = tx.QueryRowContext(ctx, selectQuery).Scan(&jobID, &jobData, &retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrNoJobs
		}
		return nil, fmt.Errorf("selecting job from queue: %w", err)
	}

	updateQuery := `
		UPDATE benchmark_queue
		SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'`

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, updateQuery, now, jobID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Claimed by another worker between select and update.
		return nil, queue.ErrNoJobs
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	var job models.BenchmarkJob
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job from JSON: %w", err)
	}
	job.RetryCount = retryCount

	q.logger.Debug("dequeued benchmark job", "job_id", job.ID, "run_id", job.RunID)
	return &job, nil
}

// Ack acknowledges successful processing of a job, removing it from the queue.
func (q *SQLiteQueue) Ack(ctx context.Context, jobID string) error {
	query := `
		DELETE FROM benchmark_queue
		WHERE id = ? AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("deleting job from queue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	q.logger.Debug("acknowledged benchmark job", "job_id", jobID)
	return nil
}

// Nack indicates that job processing failed, making the job available for retry.
func (q *SQLiteQueue) Nack(ctx context.Context, jobID string) error {
	query := `
		UPDATE benchmark_queue
		SET status = 'pending', started_at = NULL, retry_count = retry_count + 1
		WHERE id = ? AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	q.logger.Debug("nacked benchmark job", "job_id", jobID)
	return nil
}
