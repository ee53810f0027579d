package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/queue"
	storesqlite "github.com/garyzero/gary-zero/internal/store/sqlite"
)

func TestNackIncrementsRetryCount(t *testing.T) {
	ctx := context.Background()
	st, err := storesqlite.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q := NewSQLiteQueue(st.DB(), nil)

	if err := q.Enqueue(ctx, &models.BenchmarkJob{ID: "job-1", RunID: "run-1", Suite: "smoke"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job.RetryCount != 0 {
		t.Fatalf("fresh job retry count = %d, want 0", job.RetryCount)
	}

	if err := q.Nack(ctx, job.ID); err != nil {
		t.Fatalf("nack: %v", err)
	}

	job, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after nack: %v", err)
	}
	if job.RetryCount != 1 {
		t.Fatalf("retry count after nack = %d, want 1", job.RetryCount)
	}

	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, queue.ErrNoJobs) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}
