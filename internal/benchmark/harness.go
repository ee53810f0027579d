package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/models"
)

// Harness executes benchmark tasks with bounded concurrency, per-task
// timeouts, and retries.
type Harness struct {
	concurrency int
	taskTimeout time.Duration
	maxRetries  int
	logger      *slog.Logger
}

// HarnessConfig configures a harness.
type HarnessConfig struct {
	// Concurrency is the number of tasks run in parallel. Defaults to 4.
	Concurrency int
	// TaskTimeout bounds a single task attempt. Defaults to 5m.
	TaskTimeout time.Duration
	// MaxRetries is how many extra attempts a failed task gets.
	MaxRetries int
}

// NewHarness creates a harness.
func NewHarness(cfg HarnessConfig, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	return &Harness{
		concurrency: cfg.Concurrency,
		taskTimeout: cfg.TaskTimeout,
		maxRetries:  cfg.MaxRetries,
		logger:      logger,
	}
}

// Run executes every task and returns one result per attempt, in no
// particular order. Context cancellation stops scheduling new tasks;
// in-flight attempts still report.
func (h *Harness) Run(ctx context.Context, runID string, tasks []*Task) []*models.BenchmarkResult {
	jobs := make(chan *Task)
	results := make(chan *models.BenchmarkResult, len(tasks)*(h.maxRetries+1))

	var wg sync.WaitGroup
	for i := 0; i < h.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				h.runTask(ctx, runID, task, results)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, task := range tasks {
			select {
			case <-ctx.Done():
				return
			case jobs <- task:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []*models.BenchmarkResult
	for r := range results {
		out = append(out, r)
	}
	return out
}

// runTask attempts one task up to 1+maxRetries times, reporting each
// attempt. Retrying stops at the first success.
func (h *Harness) runTask(ctx context.Context, runID string, task *Task, results chan<- *models.BenchmarkResult) {
	for attempt := 1; attempt <= h.maxRetries+1; attempt++ {
		result := h.attempt(ctx, runID, task, attempt)
		results <- result
		if result.Success {
			return
		}
		h.logger.Warn("benchmark task failed",
			"task", task.Name,
			"attempt", attempt,
			"error", result.Error)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (h *Harness) attempt(ctx context.Context, runID string, task *Task, attempt int) *models.BenchmarkResult {
	attemptCtx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()

	start := time.Now()
	score, err := runRecovered(attemptCtx, task)
	elapsed := time.Since(start)

	result := &models.BenchmarkResult{
		ID:        uuid.New().String(),
		RunID:     runID,
		TaskName:  task.Name,
		Attempt:   attempt,
		Success:   err == nil,
		Duration:  elapsed,
		Score:     score,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
		result.Score = 0
	}
	return result
}

// runRecovered shields the harness from panicking tasks.
func runRecovered(ctx context.Context, task *Task) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx)
}
