package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/queue"
	"github.com/garyzero/gary-zero/internal/store"
)

// DefaultPollInterval is how often the worker polls for queued jobs.
const DefaultPollInterval = 2 * time.Second

// maxJobAttempts bounds how often a failing job is retried before its
// run is abandoned.
const maxJobAttempts = 3

// Service schedules benchmark runs through the job queue and works them
// in the background.
type Service struct {
	store        store.Store
	queue        queue.Queue
	registry     *Registry
	harness      *Harness
	events       *eventlog.Service
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewService creates the benchmark service. The event log is optional.
func NewService(st store.Store, q queue.Queue, registry *Registry, harness *Harness, events *eventlog.Service, pollInterval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Service{
		store:        st,
		queue:        q,
		registry:     registry,
		harness:      harness,
		events:       events,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Enqueue creates a queued run for a suite and submits its job.
func (s *Service) Enqueue(ctx context.Context, suite string, tags []string) (*models.BenchmarkRun, error) {
	tasks, err := s.registry.Tasks(suite, tags)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("suite %q has no tasks matching tags %v", suite, tags)
	}

	run := &models.BenchmarkRun{
		ID:        uuid.New().String(),
		Suite:     suite,
		Status:    models.BenchmarkStatusQueued,
		Tasks:     len(tasks),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Benchmarks().CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating benchmark run: %w", err)
	}

	job := &models.BenchmarkJob{
		ID:    uuid.New().String(),
		RunID: run.ID,
		Suite: suite,
		Tags:  tags,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing benchmark job: %w", err)
	}

	s.logEvent(ctx, run, models.EventLevelInfo, "benchmark run queued")
	return run, nil
}

// RunWorker polls the queue and processes jobs until the context is
// cancelled.
func (s *Service) RunWorker(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Info("benchmark worker started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("benchmark worker stopped")
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain processes every available job before going back to sleep.
func (s *Service) drain(ctx context.Context) {
	for {
		job, err := s.queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrNoJobs) {
			return
		}
		if err != nil {
			s.logger.Error("failed to dequeue benchmark job", "error", err)
			return
		}

		if err := s.Process(ctx, job); err != nil {
			s.logger.Error("benchmark job failed",
				"job_id", job.ID, "run_id", job.RunID, "attempt", job.RetryCount+1, "error", err)
			if job.RetryCount+1 >= maxJobAttempts {
				s.abandonJob(ctx, job, err)
				continue
			}
			if nackErr := s.queue.Nack(ctx, job.ID); nackErr != nil {
				s.logger.Error("failed to nack benchmark job", "job_id", job.ID, "error", nackErr)
			}
			continue
		}
		if err := s.queue.Ack(ctx, job.ID); err != nil {
			s.logger.Error("failed to ack benchmark job", "job_id", job.ID, "error", err)
		}
	}
}

// Process executes one job: run the suite, persist results, finish the
// run record.
func (s *Service) Process(ctx context.Context, job *models.BenchmarkJob) error {
	run, err := s.store.Benchmarks().GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", job.RunID, err)
	}

	tasks, err := s.registry.Tasks(job.Suite, job.Tags)
	if err != nil {
		s.finishRun(ctx, run, models.BenchmarkStatusFailed, err.Error())
		return err
	}

	now := time.Now().UTC()
	run.Status = models.BenchmarkStatusRunning
	run.StartedAt = &now
	if err := s.store.Benchmarks().UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("marking run started: %w", err)
	}

	results := s.harness.Run(ctx, run.ID, tasks)
	for _, result := range results {
		if err := s.store.Benchmarks().CreateResult(ctx, result); err != nil {
			s.logger.Error("failed to persist benchmark result",
				"run_id", run.ID, "task", result.TaskName, "error", err)
		}
	}

	summary := Summarize(results)
	s.finishRun(ctx, run, models.BenchmarkStatusCompleted, "")
	s.logger.Info("benchmark run completed",
		"run_id", run.ID,
		"suite", run.Suite,
		"attempts", summary.Attempts,
		"success_rate", summary.SuccessRate,
		"p95_ms", summary.P95Ms)
	s.logEvent(ctx, run, models.EventLevelInfo,
		fmt.Sprintf("benchmark run completed: %d/%d attempts succeeded", summary.Successes, summary.Attempts))
	return nil
}

// Summary loads a run's results and computes its statistics.
func (s *Service) Summary(ctx context.Context, runID string) (*Summary, error) {
	results, err := s.store.Benchmarks().ListResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading results for run %s: %w", runID, err)
	}
	summary := Summarize(results)
	return &summary, nil
}

// abandonJob drops a job that has exhausted its retries and marks its
// run failed so it does not sit in "queued" or "running" forever.
func (s *Service) abandonJob(ctx context.Context, job *models.BenchmarkJob, cause error) {
	s.logger.Error("benchmark job exhausted retries, abandoning",
		"job_id", job.ID, "run_id", job.RunID, "attempts", job.RetryCount+1)
	if err := s.queue.Ack(ctx, job.ID); err != nil {
		s.logger.Error("failed to remove abandoned benchmark job", "job_id", job.ID, "error", err)
	}

	run, err := s.store.Benchmarks().GetRun(ctx, job.RunID)
	if err != nil {
		s.logger.Error("failed to load run for abandoned job", "run_id", job.RunID, "error", err)
		return
	}
	if run.Status == models.BenchmarkStatusCompleted || run.Status == models.BenchmarkStatusFailed {
		return
	}
	s.finishRun(ctx, run, models.BenchmarkStatusFailed,
		fmt.Sprintf("abandoned after %d attempts: %v", job.RetryCount+1, cause))
	s.logEvent(ctx, run, models.EventLevelError, "benchmark run abandoned after repeated failures")
}

func (s *Service) finishRun(ctx context.Context, run *models.BenchmarkRun, status models.BenchmarkStatus, errMsg string) {
	now := time.Now().UTC()
	run.Status = status
	run.Error = errMsg
	run.FinishedAt = &now
	if err := s.store.Benchmarks().UpdateRun(ctx, run); err != nil {
		s.logger.Error("failed to finish benchmark run", "run_id", run.ID, "error", err)
	}
}

func (s *Service) logEvent(ctx context.Context, run *models.BenchmarkRun, level models.EventLevel, message string) {
	if s.events == nil {
		return
	}
	err := s.events.Log(ctx, &models.LogEvent{
		Type:      models.EventTypeBenchmark,
		Level:     level,
		Component: "benchmark",
		Message:   message,
		Metadata: map[string]string{
			"run_id": run.ID,
			"suite":  run.Suite,
		},
	})
	if err != nil {
		s.logger.Error("failed to log benchmark event", "error", err)
	}
}
