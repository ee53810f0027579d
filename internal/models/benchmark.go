package models

import (
	"fmt"
	"time"
)

// BenchmarkStatus represents the state of a benchmark run.
type BenchmarkStatus string

const (
	BenchmarkStatusQueued    BenchmarkStatus = "queued"
	BenchmarkStatusRunning   BenchmarkStatus = "running"
	BenchmarkStatusCompleted BenchmarkStatus = "completed"
	BenchmarkStatusFailed    BenchmarkStatus = "failed"
)

// BenchmarkRun represents one execution of a benchmark suite.
type BenchmarkRun struct {
	ID        string          `json:"id"`
	Suite     string          `json:"suite"`
	Status    BenchmarkStatus `json:"status"`
	// Tasks is the number of task executions in the run.
	Tasks      int        `json:"tasks"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Validate checks that required run fields are present.
func (r *BenchmarkRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("benchmark run id is required")
	}
	if r.Suite == "" {
		return fmt.Errorf("benchmark suite name is required")
	}
	return nil
}

// BenchmarkJob is the queue payload for an asynchronous benchmark run.
type BenchmarkJob struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	Suite string `json:"suite"`
	// Tags limits the run to tasks carrying any of the given tags.
	// Empty means the whole suite.
	Tags []string `json:"tags,omitempty"`
	// RetryCount is how many times the job has been handed back after a
	// failure. Maintained by the queue, not part of the enqueue payload.
	RetryCount int `json:"-"`
}

// BenchmarkResult records the outcome of a single task execution.
type BenchmarkResult struct {
	ID       string `json:"id"`
	RunID    string `json:"run_id"`
	TaskName string `json:"task_name"`
	// Attempt is 1-based; retried tasks produce multiple results.
	Attempt  int           `json:"attempt"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	// Score is an optional task-defined quality metric.
	Score     float64   `json:"score,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
