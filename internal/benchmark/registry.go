// Package benchmark runs task suites against the configured LLM
// providers and records per-task results with summary statistics.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSuiteNotFound is returned for an unregistered suite name.
var ErrSuiteNotFound = errors.New("benchmark suite not found")

// TaskFunc executes one benchmark task. It returns an optional quality
// score in [0, 1] and an error when the task fails.
type TaskFunc func(ctx context.Context) (float64, error)

// Task is a named, taggable unit of benchmark work.
type Task struct {
	Name string
	Tags []string
	Run  TaskFunc
}

// HasAnyTag reports whether the task carries any of the given tags.
// An empty filter matches everything.
func (t *Task) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range t.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Registry holds benchmark tasks grouped by suite.
type Registry struct {
	mu     sync.RWMutex
	suites map[string][]*Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{suites: make(map[string][]*Task)}
}

// Register appends a task to a suite.
func (r *Registry) Register(suite string, task *Task) error {
	if suite == "" {
		return fmt.Errorf("suite name is required")
	}
	if task == nil || task.Name == "" || task.Run == nil {
		return fmt.Errorf("task name and run function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.suites[suite] {
		if existing.Name == task.Name {
			return fmt.Errorf("task %q already registered in suite %q", task.Name, suite)
		}
	}
	r.suites[suite] = append(r.suites[suite], task)
	return nil
}

// Tasks returns the tasks of a suite filtered by tags.
func (r *Registry) Tasks(suite string, tags []string) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, ok := r.suites[suite]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSuiteNotFound, suite)
	}

	tasks := make([]*Task, 0, len(all))
	for _, t := range all {
		if t.HasAnyTag(tags) {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// Suites returns the registered suite names, sorted.
func (r *Registry) Suites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.suites))
	for name := range r.suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
