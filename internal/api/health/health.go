// Package health provides health check functionality for API components.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is operational but with issues.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Pinger is an interface for components that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker performs health checks across registered components.
type Checker struct {
	startTime time.Time
	version   string
	timeout   time.Duration

	mu       sync.RWMutex
	pingers  map[string]Pinger
	critical map[string]bool
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
		pingers:   make(map[string]Pinger),
		critical:  make(map[string]bool),
	}
}

// Register adds a component whose failure makes the service unhealthy.
func (c *Checker) Register(name string, pinger Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingers[name] = pinger
	c.critical[name] = true
}

// RegisterOptional adds a component whose failure only degrades the
// service.
func (c *Checker) RegisterOptional(name string, pinger Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingers[name] = pinger
	c.critical[name] = false
}

// SetTimeout sets the timeout for health checks.
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Components returns the registered component names, sorted.
func (c *Checker) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check performs all health checks and returns the aggregated response.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	timeout := c.timeout
	pingers := make(map[string]Pinger, len(c.pingers))
	for name, p := range c.pingers {
		pingers[name] = p
	}
	critical := make(map[string]bool, len(c.critical))
	for name, v := range c.critical {
		critical[name] = v
	}
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	components := make(map[string]ComponentStatus, len(pingers))
	overallStatus := StatusHealthy

	for name, pinger := range pingers {
		status := check(checkCtx, pinger)
		if !critical[name] && status.Status == StatusUnhealthy {
			status.Status = StatusDegraded
		}
		components[name] = status

		switch status.Status {
		case StatusUnhealthy:
			overallStatus = StatusUnhealthy
		case StatusDegraded:
			if overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
		}
	}

	return &Response{
		Status:     overallStatus,
		Components: components,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
}

func check(ctx context.Context, pinger Pinger) ComponentStatus {
	if pinger == nil {
		return ComponentStatus{
			Status:  StatusUnhealthy,
			Message: "not configured",
		}
	}
	if err := ctx.Err(); err != nil {
		return ComponentStatus{
			Status:  StatusUnhealthy,
			Message: "check timed out: " + err.Error(),
		}
	}
	if err := pinger.Ping(ctx); err != nil {
		return ComponentStatus{
			Status:  StatusUnhealthy,
			Message: "ping failed: " + err.Error(),
		}
	}
	return ComponentStatus{
		Status:  StatusHealthy,
		Message: "ok",
	}
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")

		switch response.Status {
		case StatusHealthy, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		case StatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}
