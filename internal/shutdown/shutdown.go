// Package shutdown coordinates graceful teardown of server components.
// Components register in dependency order and are shut down in reverse,
// bounded by a single timeout.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default graceful shutdown timeout.
const DefaultTimeout = 30 * time.Second

// Component is anything that can be gracefully shut down.
type Component interface {
	// Name returns the component name for logging.
	Name() string
	// Shutdown tears the component down within the context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator manages graceful shutdown of registered components on
// SIGINT/SIGTERM.
type Coordinator struct {
	mu         sync.Mutex
	components []Component
	timeout    time.Duration
	logger     *slog.Logger

	signalCh chan os.Signal

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	exitCode     int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the shutdown timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSignalChannel sets a custom signal channel (for testing).
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signalCh = ch
	}
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
		shutdownDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component. Components shut down in reverse order of
// registration, so register dependencies first.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until SIGINT or SIGTERM, then shuts down.
func (c *Coordinator) WaitForSignal() {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	sig := <-sigCh
	c.logger.Info("received shutdown signal", "signal", sig)
	c.Shutdown()
}

// Shutdown tears down every registered component in reverse order,
// bounded by the configured timeout. Safe to call more than once.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info("initiating graceful shutdown", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := len(components) - 1; i >= 0; i-- {
				component := components[i]
				c.logger.Info("shutting down component", "name", component.Name())
				if err := component.Shutdown(ctx); err != nil {
					c.logger.Error("component shutdown error",
						"name", component.Name(),
						"error", err,
					)
					c.exitCode = 1
				}
			}
		}()

		select {
		case <-done:
			c.logger.Info("shutdown complete")
		case <-ctx.Done():
			c.logger.Warn("shutdown timeout exceeded, forcing termination")
			c.exitCode = 1
		}

		close(c.shutdownDone)
	})
}

// Wait blocks until shutdown is complete.
func (c *Coordinator) Wait() {
	<-c.shutdownDone
}

// ExitCode returns 0 for a clean shutdown and 1 when any component
// failed or the timeout was exceeded.
func (c *Coordinator) ExitCode() int {
	return c.exitCode
}
