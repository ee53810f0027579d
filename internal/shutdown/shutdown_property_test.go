package shutdown

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type mockComponent struct {
	name          string
	shutdownDelay time.Duration
	shouldFail    bool
	shutdownCount int32
	lastShutdown  atomic.Int64
}

func newMockComponent(name string, delay time.Duration, shouldFail bool) *mockComponent {
	return &mockComponent{
		name:          name,
		shutdownDelay: delay,
		shouldFail:    shouldFail,
	}
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Shutdown(ctx context.Context) error {
	atomic.AddInt32(&m.shutdownCount, 1)
	m.lastShutdown.Store(time.Now().UnixNano())

	select {
	case <-time.After(m.shutdownDelay):
		if m.shouldFail {
			return errors.New("mock shutdown failed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockComponent) ShutdownCount() int {
	return int(atomic.LoadInt32(&m.shutdownCount))
}

// **Feature: gary-zero, Property 24: Graceful shutdown drains every component**
// *For any* set of registered components, a shutdown signal SHALL shut each
// component down exactly once, in reverse registration order, within the
// configured timeout.
func TestPropertyGracefulShutdownBehavior(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genTimeout := gen.Int64Range(100, 1000).Map(func(ms int64) time.Duration {
		return time.Duration(ms) * time.Millisecond
	})
	genNumComponents := gen.IntRange(1, 5)

	properties.Property("all components shut down once on signal", prop.ForAll(
		func(timeout time.Duration, numComponents int) bool {
			sigCh := make(chan os.Signal, 1)
			coordinator := NewCoordinator(
				WithTimeout(timeout),
				WithSignalChannel(sigCh),
			)

			components := make([]*mockComponent, numComponents)
			for i := 0; i < numComponents; i++ {
				comp := newMockComponent("component-"+string(rune('A'+i)), time.Millisecond, false)
				components[i] = comp
				coordinator.Register(comp)
			}

			done := make(chan struct{})
			go func() {
				coordinator.WaitForSignal()
				close(done)
			}()

			time.Sleep(10 * time.Millisecond)
			sigCh <- os.Interrupt

			select {
			case <-done:
			case <-time.After(timeout + 500*time.Millisecond):
				t.Log("shutdown did not complete in time")
				return false
			}

			for i, comp := range components {
				if comp.ShutdownCount() != 1 {
					t.Logf("component %d shutdown count: %d, expected 1", i, comp.ShutdownCount())
					return false
				}
			}
			// Reverse registration order: later registrations shut down earlier.
			for i := 1; i < numComponents; i++ {
				if components[i-1].lastShutdown.Load() < components[i].lastShutdown.Load() {
					t.Logf("component %d shut down before component %d", i-1, i)
					return false
				}
			}
			return coordinator.ExitCode() == 0
		},
		genTimeout,
		genNumComponents,
	))

	properties.Property("slow components are bounded by the timeout", prop.ForAll(
		func(timeout time.Duration) bool {
			coordinator := NewCoordinator(WithTimeout(timeout))
			coordinator.Register(newMockComponent("slow", timeout*3, false))

			start := time.Now()
			coordinator.Shutdown()
			coordinator.Wait()
			elapsed := time.Since(start)

			if elapsed > timeout+200*time.Millisecond {
				t.Logf("shutdown took %v, expected around %v", elapsed, timeout)
				return false
			}
			return coordinator.ExitCode() == 1
		},
		gen.Int64Range(50, 200).Map(func(ms int64) time.Duration {
			return time.Duration(ms) * time.Millisecond
		}),
	))

	properties.Property("shutdown is idempotent", prop.ForAll(
		func(timeout time.Duration) bool {
			coordinator := NewCoordinator(WithTimeout(timeout))
			comp := newMockComponent("once", time.Millisecond, false)
			coordinator.Register(comp)

			coordinator.Shutdown()
			coordinator.Shutdown()
			coordinator.Shutdown()
			coordinator.Wait()

			return comp.ShutdownCount() == 1
		},
		genTimeout,
	))

	properties.TestingRun(t)
}

func TestComponentFailureSetsExitCode(t *testing.T) {
	coordinator := NewCoordinator(WithTimeout(time.Second))
	coordinator.Register(newMockComponent("bad", time.Millisecond, true))
	coordinator.Register(newMockComponent("good", time.Millisecond, false))

	coordinator.Shutdown()
	coordinator.Wait()

	if coordinator.ExitCode() != 1 {
		t.Fatalf("exit code = %d, want 1", coordinator.ExitCode())
	}
}

type closeRecorder struct {
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestWrapperComponents(t *testing.T) {
	rec := &closeRecorder{}
	closer := NewCloserComponent("store", rec)
	if closer.Name() != "store" {
		t.Fatalf("name = %q, want store", closer.Name())
	}
	if err := closer.Shutdown(context.Background()); err != nil {
		t.Fatalf("closer shutdown: %v", err)
	}
	if !rec.closed {
		t.Fatal("closer did not close the resource")
	}

	called := false
	fn := NewFuncComponent("workers", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err := fn.Shutdown(context.Background()); err != nil {
		t.Fatalf("func shutdown: %v", err)
	}
	if !called {
		t.Fatal("func component did not run")
	}
}
