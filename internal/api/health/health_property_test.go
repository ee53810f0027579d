package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type mockPinger struct {
	shouldFail bool
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.shouldFail {
		return errors.New("mock ping failed")
	}
	return nil
}

type slowPinger struct {
	delay time.Duration
}

func (m *slowPinger) Ping(ctx context.Context) error {
	select {
	case <-time.After(m.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// **Feature: gary-zero, Property 23: Overall health aggregates components**
//
// For any combination of component states: the overall status is
// unhealthy iff a critical component fails, degraded iff only optional
// components fail, and healthy otherwise — and every registered
// component appears in the response.
func TestOverallHealthAggregatesComponents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("aggregation follows worst component", prop.ForAll(
		func(dbHealthy, queueHealthy, providerHealthy bool) bool {
			checker := NewChecker("test")
			checker.Register("database", &mockPinger{shouldFail: !dbHealthy})
			checker.Register("queue", &mockPinger{shouldFail: !queueHealthy})
			checker.RegisterOptional("providers", &mockPinger{shouldFail: !providerHealthy})

			response := checker.Check(context.Background())

			for _, name := range []string{"database", "queue", "providers"} {
				if _, ok := response.Components[name]; !ok {
					return false
				}
			}

			switch {
			case !dbHealthy || !queueHealthy:
				return response.Status == StatusUnhealthy
			case !providerHealthy:
				return response.Status == StatusDegraded &&
					response.Components["providers"].Status == StatusDegraded
			default:
				return response.Status == StatusHealthy
			}
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("handler status code follows overall health", prop.ForAll(
		func(dbHealthy bool) bool {
			checker := NewChecker("test")
			checker.Register("database", &mockPinger{shouldFail: !dbHealthy})

			rr := httptest.NewRecorder()
			checker.Handler()(rr, httptest.NewRequest("GET", "/health", nil))

			var response map[string]any
			if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
				return false
			}
			if _, ok := response["components"]; !ok {
				return false
			}

			if dbHealthy {
				return rr.Code == 200
			}
			return rr.Code == 503
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestCheckerTimeout(t *testing.T) {
	checker := NewChecker("test")
	checker.Register("database", &slowPinger{delay: 10 * time.Second})
	checker.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	response := checker.Check(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("check took %v, want under timeout", elapsed)
	}
	if response.Components["database"].Status != StatusUnhealthy {
		t.Fatalf("slow component reported %s", response.Components["database"].Status)
	}
	if response.Status != StatusUnhealthy {
		t.Fatalf("overall status %s, want unhealthy", response.Status)
	}
}

func TestNilPingerUnhealthy(t *testing.T) {
	checker := NewChecker("test")
	checker.Register("database", nil)

	response := checker.Check(context.Background())
	if response.Components["database"].Status != StatusUnhealthy {
		t.Fatalf("nil pinger reported %s", response.Components["database"].Status)
	}
}

func TestComponentsSorted(t *testing.T) {
	checker := NewChecker("test")
	checker.Register("queue", &mockPinger{})
	checker.Register("database", &mockPinger{})

	names := checker.Components()
	if len(names) != 2 || names[0] != "database" || names[1] != "queue" {
		t.Fatalf("unexpected component names: %v", names)
	}
}
