package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
	"github.com/garyzero/gary-zero/internal/store/sqlite"
)

// fakeApplier records applies and fails on configured hosts.
type fakeApplier struct {
	mu        sync.Mutex
	applied   []string
	failApply map[string]bool
	failProbe map[string]bool
}

func (f *fakeApplier) Apply(ctx context.Context, host string, d *models.Deployment, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failApply[host] {
		return fmt.Errorf("apply refused on %s", host)
	}
	f.applied = append(f.applied, host)
	return nil
}

func (f *fakeApplier) HealthCheck(ctx context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProbe[host] {
		return fmt.Errorf("unhealthy: %s", host)
	}
	return nil
}

func (f *fakeApplier) appliedHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	copy(out, f.applied)
	return out
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestImmediateDeploymentCompletes(t *testing.T) {
	st := newTestStore(t)
	applier := &fakeApplier{}
	m := NewManager(st, nil, applier, nil)
	defer m.Close()

	d, err := m.Trigger(context.Background(), TriggerRequest{
		AppName:     "gary-zero",
		Version:     "1.2.0",
		Environment: "production",
		Strategy:    models.StrategyImmediate,
		Hosts:       []string{"host-a", "host-b", "host-c"},
		TriggeredBy: "tester",
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	m.Wait()

	got, err := m.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.DeploymentStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", got.Status, got.Error)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
	if got.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
	if len(applier.appliedHosts()) != 3 {
		t.Fatalf("applied to %d hosts, want 3", len(applier.appliedHosts()))
	}
}

func TestFailedHealthCheckMarksFailed(t *testing.T) {
	st := newTestStore(t)
	applier := &fakeApplier{failProbe: map[string]bool{"host-b": true}}
	m := NewManager(st, nil, applier, nil)
	defer m.Close()

	d, err := m.Trigger(context.Background(), TriggerRequest{
		AppName:     "gary-zero",
		Version:     "1.2.0",
		Environment: "production",
		Strategy:    models.StrategyRolling,
		Hosts:       []string{"host-a", "host-b", "host-c"},
		TriggeredBy: "tester",
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	m.Wait()

	got, err := m.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.DeploymentStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatal("error message not recorded")
	}

	// Rolling stops at the unhealthy host; host-c is never touched.
	for _, host := range applier.appliedHosts() {
		if host == "host-c" {
			t.Fatal("rollout continued past failed health gate")
		}
	}
}

func TestFailureTriggersAutoRollback(t *testing.T) {
	st := newTestStore(t)

	// A known-good deployment to roll back to.
	good := &fakeApplier{}
	m1 := NewManager(st, nil, good, nil)
	if _, err := m1.Trigger(context.Background(), TriggerRequest{
		AppName:     "gary-zero",
		Version:     "1.0.0",
		Environment: "production",
		Strategy:    models.StrategyImmediate,
		Hosts:       []string{"host-a"},
		TriggeredBy: "tester",
	}); err != nil {
		t.Fatalf("trigger baseline: %v", err)
	}
	m1.Close()

	// A bad release: apply fails everywhere.
	bad := &fakeApplier{failApply: map[string]bool{"host-a": true}}
	m2 := NewManager(st, nil, bad, nil)
	d, err := m2.Trigger(context.Background(), TriggerRequest{
		AppName:     "gary-zero",
		Version:     "2.0.0",
		Environment: "production",
		Strategy:    models.StrategyImmediate,
		Hosts:       []string{"host-a"},
		TriggeredBy: "tester",
	})
	if err != nil {
		t.Fatalf("trigger bad release: %v", err)
	}
	m2.Wait()
	m2.Close()

	// The rollback deployment of 1.0.0 exists and references the failure.
	// It also fails to apply here (same applier), so the bad deployment
	// stays failed rather than rolled_back.
	deployments, err := st.Deployments().List(context.Background(), "gary-zero", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var restore *models.Deployment
	for _, dep := range deployments {
		if dep.RolledBackFrom == d.ID {
			restore = dep
		}
	}
	if restore == nil {
		t.Fatal("no rollback deployment created")
	}
	if restore.Version != "1.0.0" {
		t.Fatalf("rollback version = %s, want 1.0.0", restore.Version)
	}
	if restore.Status != models.DeploymentStatusFailed {
		t.Fatalf("restore status = %s, want failed", restore.Status)
	}

	// Exactly baseline + failed release + one restore. A failed restore
	// must not spawn further rollback attempts.
	if len(deployments) != 3 {
		t.Fatalf("deployment rows = %d, want 3", len(deployments))
	}
}

func TestTriggerRejectsDeploymentWithoutHosts(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, nil, &fakeApplier{}, nil)
	defer m.Close()

	_, err := m.Trigger(context.Background(), TriggerRequest{
		AppName:       "gary-zero",
		Version:       "1.2.0",
		Environment:   "production",
		Strategy:      models.StrategyCanary,
		CanaryPercent: 25,
		TriggeredBy:   "tester",
	})
	if err == nil {
		t.Fatal("expected error for deployment with no hosts")
	}
	m.Wait()

	deployments, listErr := st.Deployments().List(context.Background(), "gary-zero", 10)
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(deployments) != 0 {
		t.Fatalf("deployment rows = %d, want 0 for rejected request", len(deployments))
	}
}

func TestManualRollbackUsesLatestCompleted(t *testing.T) {
	st := newTestStore(t)
	applier := &fakeApplier{}
	m := NewManager(st, nil, applier, nil)
	defer m.Close()

	for _, version := range []string{"1.0.0", "1.1.0"} {
		if _, err := m.Trigger(context.Background(), TriggerRequest{
			AppName:     "gary-zero",
			Version:     version,
			Environment: "production",
			Strategy:    models.StrategyImmediate,
			Hosts:       []string{"host-a"},
			TriggeredBy: "tester",
		}); err != nil {
			t.Fatalf("trigger %s: %v", version, err)
		}
		m.Wait()
	}

	d, err := m.Rollback(context.Background(), "gary-zero", "production", "tester")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	m.Wait()

	got, err := m.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != "1.1.0" {
		t.Fatalf("rollback version = %s, want 1.1.0", got.Version)
	}
	if got.Status != models.DeploymentStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestRollbackWithoutTargetFails(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, nil, &fakeApplier{}, nil)
	defer m.Close()

	if _, err := m.Rollback(context.Background(), "ghost-app", "production", "tester"); err != ErrNoRollbackTarget {
		t.Fatalf("err = %v, want ErrNoRollbackTarget", err)
	}
}

func TestCanaryStopsAtUnhealthyCanary(t *testing.T) {
	st := newTestStore(t)
	applier := &fakeApplier{failProbe: map[string]bool{"host-a": true}}
	m := NewManager(st, nil, applier, nil)
	defer m.Close()

	d, err := m.Trigger(context.Background(), TriggerRequest{
		AppName:       "gary-zero",
		Version:       "1.2.0",
		Environment:   "production",
		Strategy:      models.StrategyCanary,
		Hosts:         []string{"host-a", "host-b", "host-c", "host-d"},
		CanaryPercent: 25,
		TriggeredBy:   "tester",
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	m.Wait()

	got, err := m.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.DeploymentStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}

	// Only the canary host was touched.
	applied := applier.appliedHosts()
	if len(applied) != 1 || applied[0] != "host-a" {
		t.Fatalf("applied hosts = %v, want [host-a]", applied)
	}
}
