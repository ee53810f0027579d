package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// Common errors returned by the deployment manager.
var (
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrNoRollbackTarget   = errors.New("no completed deployment to roll back to")
	ErrAlreadyTerminal    = errors.New("deployment is already in a terminal state")
)

// HostApplier applies a deployment to a single host and probes its
// health. Implementations talk to the actual runtime; tests use fakes.
type HostApplier interface {
	// Apply pushes the deployment's version to the host with the given
	// environment.
	Apply(ctx context.Context, host string, d *models.Deployment, env map[string]string) error
	// HealthCheck verifies the host is serving after an apply.
	HealthCheck(ctx context.Context, host string) error
}

// TriggerRequest describes a requested deployment.
type TriggerRequest struct {
	AppName       string                    `json:"app_name"`
	Version       string                    `json:"version"`
	Environment   string                    `json:"environment"`
	Strategy      models.DeploymentStrategy `json:"strategy"`
	Hosts         []string                  `json:"hosts"`
	CanaryPercent int                       `json:"canary_percent,omitempty"`
	EnvVars       map[string]string         `json:"env_vars,omitempty"`
	TriggeredBy   string                    `json:"triggered_by"`
}

// Manager orchestrates deployments. Each trigger runs asynchronously;
// state transitions are persisted so progress survives restarts.
type Manager struct {
	store   store.Store
	events  *eventlog.Service
	merger  *EnvMerger
	applier HostApplier
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new deployment manager.
func NewManager(st store.Store, events *eventlog.Service, applier HostApplier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   st,
		events:  events,
		merger:  NewEnvMerger(st, logger),
		applier: applier,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close stops accepting work and waits for in-flight deployments.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until all in-flight deployments reach a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Trigger creates a deployment and starts executing it asynchronously.
func (m *Manager) Trigger(ctx context.Context, req TriggerRequest) (*models.Deployment, error) {
	d := &models.Deployment{
		ID:            uuid.New().String(),
		AppName:       req.AppName,
		Version:       req.Version,
		Environment:   req.Environment,
		Strategy:      req.Strategy,
		Status:        models.DeploymentStatusPending,
		Hosts:         req.Hosts,
		CanaryPercent: req.CanaryPercent,
		TriggeredBy:   req.TriggeredBy,
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	env, err := m.merger.MergeForDeployment(ctx, req.AppName, req.EnvVars)
	if err != nil {
		return nil, err
	}

	if err := m.store.Deployments().Create(ctx, d); err != nil {
		return nil, fmt.Errorf("creating deployment: %w", err)
	}

	m.logEvent(ctx, d, models.EventLevelInfo, "deployment triggered")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(m.ctx, d, env)
	}()

	return d, nil
}

// Get retrieves a deployment by ID.
func (m *Manager) Get(ctx context.Context, id string) (*models.Deployment, error) {
	d, err := m.store.Deployments().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDeploymentNotFound
		}
		return nil, err
	}
	return d, nil
}

// List retrieves deployments for an app, newest first.
func (m *Manager) List(ctx context.Context, appName string, limit int) ([]*models.Deployment, error) {
	return m.store.Deployments().List(ctx, appName, limit)
}

// Rollback redeploys the last completed version for an app and
// environment.
func (m *Manager) Rollback(ctx context.Context, appName, environment, triggeredBy string) (*models.Deployment, error) {
	previous, err := m.store.Deployments().GetLatestCompleted(ctx, appName, environment)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoRollbackTarget
		}
		return nil, err
	}

	d := &models.Deployment{
		ID:             uuid.New().String(),
		AppName:        appName,
		Version:        previous.Version,
		Environment:    environment,
		Strategy:       models.StrategyImmediate,
		Status:         models.DeploymentStatusPending,
		Hosts:          previous.Hosts,
		RolledBackFrom: previous.ID,
		TriggeredBy:    triggeredBy,
	}

	env, err := m.merger.MergeForDeployment(ctx, appName, nil)
	if err != nil {
		return nil, err
	}

	if err := m.store.Deployments().Create(ctx, d); err != nil {
		return nil, fmt.Errorf("creating rollback deployment: %w", err)
	}

	m.logEvent(ctx, d, models.EventLevelWarn, "rollback triggered")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(m.ctx, d, env)
	}()

	return d, nil
}

// execute drives a deployment through its strategy to a terminal state.
func (m *Manager) execute(ctx context.Context, d *models.Deployment, env map[string]string) {
	now := time.Now().UTC()
	d.Status = models.DeploymentStatusInProgress
	d.StartedAt = &now
	if err := m.store.Deployments().Update(ctx, d); err != nil {
		m.logger.Error("failed to mark deployment in progress", "deployment_id", d.ID, "error", err)
		return
	}

	var err error
	switch d.Strategy {
	case models.StrategyImmediate:
		err = m.applyBatch(ctx, d, env, d.Hosts)
	case models.StrategyRolling:
		err = m.executeRolling(ctx, d, env)
	case models.StrategyCanary:
		err = m.executeCanary(ctx, d, env)
	case models.StrategyBlueGreen:
		err = m.executeBlueGreen(ctx, d, env)
	default:
		err = fmt.Errorf("unknown strategy: %q", d.Strategy)
	}

	finished := time.Now().UTC()
	d.FinishedAt = &finished

	if err != nil {
		d.Status = models.DeploymentStatusFailed
		d.Error = err.Error()
		if updateErr := m.store.Deployments().Update(ctx, d); updateErr != nil {
			m.logger.Error("failed to mark deployment failed", "deployment_id", d.ID, "error", updateErr)
		}
		m.logEvent(ctx, d, models.EventLevelError, "deployment failed: "+err.Error())
		// A failed restore stays failed; rolling back a rollback would
		// cascade without bound.
		if d.RolledBackFrom == "" {
			m.autoRollback(ctx, d)
		}
		return
	}

	d.Status = models.DeploymentStatusCompleted
	d.Progress = 100
	if err := m.store.Deployments().Update(ctx, d); err != nil {
		m.logger.Error("failed to mark deployment completed", "deployment_id", d.ID, "error", err)
		return
	}
	m.logEvent(ctx, d, models.EventLevelInfo, "deployment completed")
}

// executeRolling applies to one host at a time with a health gate
// after each.
func (m *Manager) executeRolling(ctx context.Context, d *models.Deployment, env map[string]string) error {
	for i, host := range d.Hosts {
		if err := m.applyHost(ctx, d, env, host); err != nil {
			return err
		}
		m.setProgress(ctx, d, (i+1)*100/len(d.Hosts))
	}
	return nil
}

// executeCanary applies to a canary subset first, gates on its health,
// then rolls out to the remaining hosts.
func (m *Manager) executeCanary(ctx context.Context, d *models.Deployment, env map[string]string) error {
	canaryCount := (len(d.Hosts)*d.CanaryPercent + 99) / 100
	if canaryCount < 1 {
		canaryCount = 1
	}
	if canaryCount > len(d.Hosts) {
		canaryCount = len(d.Hosts)
	}

	if err := m.applyBatch(ctx, d, env, d.Hosts[:canaryCount]); err != nil {
		return fmt.Errorf("canary batch: %w", err)
	}
	m.setProgress(ctx, d, canaryCount*100/len(d.Hosts))
	m.logEvent(ctx, d, models.EventLevelInfo,
		fmt.Sprintf("canary healthy on %d/%d hosts", canaryCount, len(d.Hosts)))

	if err := m.applyBatch(ctx, d, env, d.Hosts[canaryCount:]); err != nil {
		return fmt.Errorf("full rollout after canary: %w", err)
	}
	return nil
}

// executeBlueGreen applies to every host, then verifies all are healthy
// before declaring the cutover done.
func (m *Manager) executeBlueGreen(ctx context.Context, d *models.Deployment, env map[string]string) error {
	for _, host := range d.Hosts {
		if err := m.applier.Apply(ctx, host, d, env); err != nil {
			return fmt.Errorf("applying to host %s: %w", host, err)
		}
	}
	m.setProgress(ctx, d, 50)

	// Cutover only happens if the whole green fleet is healthy.
	for _, host := range d.Hosts {
		if err := m.applier.HealthCheck(ctx, host); err != nil {
			return fmt.Errorf("health check on host %s: %w", host, err)
		}
	}
	return nil
}

// applyBatch applies and health-checks a set of hosts.
func (m *Manager) applyBatch(ctx context.Context, d *models.Deployment, env map[string]string, hosts []string) error {
	for _, host := range hosts {
		if err := m.applyHost(ctx, d, env, host); err != nil {
			return err
		}
	}
	return nil
}

// applyHost applies to one host and gates on its health.
func (m *Manager) applyHost(ctx context.Context, d *models.Deployment, env map[string]string, host string) error {
	if err := m.applier.Apply(ctx, host, d, env); err != nil {
		return fmt.Errorf("applying to host %s: %w", host, err)
	}
	if err := m.applier.HealthCheck(ctx, host); err != nil {
		return fmt.Errorf("health check on host %s: %w", host, err)
	}
	return nil
}

// autoRollback restores the previous completed version after a failed
// deployment.
func (m *Manager) autoRollback(ctx context.Context, failed *models.Deployment) {
	previous, err := m.store.Deployments().GetLatestCompleted(ctx, failed.AppName, failed.Environment)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("no rollback target after failed deployment",
				"deployment_id", failed.ID, "app_name", failed.AppName)
			return
		}
		m.logger.Error("rollback target lookup failed", "deployment_id", failed.ID, "error", err)
		return
	}

	env, err := m.merger.MergeForDeployment(ctx, failed.AppName, nil)
	if err != nil {
		m.logger.Error("rollback env merge failed", "deployment_id", failed.ID, "error", err)
		return
	}

	restore := &models.Deployment{
		ID:             uuid.New().String(),
		AppName:        failed.AppName,
		Version:        previous.Version,
		Environment:    failed.Environment,
		Strategy:       models.StrategyImmediate,
		Status:         models.DeploymentStatusPending,
		Hosts:          failed.Hosts,
		RolledBackFrom: failed.ID,
		TriggeredBy:    "system",
	}

	if err := m.store.Deployments().Create(ctx, restore); err != nil {
		m.logger.Error("failed to create rollback deployment", "deployment_id", failed.ID, "error", err)
		return
	}

	m.logEvent(ctx, restore, models.EventLevelWarn,
		"automatic rollback to version "+previous.Version)

	m.execute(ctx, restore, env)

	// The failed deployment is resolved once the restore completes.
	restored, err := m.store.Deployments().Get(ctx, restore.ID)
	if err == nil && restored.Status == models.DeploymentStatusCompleted {
		failed.Status = models.DeploymentStatusRolledBack
		if err := m.store.Deployments().Update(ctx, failed); err != nil {
			m.logger.Error("failed to mark deployment rolled back", "deployment_id", failed.ID, "error", err)
		}
	}
}

// setProgress persists intermediate progress, best effort.
func (m *Manager) setProgress(ctx context.Context, d *models.Deployment, progress int) {
	d.Progress = progress
	if err := m.store.Deployments().Update(ctx, d); err != nil {
		m.logger.Warn("failed to persist deployment progress",
			"deployment_id", d.ID, "error", err)
	}
}

// logEvent records a deployment event in the unified event log.
func (m *Manager) logEvent(ctx context.Context, d *models.Deployment, level models.EventLevel, message string) {
	if m.events == nil {
		return
	}
	err := m.events.Log(ctx, &models.LogEvent{
		Type:      models.EventTypeDeployment,
		Level:     level,
		Component: "deploy",
		UserID:    d.TriggeredBy,
		Message:   message,
		Metadata: map[string]string{
			"deployment_id": d.ID,
			"app_name":      d.AppName,
			"version":       d.Version,
			"environment":   d.Environment,
			"strategy":      string(d.Strategy),
		},
	})
	if err != nil {
		m.logger.Error("failed to log deployment event", "error", err)
	}
}
