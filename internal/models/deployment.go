package models

import (
	"fmt"
	"time"
)

// DeploymentStatus represents the current state of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "pending"
	DeploymentStatusInProgress DeploymentStatus = "in_progress"
	DeploymentStatusCompleted  DeploymentStatus = "completed"
	DeploymentStatusFailed     DeploymentStatus = "failed"
	DeploymentStatusRolledBack DeploymentStatus = "rolled_back"
)

// DeploymentStrategy represents how a deployment is rolled out.
type DeploymentStrategy string

const (
	StrategyImmediate DeploymentStrategy = "immediate"
	StrategyRolling   DeploymentStrategy = "rolling"
	StrategyCanary    DeploymentStrategy = "canary"
	StrategyBlueGreen DeploymentStrategy = "blue_green"
)

// Deployment represents a rollout of an application version to a set of hosts.
type Deployment struct {
	ID          string             `json:"id"`
	AppName     string             `json:"app_name"`
	Version     string             `json:"version"`
	Environment string             `json:"environment"`
	Strategy    DeploymentStrategy `json:"strategy"`
	Status      DeploymentStatus   `json:"status"`
	// Hosts are the targets of the rollout.
	Hosts []string `json:"hosts,omitempty"`
	// Progress is the percentage of hosts updated so far (0-100).
	Progress int `json:"progress"`
	// CanaryPercent is the initial traffic share for canary deployments.
	CanaryPercent int `json:"canary_percent,omitempty"`
	// RolledBackFrom is set on rollback deployments and names the
	// deployment that was reverted.
	RolledBackFrom string     `json:"rolled_back_from,omitempty"`
	Error          string     `json:"error,omitempty"`
	TriggeredBy    string     `json:"triggered_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Validate checks deployment fields for consistency.
func (d *Deployment) Validate() error {
	if d.AppName == "" {
		return fmt.Errorf("deployment app_name is required")
	}
	if d.Version == "" {
		return fmt.Errorf("deployment version is required")
	}
	if len(d.Hosts) == 0 {
		return fmt.Errorf("deployment requires at least one host")
	}
	switch d.Strategy {
	case StrategyImmediate, StrategyRolling, StrategyBlueGreen:
	case StrategyCanary:
		if d.CanaryPercent < 1 || d.CanaryPercent > 100 {
			return fmt.Errorf("canary_percent must be 1-100, got %d", d.CanaryPercent)
		}
	default:
		return fmt.Errorf("invalid deployment strategy: %q", d.Strategy)
	}
	return nil
}

// IsTerminal reports whether the deployment has reached a final state.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentStatusCompleted, DeploymentStatusFailed, DeploymentStatusRolledBack:
		return true
	default:
		return false
	}
}
