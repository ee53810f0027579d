// Package deploy provides deployment orchestration: strategies, health
// gates, progress tracking, and rollback.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/garyzero/gary-zero/internal/store"
)

// envConfigPrefix marks config entries that feed deployment environments.
const envConfigPrefix = "env."

// EnvMerger builds the environment for a deployment by overlaying
// request-level variables on top of stored base configuration.
// Request-level variables take precedence when both have the same key.
type EnvMerger struct {
	store  store.Store
	logger *slog.Logger
}

// NewEnvMerger creates a new EnvMerger instance.
func NewEnvMerger(st store.Store, logger *slog.Logger) *EnvMerger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvMerger{
		store:  st,
		logger: logger,
	}
}

// MergeForDeployment fetches the stored base environment and merges the
// request-level variables over it.
func (m *EnvMerger) MergeForDeployment(ctx context.Context, appName string, requestEnvVars map[string]string) (map[string]string, error) {
	base, err := m.baseEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting base environment: %w", err)
	}

	merged := MergeEnvVars(base, requestEnvVars)

	m.logger.Debug("environment variables merged",
		"app_name", appName,
		"base_count", len(base),
		"request_count", len(requestEnvVars),
		"merged_count", len(merged),
	)

	return merged, nil
}

// baseEnv reads env.* config entries and strips the prefix.
func (m *EnvMerger) baseEnv(ctx context.Context) (map[string]string, error) {
	entries, err := m.store.Configs().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing config entries: %w", err)
	}

	base := make(map[string]string)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Key, envConfigPrefix) {
			base[strings.TrimPrefix(entry.Key, envConfigPrefix)] = entry.Value
		}
	}
	return base, nil
}

// MergeEnvVars merges two maps of environment variables.
// The second map takes precedence over the first.
// This is a pure function for easy testing.
func MergeEnvVars(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))

	for k, v := range base {
		merged[k] = v
	}

	for k, v := range override {
		merged[k] = v
	}

	return merged
}
