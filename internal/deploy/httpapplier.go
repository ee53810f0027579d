package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
)

// HTTPApplier drives rollouts through a deploy agent on each host. The
// agent exposes POST /deploy to switch versions and GET /health to
// report readiness.
type HTTPApplier struct {
	client *http.Client
	port   int
	logger *slog.Logger
}

// NewHTTPApplier creates an applier targeting agents on the given port.
func NewHTTPApplier(port int, timeout time.Duration, logger *slog.Logger) *HTTPApplier {
	if port <= 0 {
		port = 9090
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPApplier{
		client: &http.Client{Timeout: timeout},
		port:   port,
		logger: logger,
	}
}

// Apply pushes the deployment's version to the host agent.
func (a *HTTPApplier) Apply(ctx context.Context, host string, d *models.Deployment, env map[string]string) error {
	payload, err := json.Marshal(map[string]any{
		"app_name":    d.AppName,
		"version":     d.Version,
		"environment": d.Environment,
		"env":         env,
	})
	if err != nil {
		return fmt.Errorf("encoding deploy request: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/deploy", host, a.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling deploy agent on %s: %w", host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("deploy agent on %s returned status %d", host, resp.StatusCode)
	}

	a.logger.Debug("version applied", "host", host, "app", d.AppName, "version", d.Version)
	return nil
}

// HealthCheck probes the host agent's health endpoint.
func (a *HTTPApplier) HealthCheck(ctx context.Context, host string) error {
	url := fmt.Sprintf("http://%s:%d/health", host, a.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("host %s unhealthy: status %d", host, resp.StatusCode)
	}
	return nil
}
