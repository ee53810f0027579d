package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/garyzero/gary-zero/internal/models"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.Inc("http_requests_total")
	c.RecordRequest(200, 50*time.Millisecond)
	c.RecordRequest(503, 10*time.Millisecond)
	c.SetGauge("active_sessions", 4)
	c.RecordProviderCall("openai", true, 300*time.Millisecond, 120, 250)
	c.RecordProviderCall("openai", false, 100*time.Millisecond, 80, 0)

	snap := c.Snapshot()

	if snap["http_requests_total"] != 3 {
		t.Fatalf("http_requests_total = %g, want 3", snap["http_requests_total"])
	}
	if snap["http_requests_errors_total"] != 1 {
		t.Fatalf("http_requests_errors_total = %g, want 1", snap["http_requests_errors_total"])
	}
	if snap["active_sessions"] != 4 {
		t.Fatalf("active_sessions = %g, want 4", snap["active_sessions"])
	}
	if snap["provider_calls_total:openai"] != 2 {
		t.Fatalf("provider_calls_total:openai = %g, want 2", snap["provider_calls_total:openai"])
	}
	if snap["provider_errors_total"] != 1 {
		t.Fatalf("provider_errors_total = %g, want 1", snap["provider_errors_total"])
	}
	if snap["provider_tokens_in_total"] != 200 {
		t.Fatalf("provider_tokens_in_total = %g, want 200", snap["provider_tokens_in_total"])
	}
	if snap["provider_error_rate"] != 0.5 {
		t.Fatalf("provider_error_rate = %g, want 0.5", snap["provider_error_rate"])
	}
}

func TestWriteTextExposition(t *testing.T) {
	c := NewCollector()
	c.Inc("http_requests_total")

	var sb strings.Builder
	if err := c.WriteText(&sb); err != nil {
		t.Fatalf("write text: %v", err)
	}
	out := sb.String()

	if !strings.Contains(out, "http_requests_total 1\n") {
		t.Fatalf("exposition missing counter:\n%s", out)
	}
	if !strings.Contains(out, "uptime_seconds ") {
		t.Fatalf("exposition missing uptime:\n%s", out)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	content := `rules:
  - name: high-error-rate
    metric: http_error_rate
    operator: gt
    threshold: 0.05
    severity: critical
    for: 1m
  - name: no-requests
    metric: http_requests_total
    operator: eq
    threshold: 0
    severity: info
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing rules file: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Name != "high-error-rate" || rules[0].For != time.Minute {
		t.Fatalf("unexpected first rule: %+v", rules[0])
	}
	if rules[1].Operator != models.AlertOpEqual {
		t.Fatalf("unexpected operator: %q", rules[1].Operator)
	}
}

func TestLoadRulesRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	content := `rules:
  - name: bad-op
    metric: http_error_rate
    operator: between
    threshold: 0.05
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing rules file: %v", err)
	}

	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected error for invalid operator")
	}
}

func TestAlertFiresAfterForDuration(t *testing.T) {
	c := NewCollector()
	rules := []models.AlertRule{{
		Name:      "error-spike",
		Metric:    "http_error_rate",
		Operator:  models.AlertOpGreaterThan,
		Threshold: 0.5,
		Severity:  models.AlertSeverityCritical,
		For:       time.Minute,
	}}
	am := NewAlertManager(c, rules, nil, nil)

	// Every request fails: error rate 1.0.
	c.RecordRequest(500, time.Millisecond)

	start := time.Now()
	am.Evaluate(context.Background(), start)
	if len(am.Active()) != 0 {
		t.Fatal("alert fired before For duration elapsed")
	}

	am.Evaluate(context.Background(), start.Add(2*time.Minute))
	active := am.Active()
	if len(active) != 1 {
		t.Fatalf("got %d active alerts, want 1", len(active))
	}
	if active[0].Rule.Name != "error-spike" {
		t.Fatalf("unexpected alert: %+v", active[0])
	}
}

func TestAlertResolvesWhenConditionClears(t *testing.T) {
	c := NewCollector()
	rules := []models.AlertRule{{
		Name:      "too-many-sessions",
		Metric:    "active_sessions",
		Operator:  models.AlertOpGreaterThan,
		Threshold: 10,
		Severity:  models.AlertSeverityWarning,
	}}
	am := NewAlertManager(c, rules, nil, nil)

	c.SetGauge("active_sessions", 50)
	now := time.Now()
	am.Evaluate(context.Background(), now)
	if len(am.Active()) != 1 {
		t.Fatal("alert did not fire on breach")
	}

	c.SetGauge("active_sessions", 2)
	am.Evaluate(context.Background(), now.Add(time.Minute))
	if len(am.Active()) != 0 {
		t.Fatal("alert did not resolve after condition cleared")
	}
}
