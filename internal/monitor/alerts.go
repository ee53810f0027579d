package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/models"
)

// DefaultEvalInterval is how often alert rules are evaluated.
const DefaultEvalInterval = 30 * time.Second

// ruleFile is the YAML shape of an alert rule config.
type ruleFile struct {
	Rules []models.AlertRule `yaml:"rules"`
}

// LoadRules reads alert rules from a YAML file.
func LoadRules(path string) ([]models.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading alert rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing alert rules: %w", err)
	}

	for i := range file.Rules {
		if err := file.Rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}

	return file.Rules, nil
}

// AlertManager evaluates rules against collector snapshots and tracks
// firing state. Rules with a For duration fire only after the condition
// holds continuously for that long.
type AlertManager struct {
	collector *Collector
	rules     []models.AlertRule
	events    *eventlog.Service
	interval  time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	firstBreach map[string]time.Time
	active      map[string]*models.Alert
}

// NewAlertManager creates an alert manager over a collector.
func NewAlertManager(collector *Collector, rules []models.AlertRule, events *eventlog.Service, logger *slog.Logger) *AlertManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertManager{
		collector:   collector,
		rules:       rules,
		events:      events,
		interval:    DefaultEvalInterval,
		logger:      logger,
		firstBreach: make(map[string]time.Time),
		active:      make(map[string]*models.Alert),
	}
}

// Run evaluates rules periodically until the context is cancelled.
func (a *AlertManager) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("alert manager started", "rules", len(a.rules))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("alert manager stopped")
			return
		case <-ticker.C:
			a.Evaluate(ctx, time.Now())
		}
	}
}

// Evaluate runs one evaluation pass at the given time.
func (a *AlertManager) Evaluate(ctx context.Context, now time.Time) {
	snapshot := a.collector.Snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rule := range a.rules {
		value, ok := snapshot[rule.Metric]
		breached := ok && compare(value, rule.Operator, rule.Threshold)

		if !breached {
			delete(a.firstBreach, rule.Name)
			if alert, firing := a.active[rule.Name]; firing {
				alert.Resolved = true
				delete(a.active, rule.Name)
				a.logAlert(ctx, rule, value, "alert resolved: "+rule.Name, models.EventLevelInfo)
			}
			continue
		}

		first, seen := a.firstBreach[rule.Name]
		if !seen {
			first = now
			a.firstBreach[rule.Name] = first
		}
		if now.Sub(first) < rule.For {
			continue
		}

		if _, firing := a.active[rule.Name]; firing {
			continue
		}

		alert := &models.Alert{
			Rule:    rule,
			Value:   value,
			FiredAt: now,
		}
		a.active[rule.Name] = alert

		level := models.EventLevelWarn
		if rule.Severity == models.AlertSeverityCritical {
			level = models.EventLevelError
		}
		a.logAlert(ctx, rule, value,
			fmt.Sprintf("alert fired: %s (%s %s %g, value %g)",
				rule.Name, rule.Metric, rule.Operator, rule.Threshold, value),
			level)
	}
}

// Active returns the currently firing alerts.
func (a *AlertManager) Active() []*models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	alerts := make([]*models.Alert, 0, len(a.active))
	for _, alert := range a.active {
		alerts = append(alerts, alert)
	}
	return alerts
}

// compare applies the rule operator.
func compare(value float64, op models.AlertOperator, threshold float64) bool {
	switch op {
	case models.AlertOpGreaterThan:
		return value > threshold
	case models.AlertOpLessThan:
		return value < threshold
	case models.AlertOpEqual:
		return value == threshold
	default:
		return false
	}
}

// logAlert records an alert state change in the unified event log.
func (a *AlertManager) logAlert(ctx context.Context, rule models.AlertRule, value float64, message string, level models.EventLevel) {
	a.logger.Warn(message, "rule", rule.Name, "metric", rule.Metric, "value", value)

	if a.events == nil {
		return
	}
	err := a.events.Log(ctx, &models.LogEvent{
		Type:      models.EventTypeSystem,
		Level:     level,
		Component: "monitor",
		Message:   message,
		Metadata: map[string]string{
			"rule":     rule.Name,
			"metric":   rule.Metric,
			"value":    fmt.Sprintf("%g", value),
			"severity": string(rule.Severity),
		},
	})
	if err != nil {
		a.logger.Error("failed to log alert event", "error", err)
	}
}
