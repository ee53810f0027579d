package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertOperator compares a metric value against a rule threshold.
type AlertOperator string

const (
	AlertOpGreaterThan AlertOperator = "gt"
	AlertOpLessThan    AlertOperator = "lt"
	AlertOpEqual       AlertOperator = "eq"
)

// AlertSeverity ranks alerts for notification routing.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertRule defines a threshold check against a collected metric.
type AlertRule struct {
	Name      string        `json:"name" yaml:"name"`
	Metric    string        `json:"metric" yaml:"metric"`
	Operator  AlertOperator `json:"operator" yaml:"operator"`
	Threshold float64       `json:"threshold" yaml:"threshold"`
	Severity  AlertSeverity `json:"severity" yaml:"severity"`
	// For is how long the condition must hold before the alert fires.
	For time.Duration `json:"for,omitempty" yaml:"for,omitempty"`
}

// UnmarshalYAML decodes a rule, parsing For from a duration string
// like "30s" or "5m".
func (r *AlertRule) UnmarshalYAML(value *yaml.Node) error {
	type rawRule struct {
		Name      string        `yaml:"name"`
		Metric    string        `yaml:"metric"`
		Operator  AlertOperator `yaml:"operator"`
		Threshold float64       `yaml:"threshold"`
		Severity  AlertSeverity `yaml:"severity"`
		For       string        `yaml:"for"`
	}

	var raw rawRule
	if err := value.Decode(&raw); err != nil {
		return err
	}

	r.Name = raw.Name
	r.Metric = raw.Metric
	r.Operator = raw.Operator
	r.Threshold = raw.Threshold
	r.Severity = raw.Severity
	if raw.For != "" {
		d, err := time.ParseDuration(raw.For)
		if err != nil {
			return fmt.Errorf("parsing alert rule duration %q: %w", raw.For, err)
		}
		r.For = d
	}
	return nil
}

// Validate checks rule fields for consistency.
func (r *AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("alert rule name is required")
	}
	if r.Metric == "" {
		return fmt.Errorf("alert rule metric is required")
	}
	switch r.Operator {
	case AlertOpGreaterThan, AlertOpLessThan, AlertOpEqual:
	default:
		return fmt.Errorf("invalid alert operator: %q", r.Operator)
	}
	return nil
}

// Alert is a fired instance of a rule.
type Alert struct {
	Rule     AlertRule `json:"rule"`
	Value    float64   `json:"value"`
	FiredAt  time.Time `json:"fired_at"`
	Resolved bool      `json:"resolved"`
}
