package models

import (
	"fmt"
	"time"
)

// FlagType represents the evaluation strategy of a feature flag.
type FlagType string

const (
	// FlagTypeBoolean flags are on or off for everyone.
	FlagTypeBoolean FlagType = "boolean"
	// FlagTypePercentage flags are on for a deterministic percentage of subjects.
	FlagTypePercentage FlagType = "percentage"
	// FlagTypeTargeted flags are on only for listed subjects.
	FlagTypeTargeted FlagType = "targeted"
)

// FeatureFlag represents a runtime feature toggle.
type FeatureFlag struct {
	Key         string   `json:"key"`
	Description string   `json:"description,omitempty"`
	Type        FlagType `json:"type"`
	Enabled     bool     `json:"enabled"`
	// Percentage is the rollout percentage (0-100) for percentage flags.
	Percentage int `json:"percentage,omitempty"`
	// Targets is the list of subject IDs for targeted flags.
	Targets []string `json:"targets,omitempty"`
	// Environments scopes the flag; empty means all environments.
	Environments []string  `json:"environments,omitempty"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks flag fields for consistency.
func (f *FeatureFlag) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("flag key is required")
	}
	switch f.Type {
	case FlagTypeBoolean, FlagTypeTargeted:
	case FlagTypePercentage:
		if f.Percentage < 0 || f.Percentage > 100 {
			return fmt.Errorf("flag percentage must be 0-100, got %d", f.Percentage)
		}
	default:
		return fmt.Errorf("invalid flag type: %q", f.Type)
	}
	return nil
}

// AppliesTo reports whether the flag is in effect for the given environment.
func (f *FeatureFlag) AppliesTo(environment string) bool {
	if len(f.Environments) == 0 {
		return true
	}
	for _, env := range f.Environments {
		if env == environment {
			return true
		}
	}
	return false
}
