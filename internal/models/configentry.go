package models

import (
	"fmt"
	"time"
)

// ConfigEntry represents one versioned configuration value.
// Updates never overwrite history; each write produces a new version.
type ConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Version     int       `json:"version"`
	Description string    `json:"description,omitempty"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that required config entry fields are present.
func (c *ConfigEntry) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("config key is required")
	}
	if c.Version < 0 {
		return fmt.Errorf("config version must not be negative")
	}
	return nil
}
