// Package config defines DLQ sweeping configuration. Per-activity
// retry policy itself lives in domain.ActivityRetryPolicies (§4.8),
// which RetryManager reads directly; the YAML override helpers in
// activitypolicy.go are not called by the worker binary.
package config

import (
	"time"
)

// DLQConfig holds dead-letter-queue sweeping configuration.
type DLQConfig struct {
	// MaxAge is the maximum age a DLQ entry may reach before the
	// sweeper purges it.
	MaxAge time.Duration
	// CleanupInterval is the interval between sweeper passes.
	CleanupInterval time.Duration
}

// GetDLQConfig returns the DLQ sweeping configuration.
func (c Config) GetDLQConfig() DLQConfig {
	return DLQConfig{
		MaxAge:          c.DLQMaxAge,
		CleanupInterval: c.DLQCleanupInterval,
	}
}
