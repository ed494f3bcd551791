// Package config provides a YAML-based override loader for the
// activity retry/timeout table (§4.8, §10.3). The table itself is
// fixed in domain.ActivityRetryPolicies/domain.ActivityTimeouts;
// this loader merges per-activity field overrides from a YAML file
// (e.g. a longer extract timeout against a slow source API) into
// copies of those tables. cmd/etlworker does not call it, so the
// running worker always uses the built-in tables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// ActivityPolicyOverride is the subset of domain.RetryConfig and
// domain.ActivityTimeout an operator may override per activity. Zero
// values mean "keep the built-in default".
type ActivityPolicyOverride struct {
	StartToClose     time.Duration `yaml:"start_to_close"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	MaxRetries       *int          `yaml:"max_retries"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Multiplier       float64       `yaml:"multiplier"`
}

// activityPolicyYAML is the on-disk shape of the policy file.
type activityPolicyYAML struct {
	Activities map[string]ActivityPolicyOverride `yaml:"activities"`
}

// LoadActivityPolicyOverrides reads an activity policy YAML file at
// path. A missing file is not an error: callers get an empty override
// set and the built-in §4.8 table applies unchanged.
func LoadActivityPolicyOverrides(path string) (map[domain.ActivityName]ActivityPolicyOverride, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadActivityPolicyOverrides: %w", err)
	}

	content, err := os.ReadFile(absPath) // #nosec G304 -- operator-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return map[domain.ActivityName]ActivityPolicyOverride{}, nil
		}
		return nil, fmt.Errorf("op=config.LoadActivityPolicyOverrides: read %s: %w", absPath, err)
	}

	var parsed activityPolicyYAML
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("op=config.LoadActivityPolicyOverrides: parse %s: %w", absPath, err)
	}

	out := make(map[domain.ActivityName]ActivityPolicyOverride, len(parsed.Activities))
	for name, override := range parsed.Activities {
		out[domain.ActivityName(name)] = override
	}
	return out, nil
}

// ApplyActivityPolicyOverrides merges overrides onto the §4.8 built-in
// tables, returning new per-activity timeout and retry tables. The
// built-ins are never mutated.
func ApplyActivityPolicyOverrides(overrides map[domain.ActivityName]ActivityPolicyOverride) (
	timeouts map[domain.ActivityName]domain.ActivityTimeout,
	retries map[domain.ActivityName]domain.RetryConfig,
) {
	timeouts = make(map[domain.ActivityName]domain.ActivityTimeout, len(domain.ActivityTimeouts))
	for name, t := range domain.ActivityTimeouts {
		timeouts[name] = t
	}
	retries = make(map[domain.ActivityName]domain.RetryConfig, len(domain.ActivityRetryPolicies))
	for name, r := range domain.ActivityRetryPolicies {
		retries[name] = r
	}

	for name, override := range overrides {
		t := timeouts[name]
		if override.StartToClose > 0 {
			t.StartToClose = override.StartToClose
		}
		if override.HeartbeatTimeout > 0 {
			t.HeartbeatTimeout = override.HeartbeatTimeout
		}
		timeouts[name] = t

		r := retries[name]
		if override.MaxRetries != nil {
			r.MaxRetries = *override.MaxRetries
		}
		if override.InitialDelay > 0 {
			r.InitialDelay = override.InitialDelay
		}
		if override.MaxDelay > 0 {
			r.MaxDelay = override.MaxDelay
		}
		if override.Multiplier > 0 {
			r.Multiplier = override.Multiplier
		}
		retries[name] = r
	}
	return timeouts, retries
}
