package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func TestLoadActivityPolicyOverridesMissingFile(t *testing.T) {
	overrides, err := LoadActivityPolicyOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadActivityPolicyOverrides() error = %v", err)
	}
	if len(overrides) != 0 {
		t.Fatalf("expected no overrides for missing file, got %+v", overrides)
	}
}

func TestLoadActivityPolicyOverridesAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity_policy.yaml")
	content := `
activities:
  extract:
    start_to_close: 90m
    max_retries: 5
  cleanup:
    max_retries: 0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	overrides, err := LoadActivityPolicyOverrides(path)
	if err != nil {
		t.Fatalf("LoadActivityPolicyOverrides() error = %v", err)
	}

	timeouts, retries := ApplyActivityPolicyOverrides(overrides)

	if timeouts[domain.ActivityExtract].StartToClose.String() != "1h30m0s" {
		t.Fatalf("extract start_to_close = %v, want 1h30m0s", timeouts[domain.ActivityExtract].StartToClose)
	}
	if retries[domain.ActivityExtract].MaxRetries != 5 {
		t.Fatalf("extract max retries = %d, want 5", retries[domain.ActivityExtract].MaxRetries)
	}
	// transform untouched by the override file, should keep built-in default.
	if retries[domain.ActivityTransform].MaxRetries != domain.ActivityRetryPolicies[domain.ActivityTransform].MaxRetries {
		t.Fatalf("transform retries should be unchanged")
	}
	if timeouts[domain.ActivityLoad] != domain.ActivityTimeouts[domain.ActivityLoad] {
		t.Fatalf("load timeout should be unchanged")
	}
}
