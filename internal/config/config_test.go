package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Policy.BundlePath != "./policy.json" {
		t.Errorf("BundlePath = %q, want default", cfg.Policy.BundlePath)
	}
	if cfg.Engine.ApprovalTimeoutMs != 30000 {
		t.Errorf("ApprovalTimeoutMs = %d, want 30000", cfg.Engine.ApprovalTimeoutMs)
	}
	if cfg.Engine.MaxAuditLogSize != 10000 {
		t.Errorf("MaxAuditLogSize = %d, want 10000", cfg.Engine.MaxAuditLogSize)
	}
	if cfg.Postgres.Enabled {
		t.Error("Postgres.Enabled should default to false")
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled should default to false")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentguard.yaml")
	contents := `
policy:
  bundle_path: /etc/agentguard/policy.json
  secret_env_var: MY_SECRET
engine:
  default_environment: staging
  approval_timeout_ms: 5000
  max_audit_log_size: 500
postgres:
  enabled: true
  host: db.internal
  port: 5432
  user: agentguard
  database: agentguard
telemetry:
  enabled: true
  service_name: agentguard-demo
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Policy.BundlePath != "/etc/agentguard/policy.json" {
		t.Errorf("BundlePath = %q", cfg.Policy.BundlePath)
	}
	if cfg.Engine.DefaultEnvironment != "staging" {
		t.Errorf("DefaultEnvironment = %q", cfg.Engine.DefaultEnvironment)
	}
	if cfg.Engine.ApprovalTimeoutMs != 5000 {
		t.Errorf("ApprovalTimeoutMs = %d", cfg.Engine.ApprovalTimeoutMs)
	}
	if !cfg.Postgres.Enabled {
		t.Error("Postgres.Enabled = false, want true")
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("Postgres.Host = %q", cfg.Postgres.Host)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = false, want true")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AGENTGUARD_POLICY_BUNDLE_PATH", "/from/env.json")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Policy.BundlePath != "/from/env.json" {
		t.Errorf("BundlePath = %q, want env override", cfg.Policy.BundlePath)
	}
}
