package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreGrantAllAndSqlite(t *testing.T) {
	cfg := Defaults()
	if cfg.EscalationPolicy != "grant-all" {
		t.Fatalf("expected default policy grant-all, got %q", cfg.EscalationPolicy)
	}
	if cfg.AuditDSN == "" {
		t.Fatal("expected a non-empty default audit DSN")
	}
}

func TestLoadWithNoFileNoEnvUsesDefaultsThenFlags(t *testing.T) {
	cfg, err := Load("", []string{"-log-level=debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected flag layer to override log level, got %q", cfg.LogLevel)
	}
	if cfg.InitramfsPath != Defaults().InitramfsPath {
		t.Fatalf("expected untouched field to retain default, got %q", cfg.InitramfsPath)
	}
}

func TestLoadFileLayerIsOverriddenByFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microvisor.toml")
	content := "[escalation]\npolicy = \"deny\"\n\n[audit]\ndsn = \"sqlite://from-file.db\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test toml file: %v", err)
	}

	cfg, err := Load(path, []string{"-audit-dsn=sqlite://from-flag.db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EscalationPolicy != "deny" {
		t.Fatalf("expected file layer's policy to apply, got %q", cfg.EscalationPolicy)
	}
	if cfg.AuditDSN != "sqlite://from-flag.db" {
		t.Fatalf("expected flag layer to win over file layer, got %q", cfg.AuditDSN)
	}
}

func TestEnvLayerOverridesDefault(t *testing.T) {
	t.Setenv("MICROVISOR__LOG_LEVEL", "warn")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env layer to override default, got %q", cfg.LogLevel)
	}
}

func TestFileLayerParsesPerAgentInitialGrants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microvisor.toml")
	content := `
[[agents]]
name = "worker"

[[agents.grants]]
kind = "network"

[[agents.grants]]
kind = "filesystem"
path_prefix = "/data/"
read = true
write = true

[[agents]]
name = "watchdog"

[[agents.grants]]
kind = "process"
pid = 1
can_send = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test toml file: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	grants := cfg.AgentGrants("worker")
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants for worker, got %d: %+v", len(grants), grants)
	}
	if grants[0].Kind != "network" {
		t.Fatalf("expected first grant kind network, got %q", grants[0].Kind)
	}
	if grants[1].Kind != "filesystem" || grants[1].PathPrefix != "/data/" {
		t.Fatalf("expected second grant filesystem with path /data/, got %+v", grants[1])
	}

	watchdogGrants := cfg.AgentGrants("watchdog")
	if len(watchdogGrants) != 1 || watchdogGrants[0].Kind != "process" || watchdogGrants[0].Pid != 1 {
		t.Fatalf("expected watchdog to hold a process grant for pid 1, got %+v", watchdogGrants)
	}

	if cfg.AgentGrants("nonexistent") != nil {
		t.Fatal("expected no grants for an unconfigured agent name")
	}
}

func TestGrantConfigCapabilityRejectsUnrecognizedKind(t *testing.T) {
	g := GrantConfig{Kind: "quantum-teleport"}
	if _, ok := g.Capability(); ok {
		t.Fatal("expected an unrecognized grant kind to be rejected")
	}
}
