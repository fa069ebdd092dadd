package server

import (
	"os"
	"path/filepath"
	"testing"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Cluster.Project = "test-project"
	cfg.Auth.Password = "hunter2"
	return cfg
}

func TestValidateDefaultsNeedProjectAndPassword(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to fail without a project")
	}

	cfg.Cluster.Project = "test-project"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to fail without a password in password mode")
	}

	cfg.Auth.Password = "hunter2"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateAssertionMode(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.Mode = AuthModeAssertion
	cfg.Auth.Password = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("iap mode should not require a password: %v", err)
	}

	cfg.Auth.Assertion.JWKSURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to fail without a jwks url in iap mode")
	}
}

func TestValidateRejectsUnknownAuthMode(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.Mode = "oauth"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to reject unknown auth mode")
	}
}

func TestValidateRejectsBadSessionTTL(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.SessionTTL = "yesterday"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to reject malformed session ttl")
	}
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	t.Setenv("WSPROXYD_CLUSTER_HOSTNAME", "cluster-abc.cloudworkstations.dev")
	t.Setenv("WSPROXYD_PROJECT_ID", "env-project")
	t.Setenv("WSPROXYD_PROXY_PASSWORD", "env-password")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Cluster.Hostname != "cluster-abc.cloudworkstations.dev" {
		t.Fatalf("cluster hostname override not applied: %q", cfg.Cluster.Hostname)
	}
	if cfg.Cluster.Project != "env-project" {
		t.Fatalf("project override not applied: %q", cfg.Cluster.Project)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Fatalf("PORT override not applied: %q", cfg.Server.ListenAddr)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  listen_addr: \":8080\"\nunknown_section:\n  foo: bar\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected unknown keys to be rejected")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
cluster:
  hostname: cluster-1.cloudworkstations.dev
  project: file-project
auth:
  mode: password
  password: file-password
  session_ttl: 1h
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Cluster.Project != "file-project" {
		t.Fatalf("unexpected project: %q", cfg.Cluster.Project)
	}
	if got := cfg.Auth.SessionDuration().Hours(); got != 1 {
		t.Fatalf("unexpected session ttl: %v hours", got)
	}
	if host := cfg.Cluster.TargetHost("alice"); host != "alice.cluster-1.cloudworkstations.dev" {
		t.Fatalf("unexpected target host: %q", host)
	}
}
