package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cleandir/leadengine/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig with missing file failed: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Drip.SendDelay != 2*time.Second {
		t.Errorf("Drip.SendDelay = %v, want 2s", cfg.Drip.SendDelay)
	}
	if cfg.Drip.DispatchSchedule == "" || cfg.Drip.PurgeSchedule == "" {
		t.Error("drip schedules must have defaults")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
log:
  level: debug
  json: false
server:
  addr: ":9090"
mailgun:
  domain: mg.example.com
  from: hello@mg.example.com
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.JSON {
		t.Errorf("log config = %+v, want debug/text", cfg.Log)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Mailgun.Domain != "mg.example.com" {
		t.Errorf("Mailgun.Domain = %q, want mg.example.com", cfg.Mailgun.Domain)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.Path != "leadengine.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("LEAD_LOG_LEVEL", "warn")
	t.Setenv("LEAD_MAILGUN_API_KEY", "key-from-env")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn from env", cfg.Log.Level)
	}
	if cfg.Mailgun.APIKey != "key-from-env" {
		t.Errorf("Mailgun.APIKey = %q, want value from env", cfg.Mailgun.APIKey)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}
