package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RF_DB_DSN", "postgres://localhost/reviewflow")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8090" {
		t.Fatalf("addr=%s", cfg.HTTP.Addr)
	}
	if cfg.Trial.DefaultDays != 7 {
		t.Fatalf("trial days=%d", cfg.Trial.DefaultDays)
	}
	if cfg.Sweep.Interval != time.Hour {
		t.Fatalf("sweep interval=%s", cfg.Sweep.Interval)
	}
	if cfg.Refresh.Window != 30*time.Minute {
		t.Fatalf("refresh window=%s", cfg.Refresh.Window)
	}
	if cfg.Identity.TokenURL != "https://oauth2.googleapis.com/token" {
		t.Fatalf("token url=%s", cfg.Identity.TokenURL)
	}
	if cfg.Billing.PeriodDays != 30 {
		t.Fatalf("period days=%d", cfg.Billing.PeriodDays)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("RF_DB_DSN", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when dsn missing")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
database:
  dsn: postgres://db.internal/reviewflow
backup:
  redis_url: redis://cache.internal:6379/0
trial:
  default_days: 14
sweep:
  interval: 30m
admin:
  emails:
    - ops@example.com
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://db.internal/reviewflow" {
		t.Fatalf("dsn=%s", cfg.Database.DSN)
	}
	if cfg.Backup.RedisURL != "redis://cache.internal:6379/0" {
		t.Fatalf("redis url=%s", cfg.Backup.RedisURL)
	}
	if cfg.Trial.DefaultDays != 14 {
		t.Fatalf("trial days=%d", cfg.Trial.DefaultDays)
	}
	if cfg.Sweep.Interval != 30*time.Minute {
		t.Fatalf("sweep interval=%s", cfg.Sweep.Interval)
	}
	if len(cfg.Admin.Emails) != 1 || cfg.Admin.Emails[0] != "ops@example.com" {
		t.Fatalf("admin emails=%v", cfg.Admin.Emails)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("database:\n  dsn: postgres://file/db\ntrial:\n  default_days: 14\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RF_DB_DSN", "postgres://env/db")
	t.Setenv("RF_TRIAL_DEFAULT_DAYS", "3")
	t.Setenv("RF_REFRESH_WINDOW", "45m")
	t.Setenv("RF_ADMIN_EMAILS", "a@example.com, b@example.com,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Fatalf("dsn=%s, env must win", cfg.Database.DSN)
	}
	if cfg.Trial.DefaultDays != 3 {
		t.Fatalf("trial days=%d", cfg.Trial.DefaultDays)
	}
	if cfg.Refresh.Window != 45*time.Minute {
		t.Fatalf("refresh window=%s", cfg.Refresh.Window)
	}
	if len(cfg.Admin.Emails) != 2 || cfg.Admin.Emails[1] != "b@example.com" {
		t.Fatalf("admin emails=%v", cfg.Admin.Emails)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("RF_DB_DSN", "postgres://localhost/reviewflow")
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be fatal: %v", err)
	}
	if cfg.HTTP.Addr != ":8090" {
		t.Fatalf("addr=%s", cfg.HTTP.Addr)
	}
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("RF_DB_DSN", "postgres://localhost/reviewflow")
	t.Setenv("RF_TRIAL_DEFAULT_DAYS", "-2")
	t.Setenv("RF_SWEEP_INTERVAL", "often")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trial.DefaultDays != 7 {
		t.Fatalf("negative trial days must be ignored, got %d", cfg.Trial.DefaultDays)
	}
	if cfg.Sweep.Interval != time.Hour {
		t.Fatalf("unparseable interval must be ignored, got %s", cfg.Sweep.Interval)
	}
}
