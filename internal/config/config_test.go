package config

import (
	"testing"
	"time"
)

func TestLoadEnv_Defaults(t *testing.T) {
	// Empty values count as unset.
	t.Setenv("POS_REQUIRE_OPEN_REGISTER", "")
	t.Setenv("POSTGRES_LOCK_TIMEOUT", "")
	t.Setenv("POSTGRES_MAX_CONNS", "")
	t.Setenv("POS_EXPIRY_WARNING_DAYS", "")
	t.Setenv("REDIS_ALERT_CHANNEL", "")

	cfg := LoadEnv()
	if !cfg.POS.RequireOpenRegister {
		t.Error("Expected RequireOpenRegister to default to true")
	}
	if cfg.Postgres.LockTimeout != 3*time.Second {
		t.Errorf("Expected lock timeout 3s, got %s", cfg.Postgres.LockTimeout)
	}
	if cfg.Postgres.MaxConns != 10 {
		t.Errorf("Expected 10 max conns, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.POS.ExpiryWarningDays != 30 {
		t.Errorf("Expected 30 expiry warning days, got %d", cfg.POS.ExpiryWarningDays)
	}
	if cfg.Redis.AlertChannel != "pos:inventory:alerts" {
		t.Errorf("Expected default alert channel, got %q", cfg.Redis.AlertChannel)
	}
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("POS_REQUIRE_OPEN_REGISTER", "false")
	t.Setenv("POSTGRES_STATEMENT_TIMEOUT", "2s")
	t.Setenv("POSTGRES_MAX_CONNS", "25")
	t.Setenv("POS_EXPIRY_WARNING_DAYS", "7")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("APP_ENV", "development")

	cfg := LoadEnv()
	if cfg.POS.RequireOpenRegister {
		t.Error("Expected RequireOpenRegister=false")
	}
	if cfg.Postgres.StatementTimeout != 2*time.Second {
		t.Errorf("Expected statement timeout 2s, got %s", cfg.Postgres.StatementTimeout)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("Expected 25 max conns, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.POS.ExpiryWarningDays != 7 {
		t.Errorf("Expected 7 expiry warning days, got %d", cfg.POS.ExpiryWarningDays)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected redis addr override, got %q", cfg.Redis.Addr)
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development mode")
	}
}
