package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SUPERVISOR_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.SupervisorPIN != "" {
		t.Fatalf("expected empty SUPERVISOR_PIN when unset, got %q", cfg.SupervisorPIN)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without AUTH_SECRET")
	}
}

func TestLoadParsesDurationsAndThresholds(t *testing.T) {
	t.Setenv("AUTH_SECRET", "0123456789abcdef0123")
	t.Setenv("SUPERVISOR_PIN", "2468")
	t.Setenv("TOKEN_TTL", "15m")
	t.Setenv("REFRESH_TTL", "bogus")
	t.Setenv("VARIANCE_REASON_THRESHOLD", "2.5")
	t.Setenv("VARIANCE_APPROVAL_THRESHOLD", "10")

	cfg := Load()
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("expected default refresh ttl, got %s", cfg.RefreshTokenTTL)
	}
	if cfg.VarianceReasonThreshold.String() != "2.5" || cfg.VarianceApprovalThreshold.String() != "10" {
		t.Fatalf("unexpected thresholds %s/%s", cfg.VarianceReasonThreshold, cfg.VarianceApprovalThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("AUTH_SECRET", "0123456789abcdef0123")
	t.Setenv("SUPERVISOR_PIN", "2468")
	t.Setenv("VARIANCE_REASON_THRESHOLD", "6")
	t.Setenv("VARIANCE_APPROVAL_THRESHOLD", "5")

	if err := Load().Validate(); err == nil {
		t.Fatal("expected inverted thresholds to fail validation")
	}
}

func TestDefaultTerminalIsValid(t *testing.T) {
	cfg := DefaultTerminal()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	cfg.SyncInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero sync interval to fail")
	}
}
