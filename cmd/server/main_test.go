package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/config"
)

func securityConfig(secret string, pin string) config.Server {
	return config.Server{
		AuthSecret:                secret,
		SupervisorPIN:             pin,
		AccessTokenTTL:            time.Hour,
		RefreshTokenTTL:           24 * time.Hour,
		VarianceReasonThreshold:   decimal.NewFromInt(1),
		VarianceApprovalThreshold: decimal.NewFromInt(5),
	}
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Server{
		securityConfig("short", "7391"),
		securityConfig("0123456789abcdef0123456789abcdef", "1234"),
		securityConfig("0123456789abcdef0123456789abcdef", "9876"),
		securityConfig("0123456789abcdef0123456789abcdef", "5555"),
		securityConfig("0123456789abcdef0123456789abcdef", "73915"),
		securityConfig("0123456789abcdef0123456789abcdef", "73a1"),
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected weak security config %q/%q to be rejected", cfg.AuthSecret, cfg.SupervisorPIN)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(securityConfig("0123456789abcdef0123456789abcdef", "7391"))
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
