package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Server is the configuration of the reference server, read from the
// environment.
type Server struct {
	Addr                      string
	Env                       string
	AllowedOrigin             string
	DatabaseURL               string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	SummaryCacheTTL           time.Duration
	StoreID                   string
	AuthSecret                string
	AccessTokenTTL            time.Duration
	RefreshTokenTTL           time.Duration
	SupervisorPIN             string
	VarianceReasonThreshold   decimal.Decimal
	VarianceApprovalThreshold decimal.Decimal
	PINMaxAttempts            int
	PINLockout                time.Duration
}

func Load() Server {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Server{
		Addr:                      getEnv("APP_ADDR", ":8080"),
		Env:                       getEnv("APP_ENV", "prod"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		SummaryCacheTTL:           getDuration("SUMMARY_CACHE_TTL", 30*time.Second),
		StoreID:                   getEnv("DEFAULT_STORE_ID", "main-store"),
		AuthSecret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTL:            getDuration("TOKEN_TTL", 8*time.Hour),
		RefreshTokenTTL:           getDuration("REFRESH_TTL", 7*24*time.Hour),
		SupervisorPIN:             strings.TrimSpace(os.Getenv("SUPERVISOR_PIN")),
		VarianceReasonThreshold:   getDecimal("VARIANCE_REASON_THRESHOLD", decimal.NewFromInt(1)),
		VarianceApprovalThreshold: getDecimal("VARIANCE_APPROVAL_THRESHOLD", decimal.NewFromInt(5)),
		PINMaxAttempts:            getInt("PIN_MAX_ATTEMPTS", 5),
		PINLockout:                getDuration("PIN_LOCKOUT", 5*time.Minute),
	}

	return cfg
}

// Validate reports settings the server refuses to start with.
func (c Server) Validate() error {
	if c.AuthSecret == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if len(c.AuthSecret) < 16 {
		return errors.New("AUTH_SECRET must be at least 16 characters")
	}
	if c.SupervisorPIN == "" {
		return errors.New("SUPERVISOR_PIN is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("TOKEN_TTL and REFRESH_TTL must be positive")
	}
	if !c.VarianceReasonThreshold.IsPositive() || c.VarianceApprovalThreshold.LessThan(c.VarianceReasonThreshold) {
		return fmt.Errorf("variance thresholds %s/%s are inconsistent", c.VarianceReasonThreshold, c.VarianceApprovalThreshold)
	}
	return nil
}

func (c Server) Development() bool {
	return c.Env == "dev"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	val, err := decimal.NewFromString(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return val
}
