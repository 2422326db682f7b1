package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/cache"
	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/httpapi"
	"kasirinaja/pos/internal/service"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/store/memory"
	pgstore "kasirinaja/pos/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	summaries := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop summary cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("summary cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("summary cache: noop")
	}

	svc := service.New(repo, summaries, service.Options{
		DefaultStoreID: cfg.StoreID,
		SummaryTTL:     cfg.SummaryCacheTTL,
		Policy: shift.VariancePolicy{
			ReasonThreshold:   cfg.VarianceReasonThreshold,
			ApprovalThreshold: cfg.VarianceApprovalThreshold,
		},
	}, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.SupervisorPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		PINMaxAttempts: cfg.PINMaxAttempts,
		PINLockout:     cfg.PINLockout,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Server) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func validateSecurityConfig(cfg config.Server) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}
	if len(cfg.SupervisorPIN) != 4 {
		return fmt.Errorf("SUPERVISOR_PIN must be exactly 4 digits")
	}
	for _, r := range cfg.SupervisorPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("SUPERVISOR_PIN must be exactly 4 digits")
		}
	}
	if err := validatePINStrength(cfg.SupervisorPIN); err != nil {
		return fmt.Errorf("SUPERVISOR_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"1234": true, "4321": true, "0000": true, "1111": true,
		"1212": true, "1122": true, "6969": true, "2580": true,
		"1004": true, "2000": true, "7777": true, "1010": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
