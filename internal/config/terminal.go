package config

import (
	"errors"
	"fmt"
	"time"

	coreconfig "github.com/go-core-fx/config"
)

// Terminal is the configuration of one cashier terminal.
type Terminal struct {
	ServerURL                 string        `koanf:"server_url"`
	StoreID                   string        `koanf:"store_id"`
	DeviceID                  string        `koanf:"device_id"`
	CashierID                 string        `koanf:"cashier_id"`
	DBPath                    string        `koanf:"db_path"`
	SessionFile               string        `koanf:"session_file"`
	SyncInterval              time.Duration `koanf:"sync_interval"`
	PushBatchSize             int           `koanf:"push_batch_size"`
	Timeout                   time.Duration `koanf:"timeout"`
	RetryCount                int           `koanf:"retry_count"`
	StaleAfter                time.Duration `koanf:"stale_after"`
	VarianceReasonThreshold   string        `koanf:"variance_reason_threshold"`
	VarianceApprovalThreshold string        `koanf:"variance_approval_threshold"`
	LogFile                   string        `koanf:"log_file"`
	Debug                     bool          `koanf:"debug"`
}

func DefaultTerminal() Terminal {
	return Terminal{
		ServerURL:                 "http://127.0.0.1:8080",
		StoreID:                   "main-store",
		DeviceID:                  "terminal-1",
		DBPath:                    "./kasirinaja.db",
		SessionFile:               "./kasirinaja-session.json",
		SyncInterval:              time.Minute,
		PushBatchSize:             50,
		Timeout:                   15 * time.Second,
		RetryCount:                2,
		StaleAfter:                24 * time.Hour,
		VarianceReasonThreshold:   "1",
		VarianceApprovalThreshold: "5",
		LogFile:                   "./kasirinaja-terminal.log",
		Debug:                     false,
	}
}

func NewTerminal() (Terminal, error) {
	cfg := DefaultTerminal()

	if err := coreconfig.Load(&cfg); err != nil {
		return Terminal{}, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Terminal{}, err
	}

	return cfg, nil
}

func (c Terminal) Validate() error {
	switch {
	case c.ServerURL == "":
		return errors.New("server_url is required")
	case c.StoreID == "":
		return errors.New("store_id is required")
	case c.DeviceID == "":
		return errors.New("device_id is required")
	case c.DBPath == "":
		return errors.New("db_path is required")
	case c.SyncInterval <= 0:
		return errors.New("sync_interval must be positive")
	}
	return nil
}
