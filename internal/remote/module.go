package remote

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
)

func Module() fx.Option {
	return fx.Module(
		"remote",
		fx.Provide(func(cfg config.Terminal) (*Session, error) {
			return NewSession(cfg.SessionFile)
		}),
		fx.Provide(func(cfg config.Terminal, session *Session, logger *zap.Logger) (*Client, error) {
			return NewClient(Options{
				ServerURL:  cfg.ServerURL,
				DeviceID:   cfg.DeviceID,
				Timeout:    cfg.Timeout,
				RetryCount: cfg.RetryCount,
			}, session, logger)
		}),
	)
}
