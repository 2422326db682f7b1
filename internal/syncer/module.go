package syncer

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/remote"
)

func Module() fx.Option {
	return fx.Module(
		"syncer",
		fx.Provide(func(cfg config.Terminal, store localstore.Store, client *remote.Client, logger *zap.Logger) *Engine {
			return New(store, client, client, Options{
				StoreID:       cfg.StoreID,
				DeviceID:      cfg.DeviceID,
				PushBatchSize: cfg.PushBatchSize,
				StaleAfter:    cfg.StaleAfter,
				OnReauth: func(err error) {
					logger.Warn("session expired, run login again", zap.Error(err))
				},
			}, logger)
		}),
	)
}
