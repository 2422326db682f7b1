package eod

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/remote"
	"kasirinaja/pos/internal/syncer"
)

func Module() fx.Option {
	return fx.Module(
		"eod",
		fx.Provide(func(cfg config.Terminal, store localstore.Store, client *remote.Client, engine *syncer.Engine, logger *zap.Logger) *Coordinator {
			return New(store, client, engine, client, cfg.StoreID, logger)
		}),
	)
}
