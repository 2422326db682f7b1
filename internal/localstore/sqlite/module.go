package sqlite

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/localstore"
)

func Module() fx.Option {
	return fx.Module(
		"localstore",
		fx.Provide(func(lc fx.Lifecycle, cfg config.Terminal, logger *zap.Logger) (localstore.Store, error) {
			store, err := Open(cfg.DBPath)
			if err != nil {
				return nil, err
			}
			logger.Named("localstore").Debug("database opened", zap.String("path", cfg.DBPath))
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					return store.Close()
				},
			})
			return store, nil
		}),
	)
}
