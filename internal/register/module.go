package register

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/remote"
)

func Module() fx.Option {
	return fx.Module(
		"register",
		fx.Provide(func(cfg config.Terminal, store localstore.Store, session *remote.Session, logger *zap.Logger) *Session {
			cashierID := cfg.CashierID
			if cashierID == "" {
				cashierID = session.Username()
			}
			return New(store, cfg.StoreID, cashierID, logger)
		}),
	)
}
