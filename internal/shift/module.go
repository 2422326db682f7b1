package shift

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/remote"
)

func Module() fx.Option {
	return fx.Module(
		"shift",
		fx.Provide(func(cfg config.Terminal, store localstore.Store, client *remote.Client, logger *zap.Logger) (*Manager, error) {
			policy, err := ParseVariancePolicy(cfg.VarianceReasonThreshold, cfg.VarianceApprovalThreshold)
			if err != nil {
				return nil, err
			}
			return New(store, client, client, client, policy, logger), nil
		}),
	)
}
