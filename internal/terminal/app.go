// Package terminal wires the cashier terminal process and its commands.
package terminal

import (
	"context"

	"github.com/go-core-fx/logger"
	"go.uber.org/fx"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/eod"
	"kasirinaja/pos/internal/localstore/sqlite"
	"kasirinaja/pos/internal/logging"
	"kasirinaja/pos/internal/register"
	"kasirinaja/pos/internal/remote"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/syncer"
)

func Run() error {
	var runner *Runner

	app := fx.New(
		logger.Module(),
		logger.WithFxDefaultLogger(),
		config.Module(),
		logging.Module(),
		sqlite.Module(),
		remote.Module(),
		syncer.Module(),
		shift.Module(),
		eod.Module(),
		register.Module(),
		Module(),
		fx.Populate(&runner),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = app.Stop(ctx)
	}()

	return runner.Execute()
}

func Module() fx.Option {
	return fx.Module(
		"terminal",
		fx.Provide(NewRunner),
	)
}
