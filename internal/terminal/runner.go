package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/eod"
	"kasirinaja/pos/internal/register"
	"kasirinaja/pos/internal/remote"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/syncer"
)

var validFormats = []string{"text", "json"}

var errNoCashier = errors.New("no cashier: set cashier_id or run login")

type Params struct {
	fx.In

	Config   config.Terminal
	Logger   *zap.Logger
	Client   *remote.Client
	Engine   *syncer.Engine
	Shifts   *shift.Manager
	EOD      *eod.Coordinator
	Register *register.Session
}

// Runner owns the terminal's components and exposes them as commands.
type Runner struct {
	cfg      config.Terminal
	logger   *zap.Logger
	client   *remote.Client
	engine   *syncer.Engine
	shifts   *shift.Manager
	eod      *eod.Coordinator
	register *register.Session

	format string
}

func NewRunner(p Params) *Runner {
	return &Runner{
		cfg:      p.Config,
		logger:   p.Logger.Named("cli"),
		client:   p.Client,
		engine:   p.Engine,
		shifts:   p.Shifts,
		eod:      p.EOD,
		register: p.Register,
		format:   "text",
	}
}

// Execute runs the command named by os.Args until it finishes or the process
// is interrupted.
func (r *Runner) Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := r.NewRootCommand()
	root.SetArgs(os.Args[1:])
	return root.ExecuteContext(ctx)
}

func (r *Runner) NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "terminal",
		Short:         "kasirinaja cashier terminal",
		Long:          "Offline-first cashier terminal: records sales locally and syncs them with the store server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, r.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", r.format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&r.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(r.newLoginCommand())
	cmd.AddCommand(r.newLogoutCommand())
	cmd.AddCommand(r.newSyncCommand())
	cmd.AddCommand(r.newStatusCommand())
	cmd.AddCommand(r.newRejectedCommand())
	cmd.AddCommand(r.newRetryCommand())
	cmd.AddCommand(r.newRetryShiftCommand())
	cmd.AddCommand(r.newDeleteCommand())
	cmd.AddCommand(r.newStaleCommand())
	cmd.AddCommand(r.newRequeueCommand())
	cmd.AddCommand(r.newAbandonCommand())
	cmd.AddCommand(r.newShiftCommand())
	cmd.AddCommand(r.newEODCommand())
	cmd.AddCommand(r.newCartsCommand())
	cmd.AddCommand(r.newSaleCommand())
	cmd.AddCommand(r.newRunCommand())

	return cmd
}

// emit writes v as JSON or calls text for the human-readable form.
func (r *Runner) emit(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if r.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func (r *Runner) cashierID() (string, error) {
	if id := r.register.CashierID(); id != "" {
		return id, nil
	}
	return "", errNoCashier
}
