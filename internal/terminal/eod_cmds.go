package terminal

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/eod"
	"kasirinaja/pos/internal/money"
)

func (r *Runner) newEODCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eod",
		Short: "Summarise and close the operational day",
	}
	cmd.AddCommand(r.newEODSummaryCommand())
	cmd.AddCommand(r.newEODExecuteCommand())
	cmd.AddCommand(r.newEODShowCommand())
	return cmd
}

func writeSummary(w io.Writer, s domain.PreEODSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Operational date\t%s\n", s.OperationalDate)
	fmt.Fprintf(tw, "Completed\t%d\n", s.CompletedCount)
	fmt.Fprintf(tw, "Voided\t%d\n", s.VoidedCount)
	fmt.Fprintf(tw, "Gross revenue\t%s\n", money.Format(s.GrossRevenue))
	fmt.Fprintf(tw, "Discounts\t%s\n", money.Format(s.DiscountTotal))
	fmt.Fprintf(tw, "Refunds\t%s\n", money.Format(s.RefundTotal))
	fmt.Fprintf(tw, "Net revenue\t%s\n", money.Format(s.NetRevenue))
	methods := make([]string, 0, len(s.RevenueByMethod))
	for method := range s.RevenueByMethod {
		methods = append(methods, method)
	}
	slices.Sort(methods)
	for _, method := range methods {
		fmt.Fprintf(tw, "  %s\t%s\n", method, money.Format(s.RevenueByMethod[method]))
	}
	fmt.Fprintf(tw, "Shifts active/closed\t%d/%d\n", s.ActiveShifts, s.ClosedShifts)
	fmt.Fprintf(tw, "Aggregate variance\t%s\n", money.Format(s.AggregateVariance))
	fmt.Fprintf(tw, "Unsynced transactions\t%d\n", s.UnsyncedTransactions)
	fmt.Fprintf(tw, "Pending carts\t%d\n", s.PendingCarts)
	return tw.Flush()
}

func (r *Runner) newEODSummaryCommand() *cobra.Command {
	var server bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the pre-close summary of the current day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				summary domain.PreEODSummary
				err     error
			)
			if server {
				summary, err = r.eod.ServerPreSummary(cmd.Context())
			} else {
				summary, err = r.eod.PreSummary(cmd.Context())
			}
			if err != nil {
				return err
			}
			return r.emit(cmd, summary, func(w io.Writer) error {
				return writeSummary(w, summary)
			})
		},
	}
	cmd.Flags().BoolVar(&server, "server", false, "ask the server instead of summarising locally")

	return cmd
}

func (r *Runner) newEODExecuteCommand() *cobra.Command {
	var (
		yes  bool
		date string
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Close the operational day",
		Long: `Park open carts, push what can be pushed and ask the server to close
the operational day. The day stays open if the server cannot commit it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closedBy, err := r.cashierID()
			if err != nil {
				return err
			}
			record, err := r.eod.Execute(cmd.Context(), eod.ExecuteRequest{
				ClosedBy:        closedBy,
				OperationalDate: date,
				Confirmed:       yes,
			})
			if err != nil {
				return err
			}
			return r.emit(cmd, record, func(w io.Writer) error {
				return eod.Render(w, *record)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm closing the day")
	cmd.Flags().StringVar(&date, "date", "", "operational date (defaults to the open day)")

	return cmd
}

func (r *Runner) newEODShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [date]",
		Short: "Print the day-close slip of a closed day",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var date string
			if len(args) == 1 {
				date = args[0]
			} else {
				day, err := r.eod.CurrentDay(cmd.Context())
				if err != nil {
					return err
				}
				if date, err = eod.PreviousDate(day.OperationalDate); err != nil {
					return err
				}
			}
			record, err := r.eod.DayClose(cmd.Context(), date)
			if err != nil {
				return fmt.Errorf("day close %s: %w", date, err)
			}
			return r.emit(cmd, record, func(w io.Writer) error {
				return eod.Render(w, *record)
			})
		},
	}
}

func (r *Runner) newCartsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carts",
		Short: "Manage held carts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List held carts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			carts, err := r.eod.PendingCarts(cmd.Context())
			if err != nil {
				return err
			}
			return r.emit(cmd, carts, func(w io.Writer) error {
				return writeCarts(w, carts)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "hold",
		Short: "Put the active cart aside",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, err := r.register.HoldCart(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Held cart %s\n", cart.ID)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore <cart-id>",
		Short: "Make a held cart the active cart again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, err := r.eod.RestoreCart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Restored cart %s for %s on %s\n", cart.ID, cart.CashierID, cart.OperationalDate)
			return err
		},
	})

	var yes bool
	void := &cobra.Command{
		Use:   "void <cart-id>",
		Short: "Discard a held cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.eod.VoidCart(cmd.Context(), args[0], yes); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Voided cart %s\n", args[0])
			return err
		},
	}
	void.Flags().BoolVar(&yes, "yes", false, "confirm discarding the cart")
	cmd.AddCommand(void)

	return cmd
}

func writeCarts(w io.Writer, carts []domain.Cart) error {
	if len(carts) == 0 {
		_, err := fmt.Fprintln(w, "No held carts")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CART\tCASHIER\tDATE\tITEMS\tNOTE")
	for _, cart := range carts {
		items := 0
		for _, item := range cart.Items {
			items += item.Quantity
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", cart.ID, cart.CashierID, cart.OperationalDate, items, cart.Note)
	}
	return tw.Flush()
}
