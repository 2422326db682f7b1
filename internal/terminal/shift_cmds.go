package terminal

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/shift"
)

func (r *Runner) newShiftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Open, close and inspect the cashier shift",
	}
	cmd.AddCommand(r.newShiftOpenCommand())
	cmd.AddCommand(r.newShiftCloseCommand())
	cmd.AddCommand(r.newShiftStatusCommand())
	return cmd
}

func writeShift(w io.Writer, s domain.Shift) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Shift\t#%d %s\n", s.Number, s.LocalID)
	fmt.Fprintf(tw, "Cashier\t%s\n", s.CashierID)
	fmt.Fprintf(tw, "Operational date\t%s\n", s.OperationalDate)
	fmt.Fprintf(tw, "Status\t%s\n", s.Status)
	fmt.Fprintf(tw, "Opening float\t%s\n", money.Format(s.OpeningFloat))
	fmt.Fprintf(tw, "Opened\t%s\n", s.OpenedAt.Local().Format(time.DateTime))
	if s.EndingCash.Valid {
		fmt.Fprintf(tw, "Ending cash\t%s\n", money.Format(s.EndingCash.Decimal))
	}
	if s.Variance.Valid {
		fmt.Fprintf(tw, "Variance\t%s\n", money.Format(s.Variance.Decimal))
	}
	if s.VarianceReason != "" {
		fmt.Fprintf(tw, "Reason\t%s\n", s.VarianceReason)
	}
	if s.Approval != nil {
		fmt.Fprintf(tw, "Approved by\t%s\n", s.Approval.SupervisorName)
	}
	fmt.Fprintf(tw, "Sync\t%s\n", s.SyncStatus)
	return tw.Flush()
}

func (r *Runner) newShiftOpenCommand() *cobra.Command {
	var float, note string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a shift with a counted cash float",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cashier, err := r.cashierID()
			if err != nil {
				return err
			}
			amount, err := money.Parse(float)
			if err != nil {
				return err
			}
			opened, err := r.shifts.OpenShift(cmd.Context(), shift.OpenRequest{
				StoreID:   r.cfg.StoreID,
				CashierID: cashier,
				Float:     amount,
				Note:      note,
			})
			if err != nil {
				return err
			}
			return r.emit(cmd, opened, func(w io.Writer) error {
				return writeShift(w, *opened)
			})
		},
	}
	cmd.Flags().StringVar(&float, "float", "", "opening cash float (required)")
	cmd.Flags().StringVar(&note, "note", "", "opening note")
	_ = cmd.MarkFlagRequired("float")

	return cmd
}

func (r *Runner) newShiftCloseCommand() *cobra.Command {
	var (
		cash, reason, pin, note string
		preview                 bool
	)

	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close the active shift with the counted ending cash",
		Long: `Close the active shift. Small variances close silently, larger ones need
--reason, and the largest need a supervisor --pin instead.
Use --preview to see the variance tier without closing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cashier, err := r.cashierID()
			if err != nil {
				return err
			}
			ending, err := money.Parse(cash)
			if err != nil {
				return err
			}
			if preview {
				p, err := r.shifts.PreviewClose(cmd.Context(), r.cfg.StoreID, cashier, ending)
				if err != nil {
					return err
				}
				return r.emit(cmd, p, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Expected %s, counted %s, variance %s (%s)\n",
						money.Format(p.Expected), money.Format(p.EndingCash), money.Format(p.Variance), p.Tier)
					return err
				})
			}

			closed, err := r.shifts.CloseShift(cmd.Context(), shift.CloseRequest{
				StoreID:        r.cfg.StoreID,
				CashierID:      cashier,
				EndingCash:     ending,
				Note:           note,
				VarianceReason: reason,
				SupervisorPIN:  pin,
			})
			switch {
			case errors.Is(err, shift.ErrVarianceReasonRequired):
				return fmt.Errorf("%w (pass --reason)", err)
			case errors.Is(err, shift.ErrSupervisorApprovalRequired):
				return fmt.Errorf("%w (pass --pin)", err)
			case err != nil:
				return err
			}
			return r.emit(cmd, closed, func(w io.Writer) error {
				return writeShift(w, *closed)
			})
		},
	}
	cmd.Flags().StringVar(&cash, "cash", "", "counted ending cash (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "variance reason")
	cmd.Flags().StringVar(&pin, "pin", "", "supervisor PIN")
	cmd.Flags().StringVar(&note, "note", "", "closing note")
	cmd.Flags().BoolVar(&preview, "preview", false, "show the variance without closing")
	_ = cmd.MarkFlagRequired("cash")

	return cmd
}

func (r *Runner) newShiftStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active shift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cashier, err := r.cashierID()
			if err != nil {
				return err
			}
			active, err := r.shifts.ActiveShift(cmd.Context(), r.cfg.StoreID, cashier)
			if errors.Is(err, shift.ErrNoActiveShift) {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No active shift")
				return err
			}
			if err != nil {
				return err
			}
			return r.emit(cmd, active, func(w io.Writer) error {
				return writeShift(w, *active)
			})
		},
	}
}
