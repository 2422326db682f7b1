package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/syncer"
)

func (r *Runner) newLoginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the store server and keep the session",
		Long: `Sign in to the store server. The token pair is written to the session
file so later commands and the background sync reuse it.

If --password is omitted it is read from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimSpace(line)
			}
			pair, err := r.client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			out := map[string]string{"username": pair.Username, "role": pair.Role, "expires_at": pair.ExpiresAt}
			return r.emit(cmd, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Logged in as %s (%s), token expires %s\n", pair.Username, pair.Role, pair.ExpiresAt)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func (r *Runner) newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.client.Logout(); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return err
		},
	}
}

func (r *Runner) newSyncCommand() *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Long: `Pull reference data, push pending transactions and drain queued shift
operations. --only limits the cycle to one entity class:
catalog, categories, products, stock, discounts, transactions or shifts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := syncer.ParseScope(only)
			if err != nil {
				return err
			}
			report, syncErr := r.engine.Sync(cmd.Context(), scope)
			if err := r.emit(cmd, report, func(w io.Writer) error {
				return writeSyncReport(w, report)
			}); err != nil {
				return err
			}
			return syncErr
		},
	}
	cmd.Flags().StringVar(&only, "only", "", "limit the cycle to one entity class")

	return cmd
}

func writeSyncReport(w io.Writer, report syncer.Report) error {
	if report.Skipped {
		_, err := fmt.Fprintln(w, "A sync is already running, nothing done")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Scope\t%s\n", report.Scope)
	if p := report.Pull; p != nil {
		applied := 0
		for _, n := range p.Applied {
			applied += n
		}
		fmt.Fprintf(tw, "Pulled\t%d changes in %s\n", applied, strings.Join(p.Collections, ", "))
		if p.Advanced && p.Watermark != nil {
			fmt.Fprintf(tw, "Watermark\t%s\n", p.Watermark.Format(time.RFC3339))
		}
		if p.NetworkError != "" {
			fmt.Fprintf(tw, "Pull offline\t%s\n", p.NetworkError)
		}
		if p.Rejected != "" {
			fmt.Fprintf(tw, "Pull rejected\t%s\n", p.Rejected)
		}
	}
	if p := report.Push; p != nil {
		fmt.Fprintf(tw, "Pushed\t%d synced, %d rejected, %d unacknowledged of %d\n", p.Synced, p.Rejected, p.Unacknowledged, p.Attempted)
		if p.NetworkError != "" {
			fmt.Fprintf(tw, "Push offline\t%s\n", p.NetworkError)
		}
	}
	if s := report.ShiftOps; s != nil {
		fmt.Fprintf(tw, "Shift ops\t%d synced, %d failed, %d waiting of %d\n", s.Synced, s.Failed, s.Waiting, s.Attempted)
		if s.NetworkError != "" {
			fmt.Fprintf(tw, "Shift ops offline\t%s\n", s.NetworkError)
		}
	}
	if report.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", report.Error)
	}
	return tw.Flush()
}

func (r *Runner) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what is waiting for the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := r.engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			return r.emit(cmd, status, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "Logged in\t%t\n", r.client.Session().LoggedIn())
				fmt.Fprintf(tw, "Pending\t%d\n", status.Pending)
				fmt.Fprintf(tw, "Stale\t%d\n", status.Stale)
				fmt.Fprintf(tw, "Rejected\t%d\n", len(status.Rejected))
				fmt.Fprintf(tw, "Pending shift ops\t%d\n", status.PendingShiftOps)
				fmt.Fprintf(tw, "Failed shift ops\t%d\n", len(status.FailedShiftOps))
				watermark := "never"
				if status.Watermark != nil {
					watermark = status.Watermark.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "Last pull\t%s\n", watermark)
				if status.Last != nil {
					fmt.Fprintf(tw, "Last sync\t%s\n", status.Last.FinishedAt.Format(time.RFC3339))
					if status.Last.Error != "" {
						fmt.Fprintf(tw, "Last error\t%s\n", status.Last.Error)
					}
				}
				for _, op := range status.FailedShiftOps {
					fmt.Fprintf(tw, "  %s %s %s\t%s\n", op.ID, op.Op, op.ShiftLocalID, op.Error)
				}
				return tw.Flush()
			})
		},
	}
}

func writeTransactions(w io.Writer, txs []domain.Transaction) error {
	if len(txs) == 0 {
		_, err := fmt.Fprintln(w, "No transactions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT ID\tDATE\tTOTAL\tSTATUS\tREASON")
	for _, tx := range txs {
		reason := ""
		if tx.Rejection != nil {
			reason = tx.Rejection.Code
			if tx.Rejection.Message != "" {
				reason += ": " + tx.Rejection.Message
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tx.ClientID, tx.OperationalDate, money.Format(tx.Total), tx.SyncStatus, reason)
	}
	return tw.Flush()
}

func (r *Runner) newRejectedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rejected",
		Short: "List transactions the server rejected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := r.engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			return r.emit(cmd, status.Rejected, func(w io.Writer) error {
				return writeTransactions(w, status.Rejected)
			})
		},
	}
}

func (r *Runner) newRetryCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [client-id]",
		Short: "Queue a rejected transaction for another push",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) == 0:
				n, err := r.engine.RetryAllRejected(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d rejected transactions\n", n)
				return err
			case !all && len(args) == 1:
				if err := r.engine.RetryRejected(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", args[0])
				return err
			default:
				return errors.New("pass exactly one client id or --all")
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "requeue every rejected transaction")

	return cmd
}

func (r *Runner) newRetryShiftCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-shift <op-id>",
		Short: "Queue a failed shift open or close for another submit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.engine.RetryShiftOp(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Requeued shift op %s\n", args[0])
			return err
		},
	}
}

func (r *Runner) newDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Permanently delete a rejected transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.engine.DeleteRejected(cmd.Context(), args[0], yes); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")

	return cmd
}

func (r *Runner) newStaleCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List pending transactions that have waited too long",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			txs, err := r.engine.StalePending(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			return r.emit(cmd, txs, func(w io.Writer) error {
				return writeTransactions(w, txs)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (defaults to stale_after)")

	return cmd
}

func (r *Runner) newRequeueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <client-id>",
		Short: "Restamp a stale pending transaction and reset its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.engine.RequeueStale(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", args[0])
			return err
		},
	}
}

func (r *Runner) newAbandonCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "abandon <client-id>",
		Short: "Permanently drop a pending transaction the server never acknowledged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.engine.AbandonPending(cmd.Context(), args[0], yes); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Abandoned %s\n", args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the removal")

	return cmd
}
