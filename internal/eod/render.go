package eod

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/money"
)

const slipTimeLayout = "2006-01-02 15:04:05 MST"

// Render prints the day-close slip.
func Render(w io.Writer, record domain.DayClose) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	s := record.Summary

	lines := []string{
		"END OF DAY",
		fmt.Sprintf("Store\t%s", record.StoreID),
		fmt.Sprintf("Operational date\t%s", record.OperationalDate),
		fmt.Sprintf("Record\t%s", record.ID),
		fmt.Sprintf("Closed by\t%s", record.ClosedBy),
		fmt.Sprintf("Closed at\t%s", record.ClosedAt.UTC().Format(slipTimeLayout)),
		fmt.Sprintf("Sync status\t%s", record.SyncStatus),
		"",
		fmt.Sprintf("Completed\t%d", s.CompletedCount),
		fmt.Sprintf("Voided\t%d", s.VoidedCount),
		fmt.Sprintf("Gross revenue\t%s", money.Format(s.GrossRevenue)),
		fmt.Sprintf("Discounts\t%s", money.Format(s.DiscountTotal)),
		fmt.Sprintf("Refunds\t%s", money.Format(s.RefundTotal)),
		fmt.Sprintf("Net revenue\t%s", money.Format(s.NetRevenue)),
	}

	methods := make([]string, 0, len(s.RevenueByMethod))
	for method := range s.RevenueByMethod {
		methods = append(methods, method)
	}
	slices.Sort(methods)
	if len(methods) > 0 {
		lines = append(lines, "", "By payment method")
		for _, method := range methods {
			lines = append(lines, fmt.Sprintf("  %s\t%s", method, money.Format(s.RevenueByMethod[method])))
		}
	}

	lines = append(lines,
		"",
		fmt.Sprintf("Shifts closed\t%d", s.ClosedShifts),
		fmt.Sprintf("Shifts active\t%d", s.ActiveShifts),
		fmt.Sprintf("Cash variance\t%s", money.Format(s.AggregateVariance)),
		fmt.Sprintf("Unsynced transactions\t%d", s.UnsyncedTransactions),
		fmt.Sprintf("Pending carts\t%d", s.PendingCarts),
	)

	for _, line := range lines {
		if _, err := fmt.Fprintln(tw, line); err != nil {
			return err
		}
	}
	return tw.Flush()
}
