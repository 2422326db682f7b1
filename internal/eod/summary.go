package eod

import (
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/money"
)

// Aggregate builds the pre-EOD summary of one operational day from its
// transactions and shifts. Refunds (voided transactions) are subtracted
// from net revenue and from their payment methods.
func Aggregate(storeID string, date string, txs []domain.Transaction, shifts []domain.Shift, pendingCarts int, at time.Time) domain.PreEODSummary {
	summary := domain.PreEODSummary{
		StoreID:           storeID,
		OperationalDate:   date,
		GrossRevenue:      decimal.Zero,
		DiscountTotal:     decimal.Zero,
		RefundTotal:       decimal.Zero,
		NetRevenue:        decimal.Zero,
		RevenueByMethod:   map[string]decimal.Decimal{},
		AggregateVariance: decimal.Zero,
		PendingCarts:      pendingCarts,
		GeneratedAt:       at.UTC(),
	}

	sales := decimal.Zero
	for _, tx := range txs {
		if tx.SyncStatus != domain.SyncSynced {
			summary.UnsyncedTransactions++
		}
		if tx.SyncStatus == domain.SyncRejected {
			continue
		}
		if tx.Status == domain.TxStatusVoided {
			summary.VoidedCount++
			summary.RefundTotal = summary.RefundTotal.Add(tx.Total)
			for _, p := range tx.Payments {
				net := p.Amount.Sub(p.Change)
				summary.RevenueByMethod[p.Method] = summary.RevenueByMethod[p.Method].Sub(net)
			}
			continue
		}
		summary.CompletedCount++
		summary.GrossRevenue = summary.GrossRevenue.Add(tx.Subtotal)
		summary.DiscountTotal = summary.DiscountTotal.Add(tx.Discount)
		sales = sales.Add(tx.Total)
		for _, p := range tx.Payments {
			net := p.Amount.Sub(p.Change)
			summary.RevenueByMethod[p.Method] = summary.RevenueByMethod[p.Method].Add(net)
		}
	}
	summary.NetRevenue = money.Round(sales.Sub(summary.RefundTotal))
	summary.GrossRevenue = money.Round(summary.GrossRevenue)
	summary.DiscountTotal = money.Round(summary.DiscountTotal)
	summary.RefundTotal = money.Round(summary.RefundTotal)
	for method, amount := range summary.RevenueByMethod {
		summary.RevenueByMethod[method] = money.Round(amount)
	}

	for _, s := range shifts {
		switch s.Status {
		case domain.ShiftStatusActive:
			summary.ActiveShifts++
		case domain.ShiftStatusClosed:
			summary.ClosedShifts++
			if s.Variance.Valid {
				summary.AggregateVariance = summary.AggregateVariance.Add(s.Variance.Decimal)
			}
		}
	}
	summary.AggregateVariance = money.Round(summary.AggregateVariance)
	return summary
}
