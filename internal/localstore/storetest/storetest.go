// Package storetest is a behaviour suite every localstore.Store must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) localstore.Store

var base = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func Run(t *testing.T, open Factory) {
	t.Run("watermark", func(t *testing.T) { testWatermark(t, open(t)) })
	t.Run("reference data", func(t *testing.T) { testReferenceData(t, open(t)) })
	t.Run("pull applies as one unit", func(t *testing.T) { testApplyPull(t, open(t)) })
	t.Run("transaction lifecycle", func(t *testing.T) { testTransactionLifecycle(t, open(t)) })
	t.Run("transaction filters", func(t *testing.T) { testTransactionFilters(t, open(t)) })
	t.Run("single active shift", func(t *testing.T) { testSingleActiveShift(t, open(t)) })
	t.Run("shift op outbox", func(t *testing.T) { testShiftOps(t, open(t)) })
	t.Run("carts", func(t *testing.T) { testCarts(t, open(t)) })
	t.Run("day close", func(t *testing.T) { testDayClose(t, open(t)) })
}

func Transaction(clientID string, createdAt time.Time) domain.Transaction {
	return domain.Transaction{
		ClientID:        clientID,
		StoreID:         "store-1",
		CashierID:       "cashier-1",
		OperationalDate: "2026-03-14",
		Items: []domain.LineItem{{
			ProductID: "p-1",
			SKU:       "SKU-1",
			Name:      "Kopi",
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("12.50"),
			Subtotal:  decimal.RequireFromString("25.00"),
		}},
		Subtotal:   decimal.RequireFromString("25.00"),
		Tax:        decimal.Zero,
		Discount:   decimal.Zero,
		Total:      decimal.RequireFromString("25.00"),
		Payments:   []domain.Payment{{Method: domain.PaymentCash, Amount: decimal.RequireFromString("30"), Change: decimal.RequireFromString("5")}},
		Status:     domain.TxStatusPendingSync,
		SyncStatus: domain.SyncPending,
		CreatedAt:  createdAt,
	}
}

func testWatermark(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	mark, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Nil(t, mark)

	require.NoError(t, s.SetWatermark(ctx, base))
	mark, err = s.Watermark(ctx)
	require.NoError(t, err)
	require.NotNil(t, mark)
	assert.True(t, mark.Equal(base))

	require.NoError(t, s.Reset(ctx))
	mark, err = s.Watermark(ctx)
	require.NoError(t, err)
	assert.Nil(t, mark)
}

func testReferenceData(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.ApplyProducts(ctx, domain.Delta[domain.Product]{
		Created: []domain.Product{
			{ID: "p-1", SKU: "B", Name: "Teh", Price: decimal.RequireFromString("5"), Active: true, UpdatedAt: base},
			{ID: "p-2", SKU: "A", Name: "Kopi", Price: decimal.RequireFromString("8"), Active: true, UpdatedAt: base},
		},
	}))
	require.NoError(t, s.ApplyProducts(ctx, domain.Delta[domain.Product]{
		Updated: []domain.Product{{ID: "p-1", SKU: "B", Name: "Teh Manis", Price: decimal.RequireFromString("6"), Active: true, UpdatedAt: base.Add(time.Hour)}},
		Deleted: []string{"p-2"},
	}))

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Teh Manis", products[0].Name)
	assert.Equal(t, "6", products[0].Price.String())

	_, err = s.GetProduct(ctx, "p-2")
	assert.ErrorIs(t, err, localstore.ErrNotFound)

	require.NoError(t, s.ApplyStock(ctx, domain.Delta[domain.StockLevel]{
		Created: []domain.StockLevel{{ProductID: "p-1", StoreID: "store-1", Quantity: 7, UpdatedAt: base}},
	}))
	level, err := s.GetStock(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 7, level.Quantity)

	require.NoError(t, s.ApplyDiscounts(ctx, domain.Delta[domain.Discount]{
		Created: []domain.Discount{{ID: "d-1", Code: "HEMAT10", Type: domain.DiscountPercent, Value: decimal.NewFromInt(10), Active: true, UpdatedAt: base}},
	}))
	discount, err := s.GetDiscountByCode(ctx, "hemat10")
	require.NoError(t, err)
	assert.Equal(t, "d-1", discount.ID)

	require.NoError(t, s.ApplyCategories(ctx, domain.Delta[domain.Category]{
		Created: []domain.Category{{ID: "c-1", Name: "Minuman", UpdatedAt: base}},
	}))
	categories, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 1)
}

func testApplyPull(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()
	collections := []string{domain.CollectionProducts, domain.CollectionStock}
	resp := domain.PullResponse{
		Products: domain.Delta[domain.Product]{Created: []domain.Product{
			{ID: "p-1", SKU: "A", Name: "Kopi", Price: decimal.RequireFromString("8"), Active: true, UpdatedAt: base},
		}},
		Stock: domain.Delta[domain.StockLevel]{Created: []domain.StockLevel{
			{ProductID: "", StoreID: "store-1", Quantity: 3, UpdatedAt: base},
		}},
	}
	next := base.Add(time.Hour)

	require.Error(t, s.ApplyPull(ctx, collections, resp, &next))
	_, err := s.GetProduct(ctx, "p-1")
	assert.ErrorIs(t, err, localstore.ErrNotFound)
	mark, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Nil(t, mark)

	resp.Stock.Created[0].ProductID = "p-1"
	require.NoError(t, s.ApplyPull(ctx, collections, resp, &next))
	require.NoError(t, s.ApplyPull(ctx, collections, resp, &next))
	level, err := s.GetStock(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 3, level.Quantity)
	mark, err = s.Watermark(ctx)
	require.NoError(t, err)
	require.NotNil(t, mark)
	assert.True(t, mark.Equal(next))
}

func testTransactionLifecycle(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	tx := Transaction("tx-1", base)
	require.NoError(t, s.PutTransaction(ctx, tx))
	assert.ErrorIs(t, s.PutTransaction(ctx, tx), localstore.ErrConflict)

	require.NoError(t, s.RecordAttempt(ctx, []string{"tx-1"}))
	got, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.EnqueuedAt.Equal(base))
	assert.Equal(t, "25.00", got.Total.StringFixed(2))

	require.NoError(t, s.MarkRejected(ctx, "tx-1", domain.Rejection{
		Code:        domain.CodeInsufficientStock,
		StockIssues: []domain.StockIssue{{ProductID: "p-1", Requested: 2, Available: 1}},
	}))
	got, err = s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncRejected, got.SyncStatus)
	require.NotNil(t, got.Rejection)
	assert.Equal(t, 1, got.Rejection.StockIssues[0].Available)

	// A rejected record cannot be stamped as synced without a requeue.
	assert.ErrorIs(t, s.MarkSynced(ctx, domain.PushAccepted{ClientID: "tx-1", ServerID: "srv-1"}), localstore.ErrIllegalTransition)

	requeuedAt := base.Add(2 * time.Hour)
	require.NoError(t, s.Requeue(ctx, "tx-1", requeuedAt))
	got, err = s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPending, got.SyncStatus)
	assert.Nil(t, got.Rejection)
	assert.Equal(t, 0, got.Attempts)
	assert.True(t, got.EnqueuedAt.Equal(requeuedAt))
	assert.Len(t, got.Items, 1)

	require.NoError(t, s.MarkSynced(ctx, domain.PushAccepted{ClientID: "tx-1", ServerID: "srv-1", TransactionNumber: "TRX-0001", SyncedAt: base}))
	require.NoError(t, s.MarkSynced(ctx, domain.PushAccepted{ClientID: "tx-1", ServerID: "srv-other"}))
	got, err = s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, got.SyncStatus)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, "TRX-0001", got.TransactionNumber)
	assert.Equal(t, domain.TxStatusCompleted, got.Status)

	assert.ErrorIs(t, s.Requeue(ctx, "tx-1", base), localstore.ErrIllegalTransition)
	assert.ErrorIs(t, s.MarkRejected(ctx, "tx-1", domain.Rejection{Code: "x"}), localstore.ErrIllegalTransition)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "tx-1", domain.SyncRejected), localstore.ErrIllegalTransition)
	require.NoError(t, s.DeleteTransaction(ctx, "tx-1", domain.SyncSynced))
	_, err = s.GetTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func testTransactionFilters(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	for i, id := range []string{"tx-c", "tx-a", "tx-b"} {
		tx := Transaction(id, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.PutTransaction(ctx, tx))
	}
	other := Transaction("tx-other-day", base.Add(time.Hour))
	other.OperationalDate = "2026-03-15"
	require.NoError(t, s.PutTransaction(ctx, other))
	require.NoError(t, s.MarkRejected(ctx, "tx-a", domain.Rejection{Code: domain.CodeDayClosed}))

	pending, err := s.ListTransactions(ctx, localstore.TxFilter{SyncStatuses: []string{domain.SyncPending}})
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "tx-c", pending[0].ClientID)
	assert.Equal(t, "tx-b", pending[1].ClientID)

	limited, err := s.ListTransactions(ctx, localstore.TxFilter{SyncStatuses: []string{domain.SyncPending}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	day, err := s.ListTransactions(ctx, localstore.TxFilter{StoreID: "store-1", OperationalDate: "2026-03-14"})
	require.NoError(t, err)
	assert.Len(t, day, 3)

	cutoff := base.Add(90 * time.Second)
	stale, err := s.ListTransactions(ctx, localstore.TxFilter{SyncStatuses: []string{domain.SyncPending}, EnqueuedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "tx-c", stale[0].ClientID)
}

func shift(localID string, cashierID string) domain.Shift {
	return domain.Shift{
		LocalID:         localID,
		StoreID:         "store-1",
		CashierID:       cashierID,
		OperationalDate: "2026-03-14",
		Number:          1,
		Status:          domain.ShiftStatusActive,
		OpeningFloat:    decimal.RequireFromString("100.00"),
		OpenedAt:        base,
		SyncStatus:      domain.SyncPending,
	}
}

func testSingleActiveShift(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateShift(ctx, shift("shf-1", "cashier-1")))
	assert.ErrorIs(t, s.CreateShift(ctx, shift("shf-2", "cashier-1")), localstore.ErrConflict)
	require.NoError(t, s.CreateShift(ctx, shift("shf-3", "cashier-2")))

	active, err := s.ActiveShift(ctx, "store-1", "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, "shf-1", active.LocalID)

	next, err := s.NextShiftNumber(ctx, "store-1", "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	closedAt := base.Add(8 * time.Hour)
	active.Status = domain.ShiftStatusClosed
	active.EndingCash = decimal.NewNullDecimal(decimal.RequireFromString("100.50"))
	active.Variance = decimal.NewNullDecimal(decimal.RequireFromString("0.50"))
	active.ClosedAt = &closedAt
	require.NoError(t, s.UpdateShift(ctx, *active))

	_, err = s.ActiveShift(ctx, "store-1", "cashier-1")
	assert.ErrorIs(t, err, localstore.ErrNotFound)

	reopened := *active
	reopened.Status = domain.ShiftStatusActive
	assert.ErrorIs(t, s.UpdateShift(ctx, reopened), localstore.ErrIllegalTransition)

	second := shift("shf-4", "cashier-1")
	second.Number = 2
	require.NoError(t, s.CreateShift(ctx, second))

	require.NoError(t, s.MarkShiftSynced(ctx, "shf-1", "srv-shift-1"))
	got, err := s.GetShift(ctx, "shf-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-shift-1", got.ServerID)
	assert.Equal(t, domain.SyncSynced, got.SyncStatus)
	assert.Equal(t, domain.ShiftStatusClosed, got.Status)
	assert.Equal(t, "0.50", got.Variance.Decimal.StringFixed(2))

	closed, err := s.ListShifts(ctx, localstore.ShiftFilter{StoreID: "store-1", Status: domain.ShiftStatusClosed})
	require.NoError(t, err)
	assert.Len(t, closed, 1)
}

func testShiftOps(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	snapshot := shift("shf-1", "cashier-1")
	require.NoError(t, s.EnqueueShiftOp(ctx, domain.PendingShiftOp{ID: "op-close", ShiftLocalID: "shf-1", Op: domain.ShiftOpClose, Snapshot: snapshot, SyncStatus: domain.SyncPending, CreatedAt: base}))
	require.NoError(t, s.EnqueueShiftOp(ctx, domain.PendingShiftOp{ID: "op-open", ShiftLocalID: "shf-1", Op: domain.ShiftOpOpen, Snapshot: snapshot, SyncStatus: domain.SyncPending, CreatedAt: base}))
	// Same shift and op type is a no-op.
	require.NoError(t, s.EnqueueShiftOp(ctx, domain.PendingShiftOp{ID: "op-open-dup", ShiftLocalID: "shf-1", Op: domain.ShiftOpOpen, Snapshot: snapshot, SyncStatus: domain.SyncPending, CreatedAt: base}))

	ops, err := s.ListShiftOps(ctx, domain.SyncPending, domain.SyncFailed)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.ShiftOpOpen, ops[0].Op)
	assert.Equal(t, domain.ShiftOpClose, ops[1].Op)
	assert.Equal(t, "100.00", ops[0].Snapshot.OpeningFloat.StringFixed(2))

	require.NoError(t, s.MarkShiftOp(ctx, "op-open", domain.SyncFailed, "boom"))
	require.NoError(t, s.MarkShiftOp(ctx, "op-open", domain.SyncSynced, ""))
	assert.ErrorIs(t, s.MarkShiftOp(ctx, "op-open", domain.SyncPending, ""), localstore.ErrIllegalTransition)

	ops, err = s.ListShiftOps(ctx, domain.SyncSynced)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].Attempts)
}

func testCarts(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	cart := domain.Cart{
		ID:              "cart-1",
		StoreID:         "store-1",
		CashierID:       "cashier-1",
		OperationalDate: "2026-03-14",
		Items:           []domain.LineItem{{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(5), Subtotal: decimal.NewFromInt(5)}},
		CreatedAt:       base,
		UpdatedAt:       base,
	}
	require.NoError(t, s.SaveActiveCart(ctx, cart))
	require.NoError(t, s.SaveActiveCart(ctx, domain.Cart{ID: "cart-empty", StoreID: "store-1", CashierID: "cashier-2", CreatedAt: base}))

	parked, err := s.ParkActiveCarts(ctx, "store-1", base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, "cart-1", parked[0].ID)

	active, err := s.ListActiveCarts(ctx, "store-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	held, err := s.ListPendingCarts(ctx, "store-1", domain.CartStatusHeld)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Len(t, held[0].Items, 1)

	require.NoError(t, s.SetPendingCartStatus(ctx, "cart-1", domain.CartStatusVoided, base))
	assert.ErrorIs(t, s.SetPendingCartStatus(ctx, "cart-1", domain.CartStatusRestored, base), localstore.ErrIllegalTransition)

	got, err := s.GetPendingCart(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CartStatusVoided, got.Status)
}

func testDayClose(t *testing.T, s localstore.Store) {
	defer s.Close()
	ctx := context.Background()

	day, err := s.EnsureDay(ctx, "store-1", "2026-03-14", base)
	require.NoError(t, err)
	assert.Equal(t, domain.DayStatusOpen, day.Status)

	again, err := s.EnsureDay(ctx, "store-1", "2026-03-15", base)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", again.OperationalDate)

	record := domain.DayClose{
		ID:              "dc-1",
		StoreID:         "store-1",
		OperationalDate: "2026-03-14",
		Summary: domain.PreEODSummary{
			StoreID:         "store-1",
			OperationalDate: "2026-03-14",
			NetRevenue:      decimal.RequireFromString("125.50"),
			RevenueByMethod: map[string]decimal.Decimal{domain.PaymentCash: decimal.RequireFromString("125.50")},
		},
		ClosedBy:   "supervisor",
		ClosedAt:   base.Add(12 * time.Hour),
		SyncStatus: domain.DayCloseClean,
	}
	require.NoError(t, s.CommitDayClose(ctx, record, "2026-03-15"))
	assert.ErrorIs(t, s.CommitDayClose(ctx, record, "2026-03-15"), localstore.ErrConflict)

	current, err := s.CurrentDay(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", current.OperationalDate)

	_, err = s.EnsureDay(ctx, "store-2", "2026-03-14", base)
	require.NoError(t, err)

	stored, err := s.GetDayClose(ctx, "store-1", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, "125.50", stored.Summary.NetRevenue.StringFixed(2))
	assert.Equal(t, "125.50", stored.Summary.RevenueByMethod[domain.PaymentCash].StringFixed(2))
}
