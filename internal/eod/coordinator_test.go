package eod

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/localstore/memory"
	"kasirinaja/pos/internal/localstore/storetest"
	"kasirinaja/pos/internal/remote"
	"kasirinaja/pos/internal/syncer"
)

const today = "2026-03-14"

var now = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

type fakeRemote struct {
	offline  bool
	executed []domain.EODExecuteRequest
	closed   map[string]domain.DayClose
}

func (f *fakeRemote) PreEODSummary(_ context.Context, storeID string, date string) remote.Result[domain.PreEODSummary] {
	if f.offline {
		return remote.Result[domain.PreEODSummary]{Kind: remote.NetworkError, Err: errors.New("offline")}
	}
	return remote.Result[domain.PreEODSummary]{Kind: remote.Accepted, Value: domain.PreEODSummary{StoreID: storeID, OperationalDate: date, CompletedCount: 9}}
}

func (f *fakeRemote) ExecuteEOD(_ context.Context, req domain.EODExecuteRequest) remote.Result[domain.DayClose] {
	f.executed = append(f.executed, req)
	if f.offline {
		return remote.Result[domain.DayClose]{Kind: remote.NetworkError, Err: errors.New("offline")}
	}
	if existing, ok := f.closed[req.OperationalDate]; ok {
		return remote.Result[domain.DayClose]{Kind: remote.Rejected, Code: domain.CodeAlreadyClosed, Value: existing}
	}
	record := domain.DayClose{
		ID:              "eod_" + req.OperationalDate,
		StoreID:         req.StoreID,
		OperationalDate: req.OperationalDate,
		ClosedBy:        req.ClosedBy,
		ClosedAt:        now,
		SyncStatus:      req.ClientSyncStatus,
		Summary:         domain.PreEODSummary{UnsyncedTransactions: req.UnsyncedTransactions, PendingCarts: req.PendingCarts},
	}
	if f.closed == nil {
		f.closed = map[string]domain.DayClose{}
	}
	f.closed[req.OperationalDate] = record
	return remote.Result[domain.DayClose]{Kind: remote.Accepted, Value: record}
}

type fakePusher struct {
	calls int
}

func (f *fakePusher) Push(context.Context) (syncer.PushReport, error) {
	f.calls++
	return syncer.PushReport{NetworkError: "offline"}, nil
}

func newCoordinator(t *testing.T, api *fakeRemote) (*Coordinator, localstore.Store, *fakePusher) {
	t.Helper()
	store := memory.New()
	_, err := store.EnsureDay(context.Background(), "store-1", today, now.Add(-14*time.Hour))
	require.NoError(t, err)
	pusher := &fakePusher{}
	c := New(store, api, pusher, nil, "store-1", zap.NewNop())
	c.now = func() time.Time { return now }
	return c, store, pusher
}

func saveCart(t *testing.T, store localstore.Store, cashierID string, items int) {
	t.Helper()
	cart := domain.Cart{
		ID:              "cart-" + cashierID,
		StoreID:         "store-1",
		CashierID:       cashierID,
		OperationalDate: today,
		CreatedAt:       now.Add(-time.Hour),
	}
	for i := 0; i < items; i++ {
		cart.Items = append(cart.Items, domain.LineItem{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10), Subtotal: decimal.NewFromInt(10)})
	}
	require.NoError(t, store.SaveActiveCart(context.Background(), cart))
}

func TestExecuteRequiresConfirmation(t *testing.T) {
	api := &fakeRemote{}
	c, _, _ := newCoordinator(t, api)

	_, err := c.Execute(context.Background(), ExecuteRequest{ClosedBy: "spv"})
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Empty(t, api.executed)
}

func TestExecuteCommitsAndOpensNextDay(t *testing.T) {
	api := &fakeRemote{}
	c, store, pusher := newCoordinator(t, api)
	ctx := context.Background()
	tx := storetest.Transaction("a", now.Add(-time.Hour))
	tx.OperationalDate = today
	require.NoError(t, store.PutTransaction(ctx, tx))

	record, err := c.Execute(ctx, ExecuteRequest{ClosedBy: "spv", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, "eod_"+today, record.ID)
	assert.Equal(t, domain.DayClosePendingSync, record.SyncStatus)
	assert.Equal(t, 1, pusher.calls)
	require.Len(t, api.executed, 1)
	assert.Equal(t, 1, api.executed[0].UnsyncedTransactions)

	stored, err := c.DayClose(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)

	day, err := store.CurrentDay(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", day.OperationalDate)
}

func TestExecuteIsTerminalPerDate(t *testing.T) {
	api := &fakeRemote{}
	c, _, _ := newCoordinator(t, api)
	ctx := context.Background()

	first, err := c.Execute(ctx, ExecuteRequest{ClosedBy: "spv", OperationalDate: today, Confirmed: true})
	require.NoError(t, err)
	second, err := c.Execute(ctx, ExecuteRequest{ClosedBy: "spv", OperationalDate: today, Confirmed: true})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, api.executed, 1)
	assert.Equal(t, domain.DayCloseClean, first.SyncStatus)
}

func TestExecuteAdoptsServerRecordWhenAlreadyClosed(t *testing.T) {
	existing := domain.DayClose{ID: "eod_server", StoreID: "store-1", OperationalDate: today, ClosedBy: "other-terminal", ClosedAt: now}
	api := &fakeRemote{closed: map[string]domain.DayClose{today: existing}}
	c, store, _ := newCoordinator(t, api)
	ctx := context.Background()

	record, err := c.Execute(ctx, ExecuteRequest{ClosedBy: "spv", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, "eod_server", record.ID)

	stored, err := store.GetDayClose(ctx, "store-1", today)
	require.NoError(t, err)
	assert.Equal(t, "other-terminal", stored.ClosedBy)
}

func TestExecuteFailureKeepsDayOpenAndCartsRestorable(t *testing.T) {
	api := &fakeRemote{offline: true}
	c, store, _ := newCoordinator(t, api)
	ctx := context.Background()
	saveCart(t, store, "cashier-1", 2)
	saveCart(t, store, "cashier-2", 0)

	_, err := c.Execute(ctx, ExecuteRequest{ClosedBy: "spv", Confirmed: true})
	require.ErrorIs(t, err, ErrCommitFailed)

	day, err := store.CurrentDay(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, today, day.OperationalDate)
	assert.Equal(t, domain.DayStatusOpen, day.Status)
	_, err = store.GetDayClose(ctx, "store-1", today)
	require.ErrorIs(t, err, localstore.ErrNotFound)

	pending, err := c.PendingCarts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "cashier-1", pending[0].CashierID)
	assert.Len(t, pending[0].Items, 2)

	active, err := store.ListActiveCarts(ctx, "store-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	restored, err := c.RestoreCart(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Len(t, restored.Items, 2)
	cart, err := store.ActiveCart(ctx, "store-1", "cashier-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestPendingCartSurvivesSuccessfulCommit(t *testing.T) {
	api := &fakeRemote{}
	c, store, _ := newCoordinator(t, api)
	ctx := context.Background()
	saveCart(t, store, "cashier-1", 1)

	record, err := c.Execute(ctx, ExecuteRequest{ClosedBy: "spv", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, record.Summary.PendingCarts)

	pending, err := c.PendingCarts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	restored, err := c.RestoreCart(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", restored.OperationalDate)

	_, err = c.RestoreCart(ctx, pending[0].ID)
	require.ErrorIs(t, err, ErrCartNotHeld)
}

func TestRestoreCartGuards(t *testing.T) {
	c, store, _ := newCoordinator(t, &fakeRemote{})
	ctx := context.Background()
	held := domain.Cart{ID: "held-1", StoreID: "store-1", CashierID: "cashier-1", Status: domain.CartStatusHeld, Items: []domain.LineItem{{ProductID: "p-1", Quantity: 1}}, CreatedAt: now}
	require.NoError(t, store.PutPendingCart(ctx, held))
	saveCart(t, store, "cashier-1", 1)

	_, err := c.RestoreCart(ctx, "held-1")
	require.ErrorIs(t, err, ErrActiveCartExists)

	require.ErrorIs(t, c.VoidCart(ctx, "held-1", false), ErrConfirmationRequired)
	require.NoError(t, c.VoidCart(ctx, "held-1", true))

	_, err = c.RestoreCart(ctx, "held-1")
	require.ErrorIs(t, err, ErrCartVoided)
	require.ErrorIs(t, c.VoidCart(ctx, "held-1", true), ErrCartVoided)
}

func TestPreSummaryIsReadOnly(t *testing.T) {
	c, store, _ := newCoordinator(t, &fakeRemote{})
	ctx := context.Background()
	saveCart(t, store, "cashier-1", 1)

	sale := storetest.Transaction("sale", now.Add(-2*time.Hour))
	sale.OperationalDate = today
	sale.Discount = decimal.RequireFromString("2.50")
	require.NoError(t, store.PutTransaction(ctx, sale))
	refund := storetest.Transaction("refund", now.Add(-time.Hour))
	refund.OperationalDate = today
	refund.Status = domain.TxStatusVoided
	refund.RefundOf = "sale"
	refund.Total = decimal.RequireFromString("12.50")
	refund.Payments = []domain.Payment{{Method: domain.PaymentCash, Amount: decimal.RequireFromString("12.50"), Change: decimal.Zero}}
	require.NoError(t, store.PutTransaction(ctx, refund))

	summary, err := c.PreSummary(ctx)
	require.NoError(t, err)
	again, err := c.PreSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, summary.CompletedCount, again.CompletedCount)
	assert.Equal(t, 1, summary.CompletedCount)
	assert.Equal(t, 1, summary.VoidedCount)
	assert.Equal(t, "12.50", summary.NetRevenue.StringFixed(2))
	assert.Equal(t, "12.50", summary.RefundTotal.StringFixed(2))
	assert.Equal(t, "2.50", summary.DiscountTotal.StringFixed(2))
	assert.Equal(t, "12.50", summary.RevenueByMethod[domain.PaymentCash].StringFixed(2))
	assert.Equal(t, 2, summary.UnsyncedTransactions)
	assert.Equal(t, 1, summary.PendingCarts)

	active, err := store.ListActiveCarts(ctx, "store-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestServerPreSummary(t *testing.T) {
	c, _, _ := newCoordinator(t, &fakeRemote{})
	summary, err := c.ServerPreSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, summary.CompletedCount)

	offline, _, _ := newCoordinator(t, &fakeRemote{offline: true})
	_, err = offline.ServerPreSummary(context.Background())
	require.Error(t, err)
}

func TestAggregateShifts(t *testing.T) {
	shifts := []domain.Shift{
		{Status: domain.ShiftStatusActive},
		{Status: domain.ShiftStatusClosed, Variance: decimal.NewNullDecimal(decimal.RequireFromString("-3.00"))},
		{Status: domain.ShiftStatusClosed, Variance: decimal.NewNullDecimal(decimal.RequireFromString("0.50"))},
	}
	summary := Aggregate("store-1", today, nil, shifts, 0, now)
	assert.Equal(t, 1, summary.ActiveShifts)
	assert.Equal(t, 2, summary.ClosedShifts)
	assert.Equal(t, "-2.50", summary.AggregateVariance.StringFixed(2))
	assert.Equal(t, "0.00", summary.NetRevenue.StringFixed(2))
}

func TestNextDate(t *testing.T) {
	next, err := NextDate("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", next)

	prev, err := PreviousDate("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", prev)

	_, err = NextDate("14/03/2026")
	require.Error(t, err)
}

func TestRenderDayCloseSlip(t *testing.T) {
	record := domain.DayClose{
		ID:              "eod_0001",
		StoreID:         "store-1",
		OperationalDate: today,
		ClosedBy:        "supervisor",
		ClosedAt:        time.Date(2026, 3, 14, 22, 5, 0, 0, time.UTC),
		SyncStatus:      domain.DayClosePendingSync,
		Summary: domain.PreEODSummary{
			CompletedCount: 12,
			VoidedCount:    1,
			GrossRevenue:   decimal.RequireFromString("1543.5"),
			DiscountTotal:  decimal.RequireFromString("43.5"),
			RefundTotal:    decimal.RequireFromString("25"),
			NetRevenue:     decimal.RequireFromString("1475"),
			RevenueByMethod: map[string]decimal.Decimal{
				domain.PaymentQRIS: decimal.RequireFromString("500"),
				domain.PaymentCash: decimal.RequireFromString("975"),
			},
			ClosedShifts:         2,
			AggregateVariance:    decimal.RequireFromString("-3"),
			UnsyncedTransactions: 2,
			PendingCarts:         1,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, record))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "day_close_slip", buf.Bytes())
}
