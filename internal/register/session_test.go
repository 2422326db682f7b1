package register

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/localstore/memory"
)

var now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSession(t *testing.T, withShift bool) (*Session, localstore.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_, err := store.EnsureDay(ctx, "store-1", "2026-03-14", now)
	require.NoError(t, err)
	require.NoError(t, store.ApplyProducts(ctx, domain.Delta[domain.Product]{Created: []domain.Product{
		{ID: "p-1", SKU: "KOPI-01", Name: "Kopi Susu", Price: dec("18000"), TaxRate: dec("0.11"), Active: true},
	}}))
	require.NoError(t, store.ApplyDiscounts(ctx, domain.Delta[domain.Discount]{Created: []domain.Discount{
		{ID: "d-1", Code: "HEMAT10", Type: domain.DiscountPercent, Value: dec("10"), MinSubtotal: dec("20000"), Active: true},
		{ID: "d-2", Code: "OLD", Type: domain.DiscountFlat, Value: dec("5000"), Active: false},
	}}))
	if withShift {
		require.NoError(t, store.CreateShift(ctx, domain.Shift{
			LocalID: "shift-1", StoreID: "store-1", CashierID: "cashier-1", OperationalDate: "2026-03-14",
			Status: domain.ShiftStatusActive, OpeningFloat: dec("100000"), OpenedAt: now, SyncStatus: domain.SyncPending,
		}))
	}
	s := New(store, "store-1", "cashier-1", zap.NewNop())
	s.now = func() time.Time { return now }
	return s, store
}

func kopi(qty int) domain.LineItem {
	return domain.LineItem{ProductID: "p-1", Quantity: qty, UnitPrice: dec("18000")}
}

func TestRecordSalePricesAndQueues(t *testing.T) {
	s, store := newSession(t, true)
	ctx := context.Background()
	_, err := s.SaveActiveCart(ctx, []domain.LineItem{kopi(2)}, "")
	require.NoError(t, err)

	tx, err := s.RecordSale(ctx, SaleRequest{
		Items:        []domain.LineItem{kopi(2)},
		VoucherCodes: []string{"HEMAT10"},
		Payments:     []domain.Payment{{Method: domain.PaymentCash, Amount: dec("50000")}},
	})
	require.NoError(t, err)

	assert.Equal(t, "36000.00", tx.Subtotal.StringFixed(2))
	assert.Equal(t, "3960.00", tx.Tax.StringFixed(2))
	assert.Equal(t, "3600.00", tx.Discount.StringFixed(2))
	assert.Equal(t, "36360.00", tx.Total.StringFixed(2))
	assert.Equal(t, "13640.00", tx.Payments[0].Change.StringFixed(2))
	assert.Equal(t, "Kopi Susu", tx.Items[0].Name)
	assert.Equal(t, "shift-1", tx.ShiftID)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, domain.SyncPending, tx.SyncStatus)
	assert.Len(t, tx.ClientID, 36)

	stored, err := store.GetTransaction(ctx, tx.ClientID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(tx.Total))

	_, err = s.ActiveCart(ctx)
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestRecordSaleValidation(t *testing.T) {
	s, store := newSession(t, true)
	ctx := context.Background()
	cash := func(amount string) []domain.Payment {
		return []domain.Payment{{Method: domain.PaymentCash, Amount: dec(amount)}}
	}

	cases := map[string]SaleRequest{
		"no items":         {Payments: cash("10")},
		"zero quantity":    {Items: []domain.LineItem{kopi(0)}, Payments: cash("100000")},
		"negative price":   {Items: []domain.LineItem{{ProductID: "p-1", Quantity: 1, UnitPrice: dec("-1")}}, Payments: cash("10")},
		"underpaid":        {Items: []domain.LineItem{kopi(1)}, Payments: cash("100")},
		"unknown method":   {Items: []domain.LineItem{kopi(1)}, Payments: []domain.Payment{{Method: "barter", Amount: dec("100000")}}},
		"card overpayment": {Items: []domain.LineItem{kopi(1)}, Payments: []domain.Payment{{Method: domain.PaymentCard, Amount: dec("100000")}}},
		"inactive voucher": {Items: []domain.LineItem{kopi(2)}, VoucherCodes: []string{"OLD"}, Payments: cash("100000")},
		"voucher minimum":  {Items: []domain.LineItem{kopi(1)}, VoucherCodes: []string{"HEMAT10"}, Payments: cash("100000")},
		"unknown voucher":  {Items: []domain.LineItem{kopi(1)}, VoucherCodes: []string{"NOPE"}, Payments: cash("100000")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.RecordSale(ctx, req)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	txs, err := store.ListTransactions(ctx, localstore.TxFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecordSaleNeedsShiftAndOpenDay(t *testing.T) {
	s, store := newSession(t, false)
	ctx := context.Background()
	req := SaleRequest{Items: []domain.LineItem{kopi(1)}, Payments: []domain.Payment{{Method: domain.PaymentQRIS, Amount: dec("19980")}}}

	_, err := s.RecordSale(ctx, req)
	require.ErrorIs(t, err, ErrNoActiveShift)

	require.NoError(t, store.CreateShift(ctx, domain.Shift{
		LocalID: "shift-1", StoreID: "store-1", CashierID: "cashier-1", Status: domain.ShiftStatusActive, OpenedAt: now,
	}))
	require.NoError(t, store.CommitDayClose(ctx, domain.DayClose{ID: "eod", StoreID: "store-1", OperationalDate: "2026-03-14", ClosedAt: now}, "2026-03-15"))

	tx, err := s.RecordSale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", tx.OperationalDate)
	assert.True(t, tx.Payments[0].Change.IsZero())
}

func TestVoidSaleCreatesRefund(t *testing.T) {
	s, store := newSession(t, true)
	ctx := context.Background()
	sale, err := s.RecordSale(ctx, SaleRequest{
		Items:    []domain.LineItem{kopi(1)},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: dec("20000")}},
	})
	require.NoError(t, err)

	_, err = s.VoidSale(ctx, sale.ClientID, " ")
	require.ErrorIs(t, err, ErrValidation)

	refund, err := s.VoidSale(ctx, sale.ClientID, "salah input")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusVoided, refund.Status)
	assert.Equal(t, sale.ClientID, refund.RefundOf)
	assert.True(t, refund.Total.Equal(sale.Total))
	assert.Equal(t, "19980.00", refund.Payments[0].Amount.StringFixed(2))

	original, err := store.GetTransaction(ctx, sale.ClientID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, original.Status)

	_, err = s.VoidSale(ctx, sale.ClientID, "lagi")
	require.ErrorIs(t, err, ErrAlreadyVoided)
	_, err = s.VoidSale(ctx, refund.ClientID, "refund of refund")
	require.ErrorIs(t, err, ErrValidation)
}

func TestHoldCart(t *testing.T) {
	s, store := newSession(t, true)
	ctx := context.Background()

	_, err := s.HoldCart(ctx)
	require.ErrorIs(t, err, ErrEmptyCart)

	cart, err := s.SaveActiveCart(ctx, []domain.LineItem{kopi(1)}, "meja 4")
	require.NoError(t, err)
	again, err := s.SaveActiveCart(ctx, []domain.LineItem{kopi(3)}, "meja 4")
	require.NoError(t, err)
	assert.Equal(t, cart.ID, again.ID)

	held, err := s.HoldCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CartStatusHeld, held.Status)
	assert.Equal(t, 3, held.Items[0].Quantity)

	pending, err := store.ListPendingCarts(ctx, "store-1", domain.CartStatusHeld)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	_, err = s.ActiveCart(ctx)
	require.ErrorIs(t, err, localstore.ErrNotFound)

	_, err = s.SaveActiveCart(ctx, []domain.LineItem{kopi(-1)}, "")
	require.ErrorIs(t, err, ErrValidation)
	require.NoError(t, s.ClearActiveCart(ctx))
}

func TestRecordSaleUsesCatalogPrice(t *testing.T) {
	s, _ := newSession(t, true)
	tx, err := s.RecordSale(context.Background(), SaleRequest{
		Items:    []domain.LineItem{{ProductID: "p-1", Quantity: 1}},
		Payments: []domain.Payment{{Method: domain.PaymentEWallet, Amount: dec("19980")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "18000.00", tx.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "19980.00", tx.Total.StringFixed(2))
}
