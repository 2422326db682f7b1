package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/cache"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/store/memory"
)

const testDate = "2026-03-14"

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopSummaryCache{}, Options{DefaultStoreID: memory.SeedStoreID}, nil)
}

func cashierContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "cashier",
		Role:     domain.RoleCashier,
		StoreID:  memory.SeedStoreID,
	})
}

func sale(clientID string, productID string, qty int, price int64) domain.Transaction {
	total := decimal.NewFromInt(price * int64(qty))
	return domain.Transaction{
		ClientID:        clientID,
		StoreID:         memory.SeedStoreID,
		CashierID:       "cashier",
		OperationalDate: testDate,
		Items: []domain.LineItem{
			{ProductID: productID, Quantity: qty, UnitPrice: decimal.NewFromInt(price), Subtotal: total},
		},
		Subtotal:   total,
		Total:      total,
		Payments:   []domain.Payment{{Method: domain.PaymentCash, Amount: total}},
		Status:     domain.TxStatusPendingSync,
		SyncStatus: domain.SyncPending,
		CreatedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

type countingCache struct {
	cache.NoopSummaryCache
	stored      map[string]domain.PreEODSummary
	invalidated int
}

func (c *countingCache) Get(_ context.Context, storeID string, date string) (*domain.PreEODSummary, bool, error) {
	summary, ok := c.stored[cache.SummaryKey(storeID, date)]
	if !ok {
		return nil, false, nil
	}
	return &summary, true, nil
}

func (c *countingCache) Set(_ context.Context, summary domain.PreEODSummary, _ time.Duration) error {
	c.stored[cache.SummaryKey(summary.StoreID, summary.OperationalDate)] = summary
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, storeID string, date string) error {
	c.invalidated++
	delete(c.stored, cache.SummaryKey(storeID, date))
	return nil
}

func TestPushAssignsNumbersAndIsIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	req := domain.PushRequest{
		DeviceID: "terminal-a1",
		Transactions: []domain.Transaction{
			sale("c-1", "p-mie-goreng", 2, 3500),
			sale("c-2", "p-gula", 1, 17500),
		},
	}
	first, err := svc.Push(ctx, req)
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(first.Synced) != 2 || len(first.Rejected) != 0 {
		t.Fatalf("expected 2 synced, got %+v", first)
	}
	if first.Synced[0].TransactionNumber != "TRX-20260314-0001" || first.Synced[1].TransactionNumber != "TRX-20260314-0002" {
		t.Fatalf("unexpected numbering: %s, %s", first.Synced[0].TransactionNumber, first.Synced[1].TransactionNumber)
	}

	second, err := svc.Push(ctx, req)
	if err != nil {
		t.Fatalf("repeat push failed: %v", err)
	}
	for i := range second.Synced {
		if second.Synced[i].ServerID != first.Synced[i].ServerID {
			t.Fatalf("expected stable server id, got %s then %s", first.Synced[i].ServerID, second.Synced[i].ServerID)
		}
	}

	pull, err := svc.Pull(ctx, domain.PullRequest{Collections: []string{domain.CollectionStock}})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	for _, level := range pull.Stock.Created {
		if level.ProductID == "p-mie-goreng" && level.Quantity != 118 {
			t.Fatalf("expected stock decremented once to 118, got %d", level.Quantity)
		}
	}
}

func TestPushRejectsShortfallAndUnknownProduct(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	resp, err := svc.Push(ctx, domain.PushRequest{Transactions: []domain.Transaction{
		sale("c-egg", "p-telur", 41, 26500),
		sale("c-ghost", "p-missing", 1, 1000),
	}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(resp.Synced) != 0 || len(resp.Rejected) != 2 {
		t.Fatalf("expected both rejected, got %+v", resp)
	}
	egg := resp.Rejected[0]
	if egg.Reason != domain.CodeInsufficientStock || len(egg.StockIssues) != 1 || egg.StockIssues[0].Available != 40 {
		t.Fatalf("unexpected shortfall rejection: %+v", egg)
	}
	if resp.Rejected[1].Reason != domain.CodeUnknownProduct {
		t.Fatalf("expected unknown_product, got %s", resp.Rejected[1].Reason)
	}
}

func TestPushRejectsUnderpaidTransaction(t *testing.T) {
	svc := newTestService()
	tx := sale("c-under", "p-gula", 1, 17500)
	tx.Payments[0].Amount = decimal.NewFromInt(10000)

	resp, err := svc.Push(cashierContext(), domain.PushRequest{Transactions: []domain.Transaction{tx}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(resp.Rejected) != 1 || resp.Rejected[0].Reason != domain.CodeInvalidTransaction {
		t.Fatalf("expected invalid_transaction, got %+v", resp)
	}
}

func TestRefundRestocksAndCannotRepeat(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	if _, err := svc.Push(ctx, domain.PushRequest{Transactions: []domain.Transaction{sale("c-sale", "p-telur", 5, 26500)}}); err != nil {
		t.Fatalf("push sale failed: %v", err)
	}
	refund := sale("c-refund", "p-telur", 5, 26500)
	refund.Status = domain.TxStatusVoided
	refund.RefundOf = "c-sale"
	again := refund
	again.ClientID = "c-refund-2"

	resp, err := svc.Push(ctx, domain.PushRequest{Transactions: []domain.Transaction{refund, again}})
	if err != nil {
		t.Fatalf("push refund failed: %v", err)
	}
	if len(resp.Synced) != 1 || resp.Synced[0].ClientID != "c-refund" {
		t.Fatalf("expected first refund accepted, got %+v", resp)
	}
	if len(resp.Rejected) != 1 || resp.Rejected[0].ClientID != "c-refund-2" {
		t.Fatalf("expected second refund rejected, got %+v", resp.Rejected)
	}

	pull, err := svc.Pull(ctx, domain.PullRequest{Collections: []string{domain.CollectionStock}})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	for _, level := range pull.Stock.Created {
		if level.ProductID == "p-telur" && level.Quantity != 40 {
			t.Fatalf("expected stock restored to 40, got %d", level.Quantity)
		}
	}
}

func TestPullRejectsUnknownCollection(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Pull(cashierContext(), domain.PullRequest{Collections: []string{"suppliers"}}); err == nil {
		t.Fatalf("expected unknown collection to fail")
	}
}

func TestPullSinceWatermarkIsEmpty(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	first, err := svc.Pull(ctx, domain.PullRequest{})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(first.Products.Created) == 0 {
		t.Fatalf("expected a full pull to carry the catalog")
	}

	since := first.LastSyncTimestamp
	next, err := svc.Pull(ctx, domain.PullRequest{Since: &since})
	if err != nil {
		t.Fatalf("incremental pull failed: %v", err)
	}
	if !next.Products.Empty() || !next.Categories.Empty() || !next.Discounts.Empty() {
		t.Fatalf("expected no changes after watermark, got %+v", next.Products)
	}
}

func openShift(t *testing.T, svc *Service, ctx context.Context, localID string) domain.Shift {
	t.Helper()
	opened, err := svc.OpenShift(ctx, domain.Shift{
		LocalID:         localID,
		CashierID:       "cashier",
		OperationalDate: testDate,
		OpeningFloat:    decimal.NewFromInt(200000),
		OpenedAt:        time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	return opened
}

func TestOpenShiftIsIdempotentAndSingleActive(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	first := openShift(t, svc, ctx, "shift-1")
	again := openShift(t, svc, ctx, "shift-1")
	if first.ServerID == "" || first.ServerID != again.ServerID {
		t.Fatalf("expected stable server id, got %q and %q", first.ServerID, again.ServerID)
	}

	_, err := svc.OpenShift(ctx, domain.Shift{LocalID: "shift-2", CashierID: "cashier", OperationalDate: testDate})
	if !errors.Is(err, ErrShiftConflict) {
		t.Fatalf("expected ErrShiftConflict, got %v", err)
	}
}

func shiftPolicy(reason int64, approval int64) shift.VariancePolicy {
	return shift.VariancePolicy{
		ReasonThreshold:   decimal.NewFromInt(reason),
		ApprovalThreshold: decimal.NewFromInt(approval),
	}
}

func TestCloseShiftEnforcesVarianceTiers(t *testing.T) {
	svc := New(memory.NewSeeded(), nil, Options{
		Policy: shiftPolicy(1000, 50000),
	}, nil)
	ctx := cashierContext()
	openShift(t, svc, ctx, "shift-1")

	closing := domain.Shift{LocalID: "shift-1", EndingCash: decimal.NewNullDecimal(decimal.NewFromInt(195000))}
	if _, err := svc.CloseShift(ctx, closing); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}

	closing.EndingCash = decimal.NewNullDecimal(decimal.NewFromInt(100000))
	closing.VarianceReason = "counted twice"
	if _, err := svc.CloseShift(ctx, closing); !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}

	// An approved close needs no reason.
	closing.VarianceReason = ""
	closing.Approval = &domain.SupervisorApproval{SupervisorID: "supervisor", ApprovedAt: time.Now().UTC()}
	closed, err := svc.CloseShift(ctx, closing)
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if closed.Status != domain.ShiftStatusClosed || !closed.Variance.Decimal.Equal(decimal.NewFromInt(-100000)) {
		t.Fatalf("unexpected closed shift: status=%s variance=%s", closed.Status, closed.Variance.Decimal)
	}
	if closed.VarianceReason != "" || closed.Approval == nil {
		t.Fatalf("expected approval without reason, got %+v", closed)
	}

	// A new shift may open once the previous one is closed.
	openShift(t, svc, ctx, "shift-2")
}

func TestCloseUnknownShift(t *testing.T) {
	svc := newTestService()
	_, err := svc.CloseShift(cashierContext(), domain.Shift{LocalID: "nope", EndingCash: decimal.NewNullDecimal(decimal.Zero)})
	if !errors.Is(err, ErrShiftNotFound) {
		t.Fatalf("expected ErrShiftNotFound, got %v", err)
	}
}

func TestExecuteEODOnceAndRefusesSalesAfterClose(t *testing.T) {
	summaries := &countingCache{stored: map[string]domain.PreEODSummary{}}
	svc := New(memory.NewSeeded(), summaries, Options{}, nil)
	closedAt := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return closedAt }
	ctx := cashierContext()

	if _, err := svc.Push(ctx, domain.PushRequest{Transactions: []domain.Transaction{sale("c-1", "p-gula", 2, 17500)}}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	summary, err := svc.PreEODSummary(ctx, "", testDate)
	if err != nil {
		t.Fatalf("pre-summary failed: %v", err)
	}
	if summary.CompletedCount != 1 || !summary.NetRevenue.Equal(decimal.NewFromInt(35000)) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summaries.stored) != 1 {
		t.Fatalf("expected summary cached")
	}

	record, err := svc.ExecuteEOD(ctx, domain.EODExecuteRequest{OperationalDate: testDate, UnsyncedTransactions: 1})
	if err != nil {
		t.Fatalf("execute eod failed: %v", err)
	}
	if record.SyncStatus != domain.DayClosePendingSync || record.ClosedBy != "cashier" {
		t.Fatalf("unexpected day close: %+v", record)
	}
	if len(summaries.stored) != 0 {
		t.Fatalf("expected summary invalidated by close")
	}

	_, err = svc.ExecuteEOD(ctx, domain.EODExecuteRequest{OperationalDate: testDate})
	var closed *AlreadyClosedError
	if !errors.As(err, &closed) || closed.DayClose.ID != record.ID {
		t.Fatalf("expected AlreadyClosedError with original record, got %v", err)
	}

	late := sale("c-late", "p-gula", 1, 17500)
	late.CreatedAt = closedAt.Add(30 * time.Minute)
	resp, err := svc.Push(ctx, domain.PushRequest{Transactions: []domain.Transaction{late}})
	if err != nil {
		t.Fatalf("late push failed: %v", err)
	}
	if len(resp.Rejected) != 1 || resp.Rejected[0].Reason != domain.CodeDayClosed {
		t.Fatalf("expected day_closed rejection, got %+v", resp)
	}
}

func TestPushAfterCloseAcceptsSaleMadeBeforeIt(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, nil, Options{}, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC) }
	ctx := cashierContext()

	record, err := svc.ExecuteEOD(ctx, domain.EODExecuteRequest{
		OperationalDate:      testDate,
		ClientSyncStatus:     domain.DayClosePendingSync,
		UnsyncedTransactions: 1,
	})
	if err != nil {
		t.Fatalf("execute eod failed: %v", err)
	}
	if record.SyncStatus != domain.DayClosePendingSync {
		t.Fatalf("expected pending_sync close, got %s", record.SyncStatus)
	}

	// Rung up at 09:00 while the terminal was offline.
	resp, err := svc.Push(ctx, domain.PushRequest{Transactions: []domain.Transaction{sale("c-offline", "p-gula", 1, 17500)}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(resp.Synced) != 1 || len(resp.Rejected) != 0 {
		t.Fatalf("expected offline sale accepted, got %+v", resp)
	}

	stored, err := svc.GetDayClose(ctx, "", testDate)
	if err != nil {
		t.Fatalf("get day close failed: %v", err)
	}
	if stored.LateTransactions != 1 || stored.SyncStatus != domain.DayCloseClean {
		t.Fatalf("expected late sale attached to the close, got %+v", stored)
	}
	if stored.ID != record.ID || stored.Summary.CompletedCount != record.Summary.CompletedCount {
		t.Fatalf("expected frozen summary kept, got %+v", stored)
	}
}

// racingRepository stores a competing copy of the transaction and reports a
// write conflict, as a concurrent push of the same client id would.
type racingRepository struct {
	*memory.Store
}

func (r racingRepository) RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if _, err := r.Store.RecordTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: transaction %s", store.ErrConflict, tx.ClientID)
}

func TestPushAnswersConcurrentDuplicateAsAccepted(t *testing.T) {
	svc := New(racingRepository{memory.NewSeeded()}, nil, Options{}, nil)

	resp, err := svc.Push(cashierContext(), domain.PushRequest{Transactions: []domain.Transaction{sale("c-race", "p-gula", 1, 17500)}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(resp.Synced) != 1 || len(resp.Rejected) != 0 {
		t.Fatalf("expected duplicate answered as accepted, got %+v", resp)
	}
	if resp.Synced[0].TransactionNumber != "TRX-20260314-0001" {
		t.Fatalf("expected stored transaction number, got %+v", resp.Synced[0])
	}
}

func TestCatalogAdminRequiresAdmin(t *testing.T) {
	svc := newTestService()
	product := domain.Product{SKU: "new-01", Name: "Roti Tawar", Price: decimal.NewFromInt(15000), Active: true}

	if _, err := svc.UpsertProduct(cashierContext(), product); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	admin := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	saved, err := svc.UpsertProduct(admin, product)
	if err != nil {
		t.Fatalf("upsert product failed: %v", err)
	}
	if saved.SKU != "NEW-01" || saved.ID == "" {
		t.Fatalf("unexpected product: %+v", saved)
	}

	logs, err := svc.ListAuditLogs(admin, "", time.Now().UTC().Format(domain.DateLayout), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) == 0 || logs[0].Action != "product_upsert" {
		t.Fatalf("expected product_upsert audit entry, got %+v", logs)
	}
}
