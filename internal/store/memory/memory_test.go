package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
)

type stepClock struct {
	at time.Time
}

func (c *stepClock) now() time.Time {
	c.at = c.at.Add(time.Second)
	return c.at
}

func newClockedStore() (*Store, *stepClock) {
	clock := &stepClock{at: time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)}
	s := New()
	s.now = clock.now
	return s, clock
}

func TestProductChangesClassifiesBySince(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore()

	for _, id := range []string{"p-a", "p-b", "p-c"} {
		if err := s.UpsertProduct(ctx, domain.Product{ID: id, Name: id, Price: decimal.NewFromInt(1000), Active: true}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	since := clock.now()

	if err := s.UpsertProduct(ctx, domain.Product{ID: "p-a", Name: "renamed", Price: decimal.NewFromInt(1500), Active: true}); err != nil {
		t.Fatalf("update p-a: %v", err)
	}
	if err := s.DeleteProduct(ctx, "p-b", clock.now()); err != nil {
		t.Fatalf("delete p-b: %v", err)
	}
	if err := s.UpsertProduct(ctx, domain.Product{ID: "p-d", Name: "new", Price: decimal.NewFromInt(500), Active: true}); err != nil {
		t.Fatalf("create p-d: %v", err)
	}

	full, err := s.ProductChanges(ctx, nil)
	if err != nil {
		t.Fatalf("full changes: %v", err)
	}
	if len(full.Created) != 3 || len(full.Updated) != 0 || len(full.Deleted) != 0 {
		t.Fatalf("expected 3 live products in a full pull, got %+v", full)
	}

	d, err := s.ProductChanges(ctx, &since)
	if err != nil {
		t.Fatalf("incremental changes: %v", err)
	}
	if len(d.Created) != 1 || d.Created[0].ID != "p-d" {
		t.Fatalf("expected p-d created, got %+v", d.Created)
	}
	if len(d.Updated) != 1 || d.Updated[0].Name != "renamed" {
		t.Fatalf("expected p-a updated, got %+v", d.Updated)
	}
	if len(d.Deleted) != 1 || d.Deleted[0] != "p-b" {
		t.Fatalf("expected p-b deleted, got %+v", d.Deleted)
	}

	if err := s.DeleteProduct(ctx, "p-b", clock.now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected repeat delete to be not found, got %v", err)
	}
}

func sale(clientID string, date string, qty int) domain.Transaction {
	return domain.Transaction{
		ClientID:        clientID,
		StoreID:         "s1",
		OperationalDate: date,
		Items:           []domain.LineItem{{ProductID: "p-a", Quantity: qty, UnitPrice: decimal.NewFromInt(1000)}},
		Total:           decimal.NewFromInt(int64(qty) * 1000),
		Status:          domain.TxStatusCompleted,
	}
}

func TestRecordTransactionNumbersPerDayAndChecksStock(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore()
	if err := s.UpsertProduct(ctx, domain.Product{ID: "p-a", Name: "a", Price: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetStock(ctx, "s1", "p-a", 5); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	first, err := s.RecordTransaction(ctx, sale("c-1", "2026-03-14", 2))
	if err != nil {
		t.Fatalf("record c-1: %v", err)
	}
	second, err := s.RecordTransaction(ctx, sale("c-2", "2026-03-15", 1))
	if err != nil {
		t.Fatalf("record c-2: %v", err)
	}
	if first.TransactionNumber != "TRX-20260314-0001" || second.TransactionNumber != "TRX-20260315-0001" {
		t.Fatalf("unexpected numbers %s, %s", first.TransactionNumber, second.TransactionNumber)
	}
	if first.SyncStatus != domain.SyncSynced || first.SyncedAt == nil {
		t.Fatalf("expected synced transaction, got %+v", first)
	}

	again, err := s.RecordTransaction(ctx, sale("c-1", "2026-03-14", 2))
	if err != nil {
		t.Fatalf("repeat c-1: %v", err)
	}
	if again.ServerID != first.ServerID || again.TransactionNumber != first.TransactionNumber {
		t.Fatalf("expected repeat to return the original record")
	}

	_, err = s.RecordTransaction(ctx, sale("c-3", "2026-03-14", 3))
	var shortfall *store.StockShortfallError
	if !errors.As(err, &shortfall) || !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected stock shortfall, got %v", err)
	}
	if shortfall.Issues[0].Available != 2 || shortfall.Issues[0].Requested != 3 {
		t.Fatalf("unexpected issue %+v", shortfall.Issues[0])
	}

	txs, err := s.ListTransactions(ctx, "s1", "2026-03-14")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction on 2026-03-14, got %d", len(txs))
	}
}

func TestShiftAndDayCloseConflicts(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore()

	open := domain.Shift{LocalID: "sh-1", StoreID: "s1", CashierID: "kasir", Status: domain.ShiftStatusActive}
	if _, err := s.CreateShift(ctx, open); err != nil {
		t.Fatalf("create shift: %v", err)
	}
	other := open
	other.LocalID = "sh-2"
	if _, err := s.CreateShift(ctx, other); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second active shift to conflict, got %v", err)
	}

	open.Status = domain.ShiftStatusClosed
	if _, err := s.UpdateShift(ctx, open); err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if _, err := s.CreateShift(ctx, other); err != nil {
		t.Fatalf("expected shift after close to open, got %v", err)
	}

	record := domain.DayClose{ID: "eod-1", StoreID: "s1", OperationalDate: "2026-03-14"}
	if err := s.CreateDayClose(ctx, record); err != nil {
		t.Fatalf("create day close: %v", err)
	}
	if err := s.CreateDayClose(ctx, record); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate day close to conflict, got %v", err)
	}
}

func TestAttachLateTransactionCleansDayClose(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.AttachLateTransaction(ctx, "s1", "2026-03-14"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for open day, got %v", err)
	}

	record := domain.DayClose{
		ID:              "eod-1",
		StoreID:         "s1",
		OperationalDate: "2026-03-14",
		Summary:         domain.PreEODSummary{UnsyncedTransactions: 2},
		SyncStatus:      domain.DayClosePendingSync,
	}
	if err := s.CreateDayClose(ctx, record); err != nil {
		t.Fatalf("create day close: %v", err)
	}

	first, err := s.AttachLateTransaction(ctx, "s1", "2026-03-14")
	if err != nil {
		t.Fatalf("attach late transaction: %v", err)
	}
	if first.LateTransactions != 1 || first.SyncStatus != domain.DayClosePendingSync {
		t.Fatalf("expected one late transaction still pending, got %+v", first)
	}
	second, err := s.AttachLateTransaction(ctx, "s1", "2026-03-14")
	if err != nil {
		t.Fatalf("attach late transaction: %v", err)
	}
	if second.LateTransactions != 2 || second.SyncStatus != domain.DayCloseClean {
		t.Fatalf("expected clean record after every unsynced sale arrived, got %+v", second)
	}
}

func TestSeededCatalog(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	products, err := s.GetProducts(ctx, []string{"p-telur", "p-kopi-susu"})
	if err != nil {
		t.Fatalf("get products: %v", err)
	}
	if !products["p-kopi-susu"].TaxRate.Equal(decimal.RequireFromString("0.11")) {
		t.Fatalf("expected seeded tax rate, got %s", products["p-kopi-susu"].TaxRate)
	}

	stock, err := s.StockChanges(ctx, SeedStoreID, nil)
	if err != nil {
		t.Fatalf("stock changes: %v", err)
	}
	for _, level := range stock.Created {
		if level.ProductID == "p-telur" && level.Quantity != 40 {
			t.Fatalf("expected 40 eggs, got %d", level.Quantity)
		}
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 3 || users[2].Username != "supervisor" || users[2].PINHash == "" {
		t.Fatalf("expected seeded accounts with a supervisor PIN, got %+v", users)
	}
}
