// Package localstore defines the terminal's durable store: everything the
// device believes happened, including records the server has not seen yet.
package localstore

import (
	"context"
	"errors"
	"time"

	"kasirinaja/pos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrIllegalTransition = errors.New("illegal status transition")
)

type TxFilter struct {
	StoreID         string
	OperationalDate string
	SyncStatuses    []string
	EnqueuedBefore  *time.Time
	Limit           int
}

type ShiftFilter struct {
	StoreID         string
	OperationalDate string
	Status          string
}

// Store is opened at process start and closed at shutdown. Callers pass it
// to the sync engine, the shift manager and the EOD coordinator.
type Store interface {
	Watermark(ctx context.Context) (*time.Time, error)
	SetWatermark(ctx context.Context, at time.Time) error
	ApplyCategories(ctx context.Context, delta domain.Delta[domain.Category]) error
	ApplyProducts(ctx context.Context, delta domain.Delta[domain.Product]) error
	ApplyStock(ctx context.Context, delta domain.Delta[domain.StockLevel]) error
	ApplyDiscounts(ctx context.Context, delta domain.Delta[domain.Discount]) error
	// ApplyPull writes the named collections of a pull and, when watermark is
	// set, advances it. Either all of it is written or none.
	ApplyPull(ctx context.Context, collections []string, resp domain.PullResponse, watermark *time.Time) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetStock(ctx context.Context, productID string) (*domain.StockLevel, error)
	ListDiscounts(ctx context.Context) ([]domain.Discount, error)
	GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error)

	PutTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransaction(ctx context.Context, clientID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter TxFilter) ([]domain.Transaction, error)
	MarkSynced(ctx context.Context, accepted domain.PushAccepted) error
	MarkRejected(ctx context.Context, clientID string, rejection domain.Rejection) error
	RecordAttempt(ctx context.Context, clientIDs []string) error
	Requeue(ctx context.Context, clientID string, at time.Time) error
	DeleteTransaction(ctx context.Context, clientID string, expectSyncStatus string) error

	CreateShift(ctx context.Context, shift domain.Shift) error
	UpdateShift(ctx context.Context, shift domain.Shift) error
	MarkShiftSynced(ctx context.Context, localID string, serverID string) error
	GetShift(ctx context.Context, localID string) (*domain.Shift, error)
	ActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error)
	ListShifts(ctx context.Context, filter ShiftFilter) ([]domain.Shift, error)
	NextShiftNumber(ctx context.Context, storeID string, cashierID string) (int, error)

	EnqueueShiftOp(ctx context.Context, op domain.PendingShiftOp) error
	ListShiftOps(ctx context.Context, statuses ...string) ([]domain.PendingShiftOp, error)
	MarkShiftOp(ctx context.Context, id string, syncStatus string, errMsg string) error

	SaveActiveCart(ctx context.Context, cart domain.Cart) error
	ActiveCart(ctx context.Context, storeID string, cashierID string) (*domain.Cart, error)
	ListActiveCarts(ctx context.Context, storeID string) ([]domain.Cart, error)
	DeleteActiveCart(ctx context.Context, storeID string, cashierID string) error
	ParkActiveCarts(ctx context.Context, storeID string, at time.Time) ([]domain.Cart, error)
	PutPendingCart(ctx context.Context, cart domain.Cart) error
	GetPendingCart(ctx context.Context, id string) (*domain.Cart, error)
	ListPendingCarts(ctx context.Context, storeID string, status string) ([]domain.Cart, error)
	SetPendingCartStatus(ctx context.Context, id string, status string, at time.Time) error

	EnsureDay(ctx context.Context, storeID string, date string, at time.Time) (*domain.DayState, error)
	CurrentDay(ctx context.Context, storeID string) (*domain.DayState, error)
	CommitDayClose(ctx context.Context, record domain.DayClose, nextDate string) error
	GetDayClose(ctx context.Context, storeID string, date string) (*domain.DayClose, error)

	// Reset drops reference data and the watermark so the next pull is a
	// full sync. Queued transactions, shifts and carts are kept.
	Reset(ctx context.Context) error
	Close() error
}

// CanMarkSynced reports whether a record in the given sync status may be
// stamped as accepted by the server.
func CanMarkSynced(current string) bool {
	return current == domain.SyncPending || current == domain.SyncFailed
}

// CanMarkRejected reports whether a record may be stamped as rejected.
func CanMarkRejected(current string) bool {
	return current == domain.SyncPending || current == domain.SyncFailed
}

// CanRequeue reports whether a record may be put back into the push queue.
// Synced records never go back to pending.
func CanRequeue(current string) bool {
	return current != domain.SyncSynced
}

// NextCartStatus validates a pending cart transition. Voided and restored
// carts are final.
func NextCartStatus(current string, next string) error {
	if current != domain.CartStatusHeld {
		return ErrIllegalTransition
	}
	if next != domain.CartStatusRestored && next != domain.CartStatusVoided {
		return ErrIllegalTransition
	}
	return nil
}

// OpenDay returns the store's OPEN operational day, opening the calendar
// date of now when the terminal has none yet.
func OpenDay(ctx context.Context, s Store, storeID string, now time.Time) (*domain.DayState, error) {
	day, err := s.CurrentDay(ctx, storeID)
	if err == nil {
		return day, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.EnsureDay(ctx, storeID, now.Format(domain.DateLayout), now)
}
