package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasirinaja/pos/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// StockShortfallError carries the per-product shortfall behind
// ErrInsufficientStock.
type StockShortfallError struct {
	Issues []domain.StockIssue
}

func (e *StockShortfallError) Error() string {
	return fmt.Sprintf("insufficient stock for %d product(s)", len(e.Issues))
}

func (e *StockShortfallError) Unwrap() error {
	return ErrInsufficientStock
}

// CatalogRepository serves reference-data deltas. A nil since returns every
// live record as created.
type CatalogRepository interface {
	CategoryChanges(ctx context.Context, since *time.Time) (domain.Delta[domain.Category], error)
	ProductChanges(ctx context.Context, since *time.Time) (domain.Delta[domain.Product], error)
	StockChanges(ctx context.Context, storeID string, since *time.Time) (domain.Delta[domain.StockLevel], error)
	DiscountChanges(ctx context.Context, since *time.Time) (domain.Delta[domain.Discount], error)
	UpsertCategory(ctx context.Context, category domain.Category) error
	UpsertProduct(ctx context.Context, product domain.Product) error
	DeleteProduct(ctx context.Context, id string, at time.Time) error
	UpsertDiscount(ctx context.Context, discount domain.Discount) error
	SetStock(ctx context.Context, storeID string, productID string, qty int) error
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type TransactionRepository interface {
	FindTransactionByClientID(ctx context.Context, clientID string) (*domain.Transaction, error)
	// RecordTransaction stores an accepted transaction and applies its stock
	// movement in one unit: sales decrement, voided refunds restock. It
	// assigns the transaction number. A shortfall returns
	// *StockShortfallError and stores nothing.
	RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, storeID string, date string) ([]domain.Transaction, error)
}

type ShiftRepository interface {
	// CreateShift fails with ErrConflict when the cashier already has an
	// ACTIVE shift in the store.
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, localID string) (*domain.Shift, error)
	UpdateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	ListShifts(ctx context.Context, storeID string, date string) ([]domain.Shift, error)
}

type DayCloseRepository interface {
	GetDayClose(ctx context.Context, storeID string, date string) (*domain.DayClose, error)
	// CreateDayClose fails with ErrConflict when the day already has a record.
	CreateDayClose(ctx context.Context, record domain.DayClose) error
	// AttachLateTransaction counts one late transaction against a closed day.
	// The record turns clean once every transaction it reported as unsynced
	// has arrived.
	AttachLateTransaction(ctx context.Context, storeID string, date string) (*domain.DayClose, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	CatalogRepository
	TransactionRepository
	ShiftRepository
	DayCloseRepository
	UserRepository
	AuditRepository
}

// TransactionNumber formats the per-store, per-day sequence number.
func TransactionNumber(date string, seq int) string {
	compact := date
	if t, err := time.Parse(domain.DateLayout, date); err == nil {
		compact = t.Format("20060102")
	}
	return fmt.Sprintf("TRX-%s-%04d", compact, seq)
}
