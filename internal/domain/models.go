package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

const (
	SyncPending  = "pending"
	SyncSynced   = "synced"
	SyncFailed   = "failed"
	SyncRejected = "rejected"
)

const (
	TxStatusCompleted   = "completed"
	TxStatusVoided      = "voided"
	TxStatusPendingSync = "pending_sync"
)

const (
	ShiftStatusActive = "ACTIVE"
	ShiftStatusClosed = "CLOSED"
)

const (
	ShiftOpOpen  = "OPEN"
	ShiftOpClose = "CLOSE"
)

const (
	DayStatusOpen   = "OPEN"
	DayStatusClosed = "CLOSED"
)

const (
	DayCloseClean       = "clean"
	DayClosePendingSync = "pending_sync"
)

const (
	CartStatusHeld     = "held"
	CartStatusRestored = "restored"
	CartStatusVoided   = "voided"
)

const (
	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentQRIS    = "qris"
	PaymentEWallet = "ewallet"
)

const (
	DiscountPercent = "percent"
	DiscountFlat    = "flat"
)

const (
	RoleCashier    = "cashier"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID         string          `json:"id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Price      decimal.Decimal `json:"price"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	Active     bool            `json:"active"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type StockLevel struct {
	ProductID string    `json:"product_id"`
	StoreID   string    `json:"store_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Discount struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinSubtotal decimal.Decimal `json:"min_subtotal"`
	Active      bool            `json:"active"`
	StartsAt    *time.Time      `json:"starts_at,omitempty"`
	EndsAt      *time.Time      `json:"ends_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type LineDiscount struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

type LineItem struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discounts []LineDiscount  `json:"discounts,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Payment struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Change    decimal.Decimal `json:"change"`
	Reference string          `json:"reference,omitempty"`
}

type VoucherApplication struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

type StockIssue struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type Rejection struct {
	Code        string       `json:"code"`
	Message     string       `json:"message,omitempty"`
	StockIssues []StockIssue `json:"stock_issues,omitempty"`
}

// Transaction is client-authoritative until the server accepts it. ClientID
// never changes and doubles as the push idempotency key.
type Transaction struct {
	ClientID          string               `json:"client_id"`
	ServerID          string               `json:"server_id,omitempty"`
	TransactionNumber string               `json:"transaction_number,omitempty"`
	StoreID           string               `json:"store_id"`
	CashierID         string               `json:"cashier_id"`
	ShiftID           string               `json:"shift_id,omitempty"`
	OperationalDate   string               `json:"operational_date"`
	RefundOf          string               `json:"refund_of,omitempty"`
	Items             []LineItem           `json:"items"`
	Subtotal          decimal.Decimal      `json:"subtotal"`
	Tax               decimal.Decimal      `json:"tax"`
	Discount          decimal.Decimal      `json:"discount"`
	Total             decimal.Decimal      `json:"total"`
	Payments          []Payment            `json:"payments"`
	Vouchers          []VoucherApplication `json:"vouchers,omitempty"`
	Status            string               `json:"status"`
	SyncStatus        string               `json:"sync_status"`
	Rejection         *Rejection           `json:"rejection,omitempty"`
	Note              string               `json:"note,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	SyncedAt          *time.Time           `json:"synced_at,omitempty"`

	// Local queue bookkeeping, never sent over the wire.
	EnqueuedAt time.Time `json:"-"`
	Attempts   int       `json:"-"`
}

// IsSale reports whether the transaction counts as revenue rather than a refund.
func (t Transaction) IsSale() bool {
	return t.Status == TxStatusCompleted || t.Status == TxStatusPendingSync
}

type SupervisorApproval struct {
	SupervisorID   string    `json:"supervisor_id"`
	SupervisorName string    `json:"supervisor_name,omitempty"`
	ApprovedAt     time.Time `json:"approved_at"`
}

type Shift struct {
	LocalID         string              `json:"local_id"`
	ServerID        string              `json:"server_id,omitempty"`
	Number          int                 `json:"number"`
	StoreID         string              `json:"store_id"`
	CashierID       string              `json:"cashier_id"`
	OperationalDate string              `json:"operational_date"`
	Status          string              `json:"status"`
	OpeningFloat    decimal.Decimal     `json:"opening_float"`
	OpeningNote     string              `json:"opening_note,omitempty"`
	OpenedAt        time.Time           `json:"opened_at"`
	EndingCash      decimal.NullDecimal `json:"ending_cash"`
	Variance        decimal.NullDecimal `json:"variance"`
	VarianceReason  string              `json:"variance_reason,omitempty"`
	ClosingNote     string              `json:"closing_note,omitempty"`
	Approval        *SupervisorApproval `json:"approval,omitempty"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`
	SyncStatus      string              `json:"sync_status"`
}

// PendingShiftOp is the outbox entry for a shift OPEN or CLOSE intent.
type PendingShiftOp struct {
	ID           string    `json:"id"`
	ShiftLocalID string    `json:"shift_local_id"`
	Op           string    `json:"op"`
	Snapshot     Shift     `json:"snapshot"`
	SyncStatus   string    `json:"sync_status"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cart is either the active cart of a cashier or a pending cart kept across
// operational days.
type Cart struct {
	ID              string     `json:"id"`
	StoreID         string     `json:"store_id"`
	CashierID       string     `json:"cashier_id"`
	OperationalDate string     `json:"operational_date"`
	Items           []LineItem `json:"items"`
	Note            string     `json:"note,omitempty"`
	Status          string     `json:"status,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type DayState struct {
	StoreID         string     `json:"store_id"`
	OperationalDate string     `json:"operational_date"`
	Status          string     `json:"status"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

type PreEODSummary struct {
	StoreID              string                     `json:"store_id"`
	OperationalDate      string                     `json:"operational_date"`
	CompletedCount       int                        `json:"completed_count"`
	VoidedCount          int                        `json:"voided_count"`
	GrossRevenue         decimal.Decimal            `json:"gross_revenue"`
	DiscountTotal        decimal.Decimal            `json:"discount_total"`
	RefundTotal          decimal.Decimal            `json:"refund_total"`
	NetRevenue           decimal.Decimal            `json:"net_revenue"`
	RevenueByMethod      map[string]decimal.Decimal `json:"revenue_by_method"`
	ActiveShifts         int                        `json:"active_shifts"`
	ClosedShifts         int                        `json:"closed_shifts"`
	AggregateVariance    decimal.Decimal            `json:"aggregate_variance"`
	UnsyncedTransactions int                        `json:"unsynced_transactions"`
	PendingCarts         int                        `json:"pending_carts"`
	GeneratedAt          time.Time                  `json:"generated_at"`
}

// DayClose is written once per (store, operational date) and never updated.
type DayClose struct {
	ID              string        `json:"id"`
	StoreID         string        `json:"store_id"`
	OperationalDate string        `json:"operational_date"`
	Summary         PreEODSummary `json:"summary"`
	ClosedBy        string        `json:"closed_by"`
	ClosedAt        time.Time     `json:"closed_at"`
	SyncStatus      string        `json:"sync_status"`
	// LateTransactions counts sales made before the close that reached the
	// server after it.
	LateTransactions int `json:"late_transactions,omitempty"`
}

type Actor struct {
	Username string
	Role     string
	StoreID  string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	PINHash   string
	Role      string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	StoreID  string `json:"store_id,omitempty"`
	PIN      string `json:"pin,omitempty"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id,omitempty"`
	Active    bool      `json:"active"`
	HasPIN    bool      `json:"has_pin"`
	CreatedAt time.Time `json:"created_at"`
}
