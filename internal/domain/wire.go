package domain

import "time"

const (
	CollectionCategories = "categories"
	CollectionProducts   = "products"
	CollectionStock      = "stock"
	CollectionDiscounts  = "discounts"
)

// AllCollections lists the reference-data collections in apply order.
var AllCollections = []string{
	CollectionCategories,
	CollectionProducts,
	CollectionStock,
	CollectionDiscounts,
}

// Rejection and error codes shared by the server and the terminal.
const (
	CodeInsufficientStock  = "insufficient_stock"
	CodeDayClosed          = "day_closed"
	CodeInvalidTransaction = "invalid_transaction"
	CodeAlreadyClosed      = "already_closed"
	CodeShiftConflict      = "shift_conflict"
	CodeShiftNotFound      = "shift_not_found"
	CodeApprovalRequired   = "approval_required"
	CodeReasonRequired     = "reason_required"
	CodeInvalidPIN         = "invalid_pin"
	CodeUnknownProduct     = "unknown_product"
)

type Delta[T any] struct {
	Created []T      `json:"created"`
	Updated []T      `json:"updated"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether the delta carries no changes.
func (d Delta[T]) Empty() bool {
	return len(d.Created) == 0 && len(d.Updated) == 0 && len(d.Deleted) == 0
}

type PullRequest struct {
	StoreID     string     `json:"store_id"`
	Since       *time.Time `json:"since,omitempty"`
	Collections []string   `json:"collections,omitempty"`
}

type PullResponse struct {
	Categories        Delta[Category]   `json:"categories"`
	Products          Delta[Product]    `json:"products"`
	Stock             Delta[StockLevel] `json:"stock"`
	Discounts         Delta[Discount]   `json:"discounts"`
	LastSyncTimestamp time.Time         `json:"last_sync_timestamp"`
}

type PushRequest struct {
	StoreID      string        `json:"store_id"`
	DeviceID     string        `json:"device_id"`
	Transactions []Transaction `json:"transactions"`
}

type PushAccepted struct {
	ClientID          string    `json:"client_id"`
	ServerID          string    `json:"server_id"`
	TransactionNumber string    `json:"transaction_number"`
	SyncedAt          time.Time `json:"synced_at"`
}

type PushRejected struct {
	ClientID    string       `json:"client_id"`
	Reason      string       `json:"reason"`
	Message     string       `json:"message,omitempty"`
	StockIssues []StockIssue `json:"stock_issues,omitempty"`
}

func (r PushRejected) Rejection() Rejection {
	return Rejection{Code: r.Reason, Message: r.Message, StockIssues: r.StockIssues}
}

type PushResponse struct {
	Synced   []PushAccepted `json:"synced"`
	Rejected []PushRejected `json:"rejected"`
}

type ShiftSyncRequest struct {
	Shift Shift `json:"shift"`
}

type ShiftSyncResponse struct {
	Shift Shift `json:"shift"`
}

type PINVerifyRequest struct {
	StoreID string `json:"store_id"`
	PIN     string `json:"pin"`
	Action  string `json:"action"`
}

type PINVerifyResponse struct {
	SupervisorID   string    `json:"supervisor_id"`
	SupervisorName string    `json:"supervisor_name"`
	ApprovedAt     time.Time `json:"approved_at"`
}

type EODExecuteRequest struct {
	StoreID              string `json:"store_id"`
	OperationalDate      string `json:"operational_date"`
	ClosedBy             string `json:"closed_by"`
	ClientSyncStatus     string `json:"client_sync_status"`
	UnsyncedTransactions int    `json:"unsynced_transactions"`
	PendingCarts         int    `json:"pending_carts"`
}

type EODExecuteResponse struct {
	DayClose DayClose `json:"day_close"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	StoreID      string `json:"store_id,omitempty"`
	ExpiresAt    string `json:"expires_at"`
}

type StockSetRequest struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error    string    `json:"error"`
	Code     string    `json:"code,omitempty"`
	DayClose *DayClose `json:"day_close,omitempty"`
}
