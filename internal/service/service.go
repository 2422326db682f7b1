package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/cache"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/eod"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrShiftConflict    = errors.New("cashier already has an active shift")
	ErrShiftNotFound    = errors.New("shift not found")
	ErrReasonRequired   = errors.New("variance reason required")
	ErrApprovalRequired = errors.New("supervisor approval required")
	ErrAlreadyClosed    = errors.New("operational day already closed")
)

// AlreadyClosedError carries the existing record of a closed day.
type AlreadyClosedError struct {
	DayClose domain.DayClose
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("operational day %s already closed", e.DayClose.OperationalDate)
}

func (e *AlreadyClosedError) Unwrap() error {
	return ErrAlreadyClosed
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultStoreID string
	SummaryTTL     time.Duration
	Policy         shift.VariancePolicy
}

type Service struct {
	repo           store.Repository
	summaries      cache.SummaryCache
	summaryTTL     time.Duration
	policy         shift.VariancePolicy
	defaultStoreID string
	logger         *zap.Logger
	now            func() time.Time
}

func New(repo store.Repository, summaries cache.SummaryCache, opts Options, logger *zap.Logger) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 30 * time.Second
	}
	if opts.Policy.ApprovalThreshold.IsZero() {
		opts.Policy = shift.DefaultVariancePolicy()
	}
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:           repo,
		summaries:      summaries,
		summaryTTL:     opts.SummaryTTL,
		policy:         opts.Policy,
		defaultStoreID: opts.DefaultStoreID,
		logger:         logger.Named("service"),
		now:            time.Now,
	}
}

// Pull returns the reference-data changes after req.Since. The watermark is
// taken before reading so a change racing the read is sent again next time.
func (s *Service) Pull(ctx context.Context, req domain.PullRequest) (domain.PullResponse, error) {
	storeID := s.storeID(ctx, req.StoreID)
	collections := req.Collections
	if len(collections) == 0 {
		collections = domain.AllCollections
	}
	for _, c := range collections {
		if !slices.Contains(domain.AllCollections, c) {
			return domain.PullResponse{}, fmt.Errorf("%w: unknown collection %q", store.ErrInvalidTransaction, c)
		}
	}

	resp := domain.PullResponse{
		Categories:        emptyDelta[domain.Category](),
		Products:          emptyDelta[domain.Product](),
		Stock:             emptyDelta[domain.StockLevel](),
		Discounts:         emptyDelta[domain.Discount](),
		LastSyncTimestamp: s.now().UTC(),
	}
	var err error
	for _, c := range collections {
		switch c {
		case domain.CollectionCategories:
			resp.Categories, err = s.repo.CategoryChanges(ctx, req.Since)
		case domain.CollectionProducts:
			resp.Products, err = s.repo.ProductChanges(ctx, req.Since)
		case domain.CollectionStock:
			resp.Stock, err = s.repo.StockChanges(ctx, storeID, req.Since)
		case domain.CollectionDiscounts:
			resp.Discounts, err = s.repo.DiscountChanges(ctx, req.Since)
		}
		if err != nil {
			return domain.PullResponse{}, fmt.Errorf("pull %s: %w", c, err)
		}
	}
	return resp, nil
}

func emptyDelta[T any]() domain.Delta[T] {
	return domain.Delta[T]{Created: []T{}, Updated: []T{}, Deleted: []string{}}
}

// Push records each transaction independently. A client id already stored
// is answered with its original server identity.
func (s *Service) Push(ctx context.Context, req domain.PushRequest) (domain.PushResponse, error) {
	resp := domain.PushResponse{
		Synced:   make([]domain.PushAccepted, 0, len(req.Transactions)),
		Rejected: make([]domain.PushRejected, 0),
	}
	touched := map[string]struct{}{}
	defer func() {
		for key := range touched {
			storeID, date, _ := strings.Cut(key, "|")
			s.invalidateSummary(ctx, storeID, date)
		}
	}()

	for _, tx := range req.Transactions {
		if tx.StoreID == "" {
			tx.StoreID = s.storeID(ctx, req.StoreID)
		}

		existing, err := s.repo.FindTransactionByClientID(ctx, tx.ClientID)
		if err == nil {
			resp.Synced = append(resp.Synced, accepted(existing))
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.PushResponse{}, err
		}

		closed, rejection, err := s.admit(ctx, tx)
		if err != nil {
			return domain.PushResponse{}, err
		}
		if rejection != nil {
			resp.Rejected = append(resp.Rejected, *rejection)
			s.logger.Info("transaction rejected",
				zap.String("client_id", tx.ClientID),
				zap.String("reason", rejection.Reason),
			)
			continue
		}

		if tx.Status == domain.TxStatusPendingSync {
			tx.Status = domain.TxStatusCompleted
		}
		tx.Rejection = nil
		tx.SyncedAt = nil
		saved, err := s.repo.RecordTransaction(ctx, tx)
		var shortfall *store.StockShortfallError
		switch {
		case errors.As(err, &shortfall):
			resp.Rejected = append(resp.Rejected, domain.PushRejected{
				ClientID:    tx.ClientID,
				Reason:      domain.CodeInsufficientStock,
				Message:     shortfall.Error(),
				StockIssues: shortfall.Issues,
			})
			continue
		case errors.Is(err, store.ErrInvalidTransaction):
			resp.Rejected = append(resp.Rejected, domain.PushRejected{ClientID: tx.ClientID, Reason: domain.CodeInvalidTransaction, Message: err.Error()})
			continue
		case errors.Is(err, store.ErrConflict):
			// A concurrent push stored the same client id first.
			if existing, findErr := s.repo.FindTransactionByClientID(ctx, tx.ClientID); findErr == nil {
				resp.Synced = append(resp.Synced, accepted(existing))
				continue
			}
			// Left out of the response, so the terminal keeps it pending.
			s.logger.Warn("transaction write conflict", zap.String("client_id", tx.ClientID), zap.Error(err))
			continue
		case err != nil:
			return domain.PushResponse{}, fmt.Errorf("record transaction %s: %w", tx.ClientID, err)
		}

		resp.Synced = append(resp.Synced, accepted(saved))
		touched[saved.StoreID+"|"+saved.OperationalDate] = struct{}{}
		s.logAudit(ctx, saved.StoreID, "transaction_push", "transaction", saved.ClientID,
			fmt.Sprintf("number=%s,status=%s,total=%s,device=%s", saved.TransactionNumber, saved.Status, money.Format(saved.Total), req.DeviceID))
		if closed != nil {
			s.attachLate(ctx, *closed, saved.ClientID)
		}
	}
	return resp, nil
}

func accepted(tx *domain.Transaction) domain.PushAccepted {
	out := domain.PushAccepted{ClientID: tx.ClientID, ServerID: tx.ServerID, TransactionNumber: tx.TransactionNumber}
	if tx.SyncedAt != nil {
		out.SyncedAt = *tx.SyncedAt
	}
	return out
}

// admit runs the business checks a pushed transaction must pass before it
// touches stock. A transaction made before its day was closed is admitted
// late; the day-close record is returned so the caller can count it.
func (s *Service) admit(ctx context.Context, tx domain.Transaction) (*domain.DayClose, *domain.PushRejected, error) {
	reject := func(code string, msg string) (*domain.DayClose, *domain.PushRejected, error) {
		return nil, &domain.PushRejected{ClientID: tx.ClientID, Reason: code, Message: msg}, nil
	}
	if err := validateTransaction(tx); err != nil {
		return reject(domain.CodeInvalidTransaction, err.Error())
	}

	closed, err := s.repo.GetDayClose(ctx, tx.StoreID, tx.OperationalDate)
	switch {
	case err == nil:
		if tx.CreatedAt.IsZero() || tx.CreatedAt.After(closed.ClosedAt) {
			return reject(domain.CodeDayClosed, fmt.Sprintf("operational day %s is closed", tx.OperationalDate))
		}
	case errors.Is(err, store.ErrNotFound):
		closed = nil
	default:
		return nil, nil, fmt.Errorf("load day close %s: %w", tx.OperationalDate, err)
	}

	ids := make([]string, 0, len(tx.Items))
	for _, item := range tx.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return reject(domain.CodeInvalidTransaction, "product lookup failed")
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return reject(domain.CodeUnknownProduct, fmt.Sprintf("unknown product %s", id))
		}
	}

	if tx.RefundOf != "" {
		original, err := s.repo.FindTransactionByClientID(ctx, tx.RefundOf)
		if err != nil {
			return reject(domain.CodeInvalidTransaction, fmt.Sprintf("refunded sale %s is not synced", tx.RefundOf))
		}
		if !original.IsSale() {
			return reject(domain.CodeInvalidTransaction, fmt.Sprintf("%s is not a sale", tx.RefundOf))
		}
		stored, err := s.repo.ListTransactions(ctx, original.StoreID, "")
		if err != nil {
			return reject(domain.CodeInvalidTransaction, "refund lookup failed")
		}
		for _, other := range stored {
			if other.RefundOf == tx.RefundOf {
				return reject(domain.CodeInvalidTransaction, fmt.Sprintf("%s is already refunded", tx.RefundOf))
			}
		}
	}
	return closed, nil, nil
}

// attachLate counts a late transaction against its closed day.
func (s *Service) attachLate(ctx context.Context, closed domain.DayClose, clientID string) {
	record, err := s.repo.AttachLateTransaction(ctx, closed.StoreID, closed.OperationalDate)
	if err != nil {
		s.logger.Warn("attach late transaction failed",
			zap.String("client_id", clientID),
			zap.String("date", closed.OperationalDate),
			zap.Error(err),
		)
		return
	}
	s.logAudit(ctx, record.StoreID, "day_close_late_sync", "day_close", record.ID,
		fmt.Sprintf("client_id=%s,late=%d,sync=%s", clientID, record.LateTransactions, record.SyncStatus))
}

func validateTransaction(tx domain.Transaction) error {
	if strings.TrimSpace(tx.ClientID) == "" {
		return errors.New("client_id is required")
	}
	if _, err := time.Parse(domain.DateLayout, tx.OperationalDate); err != nil {
		return fmt.Errorf("operational_date %q is invalid", tx.OperationalDate)
	}
	if len(tx.Items) == 0 {
		return errors.New("transaction has no items")
	}
	for _, item := range tx.Items {
		if item.ProductID == "" || item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return fmt.Errorf("invalid line item %q", item.ProductID)
		}
	}
	if tx.Total.IsNegative() || tx.Subtotal.IsNegative() || tx.Discount.IsNegative() || tx.Tax.IsNegative() {
		return errors.New("amounts must not be negative")
	}

	switch tx.Status {
	case domain.TxStatusCompleted, domain.TxStatusPendingSync:
		if tx.RefundOf != "" {
			return errors.New("a sale cannot reference a refunded sale")
		}
	case domain.TxStatusVoided:
		if tx.RefundOf == "" {
			return errors.New("refund_of is required for a refund")
		}
	default:
		return fmt.Errorf("unsupported status %q", tx.Status)
	}

	paid := decimal.Zero
	for _, p := range tx.Payments {
		if !isSupportedPaymentMethod(p.Method) || p.Amount.IsNegative() || p.Change.IsNegative() {
			return fmt.Errorf("invalid payment %q", p.Method)
		}
		if p.Method != domain.PaymentCash && p.Change.IsPositive() {
			return fmt.Errorf("change is only given on cash payments")
		}
		paid = paid.Add(p.Amount.Sub(p.Change))
	}
	if money.Round(paid).LessThan(money.Round(tx.Total)) {
		return fmt.Errorf("payments %s do not cover total %s", money.Format(paid), money.Format(tx.Total))
	}
	return nil
}

// OpenShift mirrors a terminal shift. Re-sending the same shift returns the
// stored record.
func (s *Service) OpenShift(ctx context.Context, in domain.Shift) (domain.Shift, error) {
	if strings.TrimSpace(in.LocalID) == "" || strings.TrimSpace(in.CashierID) == "" {
		return domain.Shift{}, fmt.Errorf("%w: local_id and cashier_id are required", store.ErrInvalidTransaction)
	}
	if in.OpeningFloat.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: opening float must not be negative", store.ErrInvalidTransaction)
	}
	in.StoreID = s.storeID(ctx, in.StoreID)

	if existing, err := s.repo.GetShift(ctx, in.LocalID); err == nil {
		if existing.StoreID != in.StoreID || existing.CashierID != in.CashierID {
			return domain.Shift{}, ErrShiftConflict
		}
		return *existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Shift{}, err
	}

	in.Status = domain.ShiftStatusActive
	in.EndingCash = decimal.NullDecimal{}
	in.Variance = decimal.NullDecimal{}
	in.ClosedAt = nil
	in.Approval = nil
	if in.OpenedAt.IsZero() {
		in.OpenedAt = s.now().UTC()
	}
	if in.OperationalDate == "" {
		in.OperationalDate = in.OpenedAt.Format(domain.DateLayout)
	}

	saved, err := s.repo.CreateShift(ctx, in)
	if errors.Is(err, store.ErrConflict) {
		return domain.Shift{}, ErrShiftConflict
	}
	if err != nil {
		return domain.Shift{}, err
	}
	s.invalidateSummary(ctx, saved.StoreID, saved.OperationalDate)
	s.logAudit(ctx, saved.StoreID, "shift_open", "shift", saved.LocalID,
		fmt.Sprintf("cashier=%s,float=%s", saved.CashierID, money.Format(saved.OpeningFloat)))
	return *saved, nil
}

// CloseShift applies a terminal close. The variance is recomputed from the
// stored opening float and the tier rules are enforced again.
func (s *Service) CloseShift(ctx context.Context, in domain.Shift) (domain.Shift, error) {
	existing, err := s.repo.GetShift(ctx, in.LocalID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Shift{}, ErrShiftNotFound
	}
	if err != nil {
		return domain.Shift{}, err
	}
	if existing.Status == domain.ShiftStatusClosed {
		return *existing, nil
	}
	if !in.EndingCash.Valid || in.EndingCash.Decimal.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: ending cash is required", store.ErrInvalidTransaction)
	}

	variance := money.Variance(in.EndingCash.Decimal, existing.OpeningFloat)
	reason := strings.TrimSpace(in.VarianceReason)
	switch s.policy.Classify(variance) {
	case shift.TierReason:
		if reason == "" {
			return domain.Shift{}, fmt.Errorf("%w: variance %s", ErrReasonRequired, money.Format(variance))
		}
	case shift.TierApproval:
		if in.Approval == nil || strings.TrimSpace(in.Approval.SupervisorID) == "" || in.Approval.ApprovedAt.IsZero() {
			return domain.Shift{}, fmt.Errorf("%w: variance %s", ErrApprovalRequired, money.Format(variance))
		}
	}

	closedAt := s.now().UTC()
	if in.ClosedAt != nil {
		closedAt = in.ClosedAt.UTC()
	}
	closed := *existing
	closed.Status = domain.ShiftStatusClosed
	closed.EndingCash = decimal.NewNullDecimal(money.Round(in.EndingCash.Decimal))
	closed.Variance = decimal.NewNullDecimal(variance)
	closed.VarianceReason = reason
	closed.ClosingNote = strings.TrimSpace(in.ClosingNote)
	closed.Approval = in.Approval
	closed.ClosedAt = &closedAt

	saved, err := s.repo.UpdateShift(ctx, closed)
	if err != nil {
		return domain.Shift{}, err
	}
	s.invalidateSummary(ctx, saved.StoreID, saved.OperationalDate)
	detail := fmt.Sprintf("cashier=%s,ending=%s,variance=%s", saved.CashierID, money.Format(closed.EndingCash.Decimal), money.Format(variance))
	if saved.Approval != nil {
		detail += ",approved_by=" + saved.Approval.SupervisorID
	}
	s.logAudit(ctx, saved.StoreID, "shift_close", "shift", saved.LocalID, detail)
	return *saved, nil
}

// RecordPINCheck writes the audit entry of a supervisor PIN verification.
func (s *Service) RecordPINCheck(ctx context.Context, storeID string, action string, supervisorID string, ok bool) {
	detail := fmt.Sprintf("action=%s,ok=%t", defaultString(action, "unspecified"), ok)
	s.logAudit(ctx, s.storeID(ctx, storeID), "pin_verify", "supervisor", defaultString(supervisorID, "-"), detail)
}

// PreEODSummary aggregates the server's view of an operational day. Results
// are cached per store and date until a push, shift change or close.
func (s *Service) PreEODSummary(ctx context.Context, storeID string, date string) (domain.PreEODSummary, error) {
	storeID = s.storeID(ctx, storeID)
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return domain.PreEODSummary{}, fmt.Errorf("%w: date %q is invalid", store.ErrInvalidTransaction, date)
	}

	if cached, ok, err := s.summaries.Get(ctx, storeID, date); err != nil {
		s.logger.Warn("summary cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	summary, err := s.aggregate(ctx, storeID, date)
	if err != nil {
		return domain.PreEODSummary{}, err
	}
	if err := s.summaries.Set(ctx, summary, s.summaryTTL); err != nil {
		s.logger.Warn("summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

func (s *Service) aggregate(ctx context.Context, storeID string, date string) (domain.PreEODSummary, error) {
	txs, err := s.repo.ListTransactions(ctx, storeID, date)
	if err != nil {
		return domain.PreEODSummary{}, fmt.Errorf("list transactions: %w", err)
	}
	shifts, err := s.repo.ListShifts(ctx, storeID, date)
	if err != nil {
		return domain.PreEODSummary{}, fmt.Errorf("list shifts: %w", err)
	}
	return eod.Aggregate(storeID, date, txs, shifts, 0, s.now()), nil
}

// ExecuteEOD writes the day-close record once. A repeat returns
// *AlreadyClosedError holding the stored record.
func (s *Service) ExecuteEOD(ctx context.Context, req domain.EODExecuteRequest) (domain.DayClose, error) {
	storeID := s.storeID(ctx, req.StoreID)
	if _, err := time.Parse(domain.DateLayout, req.OperationalDate); err != nil {
		return domain.DayClose{}, fmt.Errorf("%w: operational_date %q is invalid", store.ErrInvalidTransaction, req.OperationalDate)
	}
	if req.UnsyncedTransactions < 0 || req.PendingCarts < 0 {
		return domain.DayClose{}, fmt.Errorf("%w: counts must not be negative", store.ErrInvalidTransaction)
	}

	if existing, err := s.repo.GetDayClose(ctx, storeID, req.OperationalDate); err == nil {
		return domain.DayClose{}, &AlreadyClosedError{DayClose: *existing}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.DayClose{}, err
	}

	summary, err := s.aggregate(ctx, storeID, req.OperationalDate)
	if err != nil {
		return domain.DayClose{}, err
	}
	summary.UnsyncedTransactions = req.UnsyncedTransactions
	summary.PendingCarts = req.PendingCarts

	syncStatus := domain.DayCloseClean
	if req.ClientSyncStatus == domain.DayClosePendingSync || req.UnsyncedTransactions > 0 {
		syncStatus = domain.DayClosePendingSync
	}
	closedBy := strings.TrimSpace(req.ClosedBy)
	if closedBy == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			closedBy = actor.Username
		}
	}

	record := domain.DayClose{
		ID:              xid.New("eod"),
		StoreID:         storeID,
		OperationalDate: req.OperationalDate,
		Summary:         summary,
		ClosedBy:        closedBy,
		ClosedAt:        s.now().UTC(),
		SyncStatus:      syncStatus,
	}
	if err := s.repo.CreateDayClose(ctx, record); err != nil {
		if errors.Is(err, store.ErrConflict) {
			existing, getErr := s.repo.GetDayClose(ctx, storeID, req.OperationalDate)
			if getErr != nil {
				return domain.DayClose{}, getErr
			}
			return domain.DayClose{}, &AlreadyClosedError{DayClose: *existing}
		}
		return domain.DayClose{}, err
	}

	s.invalidateSummary(ctx, storeID, req.OperationalDate)
	s.logAudit(ctx, storeID, "eod_execute", "day_close", record.ID,
		fmt.Sprintf("date=%s,sync=%s,unsynced=%d,pending_carts=%d", record.OperationalDate, syncStatus, req.UnsyncedTransactions, req.PendingCarts))
	return record, nil
}

func (s *Service) GetDayClose(ctx context.Context, storeID string, date string) (domain.DayClose, error) {
	record, err := s.repo.GetDayClose(ctx, s.storeID(ctx, storeID), date)
	if err != nil {
		return domain.DayClose{}, err
	}
	return *record, nil
}

func (s *Service) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	product.Name = strings.TrimSpace(product.Name)
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Name == "" || product.Price.IsNegative() || product.TaxRate.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if err := s.repo.UpsertProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, s.defaultStoreID, "product_upsert", "product", product.ID,
		fmt.Sprintf("name=%s,price=%s", product.Name, money.Format(product.Price)))
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, strings.TrimSpace(id), s.now().UTC()); err != nil {
		return err
	}
	s.logAudit(ctx, s.defaultStoreID, "product_delete", "product", id, "deleted")
	return nil
}

func (s *Service) UpsertCategory(ctx context.Context, category domain.Category) (domain.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if err := s.repo.UpsertCategory(ctx, category); err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, s.defaultStoreID, "category_upsert", "category", category.ID, "name="+category.Name)
	return category, nil
}

func (s *Service) UpsertDiscount(ctx context.Context, discount domain.Discount) (domain.Discount, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Discount{}, err
	}
	if discount.ID == "" {
		discount.ID = xid.New("dsc")
	}
	if discount.Type != domain.DiscountPercent && discount.Type != domain.DiscountFlat {
		return domain.Discount{}, store.ErrInvalidTransaction
	}
	if discount.Value.IsNegative() || (discount.Type == domain.DiscountPercent && discount.Value.GreaterThan(decimal.NewFromInt(100))) {
		return domain.Discount{}, store.ErrInvalidTransaction
	}
	if err := s.repo.UpsertDiscount(ctx, discount); err != nil {
		return domain.Discount{}, err
	}
	s.logAudit(ctx, s.defaultStoreID, "discount_upsert", "discount", discount.ID,
		fmt.Sprintf("code=%s,type=%s,value=%s", discount.Code, discount.Type, discount.Value))
	return discount, nil
}

func (s *Service) SetStock(ctx context.Context, req domain.StockSetRequest) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	storeID := s.storeID(ctx, req.StoreID)
	if err := s.repo.SetStock(ctx, storeID, req.ProductID, req.Quantity); err != nil {
		return err
	}
	s.logAudit(ctx, storeID, "stock_set", "product", req.ProductID, fmt.Sprintf("qty=%d", req.Quantity))
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	storeID = s.storeID(ctx, storeID)
	if date == "" {
		date = s.now().UTC().Format(domain.DateLayout)
	}
	from, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is invalid", store.ErrInvalidTransaction, date)
	}
	return s.repo.ListAuditLogs(ctx, storeID, from, from.Add(24*time.Hour), limit)
}

func (s *Service) invalidateSummary(ctx context.Context, storeID string, date string) {
	if err := s.summaries.Invalidate(ctx, storeID, date); err != nil {
		s.logger.Warn("summary cache invalidate failed",
			zap.String("store", storeID),
			zap.String("date", date),
			zap.Error(err),
		)
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

// storeID resolves an empty store to the actor's store, then the default.
func (s *Service) storeID(ctx context.Context, storeID string) string {
	if storeID = strings.TrimSpace(storeID); storeID != "" {
		return storeID
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.StoreID != "" {
		return actor.StoreID
	}
	return s.defaultStoreID
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentQRIS, domain.PaymentEWallet:
		return true
	default:
		return false
	}
}
