// Package register is the cashier-facing side of the terminal: the active
// cart, held carts, sales and refunds.
package register

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/xid"
)

var (
	ErrValidation    = errors.New("invalid sale")
	ErrNoActiveShift = errors.New("no active shift")
	ErrDayClosed     = errors.New("operational day is closed")
	ErrEmptyCart     = errors.New("cart is empty")
	ErrAlreadyVoided = errors.New("transaction already refunded")
)

var paymentMethods = []string{
	domain.PaymentCash,
	domain.PaymentCard,
	domain.PaymentQRIS,
	domain.PaymentEWallet,
}

type SaleRequest struct {
	Items        []domain.LineItem
	Payments     []domain.Payment
	VoucherCodes []string
	Note         string
}

// Session records sales for one cashier at one store.
type Session struct {
	store     localstore.Store
	storeID   string
	cashierID string
	logger    *zap.Logger
	now       func() time.Time
}

func New(store localstore.Store, storeID string, cashierID string, logger *zap.Logger) *Session {
	return &Session{
		store:     store,
		storeID:   storeID,
		cashierID: cashierID,
		logger:    logger.Named("register").With(zap.String("cashier", cashierID)),
		now:       time.Now,
	}
}

func (s *Session) CashierID() string {
	return s.cashierID
}

func (s *Session) ActiveCart(ctx context.Context) (*domain.Cart, error) {
	return s.store.ActiveCart(ctx, s.storeID, s.cashierID)
}

// SaveActiveCart replaces the cashier's in-progress cart.
func (s *Session) SaveActiveCart(ctx context.Context, items []domain.LineItem, note string) (*domain.Cart, error) {
	for i, item := range items {
		if err := validateItem(item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrValidation, i+1, err)
		}
	}
	now := s.now().UTC()
	day, err := localstore.OpenDay(ctx, s.store, s.storeID, now)
	if err != nil {
		return nil, err
	}

	cart := domain.Cart{
		ID:              xid.New("cart"),
		StoreID:         s.storeID,
		CashierID:       s.cashierID,
		OperationalDate: day.OperationalDate,
		Items:           slices.Clone(items),
		Note:            strings.TrimSpace(note),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing, err := s.store.ActiveCart(ctx, s.storeID, s.cashierID); err == nil {
		cart.ID = existing.ID
		cart.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return nil, err
	}
	if err := s.store.SaveActiveCart(ctx, cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (s *Session) ClearActiveCart(ctx context.Context) error {
	return s.store.DeleteActiveCart(ctx, s.storeID, s.cashierID)
}

// HoldCart moves the active cart into the held list so another sale can
// start.
func (s *Session) HoldCart(ctx context.Context) (*domain.Cart, error) {
	cart, err := s.store.ActiveCart(ctx, s.storeID, s.cashierID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	held := *cart
	held.Status = domain.CartStatusHeld
	held.UpdatedAt = s.now().UTC()
	if err := s.store.PutPendingCart(ctx, held); err != nil {
		return nil, fmt.Errorf("hold cart: %w", err)
	}
	if err := s.store.DeleteActiveCart(ctx, s.storeID, s.cashierID); err != nil {
		return nil, err
	}
	s.logger.Info("cart held", zap.String("cart", held.ID))
	return &held, nil
}

// RecordSale validates and prices a sale and queues it for push. Nothing is
// written when validation fails.
func (s *Session) RecordSale(ctx context.Context, req SaleRequest) (*domain.Transaction, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrValidation)
	}
	if len(req.Payments) == 0 {
		return nil, fmt.Errorf("%w: no payments", ErrValidation)
	}

	shift, err := s.store.ActiveShift(ctx, s.storeID, s.cashierID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrNoActiveShift
	}
	if err != nil {
		return nil, err
	}
	day, err := s.store.CurrentDay(ctx, s.storeID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrDayClosed
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	items, subtotal, lineDiscounts, tax, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	vouchers, voucherTotal, err := s.applyVouchers(ctx, req.VoucherCodes, subtotal, now)
	if err != nil {
		return nil, err
	}
	total := money.Round(subtotal.Sub(voucherTotal).Add(tax))
	payments, err := settle(req.Payments, total)
	if err != nil {
		return nil, err
	}

	tx := domain.Transaction{
		ClientID:        xid.NewUUID(),
		StoreID:         s.storeID,
		CashierID:       s.cashierID,
		ShiftID:         shift.LocalID,
		OperationalDate: day.OperationalDate,
		Items:           items,
		Subtotal:        subtotal,
		Tax:             tax,
		Discount:        money.Round(lineDiscounts.Add(voucherTotal)),
		Total:           total,
		Payments:        payments,
		Vouchers:        vouchers,
		Status:          domain.TxStatusCompleted,
		SyncStatus:      domain.SyncPending,
		Note:            strings.TrimSpace(req.Note),
		CreatedAt:       now,
		EnqueuedAt:      now,
	}
	if err := s.store.PutTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("store sale: %w", err)
	}
	if err := s.store.DeleteActiveCart(ctx, s.storeID, s.cashierID); err != nil {
		s.logger.Warn("clear active cart", zap.Error(err))
	}
	s.logger.Info("sale recorded", zap.String("client_id", tx.ClientID), zap.String("total", money.Format(total)))
	return &tx, nil
}

// VoidSale records a refund of a completed sale as its own voided
// transaction. The original is never modified.
func (s *Session) VoidSale(ctx context.Context, clientID string, reason string) (*domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: void reason is required", ErrValidation)
	}
	original, err := s.store.GetTransaction(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !original.IsSale() {
		return nil, fmt.Errorf("%w: %s is not a sale", ErrValidation, clientID)
	}
	refunds, err := s.store.ListTransactions(ctx, localstore.TxFilter{StoreID: original.StoreID})
	if err != nil {
		return nil, err
	}
	for _, tx := range refunds {
		if tx.RefundOf == clientID {
			return nil, ErrAlreadyVoided
		}
	}

	shift, err := s.store.ActiveShift(ctx, s.storeID, s.cashierID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrNoActiveShift
	}
	if err != nil {
		return nil, err
	}
	day, err := s.store.CurrentDay(ctx, s.storeID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrDayClosed
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	payments := make([]domain.Payment, 0, len(original.Payments))
	for _, p := range original.Payments {
		payments = append(payments, domain.Payment{
			Method:    p.Method,
			Amount:    money.Round(p.Amount.Sub(p.Change)),
			Change:    decimal.Zero,
			Reference: p.Reference,
		})
	}
	refund := domain.Transaction{
		ClientID:        xid.NewUUID(),
		StoreID:         s.storeID,
		CashierID:       s.cashierID,
		ShiftID:         shift.LocalID,
		OperationalDate: day.OperationalDate,
		RefundOf:        original.ClientID,
		Items:           slices.Clone(original.Items),
		Subtotal:        original.Subtotal,
		Tax:             original.Tax,
		Discount:        original.Discount,
		Total:           original.Total,
		Payments:        payments,
		Vouchers:        slices.Clone(original.Vouchers),
		Status:          domain.TxStatusVoided,
		SyncStatus:      domain.SyncPending,
		Note:            reason,
		CreatedAt:       now,
		EnqueuedAt:      now,
	}
	if err := s.store.PutTransaction(ctx, refund); err != nil {
		return nil, fmt.Errorf("store refund: %w", err)
	}
	s.logger.Info("sale voided", zap.String("client_id", clientID), zap.String("refund", refund.ClientID))
	return &refund, nil
}

func validateItem(item domain.LineItem) error {
	switch {
	case strings.TrimSpace(item.ProductID) == "":
		return errors.New("product is required")
	case item.Quantity <= 0:
		return fmt.Errorf("quantity %d must be positive", item.Quantity)
	case item.UnitPrice.IsNegative():
		return fmt.Errorf("unit price %s is negative", item.UnitPrice)
	}
	for _, d := range item.Discounts {
		if d.Amount.IsNegative() {
			return fmt.Errorf("discount %s is negative", d.Code)
		}
	}
	return nil
}

// priceItems fills catalog details and computes line subtotals, the sale
// subtotal, line discounts and tax.
func (s *Session) priceItems(ctx context.Context, in []domain.LineItem) ([]domain.LineItem, decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	var (
		items     = make([]domain.LineItem, 0, len(in))
		subtotal  = decimal.Zero
		discounts = decimal.Zero
		tax       = decimal.Zero
	)
	for i, item := range in {
		if err := validateItem(item); err != nil {
			return nil, decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: item %d: %v", ErrValidation, i+1, err)
		}
		taxRate := decimal.Zero
		product, err := s.store.GetProduct(ctx, item.ProductID)
		switch {
		case err == nil:
			if item.SKU == "" {
				item.SKU = product.SKU
			}
			if item.Name == "" {
				item.Name = product.Name
			}
			if item.UnitPrice.IsZero() {
				item.UnitPrice = product.Price
			}
			taxRate = product.TaxRate
		case errors.Is(err, localstore.ErrNotFound):
		default:
			return nil, decimal.Zero, decimal.Zero, decimal.Zero, err
		}

		gross := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		lineDiscount := decimal.Zero
		for _, d := range item.Discounts {
			lineDiscount = lineDiscount.Add(d.Amount)
		}
		if lineDiscount.GreaterThan(gross) {
			return nil, decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: item %d: discount exceeds price", ErrValidation, i+1)
		}
		item.Discounts = slices.Clone(item.Discounts)
		item.Subtotal = money.Round(gross.Sub(lineDiscount))

		subtotal = subtotal.Add(item.Subtotal)
		discounts = discounts.Add(lineDiscount)
		tax = tax.Add(item.Subtotal.Mul(taxRate))
		items = append(items, item)
	}
	return items, money.Round(subtotal), money.Round(discounts), money.Round(tax), nil
}

// applyVouchers resolves voucher codes against the local discount catalog.
func (s *Session) applyVouchers(ctx context.Context, codes []string, subtotal decimal.Decimal, at time.Time) ([]domain.VoucherApplication, decimal.Decimal, error) {
	var (
		applied   []domain.VoucherApplication
		total     = decimal.Zero
		remaining = subtotal
	)
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		d, err := s.store.GetDiscountByCode(ctx, code)
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, decimal.Zero, fmt.Errorf("%w: unknown voucher %s", ErrValidation, code)
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !d.Active || (d.StartsAt != nil && at.Before(*d.StartsAt)) || (d.EndsAt != nil && !at.Before(*d.EndsAt)) {
			return nil, decimal.Zero, fmt.Errorf("%w: voucher %s is not active", ErrValidation, code)
		}
		if subtotal.LessThan(d.MinSubtotal) {
			return nil, decimal.Zero, fmt.Errorf("%w: voucher %s needs a subtotal of %s", ErrValidation, code, money.Format(d.MinSubtotal))
		}

		var amount decimal.Decimal
		switch d.Type {
		case domain.DiscountPercent:
			amount = money.Round(subtotal.Mul(d.Value).Div(decimal.NewFromInt(100)))
		case domain.DiscountFlat:
			amount = money.Round(d.Value)
		default:
			return nil, decimal.Zero, fmt.Errorf("%w: voucher %s has unknown type %q", ErrValidation, code, d.Type)
		}
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		remaining = remaining.Sub(amount)
		total = total.Add(amount)
		applied = append(applied, domain.VoucherApplication{Code: d.Code, Amount: amount})
	}
	return applied, total, nil
}

// settle checks that payments cover total and gives change on cash only.
func settle(in []domain.Payment, total decimal.Decimal) ([]domain.Payment, error) {
	payments := make([]domain.Payment, 0, len(in))
	paid := decimal.Zero
	lastCash := -1
	for i, p := range in {
		if !slices.Contains(paymentMethods, p.Method) {
			return nil, fmt.Errorf("%w: unsupported payment method %q", ErrValidation, p.Method)
		}
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: payment %d amount must be positive", ErrValidation, i+1)
		}
		p.Amount = money.Round(p.Amount)
		p.Change = decimal.Zero
		paid = paid.Add(p.Amount)
		if p.Method == domain.PaymentCash {
			lastCash = i
		}
		payments = append(payments, p)
	}
	if paid.LessThan(total) {
		return nil, fmt.Errorf("%w: paid %s of %s", ErrValidation, money.Format(paid), money.Format(total))
	}
	change := paid.Sub(total)
	if change.IsPositive() {
		if lastCash < 0 {
			return nil, fmt.Errorf("%w: non-cash payments exceed total by %s", ErrValidation, money.Format(change))
		}
		if change.GreaterThan(payments[lastCash].Amount) {
			return nil, fmt.Errorf("%w: change %s exceeds cash tendered", ErrValidation, money.Format(change))
		}
		payments[lastCash].Change = change
	}
	return payments, nil
}
