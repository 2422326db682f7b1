// Package eod closes operational days: it summarises the day, parks open
// carts, asks the server for the day-close record and keeps it locally.
package eod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/remote"
	"kasirinaja/pos/internal/syncer"
)

var (
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrCommitFailed         = errors.New("end of day commit failed")
	ErrDayNotOpen           = errors.New("operational day is not open")
	ErrCartVoided           = errors.New("cart was voided")
	ErrCartNotHeld          = errors.New("cart is no longer held")
	ErrActiveCartExists     = errors.New("cashier already has an active cart")
)

type Remote interface {
	PreEODSummary(ctx context.Context, storeID string, date string) remote.Result[domain.PreEODSummary]
	ExecuteEOD(ctx context.Context, req domain.EODExecuteRequest) remote.Result[domain.DayClose]
}

// Pusher flushes pending transactions before the day is closed.
type Pusher interface {
	Push(ctx context.Context) (syncer.PushReport, error)
}

type ExecuteRequest struct {
	ClosedBy string
	// OperationalDate defaults to the current open day.
	OperationalDate string
	Confirmed       bool
}

type Coordinator struct {
	store     localstore.Store
	api       Remote
	pusher    Pusher
	refresher remote.Refresher
	storeID   string
	logger    *zap.Logger
	now       func() time.Time
}

func New(store localstore.Store, api Remote, pusher Pusher, refresher remote.Refresher, storeID string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		api:       api,
		pusher:    pusher,
		refresher: refresher,
		storeID:   storeID,
		logger:    logger.Named("eod"),
		now:       time.Now,
	}
}

// CurrentDay returns the open operational day of the store.
func (c *Coordinator) CurrentDay(ctx context.Context) (*domain.DayState, error) {
	return localstore.OpenDay(ctx, c.store, c.storeID, c.now().UTC())
}

// PreSummary aggregates the current day from the local store. It never
// writes anything.
func (c *Coordinator) PreSummary(ctx context.Context) (domain.PreEODSummary, error) {
	day, err := c.store.CurrentDay(ctx, c.storeID)
	if errors.Is(err, localstore.ErrNotFound) {
		date := c.now().UTC().Format(domain.DateLayout)
		return c.summarize(ctx, date)
	}
	if err != nil {
		return domain.PreEODSummary{}, err
	}
	return c.summarize(ctx, day.OperationalDate)
}

func (c *Coordinator) summarize(ctx context.Context, date string) (domain.PreEODSummary, error) {
	txs, err := c.store.ListTransactions(ctx, localstore.TxFilter{StoreID: c.storeID, OperationalDate: date})
	if err != nil {
		return domain.PreEODSummary{}, fmt.Errorf("list transactions: %w", err)
	}
	shifts, err := c.store.ListShifts(ctx, localstore.ShiftFilter{StoreID: c.storeID, OperationalDate: date})
	if err != nil {
		return domain.PreEODSummary{}, fmt.Errorf("list shifts: %w", err)
	}
	carts, err := c.countCarts(ctx)
	if err != nil {
		return domain.PreEODSummary{}, err
	}
	return Aggregate(c.storeID, date, txs, shifts, carts, c.now()), nil
}

// countCarts counts held carts plus active carts that would be parked.
func (c *Coordinator) countCarts(ctx context.Context) (int, error) {
	held, err := c.store.ListPendingCarts(ctx, c.storeID, domain.CartStatusHeld)
	if err != nil {
		return 0, fmt.Errorf("list pending carts: %w", err)
	}
	active, err := c.store.ListActiveCarts(ctx, c.storeID)
	if err != nil {
		return 0, fmt.Errorf("list active carts: %w", err)
	}
	n := len(held)
	for _, cart := range active {
		if len(cart.Items) > 0 {
			n++
		}
	}
	return n, nil
}

// ServerPreSummary fetches the server's view of the current day.
func (c *Coordinator) ServerPreSummary(ctx context.Context) (domain.PreEODSummary, error) {
	day, err := c.CurrentDay(ctx)
	if err != nil {
		return domain.PreEODSummary{}, err
	}
	res, err := remote.CallWithRefresh(ctx, c.refresher, func(ctx context.Context) remote.Result[domain.PreEODSummary] {
		return c.api.PreEODSummary(ctx, c.storeID, day.OperationalDate)
	})
	if err != nil {
		return domain.PreEODSummary{}, err
	}
	if !res.OK() {
		return domain.PreEODSummary{}, fmt.Errorf("server summary: %s", res.Error())
	}
	return res.Value, nil
}

// Execute closes the operational day. It is the only path that creates a
// day-close record. If the server cannot be reached the day stays OPEN and
// ErrCommitFailed is returned; parked carts remain restorable either way.
func (c *Coordinator) Execute(ctx context.Context, req ExecuteRequest) (*domain.DayClose, error) {
	if !req.Confirmed {
		return nil, ErrConfirmationRequired
	}

	date := req.OperationalDate
	if date != "" {
		if existing, err := c.store.GetDayClose(ctx, c.storeID, date); err == nil {
			return existing, nil
		} else if !errors.Is(err, localstore.ErrNotFound) {
			return nil, err
		}
	}
	day, err := c.CurrentDay(ctx)
	if err != nil {
		return nil, fmt.Errorf("operational day: %w", err)
	}
	if date == "" {
		date = day.OperationalDate
	}
	if date != day.OperationalDate {
		return nil, fmt.Errorf("%w: %s (open day is %s)", ErrDayNotOpen, date, day.OperationalDate)
	}

	parked, err := c.store.ParkActiveCarts(ctx, c.storeID, c.now())
	if err != nil {
		return nil, fmt.Errorf("park active carts: %w", err)
	}
	if len(parked) > 0 {
		c.logger.Info("active carts parked", zap.Int("count", len(parked)))
	}

	if c.pusher != nil {
		report, err := c.pusher.Push(ctx)
		switch {
		case err != nil:
			c.logger.Warn("pre-close push failed", zap.Error(err))
		case report.NetworkError != "":
			c.logger.Info("pre-close push offline", zap.String("error", report.NetworkError))
		}
	}

	summary, err := c.summarize(ctx, date)
	if err != nil {
		return nil, err
	}
	pendingOps, err := c.store.ListShiftOps(ctx, domain.SyncPending, domain.SyncFailed)
	if err != nil {
		return nil, fmt.Errorf("list shift ops: %w", err)
	}
	syncStatus := domain.DayCloseClean
	if summary.UnsyncedTransactions > 0 || len(pendingOps) > 0 {
		syncStatus = domain.DayClosePendingSync
	}

	execReq := domain.EODExecuteRequest{
		StoreID:              c.storeID,
		OperationalDate:      date,
		ClosedBy:             req.ClosedBy,
		ClientSyncStatus:     syncStatus,
		UnsyncedTransactions: summary.UnsyncedTransactions,
		PendingCarts:         summary.PendingCarts,
	}
	res, err := remote.CallWithRefresh(ctx, c.refresher, func(ctx context.Context) remote.Result[domain.DayClose] {
		return c.api.ExecuteEOD(ctx, execReq)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	var record domain.DayClose
	switch {
	case res.Kind == remote.Accepted:
		record = res.Value
	case res.Kind == remote.Rejected && res.Code == domain.CodeAlreadyClosed && res.Value.ID != "":
		c.logger.Info("day already closed on server, adopting record", zap.String("date", date))
		record = res.Value
	default:
		c.logger.Warn("end of day not committed", zap.String("date", date), zap.String("outcome", res.Error()))
		return nil, fmt.Errorf("%w: %s", ErrCommitFailed, res.Error())
	}
	if record.StoreID == "" {
		record.StoreID = c.storeID
	}
	if record.OperationalDate == "" {
		record.OperationalDate = date
	}

	next, err := NextDate(date)
	if err != nil {
		return nil, err
	}
	if err := c.store.CommitDayClose(ctx, record, next); err != nil {
		if errors.Is(err, localstore.ErrConflict) {
			return c.store.GetDayClose(ctx, c.storeID, date)
		}
		return nil, fmt.Errorf("record day close: %w", err)
	}
	c.logger.Info("operational day closed",
		zap.String("date", date),
		zap.String("record", record.ID),
		zap.String("sync_status", record.SyncStatus),
	)
	return &record, nil
}

// DayClose returns the stored day-close record of date.
func (c *Coordinator) DayClose(ctx context.Context, date string) (*domain.DayClose, error) {
	return c.store.GetDayClose(ctx, c.storeID, date)
}

func (c *Coordinator) PendingCarts(ctx context.Context) ([]domain.Cart, error) {
	return c.store.ListPendingCarts(ctx, c.storeID, domain.CartStatusHeld)
}

// RestoreCart makes a held cart the active cart of its cashier again.
func (c *Coordinator) RestoreCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart, err := c.store.GetPendingCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	switch cart.Status {
	case domain.CartStatusVoided:
		return nil, ErrCartVoided
	case domain.CartStatusHeld:
	default:
		return nil, ErrCartNotHeld
	}

	if active, err := c.store.ActiveCart(ctx, cart.StoreID, cart.CashierID); err == nil && len(active.Items) > 0 {
		return nil, ErrActiveCartExists
	} else if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return nil, err
	}

	day, err := c.CurrentDay(ctx)
	if err != nil {
		return nil, fmt.Errorf("operational day: %w", err)
	}
	now := c.now().UTC()
	restored := *cart
	restored.Status = ""
	restored.OperationalDate = day.OperationalDate
	restored.UpdatedAt = now
	if err := c.store.SaveActiveCart(ctx, restored); err != nil {
		return nil, fmt.Errorf("save active cart: %w", err)
	}
	if err := c.store.SetPendingCartStatus(ctx, cartID, domain.CartStatusRestored, now); err != nil {
		return nil, fmt.Errorf("mark cart restored: %w", err)
	}
	c.logger.Info("cart restored", zap.String("cart", cartID), zap.String("cashier", cart.CashierID))
	return &restored, nil
}

// VoidCart discards a held cart for good.
func (c *Coordinator) VoidCart(ctx context.Context, cartID string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	cart, err := c.store.GetPendingCart(ctx, cartID)
	if err != nil {
		return err
	}
	if cart.Status == domain.CartStatusVoided {
		return ErrCartVoided
	}
	if err := c.store.SetPendingCartStatus(ctx, cartID, domain.CartStatusVoided, c.now()); err != nil {
		if errors.Is(err, localstore.ErrIllegalTransition) {
			return ErrCartNotHeld
		}
		return err
	}
	c.logger.Info("cart voided", zap.String("cart", cartID))
	return nil
}

// NextDate returns the operational date following date.
func NextDate(date string) (string, error) {
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parse operational date %q: %w", date, err)
	}
	return d.AddDate(0, 0, 1).Format(domain.DateLayout), nil
}

// PreviousDate returns the operational date before date.
func PreviousDate(date string) (string, error) {
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parse operational date %q: %w", date, err)
	}
	return d.AddDate(0, 0, -1).Format(domain.DateLayout), nil
}
