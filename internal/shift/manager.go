// Package shift runs the cashier shift lifecycle: open with a float, close
// with counted cash, and escalate large variances to a supervisor.
package shift

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/remote"
	"kasirinaja/pos/internal/xid"
)

// ActionShiftClose is the PIN verification action for approving a close.
const ActionShiftClose = "shift.close"

var (
	ErrShiftAlreadyActive         = errors.New("shift already active")
	ErrNoActiveShift              = errors.New("no active shift")
	ErrInvalidAmount              = money.ErrInvalidAmount
	ErrVarianceReasonRequired     = errors.New("variance reason required")
	ErrSupervisorApprovalRequired = errors.New("supervisor approval required")
	ErrInvalidPINFormat           = errors.New("supervisor pin must be 4 digits")
	ErrInvalidSupervisorPIN       = errors.New("invalid supervisor pin")
	ErrPINServiceUnavailable      = errors.New("pin verification unavailable")
)

// Remote mirrors shift transitions to the server.
type Remote interface {
	OpenShift(ctx context.Context, shift domain.Shift) remote.Result[domain.Shift]
	CloseShift(ctx context.Context, shift domain.Shift) remote.Result[domain.Shift]
}

type PINVerifier interface {
	VerifyPIN(ctx context.Context, req domain.PINVerifyRequest) remote.Result[domain.PINVerifyResponse]
}

type OpenRequest struct {
	StoreID   string
	CashierID string
	Float     decimal.Decimal
	Note      string
}

type CloseRequest struct {
	StoreID        string
	CashierID      string
	EndingCash     decimal.Decimal
	Note           string
	VarianceReason string
	SupervisorPIN  string
}

type ClosePreview struct {
	Shift      domain.Shift    `json:"shift"`
	Expected   decimal.Decimal `json:"expected"`
	EndingCash decimal.Decimal `json:"ending_cash"`
	Variance   decimal.Decimal `json:"variance"`
	Tier       string          `json:"tier"`
}

type Manager struct {
	store     localstore.Store
	api       Remote
	pins      PINVerifier
	refresher remote.Refresher
	policy    VariancePolicy
	logger    *zap.Logger
	now       func() time.Time
}

func New(store localstore.Store, api Remote, pins PINVerifier, refresher remote.Refresher, policy VariancePolicy, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		api:       api,
		pins:      pins,
		refresher: refresher,
		policy:    policy,
		logger:    logger.Named("shift"),
		now:       time.Now,
	}
}

func (m *Manager) Policy() VariancePolicy {
	return m.policy
}

func (m *Manager) ActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	shift, err := m.store.ActiveShift(ctx, storeID, cashierID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrNoActiveShift
	}
	return shift, err
}

// OpenShift starts a shift for the cashier. The shift is stored locally
// first; the server is told right away when reachable and otherwise later
// through the shift outbox.
func (m *Manager) OpenShift(ctx context.Context, req OpenRequest) (*domain.Shift, error) {
	if strings.TrimSpace(req.StoreID) == "" || strings.TrimSpace(req.CashierID) == "" {
		return nil, fmt.Errorf("store and cashier are required")
	}
	if req.Float.IsNegative() {
		return nil, fmt.Errorf("%w: opening float %s", ErrInvalidAmount, req.Float)
	}

	if _, err := m.store.ActiveShift(ctx, req.StoreID, req.CashierID); err == nil {
		return nil, ErrShiftAlreadyActive
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return nil, err
	}

	now := m.now().UTC()
	day, err := localstore.OpenDay(ctx, m.store, req.StoreID, now)
	if err != nil {
		return nil, fmt.Errorf("operational day: %w", err)
	}
	number, err := m.store.NextShiftNumber(ctx, req.StoreID, req.CashierID)
	if err != nil {
		return nil, err
	}

	shift := domain.Shift{
		LocalID:         xid.NewUUID(),
		Number:          number,
		StoreID:         req.StoreID,
		CashierID:       req.CashierID,
		OperationalDate: day.OperationalDate,
		Status:          domain.ShiftStatusActive,
		OpeningFloat:    money.Round(req.Float),
		OpeningNote:     strings.TrimSpace(req.Note),
		OpenedAt:        now,
		SyncStatus:      domain.SyncPending,
	}
	if err := m.store.CreateShift(ctx, shift); err != nil {
		if errors.Is(err, localstore.ErrConflict) {
			return nil, ErrShiftAlreadyActive
		}
		return nil, fmt.Errorf("create shift: %w", err)
	}

	op := domain.PendingShiftOp{
		ID:           xid.New("sop"),
		ShiftLocalID: shift.LocalID,
		Op:           domain.ShiftOpOpen,
		Snapshot:     shift,
		SyncStatus:   domain.SyncPending,
		CreatedAt:    now,
	}
	if err := m.store.EnqueueShiftOp(ctx, op); err != nil {
		return nil, fmt.Errorf("queue shift open: %w", err)
	}
	m.logger.Info("shift opened",
		zap.String("shift", shift.LocalID),
		zap.String("cashier", shift.CashierID),
		zap.String("float", money.Format(shift.OpeningFloat)),
	)

	m.mirror(ctx, op)
	return m.store.GetShift(ctx, shift.LocalID)
}

// PreviewClose computes the variance and the tier a close would need
// without changing anything.
func (m *Manager) PreviewClose(ctx context.Context, storeID string, cashierID string, endingCash decimal.Decimal) (ClosePreview, error) {
	shift, err := m.ActiveShift(ctx, storeID, cashierID)
	if err != nil {
		return ClosePreview{}, err
	}
	if endingCash.IsNegative() {
		return ClosePreview{}, fmt.Errorf("%w: ending cash %s", ErrInvalidAmount, endingCash)
	}
	variance := money.Variance(endingCash, shift.OpeningFloat)
	return ClosePreview{
		Shift:      *shift,
		Expected:   shift.OpeningFloat,
		EndingCash: money.Round(endingCash),
		Variance:   variance,
		Tier:       m.policy.Classify(variance).String(),
	}, nil
}

// CloseShift closes the cashier's active shift. Every policy check runs
// before anything is written; a failed check leaves the shift ACTIVE.
func (m *Manager) CloseShift(ctx context.Context, req CloseRequest) (*domain.Shift, error) {
	preview, err := m.PreviewClose(ctx, req.StoreID, req.CashierID, req.EndingCash)
	if err != nil {
		return nil, err
	}
	shift := preview.Shift
	reason := strings.TrimSpace(req.VarianceReason)

	var approval *domain.SupervisorApproval
	switch m.policy.Classify(preview.Variance) {
	case TierReason:
		if reason == "" {
			return nil, fmt.Errorf("%w: variance %s", ErrVarianceReasonRequired, money.Format(preview.Variance))
		}
	case TierApproval:
		if strings.TrimSpace(req.SupervisorPIN) == "" {
			return nil, fmt.Errorf("%w: variance %s", ErrSupervisorApprovalRequired, money.Format(preview.Variance))
		}
		approval, err = m.verifyPIN(ctx, shift.StoreID, req.SupervisorPIN)
		if err != nil {
			return nil, err
		}
	}

	closedAt := m.now().UTC()
	shift.Status = domain.ShiftStatusClosed
	shift.EndingCash = decimal.NewNullDecimal(preview.EndingCash)
	shift.Variance = decimal.NewNullDecimal(preview.Variance)
	shift.VarianceReason = reason
	shift.ClosingNote = strings.TrimSpace(req.Note)
	shift.Approval = approval
	shift.ClosedAt = &closedAt
	shift.SyncStatus = domain.SyncPending
	if err := m.store.UpdateShift(ctx, shift); err != nil {
		return nil, fmt.Errorf("close shift: %w", err)
	}

	op := domain.PendingShiftOp{
		ID:           xid.New("sop"),
		ShiftLocalID: shift.LocalID,
		Op:           domain.ShiftOpClose,
		Snapshot:     shift,
		SyncStatus:   domain.SyncPending,
		CreatedAt:    closedAt,
	}
	if err := m.store.EnqueueShiftOp(ctx, op); err != nil {
		return nil, fmt.Errorf("queue shift close: %w", err)
	}
	m.logger.Info("shift closed",
		zap.String("shift", shift.LocalID),
		zap.String("variance", money.Format(preview.Variance)),
		zap.Bool("approved", approval != nil),
	)

	// The server learns about the close only after it knows the shift.
	if shift.ServerID != "" {
		m.mirror(ctx, op)
	}
	return m.store.GetShift(ctx, shift.LocalID)
}

func (m *Manager) verifyPIN(ctx context.Context, storeID string, pin string) (*domain.SupervisorApproval, error) {
	pin = strings.TrimSpace(pin)
	if !validPIN(pin) {
		return nil, ErrInvalidPINFormat
	}
	if m.pins == nil {
		return nil, ErrPINServiceUnavailable
	}

	res, err := remote.CallWithRefresh(ctx, m.refresher, func(ctx context.Context) remote.Result[domain.PINVerifyResponse] {
		return m.pins.VerifyPIN(ctx, domain.PINVerifyRequest{StoreID: storeID, PIN: pin, Action: ActionShiftClose})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPINServiceUnavailable, err)
	}
	switch res.Kind {
	case remote.Accepted:
		approvedAt := res.Value.ApprovedAt
		if approvedAt.IsZero() {
			approvedAt = m.now().UTC()
		}
		return &domain.SupervisorApproval{
			SupervisorID:   res.Value.SupervisorID,
			SupervisorName: res.Value.SupervisorName,
			ApprovedAt:     approvedAt,
		}, nil
	case remote.Rejected:
		m.logger.Warn("supervisor pin rejected", zap.String("store", storeID))
		return nil, ErrInvalidSupervisorPIN
	default:
		return nil, fmt.Errorf("%w: %s", ErrPINServiceUnavailable, res.Error())
	}
}

// mirror sends a queued shift op straight away. Failures are left for the
// sync engine, which drains the same outbox entry.
func (m *Manager) mirror(ctx context.Context, op domain.PendingShiftOp) {
	if m.api == nil {
		return
	}
	res, err := remote.CallWithRefresh(ctx, m.refresher, func(ctx context.Context) remote.Result[domain.Shift] {
		if op.Op == domain.ShiftOpOpen {
			return m.api.OpenShift(ctx, op.Snapshot)
		}
		return m.api.CloseShift(ctx, op.Snapshot)
	})
	if err != nil || !res.OK() {
		m.logger.Info("shift op queued for sync",
			zap.String("shift", op.ShiftLocalID),
			zap.String("op", op.Op),
			zap.String("outcome", res.Error()),
		)
		return
	}
	if err := m.store.MarkShiftOp(ctx, op.ID, domain.SyncSynced, ""); err != nil {
		m.logger.Warn("mark shift op synced", zap.String("op", op.ID), zap.Error(err))
		return
	}
	if err := m.store.MarkShiftSynced(ctx, op.ShiftLocalID, res.Value.ServerID); err != nil {
		m.logger.Warn("mark shift synced", zap.String("shift", op.ShiftLocalID), zap.Error(err))
	}
}

func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
