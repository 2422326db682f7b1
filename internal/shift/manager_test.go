package shift

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/localstore/memory"
	"kasirinaja/pos/internal/remote"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeRemote struct {
	online bool
	opens  int
	closes int
}

func (f *fakeRemote) OpenShift(_ context.Context, s domain.Shift) remote.Result[domain.Shift] {
	f.opens++
	return f.result(s)
}

func (f *fakeRemote) CloseShift(_ context.Context, s domain.Shift) remote.Result[domain.Shift] {
	f.closes++
	return f.result(s)
}

func (f *fakeRemote) result(s domain.Shift) remote.Result[domain.Shift] {
	if !f.online {
		return remote.Result[domain.Shift]{Kind: remote.NetworkError, Err: errors.New("offline")}
	}
	s.ServerID = "shf_server"
	return remote.Result[domain.Shift]{Kind: remote.Accepted, Value: s}
}

type fakePINs struct {
	valid  string
	kind   remote.Kind
	calls  int
	action string
}

func (f *fakePINs) VerifyPIN(_ context.Context, req domain.PINVerifyRequest) remote.Result[domain.PINVerifyResponse] {
	f.calls++
	f.action = req.Action
	if f.kind != 0 {
		return remote.Result[domain.PINVerifyResponse]{Kind: f.kind, Err: errors.New("unreachable")}
	}
	if req.PIN != f.valid {
		return remote.Result[domain.PINVerifyResponse]{Kind: remote.Rejected, Code: domain.CodeInvalidPIN}
	}
	return remote.Result[domain.PINVerifyResponse]{Kind: remote.Accepted, Value: domain.PINVerifyResponse{
		SupervisorID: "spv-1", SupervisorName: "Sari", ApprovedAt: now,
	}}
}

func newManager(t *testing.T, api *fakeRemote, pins *fakePINs) (*Manager, localstore.Store) {
	t.Helper()
	store := memory.New()
	m := New(store, api, pins, nil, DefaultVariancePolicy(), zap.NewNop())
	m.now = func() time.Time { return now }
	return m, store
}

func openDefault(t *testing.T, m *Manager) *domain.Shift {
	t.Helper()
	shift, err := m.OpenShift(context.Background(), OpenRequest{
		StoreID: "store-1", CashierID: "cashier-1", Float: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)
	return shift
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOpenShiftOffline(t *testing.T) {
	m, store := newManager(t, &fakeRemote{}, &fakePINs{})
	shift := openDefault(t, m)

	assert.Equal(t, domain.ShiftStatusActive, shift.Status)
	assert.Equal(t, domain.SyncPending, shift.SyncStatus)
	assert.Equal(t, 1, shift.Number)
	assert.Equal(t, "2026-03-14", shift.OperationalDate)

	ops, err := store.ListShiftOps(context.Background(), domain.SyncPending)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.ShiftOpOpen, ops[0].Op)
	assert.Equal(t, shift.LocalID, ops[0].ShiftLocalID)
}

func TestOpenShiftOnline(t *testing.T) {
	api := &fakeRemote{online: true}
	m, store := newManager(t, api, &fakePINs{})
	shift := openDefault(t, m)

	assert.Equal(t, domain.SyncSynced, shift.SyncStatus)
	assert.Equal(t, "shf_server", shift.ServerID)
	assert.Equal(t, 1, api.opens)

	pending, err := store.ListShiftOps(context.Background(), domain.SyncPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	synced, err := store.ListShiftOps(context.Background(), domain.SyncSynced)
	require.NoError(t, err)
	assert.Len(t, synced, 1)
}

func TestSingleActiveShift(t *testing.T) {
	m, store := newManager(t, &fakeRemote{}, &fakePINs{})
	openDefault(t, m)

	_, err := m.OpenShift(context.Background(), OpenRequest{StoreID: "store-1", CashierID: "cashier-1", Float: dec("50")})
	require.ErrorIs(t, err, ErrShiftAlreadyActive)

	active, err := store.ListShifts(context.Background(), localstore.ShiftFilter{StoreID: "store-1", Status: domain.ShiftStatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = m.OpenShift(context.Background(), OpenRequest{StoreID: "store-1", CashierID: "cashier-2", Float: dec("50")})
	require.NoError(t, err)
}

func TestOpenShiftRejectsNegativeFloat(t *testing.T) {
	m, _ := newManager(t, &fakeRemote{}, &fakePINs{})
	_, err := m.OpenShift(context.Background(), OpenRequest{StoreID: "store-1", CashierID: "cashier-1", Float: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCloseSmallVarianceIsForgiven(t *testing.T) {
	m, _ := newManager(t, &fakeRemote{}, &fakePINs{})
	openDefault(t, m)

	shift, err := m.CloseShift(context.Background(), CloseRequest{StoreID: "store-1", CashierID: "cashier-1", EndingCash: dec("100.50")})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, shift.Status)
	require.True(t, shift.Variance.Valid)
	assert.Equal(t, "0.50", shift.Variance.Decimal.StringFixed(2))
	assert.Empty(t, shift.VarianceReason)
	assert.Nil(t, shift.Approval)
}

func TestCloseModerateVarianceNeedsReason(t *testing.T) {
	pins := &fakePINs{valid: "1234"}
	m, _ := newManager(t, &fakeRemote{}, pins)
	openDefault(t, m)
	ctx := context.Background()

	req := CloseRequest{StoreID: "store-1", CashierID: "cashier-1", EndingCash: dec("103.00")}
	_, err := m.CloseShift(ctx, req)
	require.ErrorIs(t, err, ErrVarianceReasonRequired)

	active, err := m.ActiveShift(ctx, "store-1", "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusActive, active.Status)

	req.VarianceReason = "uang kembalian salah"
	shift, err := m.CloseShift(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, shift.Status)
	assert.Equal(t, "3.00", shift.Variance.Decimal.StringFixed(2))
	assert.Equal(t, "uang kembalian salah", shift.VarianceReason)
	assert.Equal(t, 0, pins.calls)
}

func TestCloseLargeVarianceNeedsApproval(t *testing.T) {
	pins := &fakePINs{valid: "1234"}
	m, _ := newManager(t, &fakeRemote{}, pins)
	openDefault(t, m)
	ctx := context.Background()

	req := CloseRequest{
		StoreID:        "store-1",
		CashierID:      "cashier-1",
		EndingCash:     dec("110.00"),
		VarianceReason: "lebih setor",
	}
	_, err := m.CloseShift(ctx, req)
	require.ErrorIs(t, err, ErrSupervisorApprovalRequired)

	req.SupervisorPIN = "12a4"
	_, err = m.CloseShift(ctx, req)
	require.ErrorIs(t, err, ErrInvalidPINFormat)

	req.SupervisorPIN = "9999"
	_, err = m.CloseShift(ctx, req)
	require.ErrorIs(t, err, ErrInvalidSupervisorPIN)

	active, err := m.ActiveShift(ctx, "store-1", "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusActive, active.Status)

	req.SupervisorPIN = "1234"
	shift, err := m.CloseShift(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, shift.Status)
	assert.Equal(t, "10.00", shift.Variance.Decimal.StringFixed(2))
	require.NotNil(t, shift.Approval)
	assert.Equal(t, "spv-1", shift.Approval.SupervisorID)
	assert.Equal(t, ActionShiftClose, pins.action)
	assert.Equal(t, 2, pins.calls)

	_, err = m.ActiveShift(ctx, "store-1", "cashier-1")
	require.ErrorIs(t, err, ErrNoActiveShift)
}

func TestCloseLargeVarianceApprovedWithoutReason(t *testing.T) {
	pins := &fakePINs{valid: "1234"}
	m, _ := newManager(t, &fakeRemote{}, pins)
	openDefault(t, m)

	shift, err := m.CloseShift(context.Background(), CloseRequest{
		StoreID: "store-1", CashierID: "cashier-1", EndingCash: dec("110.00"), SupervisorPIN: "1234",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, shift.Status)
	assert.Empty(t, shift.VarianceReason)
	require.NotNil(t, shift.Approval)
	assert.Equal(t, "spv-1", shift.Approval.SupervisorID)
	assert.Equal(t, 1, pins.calls)
}

func TestCloseLargeVarianceWhenPINServiceDown(t *testing.T) {
	m, _ := newManager(t, &fakeRemote{}, &fakePINs{kind: remote.NetworkError})
	openDefault(t, m)

	_, err := m.CloseShift(context.Background(), CloseRequest{
		StoreID: "store-1", CashierID: "cashier-1", EndingCash: dec("90"),
		VarianceReason: "kurang", SupervisorPIN: "1234",
	})
	require.ErrorIs(t, err, ErrPINServiceUnavailable)

	active, err := m.ActiveShift(context.Background(), "store-1", "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusActive, active.Status)
}

func TestCloseQueuesOpAndMirrorsWhenOpenSynced(t *testing.T) {
	api := &fakeRemote{online: true}
	m, store := newManager(t, api, &fakePINs{})
	openDefault(t, m)

	_, err := m.CloseShift(context.Background(), CloseRequest{StoreID: "store-1", CashierID: "cashier-1", EndingCash: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, 1, api.closes)

	ops, err := store.ListShiftOps(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.Equal(t, domain.SyncSynced, op.SyncStatus)
	}
}

func TestCloseWaitsForOpenToSync(t *testing.T) {
	api := &fakeRemote{}
	m, store := newManager(t, api, &fakePINs{})
	openDefault(t, m)
	api.online = true

	_, err := m.CloseShift(context.Background(), CloseRequest{StoreID: "store-1", CashierID: "cashier-1", EndingCash: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, 0, api.closes)

	pending, err := store.ListShiftOps(context.Background(), domain.SyncPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.ShiftOpOpen, pending[0].Op)
	assert.Equal(t, domain.ShiftOpClose, pending[1].Op)
}

func TestNewShiftAfterClose(t *testing.T) {
	m, _ := newManager(t, &fakeRemote{}, &fakePINs{})
	openDefault(t, m)
	_, err := m.CloseShift(context.Background(), CloseRequest{StoreID: "store-1", CashierID: "cashier-1", EndingCash: dec("100")})
	require.NoError(t, err)

	second := openDefault(t, m)
	assert.Equal(t, 2, second.Number)
}

func TestPreviewCloseDoesNotMutate(t *testing.T) {
	m, _ := newManager(t, &fakeRemote{}, &fakePINs{})
	openDefault(t, m)

	preview, err := m.PreviewClose(context.Background(), "store-1", "cashier-1", dec("94.995"))
	require.NoError(t, err)
	assert.Equal(t, "-5.01", preview.Variance.StringFixed(2))
	assert.Equal(t, TierApproval.String(), preview.Tier)

	active, err := m.ActiveShift(context.Background(), "store-1", "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusActive, active.Status)
}

func TestVariancePolicyClassify(t *testing.T) {
	p := DefaultVariancePolicy()
	cases := map[string]Tier{
		"0":     TierForgiven,
		"0.99":  TierForgiven,
		"-0.99": TierForgiven,
		"1":     TierReason,
		"-4.99": TierReason,
		"5":     TierApproval,
		"-12":   TierApproval,
	}
	for raw, want := range cases {
		assert.Equal(t, want, p.Classify(dec(raw)), raw)
	}

	require.NoError(t, p.Validate())
	require.Error(t, VariancePolicy{ReasonThreshold: dec("5"), ApprovalThreshold: dec("1")}.Validate())
}
