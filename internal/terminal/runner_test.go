package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/config"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/eod"
	"kasirinaja/pos/internal/localstore/memory"
	"kasirinaja/pos/internal/register"
	"kasirinaja/pos/internal/remote"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/syncer"
)

// newOfflineRunner wires every component against a server that is not
// listening.
func newOfflineRunner(t *testing.T) *Runner {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := memory.New()
	require.NoError(t, store.ApplyProducts(context.Background(), domain.Delta[domain.Product]{Created: []domain.Product{
		{ID: "p-1", SKU: "KOPI-01", Name: "Kopi Susu", Price: decimal.RequireFromString("18000"), Active: true},
	}}))

	cfg := config.DefaultTerminal()
	cfg.ServerURL = url
	cfg.StoreID = "store-1"
	cfg.CashierID = "cashier-1"

	logger := zap.NewNop()
	client, err := remote.NewClient(remote.Options{ServerURL: url, DeviceID: cfg.DeviceID, Timeout: time.Second}, nil, logger)
	require.NoError(t, err)
	engine := syncer.New(store, client, client, syncer.Options{StoreID: cfg.StoreID, DeviceID: cfg.DeviceID}, logger)

	return NewRunner(Params{
		Config:   cfg,
		Logger:   logger,
		Client:   client,
		Engine:   engine,
		Shifts:   shift.New(store, client, client, client, shift.DefaultVariancePolicy(), logger),
		EOD:      eod.New(store, client, engine, client, cfg.StoreID, logger),
		Register: register.New(store, cfg.StoreID, cfg.CashierID, logger),
	})
}

func execute(t *testing.T, r *Runner, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := r.NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := newOfflineRunner(t).NewRootCommand()
	commands := [][]string{
		{"login"}, {"logout"}, {"sync"}, {"status"}, {"rejected"}, {"retry"}, {"delete"},
		{"stale"}, {"requeue"}, {"abandon"}, {"run"},
		{"shift", "open"}, {"shift", "close"}, {"shift", "status"},
		{"eod", "summary"}, {"eod", "execute"}, {"eod", "show"},
		{"carts", "list"}, {"carts", "hold"}, {"carts", "restore"}, {"carts", "void"},
		{"sale", "record"}, {"sale", "void"},
	}
	for _, path := range commands {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, newOfflineRunner(t), "status", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestOfflineCashierFlow(t *testing.T) {
	r := newOfflineRunner(t)

	out, err := execute(t, r, "shift", "open", "--float", "100000")
	require.NoError(t, err)
	assert.Contains(t, out, "100000.00")
	assert.Contains(t, out, domain.ShiftStatusActive)

	out, err = execute(t, r, "sale", "record", "--item", "p-1:2", "--pay", "cash:50000")
	require.NoError(t, err)
	assert.Contains(t, out, "Kopi Susu x2")
	assert.Contains(t, out, "14000.00")

	out, err = execute(t, r, "status", "--format", "json")
	require.NoError(t, err)
	var status syncer.StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 1, status.PendingShiftOps)

	out, err = execute(t, r, "sync", "--only", "transactions")
	require.NoError(t, err)
	assert.Contains(t, out, "Push offline")

	out, err = execute(t, r, "shift", "close", "--cash", "110000", "--preview")
	require.NoError(t, err)
	assert.Contains(t, out, "variance 10000.00 (approval)")

	_, err = execute(t, r, "shift", "close", "--cash", "100000")
	require.NoError(t, err)

	out, err = execute(t, r, "eod", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "36000.00")

	_, err = execute(t, r, "eod", "execute")
	require.ErrorIs(t, err, eod.ErrConfirmationRequired)
	_, err = execute(t, r, "eod", "execute", "--yes")
	require.ErrorIs(t, err, eod.ErrCommitFailed)

	_, err = execute(t, r, "delete", "some-id")
	require.ErrorIs(t, err, syncer.ErrConfirmationRequired)
}

func TestShiftStatusWithoutShift(t *testing.T) {
	out, err := execute(t, newOfflineRunner(t), "shift", "status")
	require.NoError(t, err)
	assert.Equal(t, "No active shift\n", out)
}

func TestParseItemAndPayment(t *testing.T) {
	item, err := parseItem("p-7:3@12500")
	require.NoError(t, err)
	assert.Equal(t, "p-7", item.ProductID)
	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, "12500", item.UnitPrice.String())

	item, err = parseItem("p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantity)
	assert.True(t, item.UnitPrice.IsZero())

	_, err = parseItem("p-1:x")
	require.Error(t, err)

	p, err := parsePayment("QRIS:19980:INV-9")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentQRIS, p.Method)
	assert.Equal(t, "INV-9", p.Reference)

	_, err = parsePayment("cash")
	require.Error(t, err)
}

func TestWatchConnectivitySignalsReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	ping := func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("connection refused")
		}
		return nil
	}

	reconnect := watchConnectivity(ctx, ping, 5*time.Millisecond, zap.NewNop())
	select {
	case <-reconnect:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reconnect signal")
	}

	cancel()
	for range reconnect {
	}
}
