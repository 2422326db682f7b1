package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	session, err := NewSession("")
	require.NoError(t, err)
	client, err := NewClient(Options{ServerURL: srv.URL, DeviceID: "dev-1", Timeout: 2 * time.Second}, session, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresServerURL(t *testing.T) {
	_, err := NewClient(Options{}, nil, zap.NewNop())
	require.ErrorIs(t, err, ErrMissingServerURL)
}

func TestLoginStoresSessionAndSendsBearer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req domain.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dev-1", req.DeviceID)
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, domain.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1", Username: req.Username, Role: "cashier"})
	})
	mux.HandleFunc("/api/v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		var req domain.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dev-1", req.DeviceID)
		writeJSON(w, http.StatusOK, domain.PushResponse{
			Synced: []domain.PushAccepted{{ClientID: req.Transactions[0].ClientID, ServerID: "trx_1", TransactionNumber: "TRX-1"}},
		})
	})
	client := newTestClient(t, mux)

	_, err := client.Login(context.Background(), "kasir", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, client.Session().LoggedIn())

	pair, err := client.Login(context.Background(), "kasir", "secret")
	require.NoError(t, err)
	assert.Equal(t, "access-1", pair.AccessToken)
	assert.True(t, client.Session().LoggedIn())

	res := client.Push(context.Background(), domain.PushRequest{StoreID: "store-1", Transactions: []domain.Transaction{{ClientID: "c1"}}})
	require.Equal(t, Accepted, res.Kind, res.Error())
	require.Len(t, res.Value.Synced, 1)
	assert.Equal(t, "trx_1", res.Value.Synced[0].ServerID)
}

func TestResultClassification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/shifts/open", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, domain.ErrorResponse{Error: "shift already active", Code: domain.CodeShiftConflict})
	})
	mux.HandleFunc("/api/v1/shifts/close", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal server error"})
	})
	mux.HandleFunc("/api/v1/pin/verify", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "token expired"})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	rejected := client.OpenShift(ctx, domain.Shift{LocalID: "s1"})
	assert.Equal(t, Rejected, rejected.Kind)
	assert.Equal(t, domain.CodeShiftConflict, rejected.Code)
	assert.Equal(t, http.StatusConflict, rejected.Status)

	transient := client.CloseShift(ctx, domain.Shift{LocalID: "s1"})
	assert.Equal(t, NetworkError, transient.Kind)

	auth := client.VerifyPIN(ctx, domain.PINVerifyRequest{PIN: "1234"})
	assert.Equal(t, AuthError, auth.Kind)
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Options{ServerURL: url, Timeout: time.Second}, nil, zap.NewNop())
	require.NoError(t, err)

	res := client.Pull(context.Background(), domain.PullRequest{StoreID: "store-1"})
	assert.Equal(t, NetworkError, res.Kind)
	require.Error(t, res.Err)
}

func TestExecuteEODAlreadyClosedCarriesRecord(t *testing.T) {
	existing := domain.DayClose{ID: "eod_1", StoreID: "store-1", OperationalDate: "2026-03-01", ClosedBy: "spv"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/eod/execute", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, domain.ErrorResponse{Error: "day already closed", Code: domain.CodeAlreadyClosed, DayClose: &existing})
	})
	client := newTestClient(t, mux)

	res := client.ExecuteEOD(context.Background(), domain.EODExecuteRequest{StoreID: "store-1", OperationalDate: "2026-03-01"})
	assert.Equal(t, Rejected, res.Kind)
	assert.Equal(t, domain.CodeAlreadyClosed, res.Code)
	assert.Equal(t, "eod_1", res.Value.ID)
}

func TestPreEODSummaryQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/eod/pre-summary", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "store-1", r.URL.Query().Get("store_id"))
		assert.Equal(t, "2026-03-01", r.URL.Query().Get("date"))
		writeJSON(w, http.StatusOK, domain.PreEODSummary{StoreID: "store-1", OperationalDate: "2026-03-01", CompletedCount: 3})
	})
	client := newTestClient(t, mux)

	res := client.PreEODSummary(context.Background(), "store-1", "2026-03-01")
	require.True(t, res.OK(), res.Error())
	assert.Equal(t, 3, res.Value.CompletedCount)
}

func TestCallWithRefreshRetriesOnce(t *testing.T) {
	var pulls, refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		var req domain.RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refresh-0", req.RefreshToken)
		writeJSON(w, http.StatusOK, domain.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"})
	})
	mux.HandleFunc("/api/v1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-1" {
			writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, domain.PullResponse{LastSyncTimestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	})
	client := newTestClient(t, mux)
	require.NoError(t, client.Session().Set(domain.TokenPair{AccessToken: "access-0", RefreshToken: "refresh-0"}))

	res, err := CallWithRefresh(context.Background(), client, func(ctx context.Context) Result[domain.PullResponse] {
		return client.Pull(ctx, domain.PullRequest{StoreID: "store-1"})
	})
	require.NoError(t, err)
	assert.Equal(t, Accepted, res.Kind)
	assert.EqualValues(t, 2, pulls.Load())
	assert.EqualValues(t, 1, refreshes.Load())
	assert.Equal(t, "refresh-1", client.Session().RefreshToken())
}

func TestCallWithRefreshGivesUpWhenRefreshFails(t *testing.T) {
	var pulls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "refresh token expired"})
	})
	mux.HandleFunc("/api/v1/sync/pull", func(w http.ResponseWriter, _ *http.Request) {
		pulls.Add(1)
		writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "token expired"})
	})
	client := newTestClient(t, mux)
	require.NoError(t, client.Session().Set(domain.TokenPair{AccessToken: "a", RefreshToken: "r"}))

	res, err := CallWithRefresh(context.Background(), client, func(ctx context.Context) Result[domain.PullResponse] {
		return client.Pull(ctx, domain.PullRequest{StoreID: "store-1"})
	})
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, AuthError, res.Kind)
	assert.EqualValues(t, 1, pulls.Load())
}

func TestSessionPersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	session, err := NewSession(path)
	require.NoError(t, err)
	require.False(t, session.LoggedIn())
	require.NoError(t, session.Set(domain.TokenPair{AccessToken: "a", RefreshToken: "r", Username: "kasir"}))

	reloaded, err := NewSession(path)
	require.NoError(t, err)
	assert.Equal(t, "a", reloaded.AccessToken())
	assert.Equal(t, "kasir", reloaded.Username())

	require.NoError(t, reloaded.Clear())
	again, err := NewSession(path)
	require.NoError(t, err)
	assert.False(t, again.LoggedIn())
}

func TestPingHitsHealthCheck(t *testing.T) {
	healthy := atomic.Bool{}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/healthz", r.URL.Path)
		if !healthy.Load() {
			writeJSON(w, http.StatusServiceUnavailable, domain.ErrorResponse{Error: "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))

	require.Error(t, client.Ping(context.Background()))
	healthy.Store(true)
	require.NoError(t, client.Ping(context.Background()))
}
