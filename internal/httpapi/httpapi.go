package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/service"
	"kasirinaja/pos/internal/store"
)

type Options struct {
	AllowedOrigin  string
	PINMaxAttempts int
	PINLockout     time.Duration
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options, logger *zap.Logger) *API {
	if opts.PINMaxAttempts <= 0 {
		opts.PINMaxAttempts = 5
	}
	if opts.PINLockout <= 0 {
		opts.PINLockout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(opts.PINMaxAttempts, opts.PINLockout),
		logger:        logger.Named("http"),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

// Reset forgets the attempts of key after a successful verification.
func (l *attemptLimiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var allRoles = []string{domain.RoleCashier, domain.RoleSupervisor, domain.RoleAdmin}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/refresh", a.handleRefresh)

	mux.HandleFunc("/api/v1/sync/pull", a.requireAuth(a.handlePull, allRoles...))
	mux.HandleFunc("/api/v1/sync/push", a.requireAuth(a.handlePush, allRoles...))
	mux.HandleFunc("/api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, allRoles...))
	mux.HandleFunc("/api/v1/shifts/close", a.requireAuth(a.handleShiftClose, allRoles...))
	mux.HandleFunc("/api/v1/pin/verify", a.requireAuth(a.handlePINVerify, allRoles...))
	mux.HandleFunc("/api/v1/eod/pre-summary", a.requireAuth(a.handlePreSummary, allRoles...))
	mux.HandleFunc("/api/v1/eod/execute", a.requireAuth(a.handleEODExecute, allRoles...))
	mux.HandleFunc("/api/v1/eod/day-close", a.requireAuth(a.handleDayClose, allRoles...))

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/categories", a.requireAuth(a.handleCategories, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/discounts", a.requireAuth(a.handleDiscounts, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock", a.requireAuth(a.handleStock, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleSupervisor, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, "", errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "", err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, "", errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "", errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "", err)
		return
	}
	a.logger.Info("login", zap.String("username", resp.Username), zap.String("device", req.DeviceID))
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	resp, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	resp, err := a.service.Pull(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	resp, err := a.service.Push(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	shift, err := a.service.OpenShift(r.Context(), req.Shift)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftSyncResponse{Shift: shift})
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	shift, err := a.service.CloseShift(r.Context(), req.Shift)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftSyncResponse{Shift: shift})
}

func (a *API) handlePINVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	limiterKey := actor.Username + "|" + clientKey(r)
	if !a.pinLimiter.Allow(limiterKey) {
		writeError(w, http.StatusTooManyRequests, "", errors.New("too many PIN attempts"))
		return
	}

	var req domain.PINVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	resp, err := a.auth.VerifySupervisorPIN(r.Context(), req.StoreID, req.PIN)
	a.service.RecordPINCheck(r.Context(), req.StoreID, req.Action, resp.SupervisorID, err == nil)
	if err != nil {
		writeError(w, http.StatusForbidden, domain.CodeInvalidPIN, err)
		return
	}
	a.pinLimiter.Reset(limiterKey)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePreSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	storeID := r.URL.Query().Get("store_id")
	date := r.URL.Query().Get("date")
	summary, err := a.service.PreEODSummary(r.Context(), storeID, date)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleEODExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.EODExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	record, err := a.service.ExecuteEOD(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.EODExecuteResponse{DayClose: record})
}

func (a *API) handleDayClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	record, err := a.service.GetDayClose(r.Context(), r.URL.Query().Get("store_id"), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.EODExecuteResponse{DayClose: record})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.Product
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	product, err := a.service.UpsertProduct(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	productID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/products/"), "/"))
	if productID == "" || strings.Contains(productID, "/") {
		writeError(w, http.StatusBadRequest, "", errors.New("product id required"))
		return
	}

	if err := a.service.DeleteProduct(r.Context(), productID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.Category
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	category, err := a.service.UpsertCategory(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category})
}

func (a *API) handleDiscounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.Discount
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	discount, err := a.service.UpsertDiscount(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discount": discount})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.StockSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}
	if req.Quantity < 0 || strings.TrimSpace(req.ProductID) == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidTransaction, errors.New("product_id and a non-negative quantity are required"))
		return
	}

	if err := a.service.SetStock(r.Context(), req); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	storeID := r.URL.Query().Get("store_id")
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), storeID, date, limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "", err)
			return
		}

		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

// fail maps a service error onto its status and wire code. Unknown errors
// are logged and hidden behind a 500.
func (a *API) fail(w http.ResponseWriter, err error) {
	var closed *service.AlreadyClosedError
	if errors.As(err, &closed) {
		record := closed.DayClose
		writeJSON(w, http.StatusConflict, domain.ErrorResponse{
			Error:    err.Error(),
			Code:     domain.CodeAlreadyClosed,
			DayClose: &record,
		})
		return
	}

	status, code := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrShiftConflict):
		status, code = http.StatusConflict, domain.CodeShiftConflict
	case errors.Is(err, service.ErrShiftNotFound):
		status, code = http.StatusNotFound, domain.CodeShiftNotFound
	case errors.Is(err, service.ErrReasonRequired):
		status, code = http.StatusUnprocessableEntity, domain.CodeReasonRequired
	case errors.Is(err, service.ErrApprovalRequired):
		status, code = http.StatusUnprocessableEntity, domain.CodeApprovalRequired
	case errors.Is(err, store.ErrInvalidTransaction):
		status, code = http.StatusBadRequest, domain.CodeInvalidTransaction
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, code, err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "", errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses.
func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, domain.ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
