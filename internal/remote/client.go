// Package remote is the terminal's client for the server of record.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
)

const apiPrefix = "/api/v1"

var (
	ErrMissingServerURL = errors.New("server url is required")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotLoggedIn      = errors.New("not logged in")
)

type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type Options struct {
	ServerURL  string
	DeviceID   string
	Timeout    time.Duration
	RetryCount int
}

type Client struct {
	http     *resty.Client
	session  *Session
	deviceID string
	logger   *zap.Logger
}

func NewClient(opts Options, session *Session, logger *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.ServerURL), "/")
	if baseURL == "" {
		return nil, ErrMissingServerURL
	}
	if session == nil {
		session = &Session{}
	}

	httpClient := resty.New().
		SetBaseURL(baseURL+apiPrefix).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		})

	return &Client{
		http:     httpClient,
		session:  session,
		deviceID: opts.DeviceID,
		logger:   logger.Named("remote"),
	}, nil
}

func (c *Client) Session() *Session {
	return c.session
}

// Login exchanges operator credentials for a token pair and stores it in the
// session.
func (c *Client) Login(ctx context.Context, username string, password string) (domain.TokenPair, error) {
	var pair domain.TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(domain.LoginRequest{Username: username, Password: password, DeviceID: c.deviceID}).
		SetResult(&pair).
		SetError(&domain.ErrorResponse{}).
		Post("/auth/login")
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("login request: %w", err)
	}
	if resp.IsError() {
		apiErr := apiErrorFromResponse(resp)
		if resp.StatusCode() == http.StatusUnauthorized {
			return domain.TokenPair{}, fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		}
		return domain.TokenPair{}, apiErr
	}
	if err := c.session.Set(pair); err != nil {
		return domain.TokenPair{}, err
	}
	c.logger.Info("logged in", zap.String("username", pair.Username), zap.String("role", pair.Role))
	return pair, nil
}

// Refresh swaps the stored refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) error {
	refreshToken := c.session.RefreshToken()
	if refreshToken == "" {
		return ErrNotLoggedIn
	}
	var pair domain.TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(domain.RefreshRequest{RefreshToken: refreshToken}).
		SetResult(&pair).
		SetError(&domain.ErrorResponse{}).
		Post("/auth/refresh")
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	if resp.IsError() {
		apiErr := apiErrorFromResponse(resp)
		if resp.StatusCode() == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		}
		return apiErr
	}
	c.logger.Debug("session refreshed", zap.String("username", pair.Username))
	return c.session.Set(pair)
}

func (c *Client) Logout() error {
	return c.session.Clear()
}

// Ping reports whether the server answers its health check.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ping: %s", resp.Status())
	}
	return nil
}

func (c *Client) Pull(ctx context.Context, req domain.PullRequest) Result[domain.PullResponse] {
	return send[domain.PullResponse](ctx, c, http.MethodPost, "/sync/pull", req, nil)
}

func (c *Client) Push(ctx context.Context, req domain.PushRequest) Result[domain.PushResponse] {
	if req.DeviceID == "" {
		req.DeviceID = c.deviceID
	}
	return send[domain.PushResponse](ctx, c, http.MethodPost, "/sync/push", req, nil)
}

func (c *Client) OpenShift(ctx context.Context, shift domain.Shift) Result[domain.Shift] {
	return syncShift(ctx, c, "/shifts/open", shift)
}

func (c *Client) CloseShift(ctx context.Context, shift domain.Shift) Result[domain.Shift] {
	return syncShift(ctx, c, "/shifts/close", shift)
}

func syncShift(ctx context.Context, c *Client, path string, shift domain.Shift) Result[domain.Shift] {
	res := send[domain.ShiftSyncResponse](ctx, c, http.MethodPost, path, domain.ShiftSyncRequest{Shift: shift}, nil)
	return Result[domain.Shift]{
		Kind:    res.Kind,
		Value:   res.Value.Shift,
		Code:    res.Code,
		Message: res.Message,
		Status:  res.Status,
		Err:     res.Err,
	}
}

func (c *Client) VerifyPIN(ctx context.Context, req domain.PINVerifyRequest) Result[domain.PINVerifyResponse] {
	return send[domain.PINVerifyResponse](ctx, c, http.MethodPost, "/pin/verify", req, nil)
}

func (c *Client) PreEODSummary(ctx context.Context, storeID string, date string) Result[domain.PreEODSummary] {
	query := map[string]string{"store_id": storeID, "date": date}
	return send[domain.PreEODSummary](ctx, c, http.MethodGet, "/eod/pre-summary", nil, query)
}

// ExecuteEOD asks the server to close the operational day. A repeat call is
// Rejected with CodeAlreadyClosed and Value holds the existing record.
func (c *Client) ExecuteEOD(ctx context.Context, req domain.EODExecuteRequest) Result[domain.DayClose] {
	var errBody domain.ErrorResponse
	res := send[domain.EODExecuteResponse](ctx, c, http.MethodPost, "/eod/execute", req, nil, &errBody)
	out := Result[domain.DayClose]{
		Kind:    res.Kind,
		Value:   res.Value.DayClose,
		Code:    res.Code,
		Message: res.Message,
		Status:  res.Status,
		Err:     res.Err,
	}
	if res.Kind == Rejected && errBody.DayClose != nil {
		out.Value = *errBody.DayClose
	}
	return out
}

func send[T any](ctx context.Context, c *Client, method string, path string, body any, query map[string]string, errOut ...*domain.ErrorResponse) Result[T] {
	var (
		out     T
		errBody = &domain.ErrorResponse{}
	)
	if len(errOut) > 0 && errOut[0] != nil {
		errBody = errOut[0]
	}

	req := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(errBody)
	if token := c.session.AccessToken(); token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	started := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("request failed", zap.String("path", path), zap.Error(err))
		return Result[T]{Kind: NetworkError, Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	c.logger.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(started)),
	)
	return classify(resp, out, errBody)
}

func classify[T any](resp *resty.Response, out T, errBody *domain.ErrorResponse) Result[T] {
	status := resp.StatusCode()
	if !resp.IsError() {
		return Result[T]{Kind: Accepted, Value: out, Status: status}
	}

	apiErr := apiErrorFromResponse(resp)
	switch {
	case status == http.StatusUnauthorized:
		return Result[T]{Kind: AuthError, Status: status, Code: errBody.Code, Message: apiErr.Message, Err: apiErr}
	case status >= http.StatusInternalServerError,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout:
		return Result[T]{Kind: NetworkError, Status: status, Message: apiErr.Message, Err: apiErr}
	default:
		return Result[T]{Kind: Rejected, Status: status, Code: apiErr.Code, Message: apiErr.Message, Err: apiErr}
	}
}

func apiErrorFromResponse(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*domain.ErrorResponse); ok && body != nil && (body.Error != "" || body.Code != "") {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(resp.String())
	if apiErr.Message == "" {
		apiErr.Message = resp.Status()
	}
	return apiErr
}
