package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrReauthRequired means the session could not be refreshed and the
// operator has to log in again.
var ErrReauthRequired = errors.New("re-login required")

type Kind int

const (
	Accepted Kind = iota + 1
	Rejected
	NetworkError
	AuthError
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case NetworkError:
		return "network_error"
	case AuthError:
		return "auth_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one Remote API call. Value is set for Accepted
// and, for some endpoints, for Rejected (e.g. the existing day-close record).
type Result[T any] struct {
	Kind    Kind
	Value   T
	Code    string
	Message string
	Status  int
	Err     error
}

func (r Result[T]) OK() bool {
	return r.Kind == Accepted
}

// Error renders non-accepted outcomes for logs and operator messages.
func (r Result[T]) Error() string {
	switch r.Kind {
	case Accepted:
		return ""
	case Rejected:
		if r.Message != "" {
			return fmt.Sprintf("rejected (%s): %s", r.Code, r.Message)
		}
		return fmt.Sprintf("rejected (%s)", r.Code)
	default:
		if r.Err != nil {
			return fmt.Sprintf("%s: %v", r.Kind, r.Err)
		}
		return r.Kind.String()
	}
}

// Refresher exchanges the refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// CallWithRefresh runs call and, on AuthError, refreshes the session once and
// retries. If the refresh fails or the retry is still unauthorized it returns
// ErrReauthRequired and the last result.
func CallWithRefresh[T any](ctx context.Context, refresher Refresher, call func(ctx context.Context) Result[T]) (Result[T], error) {
	res := call(ctx)
	if res.Kind != AuthError {
		return res, nil
	}
	if refresher == nil {
		return res, ErrReauthRequired
	}
	if err := refresher.Refresh(ctx); err != nil {
		return res, fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}
	res = call(ctx)
	if res.Kind == AuthError {
		return res, ErrReauthRequired
	}
	return res, nil
}
