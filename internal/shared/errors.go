package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrInvalidState     = fmt.Errorf("invalid oauth state")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrRateLimited        = fmt.Errorf("rate limit exceeded")
	ErrNetwork            = fmt.Errorf("network error")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ErrorKind tags an [APIError] with one of the failure classes of the upstream client.
type ErrorKind int

const (
	KindAuth            ErrorKind = iota + 1 // credential grant or refresh failed
	KindUnauthenticated                      // no usable session credential
	KindRateLimited                          // 429 persisted past the retry budget
	KindAuthExpired                          // 401 persisted past the single refresh
	KindUpstream                             // any other non-2xx response
	KindNetwork                              // transport failure
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindUpstream:
		return "upstream"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Sentinel returns the package-level error matched by errors.Is for this kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuthFailed
	case KindUnauthenticated:
		return ErrNotAuthenticated
	case KindRateLimited:
		return ErrRateLimited
	case KindAuthExpired:
		return ErrTokenExpired
	case KindUpstream:
		return ErrAPIRequest
	case KindNetwork:
		return ErrNetwork
	default:
		return nil
	}
}

// APIError is the error returned by the token and request layers.
//
// Status and Body carry the final upstream response when there was one.
// RetryAfter is only set for [KindRateLimited].
type APIError struct {
	Kind       ErrorKind
	Status     int
	Body       []byte
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	msg := "upstream client error"
	if sentinel := e.Kind.Sentinel(); sentinel != nil {
		msg = sentinel.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *APIError) Is(target error) bool {
	return target != nil && target == e.Kind.Sentinel()
}

// KindOf returns the [ErrorKind] of the first [APIError] in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// HTTPStatus maps an error to the status code a proxy should answer with.
//
// Upstream failures keep the original status so the browser sees what Spotify said.
func HTTPStatus(err error) int {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrMissingArgument) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}

	switch apiErr.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthenticated, KindAuthExpired:
		return http.StatusUnauthorized
	case KindUpstream:
		if apiErr.Status != 0 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
