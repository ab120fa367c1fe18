package exchange

import (
	"fmt"
	"time"
)

// RateLimitError means the venue throttled the request. Retryable with
// backoff by the trade executor only; callers never re-retry.
type RateLimitError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%d): %s", e.Code, e.Message)
}

// AuthError is fatal for the order; never retried.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.Code, e.Message)
}

// NetworkError covers transport failures and 5xx responses where the order
// outcome is ambiguous. Retryable a bounded number of times with jitter;
// retries must reuse the idempotency token.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("network error: %s", e.Message)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// OrderRejectedError covers venue-side rejections that are not retryable
// (bad quantity, closed market, insufficient venue balance).
type OrderRejectedError struct {
	Code    int
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected (%d): %s", e.Code, e.Message)
}

// parseAPIError maps venue status/error codes onto the typed taxonomy.
// Codes follow the Binance convention used by both supported venues.
func parseAPIError(status int, code int, msg string) error {
	switch {
	case status == 429 || code == -1003 || code == -1015:
		retryAfter := 60 * time.Second
		if code == -1003 {
			retryAfter = 120 * time.Second
		}
		return &RateLimitError{Code: code, Message: msg, RetryAfter: retryAfter}
	case code == -1022 || code == -2014 || code == -2015 || status == 401 || status == 403:
		return &AuthError{Code: code, Message: msg}
	case code == -1111 || code == -2010 || code == -2011 || code == -2019 || code == -4164 || code == -1121:
		return &OrderRejectedError{Code: code, Message: msg}
	case status >= 500 || status == 408 || code == -1007:
		return &NetworkError{Message: fmt.Sprintf("venue error (%d): %s", status, msg)}
	default:
		return &OrderRejectedError{Code: code, Message: msg}
	}
}
