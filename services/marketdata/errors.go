package marketdata

import (
	"errors"
	"fmt"
)

// AuthError indicates bad credentials or repeated one-time-code rejection.
// It is terminal for the login attempt and triggers fallback.
type AuthError struct {
	Provider string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Reason)
}

// AuthExpiredError indicates the provider rejected a previously valid token.
type AuthExpiredError struct {
	Provider string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("%s session token expired or invalidated", e.Provider)
}

// RateLimitError indicates the provider signaled throttling.
type RateLimitError struct {
	Provider   string
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("%s rate limited (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// NetworkError indicates a timeout or connection failure.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s network error: %v", e.Provider, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// SchemaError indicates an unexpected payload shape. It is never silently
// coerced to a default value; the orchestrator treats it as a failure.
type SchemaError struct {
	Provider string
	Detail   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s unexpected payload: %s", e.Provider, e.Detail)
}

// ErrTOTPRejected marks a login failure caused by the one-time code
// alone, which may just be clock skew. Login retries the adjacent
// time window before giving up.
var ErrTOTPRejected = errors.New("one-time code rejected")

// ErrAllSourcesExhausted is returned when every adapter failed or is
// cooling down and no usable cached quote exists.
var ErrAllSourcesExhausted = errors.New("all data sources exhausted")

// ErrNotSupported is returned by an adapter for operations the provider
// has no endpoint for.
var ErrNotSupported = errors.New("operation not supported by provider")

// IsAdapterFailure reports whether err is one of the typed adapter errors
// that should advance the fallback chain.
func IsAdapterFailure(err error) bool {
	var netErr *NetworkError
	var rateErr *RateLimitError
	var schemaErr *SchemaError
	var authErr *AuthError
	var expiredErr *AuthExpiredError
	return errors.As(err, &netErr) ||
		errors.As(err, &rateErr) ||
		errors.As(err, &schemaErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &expiredErr)
}
