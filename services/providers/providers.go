// Package providers contains one SourceAdapter per upstream market
// data API. Each adapter attaches its own auth, maps provider
// timestamps to UTC and converts provider quirks into the typed
// errors of the marketdata package.
package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tradermind_backend/services/marketdata"
)

const userAgent = "TraderMind/1.0"

// newHTTPClient builds the per-adapter HTTP client. The overall
// timeout stays generous; per-call deadlines come from the caller's
// context.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}

// parseFloatField parses a required string-encoded numeric field,
// raising a SchemaError when missing or malformed rather than
// defaulting.
func parseFloatField(provider, field, value string) (float64, error) {
	if value == "" {
		return 0, &marketdata.SchemaError{
			Provider: provider,
			Detail:   fmt.Sprintf("missing field %q", field),
		}
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, &marketdata.SchemaError{
			Provider: provider,
			Detail:   fmt.Sprintf("field %q is not numeric: %q", field, value),
		}
	}
	return f, nil
}

// classifyStatus converts a non-200 HTTP status into a typed error.
func classifyStatus(provider string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &marketdata.AuthExpiredError{Provider: provider}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &marketdata.RateLimitError{Provider: provider, RetryAfter: resp.Header.Get("Retry-After")}
	default:
		return &marketdata.NetworkError{
			Provider: provider,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
}
