package provider

import (
	"fmt"
	"time"
)

// APIError is a non-2xx response from the provider API. RetryAfter carries the
// provider's hint from a 429 response when present.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: status %d", e.StatusCode)
}

// Temporary reports whether the error is a transient condition worth retrying:
// a rate limit or a provider-side failure. Anything else indicates a
// non-transient client problem (bad query, revoked authorization) and must be
// surfaced immediately.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
