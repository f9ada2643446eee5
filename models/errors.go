package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionNotFound is returned when a connection does not exist or is
	// not visible to the requesting tenant.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrCursorNotFound is returned when a sync cursor is updated before it has
	// been initialized with GetOrCreate.
	ErrCursorNotFound = errors.New("sync cursor not found")

	// ErrEventNotFound is returned when a webhook event id is unknown.
	ErrEventNotFound = errors.New("webhook event not found")

	// ErrInvalidResourceType is returned for resource types outside the closed enum.
	ErrInvalidResourceType = errors.New("invalid resource type")

	// ErrReauthorizationRequired signals that the refresh token is permanently
	// invalid and the tenant must complete a fresh OAuth flow. It is terminal:
	// callers must not retry.
	ErrReauthorizationRequired = errors.New("provider authorization expired, reconnect required")

	// ErrInvalidSignature is returned when a webhook payload fails HMAC verification.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

// DecryptionError indicates a stored secret could not be decrypted: the
// ciphertext was tampered with or the encryption key changed. The associated
// connection is unusable until the tenant re-authorizes.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("secret decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// TokenExchangeError indicates the authorization-code exchange failed.
// Codes are single-use, so the exchange is never retried.
type TokenExchangeError struct {
	StatusCode   int
	ProviderCode string
	Err          error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed (status %d, code %q): %v", e.StatusCode, e.ProviderCode, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError indicates a refresh-token grant failed.
type TokenRefreshError struct {
	StatusCode   int
	ProviderCode string
	Err          error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed (status %d, code %q): %v", e.StatusCode, e.ProviderCode, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// PermanentlyInvalid reports whether the refresh token is dead for good, as
// opposed to a transient provider failure.
func (e *TokenRefreshError) PermanentlyInvalid() bool {
	return e.ProviderCode == "invalid_grant"
}

// InvalidWebhookPayloadError indicates the webhook body was structurally
// malformed (missing or broken top-level events array).
type InvalidWebhookPayloadError struct {
	Reason string
}

func (e *InvalidWebhookPayloadError) Error() string {
	return fmt.Sprintf("invalid webhook payload: %s", e.Reason)
}
