package integration

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Authorization errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidTenant is returned when a tenant id does not resolve to a known tenant
	ErrInvalidTenant = errors.New("integration: invalid tenant")
	// ErrInvalidState is returned when an OAuth state token is malformed, expired or replayed
	ErrInvalidState = errors.New("integration: invalid authorization state")
	// ErrNotConnected is returned when the tenant has no stored provider connection
	ErrNotConnected = errors.New("integration: tenant is not connected to the provider")
	// ErrRefreshFailed is returned when the provider rejects the refresh token.
	// The tenant has to re-authorize; callers must not retry.
	ErrRefreshFailed = errors.New("integration: provider rejected the refresh token")
	// ErrCodeExchangeFailed is returned when the provider rejects an authorization code
	ErrCodeExchangeFailed = errors.New("integration: provider rejected the authorization code")
	// ErrAuthExpired is returned when the provider keeps rejecting a freshly refreshed token
	ErrAuthExpired = errors.New("integration: provider authorization expired")
)

// ---------------------------------------------------------------------------
// Provider errors
// ---------------------------------------------------------------------------

var (
	// ErrProviderUnavailable is returned once retries against 429/5xx/transport failures are exhausted
	ErrProviderUnavailable = errors.New("integration: provider unavailable")
	// ErrProviderRequestFailed is returned for non-retryable 4xx responses
	ErrProviderRequestFailed = errors.New("integration: provider request failed")
	// ErrProviderInvalidResponse is returned when a response body cannot be decoded
	// or breaks the pagination contract
	ErrProviderInvalidResponse = errors.New("integration: invalid provider response")
)

// ---------------------------------------------------------------------------
// Run errors
// ---------------------------------------------------------------------------

var (
	ErrRunNotFound       = errors.New("integration: sync run not found")
	ErrInvalidRunMode    = errors.New("integration: invalid run mode")
	ErrInvalidDateRange  = errors.New("integration: invalid date range")
	ErrInvalidTransition = errors.New("integration: invalid run status transition")
	// ErrRunCanceled signals that a cancellation request was observed. It is a
	// clean stop, not a failure.
	ErrRunCanceled = errors.New("integration: sync run canceled")
	// ErrModuleConfig is returned when a module cannot run in the requested mode
	ErrModuleConfig = errors.New("integration: invalid module configuration")
	// ErrCheckpointCommit wraps storage failures while committing a page
	ErrCheckpointCommit = errors.New("integration: checkpoint commit failed")
	// ErrCursorNotFound is returned when no cross-run cursor exists for a module
	ErrCursorNotFound = errors.New("integration: sync cursor not found")
)

// TransformError describes a single provider record that could not be mapped
// into a domain record. It never aborts a page.
type TransformError struct {
	Module     ModuleID
	ExternalID string
	Field      string
	Reason     string
}

// Error implements the error interface
func (e *TransformError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("transform %s: field %s: %s", e.Module, e.Field, e.Reason)
	}
	return fmt.Sprintf("transform %s/%s: field %s: %s", e.Module, e.ExternalID, e.Field, e.Reason)
}

// IsTransformError reports whether err is (or wraps) a *TransformError
func IsTransformError(err error) bool {
	var te *TransformError
	return errors.As(err, &te)
}
