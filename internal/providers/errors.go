package providers

import (
	"errors"
	"fmt"
)

// FailoverReason classifies why a provider call failed, and whether the
// manager should fail over to another provider or surface the error.
type FailoverReason string

const (
	ReasonRateLimited    FailoverReason = "rate-limited"
	ReasonUnavailable    FailoverReason = "unavailable"
	ReasonAuthFailed     FailoverReason = "auth-failed"
	ReasonInvalidRequest FailoverReason = "invalid-request"
	ReasonTimeout        FailoverReason = "timeout"
	ReasonUnknown        FailoverReason = "unknown"
)

// IsRetryable reports whether a request that failed for this reason is
// worth retrying against the same provider.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimited, ReasonTimeout, ReasonUnavailable:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether the manager should try a different
// provider after a request fails for this reason.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case ReasonAuthFailed, ReasonUnavailable, ReasonRateLimited:
		return true
	default:
		return false
	}
}

// ProviderError wraps a transport-level failure with the provider name
// and a classified reason, so the manager can decide whether to retry
// or fail over without parsing error strings at the call site.
type ProviderError struct {
	Provider string
	Reason   FailoverReason
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with the given provider name and reason.
func NewProviderError(provider string, reason FailoverReason, err error) *ProviderError {
	return &ProviderError{Provider: provider, Reason: reason, Err: err}
}

// AsProviderError extracts a *ProviderError from err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Sentinel errors for the manager's own error taxonomy.
var (
	ErrNoProvidersAvailable = errors.New("providers: no providers available")
	ErrNoActiveProvider     = errors.New("providers: no active provider configured")
	ErrUnknownProvider      = errors.New("providers: unknown provider name")
	ErrProviderExists       = errors.New("providers: provider name already registered")
)
