package fallback

import (
	"errors"
	"fmt"
)

// Kind is the closed set of provider failure classes.
type Kind int

const (
	// RateLimited indicates too many requests; the only kind retried in place
	RateLimited Kind = iota + 1

	// QuotaExceeded indicates the account has no remaining credit
	QuotaExceeded

	// BadRequest indicates the provider rejected the request shape
	BadRequest

	// AccessDenied indicates credential or permission issues
	AccessDenied

	// ResponseError covers every other provider failure, including
	// malformed responses and transport errors
	ResponseError
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case QuotaExceeded:
		return "quota_exceeded"
	case BadRequest:
		return "bad_request"
	case AccessDenied:
		return "access_denied"
	case ResponseError:
		return "response_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ProviderError wraps provider failures with a normalized kind.
type ProviderError struct {
	Kind       Kind
	ProviderID string
	Message    string
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

func NewProviderError(kind Kind, providerID, message string, underlying error) *ProviderError {
	return &ProviderError{Kind: kind, ProviderID: providerID, Message: message, Underlying: underlying}
}

// KindOf extracts the failure kind. Errors that are not provider errors
// count as ResponseError.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ResponseError
}

// retryInPlace reports whether a failure is retried on the same provider.
func retryInPlace(k Kind) bool {
	switch k {
	case RateLimited:
		return true
	default:
		return false
	}
}

// advance reports whether the chain moves on to the next provider after a
// failure of this kind. Every kind advances.
func advance(k Kind) bool {
	switch k {
	case RateLimited, QuotaExceeded, BadRequest, AccessDenied, ResponseError:
		return true
	default:
		return true
	}
}

var (
	ErrNoProviders        = errors.New("no providers configured in chain")
	ErrAllProvidersFailed = errors.New("all providers failed")
)
