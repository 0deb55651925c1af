package billing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrUnresolvedCorrelation = errors.New("unresolved billing correlation")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidPlan           = errors.New("invalid plan")
	ErrAlreadySubscribed     = errors.New("already subscribed")
	ErrNoCustomer            = errors.New("no billing customer for user")
	ErrNoSubscription        = errors.New("no subscription for user")
	ErrSubscriptionNotFound  = errors.New("subscription not found at provider")
	ErrConcurrentUpdate      = errors.New("entitlement changed concurrently, retries exhausted")
)

// ConfigurationError means the billing integration is not set up. It is not
// retryable and should point the user at support.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("billing not configured: %s is missing", e.Setting)
	}
	return fmt.Sprintf("billing not configured: %s: %s", e.Setting, e.Reason)
}

// ProviderError wraps a failed call to the billing provider.
type ProviderError struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("billing provider %s failed (%d %s): %v", e.Op, e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("billing provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether trying again later can succeed.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusConflict:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// PersistenceError wraps a store failure that happened after a decision was made.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("billing store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
