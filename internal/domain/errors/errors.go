package errors

import (
	"errors"
	"fmt"
)

var (
	// Purchase errors
	ErrPurchaseNotCached      = errors.New("purchase not found in cache")
	ErrInvalidSignature       = errors.New("purchase signature verification failed")
	ErrInvalidStateTransition = errors.New("invalid purchase state transition")
	ErrDuplicatePurchase      = errors.New("purchase token already cached")

	// Entitlement errors
	ErrEntitlementNotFound = errors.New("entitlement not found")
	ErrUnknownEntitlement  = errors.New("unknown entitlement kind")

	// Catalog errors
	ErrUnknownProduct = errors.New("product not in catalog")

	// Billing service errors
	ErrBillingNotReady       = errors.New("billing service connection not ready")
	ErrFeatureUnsupported    = errors.New("billing feature not supported")
	ErrConsumeFailed         = errors.New("consume request rejected by billing service")
	ErrConnectionExhausted   = errors.New("billing connection retries exhausted")
	ErrBillingUnavailable    = errors.New("billing service unavailable")

	// Verification server errors
	ErrServerUnavailable = errors.New("verification server unavailable")
	ErrServerRejected    = errors.New("verification server rejected request")
	ErrServerTimeout     = errors.New("verification server request timeout")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
