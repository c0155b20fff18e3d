package errors

import (
	"errors"
	"fmt"
)

var (
	// Sale errors
	ErrSaleNotFound           = errors.New("sale not found")
	ErrSaleAlreadyExists      = errors.New("sale already exists")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrEmptyCart              = errors.New("cart is empty")

	// Payment errors
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment record already exists")
	ErrChargeRejected       = errors.New("charge rejected by terminal")
	ErrTerminalUnavailable  = errors.New("payment terminal unavailable")

	// Receipt errors
	ErrReceiptNotFound   = errors.New("receipt not found")
	ErrReceiptNotPrinted = errors.New("receipt has not been printed")
	ErrPrinterRejected   = errors.New("print job rejected by printer")

	// Outbox errors
	ErrOutboxEntryNotFound = errors.New("outbox entry not found")

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
