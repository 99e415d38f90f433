package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cases callers branch on.
var (
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")
	ErrInvoiceCanceled        = errors.New("invoice is canceled")
	ErrUnknownPattern         = errors.New("unknown numbering pattern")
	ErrMissingAbbrResolver    = errors.New("numbering pattern requires a tenant abbreviation resolver")
	ErrInvalidTransition      = errors.New("invalid status transition")
)

// ValidationError reports malformed or out-of-range input. It is raised
// before any side effect and names the offending field so tests can assert
// on it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %q: %s", e.Field, e.Message)
}

func validationErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AllocationError reports that a serial number could not be obtained. The
// invoice creation that triggered the allocation must not persist anything
// when this is returned.
type AllocationError struct {
	TenantID string
	Pattern  string
	Err      error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("serial allocation failed for tenant %s (pattern %q): %v", e.TenantID, e.Pattern, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }
