// internal/util/errors.go
package util

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common application-specific errors.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input provided")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateEntry    = errors.New("duplicate entry") // Reused settlement reference, duplicate whitelist entry
	ErrRateUnavailable   = errors.New("conversion rate unavailable")
	ErrPersistence       = errors.New("persistence failure")
	ErrRailFailure       = errors.New("rail rejected the request")
	ErrRailIndeterminate = errors.New("rail outcome indeterminate")
	ErrAlreadyReviewed   = errors.New("transaction already reviewed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotWhitelisted    = errors.New("destination is not whitelisted")
	ErrUnsupported       = errors.New("operation not supported")
	ErrNoSession         = errors.New("no open review session")
)

// ValidationError describes a rejected user input with a corrective message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Invalid builds a ValidationError for the given field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError carries the balance observed when a debit was refused.
type InsufficientFundsError struct {
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, requested %s", e.Balance.String(), e.Requested.String())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Persistence marks err as a store failure. Callers must not assume the write happened.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// IsError reports whether any error in err's chain matches target.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}
