/*
errors.go - Centralized error types for the ledger engine

All business-rule failures are sentinel errors so callers can branch with
errors.Is. Structured variants carry context and Unwrap to the sentinel.
Storage faults are NOT part of this taxonomy; they surface as wrapped
driver errors and map to a generic internal failure at the API boundary.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for operations with amount <= 0.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidType is returned for unknown operation types.
	ErrInvalidType = errors.New("unknown operation type")

	// ErrNotFound is returned when a referenced account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrTxNotFound is returned when a referenced transaction does not exist.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTxNotPending is returned when confirming or failing a transaction
	// that is already terminal. Terminal transactions are immutable.
	ErrTxNotPending = errors.New("transaction is not pending")

	// ErrSelfReferral is returned when an account tries to refer itself.
	ErrSelfReferral = errors.New("self-referral is not allowed")

	// ErrAlreadyAttributed is returned when the referee already has a referrer.
	ErrAlreadyAttributed = errors.New("referee already attributed")

	// ErrUnknownReferrer is returned when the referrer account does not exist.
	ErrUnknownReferrer = errors.New("unknown referrer")

	// ErrUnauthorized is returned when a caller lacks admin privilege.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBusy is returned when an account lock cannot be acquired within
	// the configured wait. The request failed cleanly; retrying is safe.
	ErrBusy = errors.New("account busy")

	// ErrBonusAlreadyClaimed is returned when the one-time card signup
	// bonus is requested twice for the same account.
	ErrBonusAlreadyClaimed = errors.New("card bonus already claimed")

	// ErrDuplicate is returned by stores when inserting a record whose
	// key already exists.
	ErrDuplicate = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports the shortfall of a rejected withdrawal.
type InsufficientFundsError struct {
	UserID    string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a business-rule rejection of
// the caller's request, as opposed to an internal fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, ErrAlreadyAttributed) ||
		errors.Is(err, ErrUnknownReferrer) ||
		errors.Is(err, ErrTxNotPending) ||
		errors.Is(err, ErrBonusAlreadyClaimed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTxNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
