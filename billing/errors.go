/*
errors.go - Error kinds of the billing engine

ERROR CATEGORIES:
  1. Configuration errors - invalid account / recurrence setup, rejected
     when the configuration is saved, not at run time
  2. Calendar errors     - business-day walk exceeded its cap
  3. Ledger errors       - insufficient funds, currency mismatch; recovered
     per statement as a PARTIAL or failed outcome, never abort a batch
  4. Lookup / state errors - not found, not billable, not settleable

Duplicate idempotency keys are NOT surfaced to callers: the engine treats
them as the success they represent.
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrConfiguration = errors.New("configuration error")

	ErrNotFound = errors.New("not found")

	// ErrNotBillable is returned when a billing operation targets an account
	// without a billing cycle.
	ErrNotBillable = errors.New("account has no billing cycle")

	// ErrNotSettleable is returned when settle preconditions do not hold.
	ErrNotSettleable = errors.New("statement cannot be settled")

	// ErrPeriodSuperseded is returned when an OPEN statement is requested for a
	// period older than the account's current OPEN statement.
	ErrPeriodSuperseded = errors.New("period precedes the open statement")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCurrencyMismatch  = errors.New("currency mismatch")

	// ErrDuplicateIdempotencyKey is returned by the ledger when a write with
	// the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateStatement is returned by stores for a second statement with
	// the same (account, period end).
	ErrDuplicateStatement = errors.New("statement already exists for period")

	// ErrDuplicateGeneration is returned by stores for a second generation
	// record with the same (recurrence, period).
	ErrDuplicateGeneration = errors.New("recurrence already generated for period")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConfigurationError names the offending field.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("configuration error: %s=%v: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

func configError(field string, value any, err error) error {
	return &ConfigurationError{Field: field, Value: value, Reason: err.Error(), Err: err}
}

func configReason(field string, value any, reason string) error {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientFundsError reports a transfer the source could not cover.
// When Moved is positive the ledger committed a partial transfer under Ref.
type InsufficientFundsError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
	Moved     decimal.Decimal
	Ref       TransactionRef
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %s, requested %s, moved %s",
		e.AccountID, e.Available.StringFixed(2), e.Requested.StringFixed(2), e.Moved.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Partial reports whether some money was moved.
func (e *InsufficientFundsError) Partial() bool { return e.Moved.IsPositive() }

// DuplicateTransactionError returns the transaction already recorded under Key.
type DuplicateTransactionError struct {
	Key    string
	Ref    TransactionRef
	Amount decimal.Decimal
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("duplicate idempotency key %q (tx: %s)", e.Key, e.Ref)
}

func (e *DuplicateTransactionError) Unwrap() error { return ErrDuplicateIdempotencyKey }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsConfigurationError(err error) bool { return errors.Is(err, ErrConfiguration) }

func IsCalendarError(err error) bool { return errors.Is(err, calendar.ErrAdjustmentLimit) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsLedgerError returns true for money-movement failures scoped to one entity.
func IsLedgerError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrCurrencyMismatch)
}

// IsClientError returns true if the error is due to invalid caller input or state.
func IsClientError(err error) bool {
	return IsConfigurationError(err) ||
		errors.Is(err, ErrNotBillable) ||
		errors.Is(err, ErrNotSettleable) ||
		errors.Is(err, ErrPeriodSuperseded)
}
