/*
Package billing is the billing-cycle and recurrence scheduling engine.

PURPOSE:
  Computes statement periods for revolving (credit card) accounts, closes
  statements, settles them through autopay, and generates transactions from
  monthly recurrences. Every operation is a pure function of (entity, date)
  plus idempotent side effects, so schedulers and API calls can retry freely.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money:      decimal amount + ISO currency code
  - Account:    ledger account; credit cards carry a BillingConfig
  - Statement:  one billing period's balance and settlement state
  - Recurrence: monthly template for an income/expense transaction
  - Generation: idempotence record for (recurrence, period)

COMPONENTS:
  cycle.go:      CycleCalculator  (periods, closing and due dates)
  statement.go:  StatementManager (OPEN -> CLOSED -> PARTIAL|PAID)
  recurrence.go: RecurrenceEngine (at most one transaction per period)
  autopay.go:    AutopayDispatcher (batch settlement)
  engine.go:     Engine façade exposing the operations

COLLABORATORS:
  ledger.go: Ledger (sums, transaction creation, transfers)
  store.go:  Account / Statement / Recurrence repositories
  calendar:  business-day oracle for holiday adjustment

SEE ALSO:
  - billing/store: in-memory implementation of the collaborators
  - store/sqlite:  SQLite implementation of the collaborators
*/
package billing

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// MONEY
// =============================================================================

var currencyCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Money is an amount in a single currency. Conversion is never done here.
type Money struct {
	Value    decimal.Decimal
	Currency string
}

func NewMoney(value decimal.Decimal, currency string) Money {
	return Money{Value: value, Currency: currency}
}

// ParseMoney parses a decimal string.
func ParseMoney(value, currency string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return Money{Value: d, Currency: currency}, nil
}

// ValidateCurrency checks for a 3-letter upper-case ISO 4217 code.
func ValidateCurrency(code string) error {
	if !currencyCodeRe.MatchString(code) {
		return fmt.Errorf("invalid currency code %q: must be exactly 3 uppercase letters", code)
	}
	return nil
}

func (m Money) Zero() Money { return Money{Value: decimal.Zero, Currency: m.Currency} }

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }

func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value), Currency: m.Currency} }

func (m Money) IsZero() bool { return m.Value.IsZero() }

func (m Money) IsPositive() bool { return m.Value.IsPositive() }

func (m Money) LessThan(o Money) bool { return m.Value.LessThan(o.Value) }

func (m Money) String() string { return m.Value.StringFixed(2) + " " + m.Currency }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type StatementID string
type RecurrenceID string
type CategoryID string

// TransactionRef identifies a transaction created by the ledger collaborator.
type TransactionRef string

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountKind string

const (
	AccountCreditCard AccountKind = "CREDIT_CARD"
	AccountBank       AccountKind = "BANK"
	AccountCash       AccountKind = "CASH"
	AccountInvestment AccountKind = "INVESTMENT"
)

func (k AccountKind) Valid() bool {
	switch k {
	case AccountCreditCard, AccountBank, AccountCash, AccountInvestment:
		return true
	}
	return false
}

// Account is the engine's view of a ledger account. Billing is set only for
// revolving instruments (credit cards) and nil otherwise.
type Account struct {
	ID           AccountID
	Name         string
	Kind         AccountKind
	CurrencyCode string
	Billing      *BillingConfig
}

// BillingConfig drives statement periods and settlement.
type BillingConfig struct {
	ClosingDay       calendar.DayOfMonth
	DueDay           calendar.DayOfMonth
	DueMonthOffset   int // months after the closing month; 0, 1 or 2
	DueHolidayPolicy calendar.HolidayPolicy
	AutopayEnabled   bool
	AutopayAccount   AccountID // weak reference, resolved by id
}

// MaxDueMonthOffset bounds BillingConfig.DueMonthOffset.
const MaxDueMonthOffset = 2

// IsBillable reports whether the account has a billing cycle.
func (a Account) IsBillable() bool { return a.Billing != nil }

// HasAutopay reports whether statements are settled automatically.
func (a Account) HasAutopay() bool {
	return a.Billing != nil && a.Billing.AutopayEnabled && a.Billing.AutopayAccount != ""
}

// =============================================================================
// STATEMENT
// =============================================================================

type StatementStatus string

const (
	StatusOpen    StatementStatus = "OPEN"
	StatusClosed  StatementStatus = "CLOSED"
	StatusPartial StatementStatus = "PARTIAL"
	StatusPaid    StatementStatus = "PAID"
)

// CanTransitionTo enforces OPEN -> CLOSED -> {PARTIAL | PAID}.
func (s StatementStatus) CanTransitionTo(next StatementStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusClosed
	case StatusClosed:
		return next == StatusPartial || next == StatusPaid
	}
	return false
}

// Statement is one billing period of one account. Periods of the same
// account are contiguous and never overlap.
type Statement struct {
	ID           StatementID
	AccountID    AccountID
	PeriodStart  calendar.Date
	PeriodEnd    calendar.Date
	ClosingDate  calendar.Date // == PeriodEnd, never holiday-adjusted
	DueDate      calendar.Date // holiday-adjusted
	Balance      Money
	PaidAmount   Money
	Status       StatementStatus
	PlannedTxRef TransactionRef
	PaidTxRef    TransactionRef
	ClosedAt     time.Time
	SettledAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s Statement) Period() calendar.Period {
	return calendar.Period{Start: s.PeriodStart, End: s.PeriodEnd}
}

// IsDueUnpaid reports whether autopay should pick the statement up on asOf.
func (s Statement) IsDueUnpaid(asOf calendar.Date) bool {
	return s.Status == StatusClosed && s.PaidTxRef == "" && s.DueDate.BeforeOrEqual(asOf)
}

// =============================================================================
// RECURRENCE
// =============================================================================

type RecurrenceKind string

const (
	RecurrenceIncome  RecurrenceKind = "INCOME"
	RecurrenceExpense RecurrenceKind = "EXPENSE"
)

func (k RecurrenceKind) TransactionKind() TransactionKind {
	if k == RecurrenceIncome {
		return TxIncome
	}
	return TxExpense
}

// Recurrence generates one transaction per calendar month on DayOfMonth,
// shifted by HolidayPolicy.
type Recurrence struct {
	ID            RecurrenceID
	Name          string
	AccountID     AccountID
	CategoryID    CategoryID // optional
	Kind          RecurrenceKind
	Amount        Money
	DayOfMonth    calendar.DayOfMonth
	HolidayPolicy calendar.HolidayPolicy
	Active        bool

	// LastGenerated is the generation marker: the latest period a
	// transaction was generated for. Advanced only by the engine.
	LastGenerated calendar.YearMonth
}

// Generation records that a recurrence produced its transaction for a period.
type Generation struct {
	ID             string
	RecurrenceID   RecurrenceID
	Period         calendar.YearMonth
	TransactionRef TransactionRef
	OccurredOn     calendar.Date
	CreatedAt      time.Time
}
