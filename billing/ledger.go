package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// LEDGER COLLABORATOR
// =============================================================================

type TransactionKind string

const (
	TxExpense        TransactionKind = "EXPENSE"
	TxIncome         TransactionKind = "INCOME"
	TxTransfer       TransactionKind = "TRANSFER"
	TxPlannedPayment TransactionKind = "PLANNED_PAYMENT"
)

// TransactionSpec describes a single-account transaction to record.
type TransactionSpec struct {
	AccountID      AccountID
	CategoryID     CategoryID
	Kind           TransactionKind
	Amount         Money
	OccurredOn     calendar.Date
	Notes          string
	StatementID    StatementID
	RecurrenceID   RecurrenceID
	IdempotencyKey string
}

// TransferRequest moves money between two accounts. With AllowPartial the
// ledger moves whatever is available and reports the shortfall as an
// *InsufficientFundsError whose Moved amount is positive.
type TransferRequest struct {
	From           AccountID
	To             AccountID
	Amount         Money
	OccurredOn     calendar.Date
	Notes          string
	StatementID    StatementID
	IdempotencyKey string
	AllowPartial   bool
}

// Ledger is the transaction store the engine reads from and writes to.
// Every write carries an idempotency key; a repeated key yields a
// *DuplicateTransactionError referencing the existing transaction.
type Ledger interface {
	// SumTransactions returns the statement balance of accountID over the
	// inclusive range [from, to]: EXPENSE minus INCOME. Transfers and planned
	// payments do not count.
	SumTransactions(ctx context.Context, accountID AccountID, from, to calendar.Date) (decimal.Decimal, error)

	CreateTransaction(ctx context.Context, spec TransactionSpec) (TransactionRef, error)

	Transfer(ctx context.Context, req TransferRequest) (TransactionRef, error)
}

// Transaction is a recorded ledger entry. Stores persist it; the engine only
// sees TransactionRefs.
type Transaction struct {
	Ref              TransactionRef
	AccountID        AccountID
	CounterAccountID AccountID // TRANSFER destination
	CategoryID       CategoryID
	Kind             TransactionKind
	Amount           Money
	OccurredOn       calendar.Date
	Notes            string
	StatementID      StatementID
	RecurrenceID     RecurrenceID
	IdempotencyKey   string
	CreatedAt        time.Time
}

// StatementDelta is the contribution of a transaction to a statement balance.
func StatementDelta(kind TransactionKind, amount decimal.Decimal) decimal.Decimal {
	switch kind {
	case TxExpense:
		return amount
	case TxIncome:
		return amount.Neg()
	}
	return decimal.Zero
}

// FundsDelta is the contribution of a transaction to the spendable balance of
// account: income and incoming transfers add, expenses and outgoing
// transfers subtract. Planned payments are forecasts and never move funds.
func FundsDelta(tx Transaction, account AccountID) decimal.Decimal {
	switch tx.Kind {
	case TxIncome:
		if tx.AccountID == account {
			return tx.Amount.Value
		}
	case TxExpense:
		if tx.AccountID == account {
			return tx.Amount.Value.Neg()
		}
	case TxTransfer:
		if tx.AccountID == account {
			return tx.Amount.Value.Neg()
		}
		if tx.CounterAccountID == account {
			return tx.Amount.Value
		}
	}
	return decimal.Zero
}

// =============================================================================
// IDEMPOTENCY KEYS
// =============================================================================

func plannedPaymentKey(accountID AccountID, periodEnd calendar.Date) string {
	return "statement:" + string(accountID) + ":" + periodEnd.String() + ":planned"
}

func autopayKey(id StatementID) string {
	return "autopay:" + string(id)
}

func recurrenceKey(id RecurrenceID, period calendar.YearMonth) string {
	return "recurrence:" + string(id) + ":" + period.String()
}
