package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// OPTIONS
// =============================================================================

// DefaultConcurrency bounds in-flight entities in batch operations.
const DefaultConcurrency = 4

type Options struct {
	// Calendar is the business-day oracle. Defaults to a Saturday/Sunday
	// weekend with no holidays.
	Calendar calendar.BusinessDayCalendar

	// MaxAdjustSteps caps the holiday walk. Defaults to calendar.DefaultMaxSteps.
	MaxAdjustSteps int

	Notifier Notifier
	Logger   *slog.Logger

	// Concurrency bounds parallel entities in batch operations.
	Concurrency int

	// AllowPartialAutopay lets the ledger move less than the balance.
	AllowPartialAutopay bool

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Calendar == nil {
		o.Calendar = calendar.NewWeekdayCalendar(nil)
	}
	if o.MaxAdjustSteps <= 0 {
		o.MaxAdjustSteps = calendar.DefaultMaxSteps
	}
	if o.Notifier == nil {
		o.Notifier = NopNotifier{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine wires the components over one store and one ledger and exposes the
// operations used by the API layer and the scheduler.
type Engine struct {
	store      Store
	ledger     Ledger
	logger     *slog.Logger
	Cycles     *CycleCalculator
	Statements *StatementManager
	Recurrence *RecurrenceEngine
	Autopay    *AutopayDispatcher
}

func NewEngine(store Store, ledger Ledger, opts Options) *Engine {
	opts = opts.withDefaults()
	adjuster := &calendar.Adjuster{Calendar: opts.Calendar, MaxSteps: opts.MaxAdjustSteps}
	cycles := NewCycleCalculator(adjuster)
	statements := NewStatementManager(store, store, ledger, cycles, opts)
	return &Engine{
		store:      store,
		ledger:     ledger,
		logger:     opts.Logger,
		Cycles:     cycles,
		Statements: statements,
		Recurrence: NewRecurrenceEngine(store, ledger, adjuster, opts),
		Autopay:    NewAutopayDispatcher(store, store, statements, opts),
	}
}

// Store returns the backing store.
func (e *Engine) Store() Store { return e.store }

// Ledger returns the ledger collaborator.
func (e *Engine) Ledger() Ledger { return e.ledger }

// ComputeCycle returns the cycle containing ref. Read-only.
func (e *Engine) ComputeCycle(ctx context.Context, accountID AccountID, ref calendar.Date) (Cycle, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return Cycle{}, err
	}
	if !acct.IsBillable() {
		return Cycle{}, fmt.Errorf("%w: %s", ErrNotBillable, accountID)
	}
	cycle, err := e.Cycles.Compute(*acct.Billing, ref)
	if err != nil {
		return Cycle{}, err
	}
	cycle.AccountID = acct.ID
	return cycle, nil
}

func (e *Engine) CloseStatement(ctx context.Context, accountID AccountID, date calendar.Date) (*Statement, error) {
	return e.Statements.Close(ctx, accountID, date)
}

func (e *Engine) EnsureStatement(ctx context.Context, accountID AccountID, date calendar.Date) (*Statement, error) {
	return e.Statements.Ensure(ctx, accountID, date)
}

func (e *Engine) SettleStatement(ctx context.Context, id StatementID, date calendar.Date) (*Statement, error) {
	return e.Statements.Settle(ctx, id, date)
}

func (e *Engine) CloseDueStatements(ctx context.Context, date calendar.Date) (Report, error) {
	return e.Statements.CloseDue(ctx, date)
}

func (e *Engine) RunAutopay(ctx context.Context, date calendar.Date) (Report, error) {
	return e.Autopay.Run(ctx, date)
}

func (e *Engine) RunRecurrencesForDate(ctx context.Context, date calendar.Date) (Report, error) {
	return e.Recurrence.RunForDate(ctx, date)
}

// ListStatements returns an account's statements ordered by period.
func (e *Engine) ListStatements(ctx context.Context, accountID AccountID) ([]Statement, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListStatements(ctx, accountID)
}

// =============================================================================
// USER TRANSACTIONS
// =============================================================================

// RecordTransaction books an EXPENSE or INCOME entered by the user. A repeated
// idempotency key returns the existing reference with created == false.
func (e *Engine) RecordTransaction(ctx context.Context, spec TransactionSpec) (TransactionRef, bool, error) {
	if spec.Kind != TxExpense && spec.Kind != TxIncome {
		return "", false, configReason("kind", string(spec.Kind), "must be EXPENSE or INCOME")
	}
	if spec.OccurredOn.IsZero() {
		return "", false, configReason("occurred_on", nil, "required")
	}
	ref, err := e.ledger.CreateTransaction(ctx, spec)
	return settleDuplicate(ref, err)
}

// RecordTransfer moves money between two accounts in full or not at all.
func (e *Engine) RecordTransfer(ctx context.Context, req TransferRequest) (TransactionRef, bool, error) {
	if req.From == req.To {
		return "", false, configReason("to_account_id", string(req.To), "must differ from the source account")
	}
	if req.OccurredOn.IsZero() {
		return "", false, configReason("occurred_on", nil, "required")
	}
	req.AllowPartial = false
	ref, err := e.ledger.Transfer(ctx, req)
	return settleDuplicate(ref, err)
}

func settleDuplicate(ref TransactionRef, err error) (TransactionRef, bool, error) {
	var dup *DuplicateTransactionError
	if errors.As(err, &dup) {
		return dup.Ref, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ref, true, nil
}
