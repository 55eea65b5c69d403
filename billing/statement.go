package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// STATEMENT LIFECYCLE MANAGER
// =============================================================================
//
// State machine: OPEN -> CLOSED -> {PARTIAL | PAID}. Nothing returns to OPEN.
//
// Mutual exclusion is keyed by (account, period end) for closing and by
// statement id for settlement. Stores back the in-process locks with unique
// constraints on (account, period end) and on ledger idempotency keys, so a
// second process racing on the same period observes the first one's write.

// statementNamespace seeds deterministic statement ids.
var statementNamespace = uuid.MustParse("6f1c1a3e-9d7b-4a53-8c1e-2b8f0f4d5a11")

// StatementIDFor derives the id of an account's statement ending on periodEnd.
// Every writer computes the same id for the same period.
func StatementIDFor(accountID AccountID, periodEnd calendar.Date) StatementID {
	return StatementID(uuid.NewSHA1(statementNamespace, []byte(string(accountID)+"|"+periodEnd.String())).String())
}

type StatementManager struct {
	accounts     AccountRepository
	statements   StatementRepository
	ledger       Ledger
	cycles       *CycleCalculator
	notifier     Notifier
	logger       *slog.Logger
	locks        *keyedMutex
	now          func() time.Time
	allowPartial bool
	concurrency  int
}

func NewStatementManager(accounts AccountRepository, statements StatementRepository, ledger Ledger, cycles *CycleCalculator, opts Options) *StatementManager {
	opts = opts.withDefaults()
	return &StatementManager{
		accounts:     accounts,
		statements:   statements,
		ledger:       ledger,
		cycles:       cycles,
		notifier:     opts.Notifier,
		logger:       opts.Logger.With("component", "statements"),
		locks:        newKeyedMutex(),
		now:          opts.Now,
		allowPartial: opts.AllowPartialAutopay,
		concurrency:  opts.Concurrency,
	}
}

// billableAccount loads an account and checks it has a billing cycle.
func (m *StatementManager) billableAccount(ctx context.Context, id AccountID) (*Account, error) {
	acct, err := m.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acct.IsBillable() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotBillable, id, acct.Kind)
	}
	return acct, nil
}

// =============================================================================
// CLOSE
// =============================================================================

// Close closes the statement whose period contains asOf, creating it first
// if needed. Closing an already CLOSED (or settled) statement is a no-op that
// returns it unchanged.
func (m *StatementManager) Close(ctx context.Context, accountID AccountID, asOf calendar.Date) (*Statement, error) {
	stmt, _, err := m.closeAccount(ctx, accountID, asOf)
	return stmt, err
}

// closeAccount closes an older OPEN statement of the account before closing
// the period containing asOf, so no OPEN statement is left behind.
func (m *StatementManager) closeAccount(ctx context.Context, accountID AccountID, asOf calendar.Date) (*Statement, bool, error) {
	unlock := m.locks.Lock("open:" + string(accountID))
	defer unlock()

	open, err := m.statements.FindOpenStatement(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	if open != nil && open.PeriodEnd.Before(asOf) {
		if _, _, err := m.close(ctx, accountID, open.PeriodEnd); err != nil {
			return nil, false, fmt.Errorf("close previous statement %s: %w", open.ID, err)
		}
	}
	return m.close(ctx, accountID, asOf)
}

// close reports whether this call performed the transition. Callers hold
// the account's "open:" lock.
func (m *StatementManager) close(ctx context.Context, accountID AccountID, asOf calendar.Date) (*Statement, bool, error) {
	acct, err := m.billableAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	cycle, err := m.cycles.Compute(*acct.Billing, asOf)
	if err != nil {
		return nil, false, err
	}
	cycle.AccountID = acct.ID

	unlock := m.locks.Lock(periodLockKey(acct.ID, cycle.PeriodEnd))
	defer unlock()

	stmt, err := m.statements.FindStatementCovering(ctx, acct.ID, asOf)
	if err != nil {
		return nil, false, err
	}
	if stmt != nil && stmt.Status != StatusOpen {
		return stmt, false, nil
	}

	creating := stmt == nil
	if creating {
		fresh, err := m.newStatement(ctx, acct, cycle, asOf)
		if err != nil {
			return nil, false, err
		}
		stmt = &fresh
	}
	return m.closeLocked(ctx, acct, stmt, creating)
}

func (m *StatementManager) closeLocked(ctx context.Context, acct *Account, stmt *Statement, creating bool) (*Statement, bool, error) {
	sum, err := m.ledger.SumTransactions(ctx, acct.ID, stmt.PeriodStart, stmt.PeriodEnd)
	if err != nil {
		return nil, false, fmt.Errorf("sum transactions for %s: %w", acct.ID, err)
	}
	balance := NewMoney(sum, acct.CurrencyCode)

	// A non-positive balance owes nothing; no planned payment is recorded.
	if balance.IsPositive() {
		ref, err := m.createPlannedPayment(ctx, acct, stmt, balance)
		if err != nil {
			return nil, false, err
		}
		stmt.PlannedTxRef = ref
	}

	now := m.now()
	stmt.Balance = balance
	stmt.PaidAmount = balance.Zero()
	stmt.Status = StatusClosed
	stmt.ClosedAt = now
	stmt.UpdatedAt = now

	if creating {
		err = m.statements.CreateStatement(ctx, *stmt)
		if errors.Is(err, ErrDuplicateStatement) {
			// Another writer closed the same period first.
			existing, findErr := m.statements.GetStatement(ctx, stmt.ID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
	} else {
		err = m.statements.UpdateStatement(ctx, *stmt)
	}
	if err != nil {
		return nil, false, fmt.Errorf("save statement %s: %w", stmt.ID, err)
	}

	m.logger.Info("statement closed",
		"account_id", string(acct.ID),
		"statement_id", string(stmt.ID),
		"period", stmt.Period().String(),
		"balance", balance.String())
	notify(ctx, m.notifier, m.logger, Event{
		Type:           EventStatementClosed,
		AccountID:      acct.ID,
		StatementID:    stmt.ID,
		TransactionRef: stmt.PlannedTxRef,
		Amount:         balance,
		Date:           stmt.ClosingDate,
	})
	return stmt, true, nil
}

func (m *StatementManager) createPlannedPayment(ctx context.Context, acct *Account, stmt *Statement, balance Money) (TransactionRef, error) {
	ref, err := m.ledger.CreateTransaction(ctx, TransactionSpec{
		AccountID:      acct.ID,
		Kind:           TxPlannedPayment,
		Amount:         balance,
		OccurredOn:     stmt.DueDate,
		Notes:          fmt.Sprintf("Planned payment %s", stmt.Period()),
		StatementID:    stmt.ID,
		IdempotencyKey: plannedPaymentKey(acct.ID, stmt.PeriodEnd),
	})
	var dup *DuplicateTransactionError
	if errors.As(err, &dup) {
		return dup.Ref, nil
	}
	if err != nil {
		return "", fmt.Errorf("create planned payment for %s: %w", stmt.ID, err)
	}
	return ref, nil
}

// newStatement builds an OPEN statement for the cycle containing ref, where
// ref is covered by no existing statement. The period is clamped between the
// neighbouring statements so periods never overlap, even when the closing
// day was reconfigured between cycles. A clamped end moves the closing date
// with it and the due date is resolved again from it.
func (m *StatementManager) newStatement(ctx context.Context, acct *Account, cycle Cycle, ref calendar.Date) (Statement, error) {
	start, end := cycle.PeriodStart, cycle.PeriodEnd
	closing, due := cycle.ClosingDate, cycle.DueDate

	prev, err := m.statements.LatestStatementBefore(ctx, acct.ID, ref)
	if err != nil {
		return Statement{}, err
	}
	if prev != nil && !prev.PeriodEnd.Before(start) {
		start = prev.PeriodEnd.AddDays(1)
	}

	next, err := m.statements.EarliestStatementAfter(ctx, acct.ID, ref)
	if err != nil {
		return Statement{}, err
	}
	if next != nil && !next.PeriodStart.After(end) {
		end = next.PeriodStart.AddDays(-1)
		closing = end
		if due, err = m.cycles.DueDateFor(*acct.Billing, closing); err != nil {
			return Statement{}, err
		}
		m.logger.Warn("statement period clamped by a later statement",
			"account_id", string(acct.ID),
			"statement_id", string(next.ID),
			"period", calendar.Period{Start: start, End: end}.String())
	}

	now := m.now()
	zero := NewMoney(decimal.Zero, acct.CurrencyCode)
	return Statement{
		ID:          StatementIDFor(acct.ID, end),
		AccountID:   acct.ID,
		PeriodStart: start,
		PeriodEnd:   end,
		ClosingDate: closing,
		DueDate:     due,
		Balance:     zero,
		PaidAmount:  zero,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// =============================================================================
// ENSURE
// =============================================================================

// Ensure returns the statement covering d, creating it OPEN when none exists.
// An older OPEN statement is closed first so an account never has two.
func (m *StatementManager) Ensure(ctx context.Context, accountID AccountID, d calendar.Date) (*Statement, error) {
	acct, err := m.billableAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cycle, err := m.cycles.Compute(*acct.Billing, d)
	if err != nil {
		return nil, err
	}
	cycle.AccountID = acct.ID

	unlockAccount := m.locks.Lock("open:" + string(acct.ID))
	defer unlockAccount()

	if existing, err := m.statements.FindStatementCovering(ctx, acct.ID, d); err != nil || existing != nil {
		return existing, err
	}

	open, err := m.statements.FindOpenStatement(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		if open.PeriodEnd.After(cycle.PeriodEnd) {
			return nil, fmt.Errorf("%w: open statement %s ends %s", ErrPeriodSuperseded, open.ID, open.PeriodEnd)
		}
		if _, _, err := m.close(ctx, acct.ID, open.PeriodEnd); err != nil {
			return nil, fmt.Errorf("close previous statement %s: %w", open.ID, err)
		}
	}

	unlock := m.locks.Lock(periodLockKey(acct.ID, cycle.PeriodEnd))
	defer unlock()

	stmt, err := m.newStatement(ctx, acct, cycle, d)
	if err != nil {
		return nil, err
	}
	if err := m.statements.CreateStatement(ctx, stmt); err != nil {
		if errors.Is(err, ErrDuplicateStatement) {
			return m.statements.GetStatement(ctx, stmt.ID)
		}
		return nil, fmt.Errorf("create statement: %w", err)
	}
	m.logger.Debug("statement opened",
		"account_id", string(acct.ID),
		"statement_id", string(stmt.ID),
		"period", stmt.Period().String())
	return &stmt, nil
}

// =============================================================================
// SETTLE
// =============================================================================

// Settle pays a CLOSED, due, unpaid statement from the account's autopay
// source. Insufficient funds with a committed partial transfer leave the
// statement PARTIAL; with nothing moved it stays CLOSED and the ledger error
// is returned.
func (m *StatementManager) Settle(ctx context.Context, id StatementID, asOf calendar.Date) (*Statement, error) {
	unlock := m.locks.Lock("settle:" + string(id))
	defer unlock()

	stmt, err := m.statements.GetStatement(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkSettleable(stmt, asOf); err != nil {
		return stmt, err
	}

	acct, err := m.accounts.GetAccount(ctx, stmt.AccountID)
	if err != nil {
		return stmt, err
	}
	if !acct.HasAutopay() {
		return stmt, configReason("autopay_account", string(acct.ID), "autopay is not configured")
	}

	if !stmt.Balance.IsPositive() {
		return m.markSettled(ctx, stmt, StatusPaid, "", stmt.Balance.Zero())
	}

	ref, err := m.ledger.Transfer(ctx, TransferRequest{
		From:           acct.Billing.AutopayAccount,
		To:             acct.ID,
		Amount:         stmt.Balance,
		OccurredOn:     asOf,
		Notes:          fmt.Sprintf("Autopay statement %s", stmt.Period()),
		StatementID:    stmt.ID,
		IdempotencyKey: autopayKey(stmt.ID),
		AllowPartial:   m.allowPartial,
	})

	var (
		dup   *DuplicateTransactionError
		short *InsufficientFundsError
	)
	switch {
	case errors.As(err, &dup):
		// A previous attempt moved money but did not record it.
		paid := NewMoney(dup.Amount, stmt.Balance.Currency)
		if dup.Amount.IsZero() || !paid.LessThan(stmt.Balance) {
			return m.markSettled(ctx, stmt, StatusPaid, dup.Ref, stmt.Balance)
		}
		return m.markSettled(ctx, stmt, StatusPartial, dup.Ref, paid)
	case errors.As(err, &short) && short.Partial():
		m.logger.Warn("autopay partially settled",
			"statement_id", string(stmt.ID),
			"requested", short.Requested.String(),
			"moved", short.Moved.String())
		return m.markSettled(ctx, stmt, StatusPartial, short.Ref, NewMoney(short.Moved, stmt.Balance.Currency))
	case err != nil:
		return stmt, fmt.Errorf("autopay transfer for %s: %w", stmt.ID, err)
	}
	return m.markSettled(ctx, stmt, StatusPaid, ref, stmt.Balance)
}

func checkSettleable(stmt *Statement, asOf calendar.Date) error {
	switch {
	case stmt.Status != StatusClosed:
		return fmt.Errorf("%w: %s is %s", ErrNotSettleable, stmt.ID, stmt.Status)
	case stmt.PaidTxRef != "":
		return fmt.Errorf("%w: %s already has payment %s", ErrNotSettleable, stmt.ID, stmt.PaidTxRef)
	case stmt.DueDate.After(asOf):
		return fmt.Errorf("%w: %s is due %s", ErrNotSettleable, stmt.ID, stmt.DueDate)
	}
	return nil
}

func (m *StatementManager) markSettled(ctx context.Context, stmt *Statement, status StatementStatus, ref TransactionRef, paid Money) (*Statement, error) {
	if !stmt.Status.CanTransitionTo(status) {
		return stmt, fmt.Errorf("%w: %s -> %s", ErrNotSettleable, stmt.Status, status)
	}
	now := m.now()
	updated := *stmt
	updated.Status = status
	updated.PaidTxRef = ref
	updated.PaidAmount = paid
	updated.SettledAt = now
	updated.UpdatedAt = now
	if err := m.statements.UpdateStatement(ctx, updated); err != nil {
		return stmt, fmt.Errorf("save statement %s: %w", stmt.ID, err)
	}

	event := EventStatementSettled
	if status == StatusPartial {
		event = EventStatementPartial
	}
	m.logger.Info("statement settled",
		"statement_id", string(updated.ID),
		"status", string(status),
		"paid", paid.String())
	notify(ctx, m.notifier, m.logger, Event{
		Type:           event,
		AccountID:      updated.AccountID,
		StatementID:    updated.ID,
		TransactionRef: ref,
		Amount:         paid,
		Date:           updated.DueDate,
	})
	return &updated, nil
}

// =============================================================================
// CLOSE DUE
// =============================================================================

// CloseDue closes every billable account whose closing date is runDate.
func (m *StatementManager) CloseDue(ctx context.Context, runDate calendar.Date) (Report, error) {
	start := time.Now()
	report := Report{Operation: OpCloseDue, RunDate: runDate}

	accounts, err := m.accounts.ListAccounts(ctx)
	if err != nil {
		return report, err
	}

	var due []Account
	for _, a := range accounts {
		if !a.IsBillable() {
			continue
		}
		closing, err := m.cycles.ClosingDateFor(*a.Billing, runDate.YearMonth())
		if err != nil {
			report.Items = append(report.Items, failed(string(a.ID), a.ID, err))
			continue
		}
		if closing.Equal(runDate) {
			due = append(due, a)
		}
	}

	items, cancelled := runBatch(ctx, m.concurrency, due, func(ctx context.Context, a Account) ItemResult {
		stmt, changed, err := m.closeAccount(ctx, a.ID, runDate)
		if err != nil {
			m.logger.Error("close failed", "account_id", string(a.ID), "error", err)
			return failed(string(a.ID), a.ID, err)
		}
		if !changed {
			return skipped(string(stmt.ID), a.ID, "already "+string(stmt.Status))
		}
		return ItemResult{
			EntityID:       string(stmt.ID),
			AccountID:      a.ID,
			Outcome:        OutcomeClosed,
			TransactionRef: stmt.PlannedTxRef,
			Amount:         stmt.Balance,
		}
	})
	report.Items = append(report.Items, items...)
	report.Cancelled = cancelled
	report.Duration = time.Since(start)
	return report, nil
}

func periodLockKey(accountID AccountID, periodEnd calendar.Date) string {
	return "period:" + string(accountID) + ":" + periodEnd.String()
}
