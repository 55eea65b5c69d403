package billing_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// CLOSE
// =============================================================================

func TestClose_SumsPeriodAndRecordsPlannedPayment(t *testing.T) {
	// GIVEN: a card closing on the 15th with activity inside and outside
	//        the period [2024-02-16, 2024-03-15]
	// WHEN: closing on 2024-03-15
	// THEN: balance = expenses - income inside the period, planned payment
	//       recorded for the balance on the due date
	f := newFixture(t)
	f.card(t, "card", "")
	f.record(t, billing.TxExpense, "card", "100", date(2024, time.February, 16))
	f.record(t, billing.TxExpense, "card", "50", date(2024, time.March, 15))
	f.record(t, billing.TxIncome, "card", "30", date(2024, time.March, 1))
	f.record(t, billing.TxExpense, "card", "999", date(2024, time.March, 16))

	stmt, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 15))
	require.NoError(t, err)

	assert.Equal(t, billing.StatusClosed, stmt.Status)
	assert.Equal(t, date(2024, time.February, 16), stmt.PeriodStart)
	assert.Equal(t, date(2024, time.March, 15), stmt.PeriodEnd)
	assert.Equal(t, date(2024, time.April, 5), stmt.DueDate)
	assert.True(t, twd("120").Value.Equal(stmt.Balance.Value), "balance %s", stmt.Balance)
	require.NotEmpty(t, stmt.PlannedTxRef)

	var planned []billing.Transaction
	for _, tx := range f.mem.Transactions() {
		if tx.Kind == billing.TxPlannedPayment {
			planned = append(planned, tx)
		}
	}
	require.Len(t, planned, 1)
	assert.Equal(t, stmt.PlannedTxRef, planned[0].Ref)
	assert.Equal(t, stmt.ID, planned[0].StatementID)
	assert.Equal(t, stmt.DueDate, planned[0].OccurredOn)
	assert.Contains(t, f.notifier.types(), billing.EventStatementClosed)
}

func TestClose_TwiceIsIdempotent(t *testing.T) {
	// GIVEN: a statement closed on 2024-03-10
	// WHEN: closing again with the same date, then with a later date in
	//       the same period
	// THEN: the same statement comes back and no second planned payment exists
	f := newFixture(t)
	f.card(t, "card", "")
	f.record(t, billing.TxExpense, "card", "80", date(2024, time.March, 1))

	first, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 10))
	require.NoError(t, err)

	second, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// New activity after closing does not change a closed statement.
	f.record(t, billing.TxExpense, "card", "20", date(2024, time.March, 12))
	third, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 14))
	require.NoError(t, err)
	assert.Equal(t, first, third)

	assert.Equal(t, 1, f.countTx(billing.TxPlannedPayment))
}

func TestClose_ConcurrentCallsCreateOnePlannedPayment(t *testing.T) {
	f := newFixture(t)
	f.card(t, "card", "")
	f.record(t, billing.TxExpense, "card", "500", date(2024, time.March, 1))

	const callers = 8
	ids := make([]billing.StatementID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stmt, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 15))
			if assert.NoError(t, err) {
				ids[i] = stmt.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.countTx(billing.TxPlannedPayment))
	stmts, err := f.engine.ListStatements(f.ctx, "card")
	require.NoError(t, err)
	assert.Len(t, stmts, 1)
}

func TestClose_ZeroBalanceRecordsNoPlannedPayment(t *testing.T) {
	f := newFixture(t)
	f.card(t, "card", "")

	stmt, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 15))
	require.NoError(t, err)

	assert.Equal(t, billing.StatusClosed, stmt.Status)
	assert.True(t, stmt.Balance.IsZero())
	assert.Empty(t, stmt.PlannedTxRef)
	assert.Equal(t, 0, f.countTx(billing.TxPlannedPayment))
}

func TestClose_NonCreditAccountIsNotBillable(t *testing.T) {
	f := newFixture(t)
	f.bank(t, "bank")

	_, err := f.engine.CloseStatement(f.ctx, "bank", date(2024, time.March, 15))
	assert.ErrorIs(t, err, billing.ErrNotBillable)
	assert.True(t, billing.IsClientError(err))
}

func TestClose_ConsecutiveStatementsAreContiguous(t *testing.T) {
	f := newFixture(t)
	f.card(t, "card", "")

	for m := time.January; m <= time.June; m++ {
		_, err := f.engine.CloseStatement(f.ctx, "card", date(2024, m, 15))
		require.NoError(t, err)
	}

	stmts, err := f.engine.ListStatements(f.ctx, "card")
	require.NoError(t, err)
	require.Len(t, stmts, 6)
	for i := 1; i < len(stmts); i++ {
		assert.Equal(t, stmts[i-1].PeriodEnd.AddDays(1), stmts[i].PeriodStart)
	}
}

func TestClose_BackdatedAfterClosingDayChangeDoesNotOverlap(t *testing.T) {
	// GIVEN: a CLOSED statement [2024-03-16, 2024-04-15] and the closing day
	//        moved from the 15th to the 20th
	// WHEN: closing the cycle containing 2024-03-12, nominally
	//       [2024-02-21, 2024-03-20]
	// THEN: the new period ends the day before the later statement starts,
	//       and an expense inside the later period is billed once
	f := newFixture(t)
	f.card(t, "card", "")
	f.record(t, billing.TxExpense, "card", "100", date(2024, time.March, 18))

	later, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.April, 10))
	require.NoError(t, err)
	require.Equal(t, date(2024, time.March, 16), later.PeriodStart)

	f.cardWith(t, "card", &billing.BillingConfig{
		ClosingDay:       20,
		DueDay:           5,
		DueMonthOffset:   1,
		DueHolidayPolicy: calendar.PolicyNone,
	})

	earlier, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 12))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 21), earlier.PeriodStart)
	assert.Equal(t, date(2024, time.March, 15), earlier.PeriodEnd)
	assert.Equal(t, date(2024, time.March, 15), earlier.ClosingDate)
	assert.Equal(t, date(2024, time.April, 5), earlier.DueDate)
	assert.True(t, earlier.Balance.Value.IsZero())

	stmts, err := f.engine.ListStatements(f.ctx, "card")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	for i := 1; i < len(stmts); i++ {
		assert.True(t, stmts[i-1].PeriodEnd.Before(stmts[i].PeriodStart),
			"%s overlaps %s", stmts[i-1].Period(), stmts[i].Period())
	}
}

func TestClose_LaterPeriodClosesOlderOpenStatement(t *testing.T) {
	// GIVEN: an OPEN statement for [2024-02-16, 2024-03-15]
	// WHEN: a later period is closed directly
	// THEN: the older statement is closed too, leaving nothing OPEN
	f := newFixture(t)
	f.card(t, "card", "")
	open, err := f.engine.EnsureStatement(f.ctx, "card", date(2024, time.March, 1))
	require.NoError(t, err)

	_, err = f.engine.CloseStatement(f.ctx, "card", date(2024, time.May, 15))
	require.NoError(t, err)

	previous, err := f.mem.GetStatement(f.ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusClosed, previous.Status)

	stillOpen, err := f.mem.FindOpenStatement(f.ctx, "card")
	require.NoError(t, err)
	assert.Nil(t, stillOpen)
}

// =============================================================================
// ENSURE
// =============================================================================

func TestEnsure_KeepsAtMostOneOpenStatement(t *testing.T) {
	// GIVEN: an OPEN statement for [2024-02-16, 2024-03-15]
	// WHEN: the next period is requested
	// THEN: the older statement is closed first and only the new one is OPEN
	f := newFixture(t)
	f.card(t, "card", "")

	open, err := f.engine.EnsureStatement(f.ctx, "card", date(2024, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOpen, open.Status)

	again, err := f.engine.EnsureStatement(f.ctx, "card", date(2024, time.March, 2))
	require.NoError(t, err)
	assert.Equal(t, open.ID, again.ID)

	next, err := f.engine.EnsureStatement(f.ctx, "card", date(2024, time.March, 20))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOpen, next.Status)
	assert.Equal(t, date(2024, time.March, 16), next.PeriodStart)

	previous, err := f.mem.GetStatement(f.ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusClosed, previous.Status)

	openCount := 0
	stmts, err := f.engine.ListStatements(f.ctx, "card")
	require.NoError(t, err)
	for _, s := range stmts {
		if s.Status == billing.StatusOpen {
			openCount++
		}
	}
	assert.Equal(t, 1, openCount)
}

func TestEnsure_OlderPeriodThanOpenIsRejected(t *testing.T) {
	f := newFixture(t)
	f.card(t, "card", "")

	_, err := f.engine.EnsureStatement(f.ctx, "card", date(2024, time.March, 20))
	require.NoError(t, err)

	_, err = f.engine.EnsureStatement(f.ctx, "card", date(2024, time.January, 10))
	assert.ErrorIs(t, err, billing.ErrPeriodSuperseded)
}

func TestClose_ClosesExistingOpenStatement(t *testing.T) {
	f := newFixture(t)
	f.card(t, "card", "")
	open, err := f.engine.EnsureStatement(f.ctx, "card", date(2024, time.March, 1))
	require.NoError(t, err)
	f.record(t, billing.TxExpense, "card", "42", date(2024, time.March, 3))

	closed, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 15))
	require.NoError(t, err)

	assert.Equal(t, open.ID, closed.ID)
	assert.Equal(t, billing.StatusClosed, closed.Status)
	assert.True(t, twd("42").Value.Equal(closed.Balance.Value))
}

// =============================================================================
// SETTLE
// =============================================================================

// closedStatement closes a card statement for [2024-02-16, 2024-03-15],
// due 2024-04-05, with the given balance.
func closedStatement(t *testing.T, f *fixture, card, balance string) *billing.Statement {
	t.Helper()
	f.record(t, billing.TxExpense, card, balance, date(2024, time.March, 1))
	stmt, err := f.engine.CloseStatement(f.ctx, billing.AccountID(card), date(2024, time.March, 15))
	require.NoError(t, err)
	return stmt
}

func TestSettle_PaysFromAutopaySource(t *testing.T) {
	f := newFixture(t)
	f.bank(t, "bank")
	f.record(t, billing.TxIncome, "bank", "5000", date(2024, time.January, 1))
	f.card(t, "card", "bank")
	stmt := closedStatement(t, f, "card", "1000")

	paid, err := f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 5))
	require.NoError(t, err)

	assert.Equal(t, billing.StatusPaid, paid.Status)
	assert.NotEmpty(t, paid.PaidTxRef)
	assert.True(t, twd("1000").Value.Equal(paid.PaidAmount.Value))

	available, err := f.mem.Available(f.ctx, "bank")
	require.NoError(t, err)
	assert.True(t, twd("4000").Value.Equal(available), "available %s", available)
	assert.Contains(t, f.notifier.types(), billing.EventStatementSettled)
}

func TestSettle_PreconditionsEnforced(t *testing.T) {
	f := newFixture(t)
	f.bank(t, "bank")
	f.record(t, billing.TxIncome, "bank", "5000", date(2024, time.January, 1))
	f.card(t, "card", "bank")
	stmt := closedStatement(t, f, "card", "1000")

	// Not yet due.
	_, err := f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 4))
	assert.ErrorIs(t, err, billing.ErrNotSettleable)

	_, err = f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 5))
	require.NoError(t, err)

	// Already paid.
	_, err = f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 6))
	assert.ErrorIs(t, err, billing.ErrNotSettleable)
	assert.Equal(t, 1, f.countTx(billing.TxTransfer))

	// OPEN statements cannot be settled.
	open, err := f.engine.EnsureStatement(f.ctx, "card", date(2024, time.March, 20))
	require.NoError(t, err)
	_, err = f.engine.SettleStatement(f.ctx, open.ID, date(2024, time.December, 31))
	assert.ErrorIs(t, err, billing.ErrNotSettleable)
}

func TestSettle_PartialTransferMarksPartial(t *testing.T) {
	// GIVEN: a 1000 balance and only 300 available in the autopay source
	// WHEN: settling
	// THEN: 300 moves and the statement is PARTIAL, not PAID
	f := newFixture(t)
	f.bank(t, "bank")
	f.record(t, billing.TxIncome, "bank", "300", date(2024, time.January, 1))
	f.card(t, "card", "bank")
	stmt := closedStatement(t, f, "card", "1000")

	settled, err := f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 5))
	require.NoError(t, err)

	assert.Equal(t, billing.StatusPartial, settled.Status)
	assert.NotEmpty(t, settled.PaidTxRef)
	assert.True(t, twd("300").Value.Equal(settled.PaidAmount.Value))
	assert.Contains(t, f.notifier.types(), billing.EventStatementPartial)

	// PARTIAL is terminal for autopay.
	_, err = f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 6))
	assert.ErrorIs(t, err, billing.ErrNotSettleable)
}

func TestSettle_NoFundsLeavesStatementClosed(t *testing.T) {
	f := newFixture(t)
	f.bank(t, "bank")
	f.card(t, "card", "bank")
	stmt := closedStatement(t, f, "card", "1000")

	_, err := f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 5))
	require.Error(t, err)
	assert.True(t, billing.IsLedgerError(err))
	var short *billing.InsufficientFundsError
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Moved.IsZero())

	reloaded, err := f.mem.GetStatement(f.ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusClosed, reloaded.Status)
	assert.Empty(t, reloaded.PaidTxRef)
	assert.Equal(t, 0, f.countTx(billing.TxTransfer))
}

func TestSettle_ZeroBalanceIsPaidWithoutTransfer(t *testing.T) {
	f := newFixture(t)
	f.bank(t, "bank")
	f.card(t, "card", "bank")
	stmt, err := f.engine.CloseStatement(f.ctx, "card", date(2024, time.March, 15))
	require.NoError(t, err)

	paid, err := f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 5))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, paid.Status)
	assert.Empty(t, paid.PaidTxRef)
	assert.Equal(t, 0, f.countTx(billing.TxTransfer))
}

func TestSettle_WithoutAutopayIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	f.card(t, "card", "")
	stmt := closedStatement(t, f, "card", "100")

	_, err := f.engine.SettleStatement(f.ctx, stmt.ID, date(2024, time.April, 5))
	assert.True(t, billing.IsConfigurationError(err))
}

// =============================================================================
// CLOSE DUE
// =============================================================================

func TestCloseDue_ClosesOnlyCardsClosingToday(t *testing.T) {
	f := newFixture(t)
	f.bank(t, "bank")
	f.card(t, "card-15", "")
	f.cardWith(t, "card-20", &billing.BillingConfig{ClosingDay: 20, DueDay: 10, DueMonthOffset: 1})

	report, err := f.engine.CloseDueStatements(f.ctx, date(2024, time.March, 15))
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, billing.AccountID("card-15"), report.Items[0].AccountID)
	assert.Equal(t, billing.OutcomeClosed, report.Items[0].Outcome)

	// Re-running the same day is a silent no-op.
	report, err = f.engine.CloseDueStatements(f.ctx, date(2024, time.March, 15))
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, billing.OutcomeSkipped, report.Items[0].Outcome)
	assert.Equal(t, 0, report.Count(billing.OutcomeFailed))
}

func TestCloseDue_MonthEndCardClosesOnLastDay(t *testing.T) {
	f := newFixture(t)
	f.cardWith(t, "card", &billing.BillingConfig{ClosingDay: 31, DueDay: 10, DueMonthOffset: 1})

	report, err := f.engine.CloseDueStatements(f.ctx, date(2024, time.February, 28))
	require.NoError(t, err)
	assert.Empty(t, report.Items)

	report, err = f.engine.CloseDueStatements(f.ctx, date(2024, time.February, 29))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(billing.OutcomeClosed))
}
