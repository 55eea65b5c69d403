package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
	"github.com/pocketfolio/billing-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(store *sqlite.Store) *billing.Engine {
	return billing.NewEngine(store, store, billing.Options{
		Calendar:            calendar.NewWeekdayCalendar(store),
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		AllowPartialAutopay: true,
	})
}

func date(y int, m time.Month, d int) calendar.Date { return calendar.NewDate(y, m, d) }

func twd(v string) billing.Money {
	return billing.Money{Value: decimal.RequireFromString(v), Currency: "TWD"}
}

func seedAccounts(t *testing.T, engine *billing.Engine) {
	t.Helper()
	ctx := context.Background()
	_, err := engine.ConfigureAccount(ctx, billing.Account{
		ID: "bank", Name: "Bank", Kind: billing.AccountBank, CurrencyCode: "TWD",
	})
	require.NoError(t, err)
	_, err = engine.ConfigureAccount(ctx, billing.Account{
		ID: "card", Name: "Card", Kind: billing.AccountCreditCard, CurrencyCode: "TWD",
		Billing: &billing.BillingConfig{
			ClosingDay:       15,
			DueDay:           5,
			DueMonthOffset:   1,
			DueHolidayPolicy: calendar.PolicyPostpone,
			AutopayEnabled:   true,
			AutopayAccount:   "bank",
		},
	})
	require.NoError(t, err)
}

func record(t *testing.T, store *sqlite.Store, kind billing.TransactionKind, account, amount string, on calendar.Date) {
	t.Helper()
	_, err := store.CreateTransaction(context.Background(), billing.TransactionSpec{
		AccountID:  billing.AccountID(account),
		Kind:       kind,
		Amount:     twd(amount),
		OccurredOn: on,
	})
	require.NoError(t, err)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestStore_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	seedAccounts(t, newTestEngine(store))
	ctx := context.Background()

	card, err := store.GetAccount(ctx, "card")
	require.NoError(t, err)
	require.NotNil(t, card.Billing)
	assert.Equal(t, calendar.DayOfMonth(15), card.Billing.ClosingDay)
	assert.Equal(t, calendar.DayOfMonth(5), card.Billing.DueDay)
	assert.Equal(t, 1, card.Billing.DueMonthOffset)
	assert.Equal(t, calendar.PolicyPostpone, card.Billing.DueHolidayPolicy)
	assert.True(t, card.HasAutopay())
	assert.Equal(t, billing.AccountID("bank"), card.Billing.AutopayAccount)

	bank, err := store.GetAccount(ctx, "bank")
	require.NoError(t, err)
	assert.Nil(t, bank.Billing)

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	_, err = store.GetAccount(ctx, "ghost")
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// STATEMENT LIFECYCLE
// =============================================================================

func TestStore_CloseAndSettleEndToEnd(t *testing.T) {
	// GIVEN: a card funded by a bank account, with March spending and a refund
	// WHEN: closing on 2024-03-15 and running autopay on the due date
	// THEN: the statement is persisted CLOSED with a planned payment, then PAID
	store := newTestStore(t)
	engine := newTestEngine(store)
	seedAccounts(t, engine)
	ctx := context.Background()

	record(t, store, billing.TxIncome, "bank", "5000", date(2024, time.January, 2))
	record(t, store, billing.TxExpense, "card", "1200.50", date(2024, time.February, 20))
	record(t, store, billing.TxExpense, "card", "300", date(2024, time.March, 15))
	record(t, store, billing.TxIncome, "card", "100.50", date(2024, time.March, 1))
	record(t, store, billing.TxExpense, "card", "999", date(2024, time.March, 16))

	stmt, err := engine.CloseStatement(ctx, "card", date(2024, time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusClosed, stmt.Status)
	assert.True(t, decimal.RequireFromString("1400").Equal(stmt.Balance.Value))
	assert.NotEmpty(t, stmt.PlannedTxRef)

	again, err := engine.CloseStatement(ctx, "card", date(2024, time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, stmt.ID, again.ID)
	assert.Equal(t, stmt.PlannedTxRef, again.PlannedTxRef)

	persisted, err := store.GetStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 16), persisted.PeriodStart)
	assert.Equal(t, date(2024, time.March, 15), persisted.PeriodEnd)
	assert.Equal(t, date(2024, time.April, 5), persisted.DueDate)
	assert.Equal(t, "TWD", persisted.Balance.Currency)
	assert.False(t, persisted.ClosedAt.IsZero())

	report, err := engine.RunAutopay(ctx, date(2024, time.April, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(billing.OutcomeSettled))

	paid, err := store.GetStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, paid.Status)
	assert.NotEmpty(t, paid.PaidTxRef)
	assert.True(t, paid.Balance.Value.Equal(paid.PaidAmount.Value))

	available, err := store.Available(ctx, "bank")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3600").Equal(available), "got %s", available)

	due, err := store.ListDueUnpaidStatements(ctx, date(2024, time.December, 31))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStore_StatementUniqueness(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	seedAccounts(t, engine)
	ctx := context.Background()

	open, err := engine.EnsureStatement(ctx, "card", date(2024, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOpen, open.Status)

	t.Run("same period end", func(t *testing.T) {
		dup := *open
		dup.ID = "other-id"
		err := store.CreateStatement(ctx, dup)
		assert.ErrorIs(t, err, billing.ErrDuplicateStatement)
	})

	t.Run("second open statement", func(t *testing.T) {
		next := *open
		next.ID = "next-id"
		next.PeriodStart = date(2024, time.March, 16)
		next.PeriodEnd = date(2024, time.April, 15)
		err := store.CreateStatement(ctx, next)
		assert.ErrorIs(t, err, billing.ErrDuplicateStatement)
	})

	found, err := store.FindOpenStatement(ctx, "card")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, open.ID, found.ID)

	covering, err := store.FindStatementCovering(ctx, "card", date(2024, time.February, 16))
	require.NoError(t, err)
	require.NotNil(t, covering)
	assert.Equal(t, open.ID, covering.ID)

	none, err := store.FindStatementCovering(ctx, "card", date(2024, time.March, 16))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_EnsureClosesPreviousOpenStatement(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	seedAccounts(t, engine)
	ctx := context.Background()

	first, err := engine.EnsureStatement(ctx, "card", date(2024, time.March, 1))
	require.NoError(t, err)
	second, err := engine.EnsureStatement(ctx, "card", date(2024, time.March, 20))
	require.NoError(t, err)

	prev, err := store.GetStatement(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusClosed, prev.Status)
	assert.Equal(t, prev.PeriodEnd.AddDays(1), second.PeriodStart)

	latest, err := store.LatestStatementBefore(ctx, "card", second.PeriodEnd)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.ID, latest.ID)

	following, err := store.EarliestStatementAfter(ctx, "card", first.PeriodEnd)
	require.NoError(t, err)
	require.NotNil(t, following)
	assert.Equal(t, second.ID, following.ID)

	none, err := store.EarliestStatementAfter(ctx, "card", second.PeriodStart)
	require.NoError(t, err)
	assert.Nil(t, none)

	stmts, err := engine.ListStatements(ctx, "card")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, first.ID, stmts[0].ID)
}

// =============================================================================
// RECURRENCES
// =============================================================================

func TestStore_RecurrenceGeneratedOncePerPeriod(t *testing.T) {
	// GIVEN: a salary recurrence on the 5th
	// WHEN: the daily run happens twice for 2024-03-05
	// THEN: one INCOME transaction, one generation record, marker 2024-03
	store := newTestStore(t)
	engine := newTestEngine(store)
	seedAccounts(t, engine)
	ctx := context.Background()

	r, err := engine.ConfigureRecurrence(ctx, billing.Recurrence{
		Name: "Salary", AccountID: "bank", Kind: billing.RecurrenceIncome,
		Amount: twd("52000"), DayOfMonth: 5, Active: true,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := engine.RunRecurrencesForDate(ctx, date(2024, time.March, 5))
		require.NoError(t, err)
	}

	reloaded, err := store.GetRecurrence(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.YearMonth{Year: 2024, Month: time.March}, reloaded.LastGenerated)

	gen, err := store.FindGeneration(ctx, r.ID, reloaded.LastGenerated)
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, date(2024, time.March, 5), gen.OccurredOn)

	txs, err := store.ListTransactions(ctx, "bank")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, billing.TxIncome, txs[0].Kind)
	assert.Equal(t, r.ID, txs[0].RecurrenceID)
	assert.Equal(t, "Recurrence: Salary", txs[0].Notes)

	err = store.SaveGeneration(ctx, billing.Generation{
		RecurrenceID: r.ID, Period: gen.Period, TransactionRef: "x", OccurredOn: gen.OccurredOn,
	})
	assert.ErrorIs(t, err, billing.ErrDuplicateGeneration)
}

func TestStore_GenerationMarkerNeverMovesBackwards(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(store)
	seedAccounts(t, engine)
	ctx := context.Background()

	r, err := engine.ConfigureRecurrence(ctx, billing.Recurrence{
		Name: "Rent", AccountID: "bank", Amount: twd("15000"), DayOfMonth: 1, Active: true,
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveGeneration(ctx, billing.Generation{
		RecurrenceID: r.ID, Period: calendar.YearMonth{Year: 2024, Month: time.May},
		TransactionRef: "a", OccurredOn: date(2024, time.May, 1),
	}))
	require.NoError(t, store.SaveGeneration(ctx, billing.Generation{
		RecurrenceID: r.ID, Period: calendar.YearMonth{Year: 2024, Month: time.April},
		TransactionRef: "b", OccurredOn: date(2024, time.April, 1),
	}))

	reloaded, err := store.GetRecurrence(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.YearMonth{Year: 2024, Month: time.May}, reloaded.LastGenerated)

	active, err := store.ListActiveRecurrences(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = engine.SetRecurrenceActive(ctx, r.ID, false)
	require.NoError(t, err)
	active, err = store.ListActiveRecurrences(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_IdempotencyKeyReturnsExistingRef(t *testing.T) {
	store := newTestStore(t)
	seedAccounts(t, newTestEngine(store))
	ctx := context.Background()

	spec := billing.TransactionSpec{
		AccountID: "card", Kind: billing.TxExpense, Amount: twd("80"),
		OccurredOn: date(2024, time.March, 3), IdempotencyKey: "import:42",
	}
	ref, err := store.CreateTransaction(ctx, spec)
	require.NoError(t, err)

	_, err = store.CreateTransaction(ctx, spec)
	var dup *billing.DuplicateTransactionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, ref, dup.Ref)
	assert.True(t, decimal.RequireFromString("80").Equal(dup.Amount))
}

func TestLedger_RejectsInvalidAmounts(t *testing.T) {
	store := newTestStore(t)
	seedAccounts(t, newTestEngine(store))
	ctx := context.Background()

	_, err := store.CreateTransaction(ctx, billing.TransactionSpec{
		AccountID: "card", Kind: billing.TxExpense,
		Amount:     billing.Money{Value: decimal.NewFromInt(5), Currency: "USD"},
		OccurredOn: date(2024, time.March, 3),
	})
	assert.ErrorIs(t, err, billing.ErrCurrencyMismatch)

	_, err = store.CreateTransaction(ctx, billing.TransactionSpec{
		AccountID: "card", Kind: billing.TxExpense, Amount: twd("0"), OccurredOn: date(2024, time.March, 3),
	})
	assert.ErrorIs(t, err, billing.ErrConfiguration)

	_, err = store.CreateTransaction(ctx, billing.TransactionSpec{
		AccountID: "ghost", Kind: billing.TxExpense, Amount: twd("1"), OccurredOn: date(2024, time.March, 3),
	})
	assert.True(t, billing.IsNotFound(err))
}

func TestLedger_TransferPartial(t *testing.T) {
	// GIVEN: 250 available in the bank
	// WHEN: transferring 400 with and without partial allowed
	// THEN: without partial nothing moves; with partial 250 moves
	store := newTestStore(t)
	seedAccounts(t, newTestEngine(store))
	ctx := context.Background()
	record(t, store, billing.TxIncome, "bank", "250", date(2024, time.January, 1))

	req := billing.TransferRequest{
		From: "bank", To: "card", Amount: twd("400"), OccurredOn: date(2024, time.April, 5),
	}
	_, err := store.Transfer(ctx, req)
	var short *billing.InsufficientFundsError
	require.ErrorAs(t, err, &short)
	assert.False(t, short.Partial())

	req.AllowPartial = true
	req.IdempotencyKey = "autopay:test"
	_, err = store.Transfer(ctx, req)
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Partial())
	assert.True(t, decimal.RequireFromString("250").Equal(short.Moved))
	assert.NotEmpty(t, short.Ref)

	available, err := store.Available(ctx, "bank")
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	// Transfers do not count toward the card's statement balance.
	sum, err := store.SumTransactions(ctx, "card", date(2024, time.January, 1), date(2024, time.December, 31))
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	_, err = store.Transfer(ctx, req)
	var dup *billing.DuplicateTransactionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, short.Ref, dup.Ref)
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestHolidays_PersistAndFeedCalendar(t *testing.T) {
	// GIVEN: a file-backed store with a recurring holiday on 04-05
	// WHEN: reopening the database
	// THEN: the holiday is reloaded and POSTPONE skips it
	path := filepath.Join(t.TempDir(), "billing.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveHoliday(ctx, calendar.Holiday{
		ID: "tomb-sweeping", Date: date(2024, time.April, 5), Name: "Tomb Sweeping Day", Recurring: true,
	}))
	require.NoError(t, store.Close())

	store, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	assert.True(t, store.IsHoliday(date(2025, time.April, 5)))
	holidays, err := store.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.True(t, holidays[0].Recurring)

	engine := newTestEngine(store)
	seedAccounts(t, engine)
	cycle, err := engine.ComputeCycle(ctx, "card", date(2024, time.March, 10))
	require.NoError(t, err)
	// 2024-04-05 is a Friday holiday; the weekend pushes payment to Monday.
	assert.Equal(t, date(2024, time.April, 8), cycle.DueDate)

	require.NoError(t, store.DeleteHoliday(ctx, "tomb-sweeping"))
	assert.False(t, store.IsHoliday(date(2025, time.April, 5)))
	assert.ErrorIs(t, store.DeleteHoliday(ctx, "tomb-sweeping"), calendar.ErrHolidayNotFound)
}
