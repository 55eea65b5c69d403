package billing_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/billing/store"
	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	ctx      context.Context
	mem      *store.Memory
	engine   *billing.Engine
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	notifier := &recordingNotifier{}
	engine := billing.NewEngine(mem, mem, billing.Options{
		Calendar:            calendar.NewWeekdayCalendar(mem),
		Notifier:            notifier,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		AllowPartialAutopay: true,
	})
	return &fixture{ctx: context.Background(), mem: mem, engine: engine, notifier: notifier}
}

func date(y int, m time.Month, d int) calendar.Date { return calendar.NewDate(y, m, d) }

func twd(v string) billing.Money {
	return billing.Money{Value: decimal.RequireFromString(v), Currency: "TWD"}
}

func (f *fixture) bank(t *testing.T, id string) billing.Account {
	t.Helper()
	a, err := f.engine.ConfigureAccount(f.ctx, billing.Account{
		ID:           billing.AccountID(id),
		Name:         "Bank " + id,
		Kind:         billing.AccountBank,
		CurrencyCode: "TWD",
	})
	require.NoError(t, err)
	return a
}

// card creates a credit card closing on the 15th, due the 5th of the next
// month, with the given autopay source ("" for none).
func (f *fixture) card(t *testing.T, id string, autopayFrom string) billing.Account {
	t.Helper()
	cfg := &billing.BillingConfig{
		ClosingDay:       15,
		DueDay:           5,
		DueMonthOffset:   1,
		DueHolidayPolicy: calendar.PolicyNone,
	}
	if autopayFrom != "" {
		cfg.AutopayEnabled = true
		cfg.AutopayAccount = billing.AccountID(autopayFrom)
	}
	return f.cardWith(t, id, cfg)
}

func (f *fixture) cardWith(t *testing.T, id string, cfg *billing.BillingConfig) billing.Account {
	t.Helper()
	a, err := f.engine.ConfigureAccount(f.ctx, billing.Account{
		ID:           billing.AccountID(id),
		Name:         "Card " + id,
		Kind:         billing.AccountCreditCard,
		CurrencyCode: "TWD",
		Billing:      cfg,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) record(t *testing.T, kind billing.TransactionKind, account string, amount string, on calendar.Date) billing.TransactionRef {
	t.Helper()
	ref, err := f.mem.CreateTransaction(f.ctx, billing.TransactionSpec{
		AccountID:  billing.AccountID(account),
		Kind:       kind,
		Amount:     twd(amount),
		OccurredOn: on,
	})
	require.NoError(t, err)
	return ref
}

func (f *fixture) countTx(kind billing.TransactionKind) int {
	n := 0
	for _, tx := range f.mem.Transactions() {
		if tx.Kind == kind {
			n++
		}
	}
	return n
}

// =============================================================================
// RECORDING NOTIFIER
// =============================================================================

type recordingNotifier struct {
	mu     sync.Mutex
	events []billing.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e billing.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) types() []billing.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]billing.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}
