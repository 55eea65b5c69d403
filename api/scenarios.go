/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  billing data. Each scenario creates accounts, recurrences and transactions
  around "today" so the daily run has something to do.

AVAILABLE SCENARIOS:
  autopay-card:   Card closing on the 15th, paid in full from a bank account
  month-end-card: Card closing on the last day of the month, no autopay
  short-funds:    Closed statement larger than the autopay source (PARTIAL)

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Add the default holidays
 3. Configure accounts and recurrences through the engine (validated)
 4. Record transactions in the current (or previous) cycle

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "short-funds"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Holiday and account handlers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
)

// Resetter clears every table. Implemented by the SQLite store.
type Resetter interface {
	Reset(ctx context.Context) error
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "autopay-card",
		Name:        "Autopay Card",
		Description: "Card closing on the 15th, due the 5th of next month, paid from a funded bank account",
	},
	{
		ID:          "month-end-card",
		Name:        "Month-End Card",
		Description: "Card closing on the last day of the month with a monthly subscription, no autopay",
	},
	{
		ID:          "short-funds",
		Name:        "Short Funds",
		Description: "Closed statement larger than the autopay source; autopay settles it PARTIAL",
	},
}

// defaultHolidays are fixed-date national holidays, recurring every year.
var defaultHolidays = []struct {
	month time.Month
	day   int
	name  string
}{
	{time.January, 1, "Founding Day"},
	{time.February, 28, "Peace Memorial Day"},
	{time.April, 4, "Children's Day"},
	{time.May, 1, "Labor Day"},
	{time.October, 10, "National Day"},
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(ctx context.Context, today calendar.Date) error
	switch req.ScenarioID {
	case "autopay-card":
		load = h.loadAutopayCardScenario
	case "month-end-card":
		load = h.loadMonthEndCardScenario
	case "short-funds":
		load = h.loadShortFundsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if !h.resetLocked(ctx, w) {
		return
	}
	today := calendar.Today(h.Location)
	if err := h.addDefaultHolidays(ctx, today.Year()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add holidays", err)
		return
	}
	if err := load(ctx, today); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	if !h.resetLocked(r.Context(), w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetLocked(ctx context.Context, w http.ResponseWriter) bool {
	if h.Resetter == nil {
		writeError(w, http.StatusNotImplemented, "Reset is not available for this store", nil)
		return false
	}
	if err := h.Resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return false
	}
	h.currentScenario = ""
	return true
}

// AddDefaultHolidays adds the recurring national holidays.
// POST /api/holidays/defaults
func (h *Handler) AddDefaultHolidays(w http.ResponseWriter, r *http.Request) {
	year := calendar.Today(h.Location).Year()
	if err := h.addDefaultHolidays(r.Context(), year); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add holidays", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status": "created",
		"count":  len(defaultHolidays),
	})
}

// addDefaultHolidays is idempotent: ids are derived from month and day.
func (h *Handler) addDefaultHolidays(ctx context.Context, year int) error {
	for _, d := range defaultHolidays {
		err := h.Holidays.SaveHoliday(ctx, calendar.Holiday{
			ID:        fmt.Sprintf("holiday-%02d%02d", int(d.month), d.day),
			Date:      calendar.NewDate(year, d.month, d.day),
			Name:      d.name,
			Recurring: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadAutopayCardScenario(ctx context.Context, today calendar.Date) error {
	if err := h.seedBank(ctx, "demo-bank", "60000", today.YearMonth().AddMonths(-2).First()); err != nil {
		return err
	}
	if err := h.seedCard(ctx, "demo-card", &billing.BillingConfig{
		ClosingDay:       15,
		DueDay:           5,
		DueMonthOffset:   1,
		DueHolidayPolicy: calendar.PolicyPostpone,
		AutopayEnabled:   true,
		AutopayAccount:   "demo-bank",
	}); err != nil {
		return err
	}

	cycle, err := h.Engine.ComputeCycle(ctx, "demo-card", today)
	if err != nil {
		return err
	}
	start := cycle.PeriodStart
	expenses := []struct {
		kind   billing.TransactionKind
		amount string
		offset int
		notes  string
	}{
		{billing.TxExpense, "1280", 0, "Groceries"},
		{billing.TxExpense, "450", 2, "Dinner"},
		{billing.TxExpense, "3200", 5, "Flight"},
		{billing.TxIncome, "450", 6, "Refund: Dinner"},
	}
	for i, e := range expenses {
		if err := h.seedTx(ctx, "demo-card", e.kind, e.amount, start.AddDays(e.offset), e.notes,
			fmt.Sprintf("demo-autopay-%d", i)); err != nil {
			return err
		}
	}

	return h.seedRecurrence(ctx, billing.Recurrence{
		ID:         "demo-streaming",
		Name:       "Streaming",
		AccountID:  "demo-card",
		Kind:       billing.RecurrenceExpense,
		Amount:     billing.NewMoney(decimal.RequireFromString("390"), "TWD"),
		DayOfMonth: 11,
		Active:     true,
	})
}

func (h *Handler) loadMonthEndCardScenario(ctx context.Context, today calendar.Date) error {
	if err := h.seedBank(ctx, "demo-bank", "20000", today.YearMonth().AddMonths(-2).First()); err != nil {
		return err
	}
	if err := h.seedCard(ctx, "demo-month-end", &billing.BillingConfig{
		ClosingDay:       calendar.MonthEnd,
		DueDay:           20,
		DueMonthOffset:   1,
		DueHolidayPolicy: calendar.PolicyAdvance,
	}); err != nil {
		return err
	}

	first := today.YearMonth().First()
	if err := h.seedTx(ctx, "demo-month-end", billing.TxExpense, "860", first, "Books", "demo-month-end-0"); err != nil {
		return err
	}

	return h.seedRecurrence(ctx, billing.Recurrence{
		ID:            "demo-gym",
		Name:          "Gym",
		AccountID:     "demo-month-end",
		Kind:          billing.RecurrenceExpense,
		Amount:        billing.NewMoney(decimal.RequireFromString("1200"), "TWD"),
		DayOfMonth:    calendar.MonthEnd,
		HolidayPolicy: calendar.PolicyAdvance,
		Active:        true,
	})
}

// loadShortFundsScenario leaves a CLOSED previous statement whose balance
// exceeds the bank's funds.
func (h *Handler) loadShortFundsScenario(ctx context.Context, today calendar.Date) error {
	if err := h.seedBank(ctx, "demo-bank", "500", today.YearMonth().AddMonths(-3).First()); err != nil {
		return err
	}
	if err := h.seedCard(ctx, "demo-card", &billing.BillingConfig{
		ClosingDay:       15,
		DueDay:           5,
		DueMonthOffset:   1,
		DueHolidayPolicy: calendar.PolicyPostpone,
		AutopayEnabled:   true,
		AutopayAccount:   "demo-bank",
	}); err != nil {
		return err
	}

	current, err := h.Engine.ComputeCycle(ctx, "demo-card", today)
	if err != nil {
		return err
	}
	previousEnd := current.PeriodStart.AddDays(-1)
	previous, err := h.Engine.ComputeCycle(ctx, "demo-card", previousEnd)
	if err != nil {
		return err
	}
	if err := h.seedTx(ctx, "demo-card", billing.TxExpense, "1200", previous.PeriodStart.AddDays(1), "Headphones", "demo-short-0"); err != nil {
		return err
	}
	_, err = h.Engine.CloseStatement(ctx, "demo-card", previousEnd)
	return err
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func (h *Handler) seedBank(ctx context.Context, id billing.AccountID, funds string, on calendar.Date) error {
	if _, err := h.Engine.ConfigureAccount(ctx, billing.Account{
		ID: id, Name: "Demo Bank", Kind: billing.AccountBank, CurrencyCode: "TWD",
	}); err != nil {
		return err
	}
	return h.seedTx(ctx, id, billing.TxIncome, funds, on, "Opening balance", "demo-"+string(id)+"-funds")
}

func (h *Handler) seedCard(ctx context.Context, id billing.AccountID, cfg *billing.BillingConfig) error {
	_, err := h.Engine.ConfigureAccount(ctx, billing.Account{
		ID: id, Name: "Demo Card", Kind: billing.AccountCreditCard, CurrencyCode: "TWD", Billing: cfg,
	})
	return err
}

func (h *Handler) seedTx(ctx context.Context, id billing.AccountID, kind billing.TransactionKind, amount string, on calendar.Date, notes, key string) error {
	_, _, err := h.Engine.RecordTransaction(ctx, billing.TransactionSpec{
		AccountID:      id,
		Kind:           kind,
		Amount:         billing.NewMoney(decimal.RequireFromString(amount), "TWD"),
		OccurredOn:     on,
		Notes:          notes,
		IdempotencyKey: key,
	})
	return err
}

func (h *Handler) seedRecurrence(ctx context.Context, r billing.Recurrence) error {
	_, err := h.Engine.ConfigureRecurrence(ctx, r)
	return err
}
