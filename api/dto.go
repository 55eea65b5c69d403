/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the trigger API. Amounts travel as decimal
  strings and dates as YYYY-MM-DD so no value is rounded on the wire.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:     AccountDTO, BillingDTO, CycleDTO
  Statements:   StatementDTO, DateRequest
  Recurrences:  RecurrenceDTO, ActiveRequest
  Transactions: TransactionRequest, TransactionResponse
  Batches:      ReportDTO, ItemDTO
  Holidays:     HolidayDTO

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO is used both to configure and to return an account.
type AccountDTO struct {
	ID           string      `json:"id,omitempty"`
	Name         string      `json:"name"`
	Kind         string      `json:"kind"`
	CurrencyCode string      `json:"currency_code"`
	Billing      *BillingDTO `json:"billing,omitempty"`
}

type BillingDTO struct {
	ClosingDay       int    `json:"closing_day"`
	DueDay           int    `json:"due_day"`
	DueMonthOffset   int    `json:"due_month_offset"`
	DueHolidayPolicy string `json:"due_holiday_policy,omitempty"`
	AutopayEnabled   bool   `json:"autopay_enabled"`
	AutopayAccountID string `json:"autopay_account_id,omitempty"`
}

func toAccountDTO(a billing.Account) AccountDTO {
	dto := AccountDTO{
		ID:           string(a.ID),
		Name:         a.Name,
		Kind:         string(a.Kind),
		CurrencyCode: a.CurrencyCode,
	}
	if a.Billing != nil {
		dto.Billing = &BillingDTO{
			ClosingDay:       int(a.Billing.ClosingDay),
			DueDay:           int(a.Billing.DueDay),
			DueMonthOffset:   a.Billing.DueMonthOffset,
			DueHolidayPolicy: string(a.Billing.DueHolidayPolicy),
			AutopayEnabled:   a.Billing.AutopayEnabled,
			AutopayAccountID: string(a.Billing.AutopayAccount),
		}
	}
	return dto
}

func (dto AccountDTO) toAccount() billing.Account {
	a := billing.Account{
		ID:           billing.AccountID(dto.ID),
		Name:         dto.Name,
		Kind:         billing.AccountKind(dto.Kind),
		CurrencyCode: dto.CurrencyCode,
	}
	if dto.Billing != nil {
		a.Billing = &billing.BillingConfig{
			ClosingDay:       calendar.DayOfMonth(dto.Billing.ClosingDay),
			DueDay:           calendar.DayOfMonth(dto.Billing.DueDay),
			DueMonthOffset:   dto.Billing.DueMonthOffset,
			DueHolidayPolicy: calendar.HolidayPolicy(dto.Billing.DueHolidayPolicy),
			AutopayEnabled:   dto.Billing.AutopayEnabled,
			AutopayAccount:   billing.AccountID(dto.Billing.AutopayAccountID),
		}
	}
	return a
}

type CycleDTO struct {
	AccountID   string `json:"account_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	ClosingDate string `json:"closing_date"`
	DueDate     string `json:"due_date"`
}

func toCycleDTO(c billing.Cycle) CycleDTO {
	return CycleDTO{
		AccountID:   string(c.AccountID),
		PeriodStart: c.PeriodStart.String(),
		PeriodEnd:   c.PeriodEnd.String(),
		ClosingDate: c.ClosingDate.String(),
		DueDate:     c.DueDate.String(),
	}
}

// =============================================================================
// STATEMENTS
// =============================================================================

type StatementDTO struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	ClosingDate  string `json:"closing_date"`
	DueDate      string `json:"due_date"`
	Balance      string `json:"balance"`
	PaidAmount   string `json:"paid_amount"`
	CurrencyCode string `json:"currency_code"`
	Status       string `json:"status"`
	PlannedTxRef string `json:"planned_tx_ref,omitempty"`
	PaidTxRef    string `json:"paid_tx_ref,omitempty"`
	ClosedAt     string `json:"closed_at,omitempty"`
	SettledAt    string `json:"settled_at,omitempty"`
}

func toStatementDTO(s billing.Statement) StatementDTO {
	return StatementDTO{
		ID:           string(s.ID),
		AccountID:    string(s.AccountID),
		PeriodStart:  s.PeriodStart.String(),
		PeriodEnd:    s.PeriodEnd.String(),
		ClosingDate:  s.ClosingDate.String(),
		DueDate:      s.DueDate.String(),
		Balance:      s.Balance.Value.String(),
		PaidAmount:   s.PaidAmount.Value.String(),
		CurrencyCode: s.Balance.Currency,
		Status:       string(s.Status),
		PlannedTxRef: string(s.PlannedTxRef),
		PaidTxRef:    string(s.PaidTxRef),
		ClosedAt:     formatTimestamp(s.ClosedAt),
		SettledAt:    formatTimestamp(s.SettledAt),
	}
}

// DateRequest carries the run date of a trigger. An empty date means today
// in the server's billing time zone.
type DateRequest struct {
	Date string `json:"date"`
}

// =============================================================================
// RECURRENCES
// =============================================================================

type RecurrenceDTO struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	AccountID     string `json:"account_id"`
	CategoryID    string `json:"category_id,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currency_code"`
	DayOfMonth    int    `json:"day_of_month"`
	HolidayPolicy string `json:"holiday_policy,omitempty"`
	Active        *bool  `json:"active,omitempty"`
	LastGenerated string `json:"last_generated,omitempty"`
}

func toRecurrenceDTO(r billing.Recurrence) RecurrenceDTO {
	active := r.Active
	return RecurrenceDTO{
		ID:            string(r.ID),
		Name:          r.Name,
		AccountID:     string(r.AccountID),
		CategoryID:    string(r.CategoryID),
		Kind:          string(r.Kind),
		Amount:        r.Amount.Value.String(),
		CurrencyCode:  r.Amount.Currency,
		DayOfMonth:    int(r.DayOfMonth),
		HolidayPolicy: string(r.HolidayPolicy),
		Active:        &active,
		LastGenerated: r.LastGenerated.String(),
	}
}

// toRecurrence converts a request body. A missing "active" means active.
func (dto RecurrenceDTO) toRecurrence() (billing.Recurrence, error) {
	amount, err := decimal.NewFromString(dto.Amount)
	if err != nil {
		return billing.Recurrence{}, err
	}
	active := true
	if dto.Active != nil {
		active = *dto.Active
	}
	return billing.Recurrence{
		ID:            billing.RecurrenceID(dto.ID),
		Name:          dto.Name,
		AccountID:     billing.AccountID(dto.AccountID),
		CategoryID:    billing.CategoryID(dto.CategoryID),
		Kind:          billing.RecurrenceKind(dto.Kind),
		Amount:        billing.NewMoney(amount, dto.CurrencyCode),
		DayOfMonth:    calendar.DayOfMonth(dto.DayOfMonth),
		HolidayPolicy: calendar.HolidayPolicy(dto.HolidayPolicy),
		Active:        active,
	}, nil
}

type ActiveRequest struct {
	Active bool `json:"active"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionRequest records an EXPENSE, INCOME or TRANSFER. The currency
// defaults to the account's currency.
type TransactionRequest struct {
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
	CurrencyCode   string `json:"currency_code,omitempty"`
	OccurredOn     string `json:"occurred_on"`
	CategoryID     string `json:"category_id,omitempty"`
	ToAccountID    string `json:"to_account_id,omitempty"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransactionResponse struct {
	Ref     string `json:"ref"`
	Created bool   `json:"created"`
}

// =============================================================================
// BATCH REPORTS
// =============================================================================

type ReportDTO struct {
	Operation  string         `json:"operation"`
	RunDate    string         `json:"run_date"`
	Cancelled  bool           `json:"cancelled"`
	DurationMS int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts"`
	Items      []ItemDTO      `json:"items"`
}

type ItemDTO struct {
	EntityID       string `json:"entity_id"`
	AccountID      string `json:"account_id,omitempty"`
	Outcome        string `json:"outcome"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Amount         string `json:"amount,omitempty"`
	CurrencyCode   string `json:"currency_code,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func toReportDTO(r billing.Report) ReportDTO {
	dto := ReportDTO{
		Operation:  r.Operation,
		RunDate:    r.RunDate.String(),
		Cancelled:  r.Cancelled,
		DurationMS: r.Duration.Milliseconds(),
		Counts:     make(map[string]int),
		Items:      make([]ItemDTO, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		dto.Counts[string(it.Outcome)]++
		item := ItemDTO{
			EntityID:       it.EntityID,
			AccountID:      string(it.AccountID),
			Outcome:        string(it.Outcome),
			TransactionRef: string(it.TransactionRef),
			Reason:         it.Reason,
		}
		if it.Amount.Currency != "" {
			item.Amount = it.Amount.Value.String()
			item.CurrencyCode = it.Amount.Currency
		}
		dto.Items = append(dto.Items, item)
	}
	return dto
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type HolidayDTO struct {
	ID        string `json:"id,omitempty"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
