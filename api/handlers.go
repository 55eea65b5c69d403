/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine's operations as a small trigger API. Handles
  HTTP request/response and JSON serialization, and delegates every decision
  to billing.Engine.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    List accounts
    POST   /api/accounts                    Create or update an account
    GET    /api/accounts/{id}/cycle?date=   Cycle containing a date
    GET    /api/accounts/{id}/statements    Statements by period
    POST   /api/accounts/{id}/statements    Ensure the OPEN statement {date}
    POST   /api/accounts/{id}/close         Close the cycle containing {date}
    POST   /api/accounts/{id}/transactions  Record EXPENSE / INCOME / TRANSFER

  Statements:
    POST   /api/statements/{id}/settle      Settle from the autopay source {date}

  Batches:
    POST   /api/billing/close-due           Close every cycle ending {date}
    POST   /api/autopay/run                 Settle every due statement {date}
    POST   /api/recurrences/run             Generate recurrences due {date}

  Recurrences:
    GET    /api/recurrences                 List recurrences
    POST   /api/recurrences                 Create or update a recurrence
    POST   /api/recurrences/{id}/active     Activate / deactivate {active}

  Holidays:
    GET    /api/holidays                    List holidays
    POST   /api/holidays                    Add a holiday
    POST   /api/holidays/defaults           Add the recurring national holidays
    DELETE /api/holidays/{id}               Remove a holiday

  Scenarios (scenarios.go):
    GET    /api/scenarios                   List demo scenarios
    GET    /api/scenarios/current           Currently loaded scenario
    POST   /api/scenarios/load              Reset and load {scenario_id}
    POST   /api/scenarios/reset             Reset the database

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Configuration / validation errors, invalid input
  - 404: Resource not found
  - 409: State conflicts (not settleable, superseded, insufficient funds)
  - 422: Business-day adjustment limit exceeded
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Run behind a trusted gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - billing/engine.go: Operations
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
	"github.com/pocketfolio/billing-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *billing.Engine
	Holidays calendar.HolidayRepository
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	// Location defines "today" when a trigger omits its date.
	Location *time.Location

	// Resetter enables the demo scenario endpoints. Optional.
	Resetter Resetter

	scenarioMu      sync.Mutex
	currentScenario string
}

func NewHandler(engine *billing.Engine, holidays calendar.HolidayRepository, recorder *metrics.Recorder, logger *slog.Logger, loc *time.Location) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{Engine: engine, Holidays: holidays, Metrics: recorder, Logger: logger, Location: loc}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Engine.Store().ListAccounts(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list accounts", err)
		return
	}
	dtos := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		dtos = append(dtos, toAccountDTO(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": dtos})
}

// CreateAccount validates and saves an account. An existing id updates it.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	saved, err := h.Engine.ConfigureAccount(r.Context(), req.toAccount())
	if err != nil {
		h.writeEngineError(w, "Invalid account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(saved))
}

func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	cycle, err := h.Engine.ComputeCycle(r.Context(), accountParam(r), date)
	if err != nil {
		h.writeEngineError(w, "Failed to compute cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(cycle))
}

// =============================================================================
// STATEMENT HANDLERS
// =============================================================================

func (h *Handler) ListStatements(w http.ResponseWriter, r *http.Request) {
	stmts, err := h.Engine.ListStatements(r.Context(), accountParam(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list statements", err)
		return
	}
	dtos := make([]StatementDTO, 0, len(stmts))
	for _, s := range stmts {
		dtos = append(dtos, toStatementDTO(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"statements": dtos})
}

// EnsureStatement materialises the statement covering the requested date.
func (h *Handler) EnsureStatement(w http.ResponseWriter, r *http.Request) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	stmt, err := h.Engine.EnsureStatement(r.Context(), accountParam(r), date)
	if err != nil {
		h.writeEngineError(w, "Failed to ensure statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(*stmt))
}

func (h *Handler) CloseStatement(w http.ResponseWriter, r *http.Request) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	stmt, err := h.Engine.CloseStatement(r.Context(), accountParam(r), date)
	if err != nil {
		h.writeEngineError(w, "Failed to close statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(*stmt))
}

func (h *Handler) SettleStatement(w http.ResponseWriter, r *http.Request) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	id := billing.StatementID(chi.URLParam(r, "id"))
	stmt, err := h.Engine.SettleStatement(r.Context(), id, date)
	if err != nil {
		h.writeEngineError(w, "Failed to settle statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(*stmt))
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

func (h *Handler) CloseDue(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, h.Engine.CloseDueStatements)
}

func (h *Handler) RunAutopay(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, h.Engine.RunAutopay)
}

func (h *Handler) RunRecurrences(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, h.Engine.RunRecurrencesForDate)
}

type batchOp func(ctx context.Context, date calendar.Date) (billing.Report, error)

// runBatch answers 200 even when items failed: the report carries
// per-entity outcomes.
func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request, op batchOp) {
	date, ok := h.decodeDate(w, r)
	if !ok {
		return
	}
	report, err := op(r.Context(), date)
	if err != nil {
		h.writeEngineError(w, "Batch failed", err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.Record(report)
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// RECURRENCE HANDLERS
// =============================================================================

func (h *Handler) ListRecurrences(w http.ResponseWriter, r *http.Request) {
	recurrences, err := h.Engine.Store().ListRecurrences(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list recurrences", err)
		return
	}
	dtos := make([]RecurrenceDTO, 0, len(recurrences))
	for _, rec := range recurrences {
		dtos = append(dtos, toRecurrenceDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"recurrences": dtos})
}

func (h *Handler) CreateRecurrence(w http.ResponseWriter, r *http.Request) {
	var req RecurrenceDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := req.toRecurrence()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	saved, err := h.Engine.ConfigureRecurrence(r.Context(), rec)
	if err != nil {
		h.writeEngineError(w, "Invalid recurrence", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecurrenceDTO(saved))
}

func (h *Handler) SetRecurrenceActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := billing.RecurrenceID(chi.URLParam(r, "id"))
	rec, err := h.Engine.SetRecurrenceActive(r.Context(), id, req.Active)
	if err != nil {
		h.writeEngineError(w, "Failed to update recurrence", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurrenceDTO(*rec))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction records a transaction on the account in the path. A
// repeated idempotency key answers 200 with the original reference.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := accountParam(r)

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	occurredOn, err := h.parseDate(req.OccurredOn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid occurred_on (use YYYY-MM-DD)", err)
		return
	}

	currency := req.CurrencyCode
	if currency == "" {
		acct, err := h.Engine.Store().GetAccount(ctx, accountID)
		if err != nil {
			h.writeEngineError(w, "Failed to load account", err)
			return
		}
		currency = acct.CurrencyCode
	}
	money := billing.NewMoney(amount, currency)

	var (
		ref     billing.TransactionRef
		created bool
	)
	switch kind := billing.TransactionKind(strings.ToUpper(req.Kind)); kind {
	case billing.TxTransfer:
		ref, created, err = h.Engine.RecordTransfer(ctx, billing.TransferRequest{
			From:           accountID,
			To:             billing.AccountID(req.ToAccountID),
			Amount:         money,
			OccurredOn:     occurredOn,
			Notes:          req.Notes,
			IdempotencyKey: req.IdempotencyKey,
		})
	default:
		ref, created, err = h.Engine.RecordTransaction(ctx, billing.TransactionSpec{
			AccountID:      accountID,
			CategoryID:     billing.CategoryID(req.CategoryID),
			Kind:           kind,
			Amount:         money,
			OccurredOn:     occurredOn,
			Notes:          req.Notes,
			IdempotencyKey: req.IdempotencyKey,
		})
	}
	if err != nil {
		h.writeEngineError(w, "Failed to record transaction", err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, TransactionResponse{Ref: string(ref), Created: created})
}

// =============================================================================
// HOLIDAY HANDLERS
// =============================================================================

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Holidays.ListHolidays(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}
	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, HolidayDTO{
			ID:        hol.ID,
			Date:      hol.Date.String(),
			Name:      hol.Name,
			Recurring: hol.Recurring,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Date == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	holiday := calendar.Holiday{
		ID:        req.ID,
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	}
	if holiday.ID == "" {
		holiday.ID = uuid.NewString()
	}
	if err := h.Holidays.SaveHoliday(r.Context(), holiday); err != nil {
		writeError(w, http.StatusConflict, "Failed to create holiday", err)
		return
	}
	req.ID = holiday.ID
	req.Date = date.String()
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Holidays.DeleteHoliday(r.Context(), id); err != nil {
		if errors.Is(err, calendar.ErrHolidayNotFound) {
			writeError(w, http.StatusNotFound, "Holiday not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func accountParam(r *http.Request) billing.AccountID {
	return billing.AccountID(chi.URLParam(r, "id"))
}

// parseDate parses YYYY-MM-DD; empty means today in h.Location.
func (h *Handler) parseDate(s string) (calendar.Date, error) {
	if s == "" {
		return calendar.Today(h.Location), nil
	}
	return calendar.ParseDate(s)
}

// decodeDate reads an optional DateRequest body. It writes the error
// response itself and reports whether the handler may continue.
func (h *Handler) decodeDate(w http.ResponseWriter, r *http.Request) (calendar.Date, bool) {
	var req DateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return calendar.Date{}, false
		}
	}
	date, err := h.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return calendar.Date{}, false
	}
	return date, true
}

// writeEngineError maps engine error kinds to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, "error", err)
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var cfgErr *billing.ConfigurationError
	if errors.As(err, &cfgErr) {
		resp.Field = cfgErr.Field
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConfigurationError(err),
		errors.Is(err, billing.ErrNotBillable),
		errors.Is(err, billing.ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNotSettleable),
		errors.Is(err, billing.ErrPeriodSuperseded),
		errors.Is(err, billing.ErrInsufficientFunds),
		errors.Is(err, billing.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case billing.IsCalendarError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
