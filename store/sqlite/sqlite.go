/*
Package sqlite provides a SQLite-backed implementation of the billing
repositories, the Ledger collaborator and the holiday calendar.

PURPOSE:
  Persists accounts, statements, recurrences and the transaction ledger, and
  backs the engine's in-process locks with database constraints so that two
  processes racing on the same period still produce one side effect.

INTERFACES IMPLEMENTED:
  billing.Store:              Account / Statement / Recurrence repositories
  billing.Ledger:             Sums, transaction creation, transfers
  calendar.HolidayRepository: Holiday list behind the business-day calendar

UNIQUENESS ENFORCEMENT:
  - statements UNIQUE(account_id, period_end)        -> ErrDuplicateStatement
  - idx_statements_one_open (one OPEN per account)   -> ErrDuplicateStatement
  - recurrence_generations PK(recurrence_id, period) -> ErrDuplicateGeneration
  - transactions.idempotency_key UNIQUE              -> *DuplicateTransactionError

AMOUNTS:
  Stored as decimal TEXT and summed in Go with shopspring/decimal; SQLite's
  SUM would go through REAL.

MIGRATION:
  Schema is versioned with golang-migrate (migrations/*.sql, embedded) and
  applied on New().

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := billing.NewEngine(store, store, billing.Options{
      Calendar: calendar.NewWeekdayCalendar(store),
  })

SEE ALSO:
  - billing/store.go: Repository interfaces
  - billing/ledger.go: Ledger interface
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	holidays *calendar.HolidaySet
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store := &Store{db: db, holidays: calendar.NewHolidaySet()}
	if err := store.loadHolidays(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset deletes all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer tx.Rollback()

	// Children before parents.
	tables := []string{"recurrence_generations", "transactions", "statements", "recurrences", "holidays", "accounts"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	for _, h := range s.holidays.List() {
		s.holidays.Remove(h.ID)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, name, kind, currency_code, closing_day, due_day, due_month_offset,
	due_holiday_policy, autopay_enabled, autopay_account_id`

func (s *Store) GetAccount(ctx context.Context, id billing.AccountID) (*billing.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "account", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]billing.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []billing.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAccount(ctx context.Context, a billing.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		closingDay, dueDay, offset sql.NullInt64
		policy, autopayAccount     sql.NullString
		autopay                    bool
	)
	if a.Billing != nil {
		closingDay = sql.NullInt64{Int64: int64(a.Billing.ClosingDay), Valid: true}
		dueDay = sql.NullInt64{Int64: int64(a.Billing.DueDay), Valid: true}
		offset = sql.NullInt64{Int64: int64(a.Billing.DueMonthOffset), Valid: true}
		policy = nullString(string(a.Billing.DueHolidayPolicy))
		autopay = a.Billing.AutopayEnabled
		autopayAccount = nullString(string(a.Billing.AutopayAccount))
	}

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			currency_code = excluded.currency_code,
			closing_day = excluded.closing_day,
			due_day = excluded.due_day,
			due_month_offset = excluded.due_month_offset,
			due_holiday_policy = excluded.due_holiday_policy,
			autopay_enabled = excluded.autopay_enabled,
			autopay_account_id = excluded.autopay_account_id,
			updated_at = excluded.updated_at
	`, a.ID, a.Name, a.Kind, a.CurrencyCode, closingDay, dueDay, offset,
		policy, autopay, autopayAccount, now, now)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func scanAccount(row scanner) (*billing.Account, error) {
	var (
		a                          billing.Account
		closingDay, dueDay, offset sql.NullInt64
		policy, autopayAccount     sql.NullString
		autopay                    bool
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.CurrencyCode, &closingDay, &dueDay, &offset,
		&policy, &autopay, &autopayAccount); err != nil {
		return nil, err
	}
	if closingDay.Valid {
		a.Billing = &billing.BillingConfig{
			ClosingDay:       calendar.DayOfMonth(closingDay.Int64),
			DueDay:           calendar.DayOfMonth(dueDay.Int64),
			DueMonthOffset:   int(offset.Int64),
			DueHolidayPolicy: calendar.HolidayPolicy(policy.String),
			AutopayEnabled:   autopay,
			AutopayAccount:   billing.AccountID(autopayAccount.String),
		}
	}
	return &a, nil
}

// =============================================================================
// STATEMENTS
// =============================================================================

const statementColumns = `id, account_id, period_start, period_end, closing_date, due_date,
	balance, paid_amount, currency_code, status, planned_tx_ref, paid_tx_ref,
	closed_at, settled_at, created_at, updated_at`

func (s *Store) GetStatement(ctx context.Context, id billing.StatementID) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.queryStatement(ctx, `SELECT `+statementColumns+` FROM statements WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, &billing.NotFoundError{Kind: "statement", ID: string(id)}
	}
	return st, nil
}

func (s *Store) FindStatementCovering(ctx context.Context, accountID billing.AccountID, d calendar.Date) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStatement(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE account_id = ? AND period_start <= ? AND period_end >= ?
		ORDER BY period_end
		LIMIT 1
	`, accountID, d.String(), d.String())
}

func (s *Store) FindOpenStatement(ctx context.Context, accountID billing.AccountID) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStatement(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE account_id = ? AND status = ?
		LIMIT 1
	`, accountID, billing.StatusOpen)
}

func (s *Store) LatestStatementBefore(ctx context.Context, accountID billing.AccountID, d calendar.Date) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStatement(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE account_id = ? AND period_end < ?
		ORDER BY period_end DESC
		LIMIT 1
	`, accountID, d.String())
}

func (s *Store) EarliestStatementAfter(ctx context.Context, accountID billing.AccountID, d calendar.Date) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStatement(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE account_id = ? AND period_start > ?
		ORDER BY period_start
		LIMIT 1
	`, accountID, d.String())
}

func (s *Store) ListStatements(ctx context.Context, accountID billing.AccountID) ([]billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStatements(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE account_id = ?
		ORDER BY period_start
	`, accountID)
}

func (s *Store) ListDueUnpaidStatements(ctx context.Context, asOf calendar.Date) ([]billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStatements(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE status = ? AND due_date <= ? AND (paid_tx_ref IS NULL OR paid_tx_ref = '')
		ORDER BY due_date, id
	`, billing.StatusClosed, asOf.String())
}

func (s *Store) CreateStatement(ctx context.Context, st billing.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statements (`+statementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, st.AccountID, st.PeriodStart.String(), st.PeriodEnd.String(),
		st.ClosingDate.String(), st.DueDate.String(),
		st.Balance.Value.String(), st.PaidAmount.Value.String(), st.Balance.Currency, st.Status,
		nullString(string(st.PlannedTxRef)), nullString(string(st.PaidTxRef)),
		nullTime(st.ClosedAt), nullTime(st.SettledAt), formatTime(st.CreatedAt), formatTime(st.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateStatement
		}
		return fmt.Errorf("failed to create statement: %w", err)
	}
	return nil
}

func (s *Store) UpdateStatement(ctx context.Context, st billing.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE statements SET
			period_start = ?, balance = ?, paid_amount = ?, status = ?,
			planned_tx_ref = ?, paid_tx_ref = ?, closed_at = ?, settled_at = ?, updated_at = ?
		WHERE id = ?
	`, st.PeriodStart.String(), st.Balance.Value.String(), st.PaidAmount.Value.String(), st.Status,
		nullString(string(st.PlannedTxRef)), nullString(string(st.PaidTxRef)),
		nullTime(st.ClosedAt), nullTime(st.SettledAt), formatTime(st.UpdatedAt), st.ID)
	if err != nil {
		return fmt.Errorf("failed to update statement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "statement", ID: string(st.ID)}
	}
	return nil
}

func (s *Store) queryStatement(ctx context.Context, query string, args ...any) (*billing.Statement, error) {
	st, err := scanStatement(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query statement: %w", err)
	}
	return st, nil
}

func (s *Store) queryStatements(ctx context.Context, query string, args ...any) ([]billing.Statement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", err)
	}
	defer rows.Close()

	var out []billing.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanStatement(row scanner) (*billing.Statement, error) {
	var (
		st                                       billing.Statement
		periodStart, periodEnd, closing, due     string
		balance, paid, currency                  string
		plannedRef, paidRef, closedAt, settledAt sql.NullString
		createdAt, updatedAt                     string
	)
	if err := row.Scan(&st.ID, &st.AccountID, &periodStart, &periodEnd, &closing, &due,
		&balance, &paid, &currency, &st.Status, &plannedRef, &paidRef,
		&closedAt, &settledAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if st.PeriodStart, err = calendar.ParseDate(periodStart); err != nil {
		return nil, err
	}
	if st.PeriodEnd, err = calendar.ParseDate(periodEnd); err != nil {
		return nil, err
	}
	if st.ClosingDate, err = calendar.ParseDate(closing); err != nil {
		return nil, err
	}
	if st.DueDate, err = calendar.ParseDate(due); err != nil {
		return nil, err
	}
	if st.Balance, err = billing.ParseMoney(balance, currency); err != nil {
		return nil, err
	}
	if st.PaidAmount, err = billing.ParseMoney(paid, currency); err != nil {
		return nil, err
	}
	st.PlannedTxRef = billing.TransactionRef(plannedRef.String)
	st.PaidTxRef = billing.TransactionRef(paidRef.String)
	st.ClosedAt = parseTime(closedAt.String)
	st.SettledAt = parseTime(settledAt.String)
	st.CreatedAt = parseTime(createdAt)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

// =============================================================================
// RECURRENCES
// =============================================================================

const recurrenceColumns = `id, name, account_id, category_id, kind, amount, currency_code,
	day_of_month, holiday_policy, active, last_generated`

func (s *Store) GetRecurrence(ctx context.Context, id billing.RecurrenceID) (*billing.Recurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanRecurrence(s.db.QueryRowContext(ctx, `SELECT `+recurrenceColumns+` FROM recurrences WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "recurrence", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence: %w", err)
	}
	return r, nil
}

func (s *Store) ListRecurrences(ctx context.Context) ([]billing.Recurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecurrences(ctx, `SELECT `+recurrenceColumns+` FROM recurrences ORDER BY id`)
}

func (s *Store) ListActiveRecurrences(ctx context.Context) ([]billing.Recurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecurrences(ctx, `SELECT `+recurrenceColumns+` FROM recurrences WHERE active = TRUE ORDER BY id`)
}

func (s *Store) SaveRecurrence(ctx context.Context, r billing.Recurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recurrences (`+recurrenceColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			account_id = excluded.account_id,
			category_id = excluded.category_id,
			kind = excluded.kind,
			amount = excluded.amount,
			currency_code = excluded.currency_code,
			day_of_month = excluded.day_of_month,
			holiday_policy = excluded.holiday_policy,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, r.AccountID, nullString(string(r.CategoryID)), r.Kind,
		r.Amount.Value.String(), r.Amount.Currency, int(r.DayOfMonth), r.HolidayPolicy,
		r.Active, r.LastGenerated.String(), now, now)
	if err != nil {
		return fmt.Errorf("failed to save recurrence: %w", err)
	}
	return nil
}

func (s *Store) FindGeneration(ctx context.Context, id billing.RecurrenceID, period calendar.YearMonth) (*billing.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		g                     billing.Generation
		periodStr, occurredOn string
		createdAt             string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, recurrence_id, period, transaction_ref, occurred_on, created_at
		FROM recurrence_generations
		WHERE recurrence_id = ? AND period = ?
	`, id, period.String()).Scan(&g.ID, &g.RecurrenceID, &periodStr, &g.TransactionRef, &occurredOn, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find generation: %w", err)
	}
	if g.Period, err = calendar.ParseYearMonth(periodStr); err != nil {
		return nil, err
	}
	if g.OccurredOn, err = calendar.ParseDate(occurredOn); err != nil {
		return nil, err
	}
	g.CreatedAt = parseTime(createdAt)
	return &g, nil
}

// SaveGeneration inserts the generation record and advances the marker in
// one database transaction.
func (s *Store) SaveGeneration(ctx context.Context, g billing.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recurrence_generations (id, recurrence_id, period, transaction_ref, occurred_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.ID, g.RecurrenceID, g.Period.String(), g.TransactionRef, g.OccurredOn.String(), formatTime(g.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateGeneration
		}
		return fmt.Errorf("failed to save generation: %w", err)
	}

	// "YYYY-MM" compares correctly as text; '' sorts first.
	_, err = tx.ExecContext(ctx, `
		UPDATE recurrences SET last_generated = ?, updated_at = ?
		WHERE id = ? AND last_generated < ?
	`, g.Period.String(), formatTime(time.Now()), g.RecurrenceID, g.Period.String())
	if err != nil {
		return fmt.Errorf("failed to advance generation marker: %w", err)
	}
	return tx.Commit()
}

func (s *Store) queryRecurrences(ctx context.Context, query string, args ...any) ([]billing.Recurrence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurrences: %w", err)
	}
	defer rows.Close()

	var out []billing.Recurrence
	for rows.Next() {
		r, err := scanRecurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurrence: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRecurrence(row scanner) (*billing.Recurrence, error) {
	var (
		r                        billing.Recurrence
		category                 sql.NullString
		amount, currency, marker string
		day                      int
	)
	if err := row.Scan(&r.ID, &r.Name, &r.AccountID, &category, &r.Kind, &amount, &currency,
		&day, &r.HolidayPolicy, &r.Active, &marker); err != nil {
		return nil, err
	}
	var err error
	if r.Amount, err = billing.ParseMoney(amount, currency); err != nil {
		return nil, err
	}
	if r.LastGenerated, err = calendar.ParseYearMonth(marker); err != nil {
		return nil, err
	}
	r.CategoryID = billing.CategoryID(category.String)
	r.DayOfMonth = calendar.DayOfMonth(day)
	return &r, nil
}

// =============================================================================
// HOLIDAYS (calendar.HolidayRepository)
// =============================================================================
//
// Holidays are cached in a HolidaySet so IsHoliday, called on every step of
// the business-day walk, never touches the database.

func (s *Store) IsHoliday(d calendar.Date) bool {
	return s.holidays.IsHoliday(d)
}

func (s *Store) ListHolidays(ctx context.Context) ([]calendar.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, date, name, recurring FROM holidays ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	var out []calendar.Holiday
	for rows.Next() {
		var (
			h       calendar.Holiday
			dateStr string
		)
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		if h.Date, err = calendar.ParseDate(dateStr); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) SaveHoliday(ctx context.Context, h calendar.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`, h.ID, h.Date.String(), h.Name, h.Recurring, formatTime(time.Now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("holiday %q on %s already exists", h.Name, h.Date)
		}
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	s.holidays.Remove(h.ID)
	s.holidays.Add(h)
	return nil
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM holidays WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete holiday: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", calendar.ErrHolidayNotFound, id)
	}
	s.holidays.Remove(id)
	return nil
}

func (s *Store) loadHolidays(ctx context.Context) error {
	holidays, err := s.ListHolidays(ctx)
	if err != nil {
		return err
	}
	for _, h := range holidays {
		s.holidays.Add(h)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return d, nil
}

var (
	_ billing.Store              = (*Store)(nil)
	_ billing.Ledger             = (*Store)(nil)
	_ calendar.HolidayRepository = (*Store)(nil)
)
