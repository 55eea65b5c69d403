package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// LEDGER (billing.Ledger)
// =============================================================================
//
// Writes run inside one database transaction under s.mu so that the
// idempotency check, the funds check and the insert are atomic. The UNIQUE
// index on idempotency_key still backs the check for writers in other
// processes.

const transactionColumns = `id, account_id, counter_account_id, category_id, kind, amount,
	currency_code, occurred_on, notes, statement_id, recurrence_id, idempotency_key, created_at`

// SumTransactions returns EXPENSE minus INCOME for accountID over [from, to].
func (s *Store) SumTransactions(ctx context.Context, accountID billing.AccountID, from, to calendar.Date) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, amount FROM transactions
		WHERE account_id = ? AND occurred_on >= ? AND occurred_on <= ?
	`, accountID, from.String(), to.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var kind billing.TransactionKind
		var amount string
		if err := rows.Scan(&kind, &amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan transaction: %w", err)
		}
		d, err := parseDecimal(amount)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(billing.StatementDelta(kind, d))
	}
	return sum, rows.Err()
}

func (s *Store) CreateTransaction(ctx context.Context, spec billing.TransactionSpec) (billing.TransactionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := duplicateTx(ctx, tx, spec.IdempotencyKey); err != nil {
		return "", err
	}
	acct, err := accountCurrency(ctx, tx, spec.AccountID)
	if err != nil {
		return "", err
	}
	if err := checkAmount(spec.AccountID, acct, spec.Amount); err != nil {
		return "", err
	}

	ref, err := insertTx(ctx, tx, billing.Transaction{
		AccountID:      spec.AccountID,
		CategoryID:     spec.CategoryID,
		Kind:           spec.Kind,
		Amount:         spec.Amount,
		OccurredOn:     spec.OccurredOn,
		Notes:          spec.Notes,
		StatementID:    spec.StatementID,
		RecurrenceID:   spec.RecurrenceID,
		IdempotencyKey: spec.IdempotencyKey,
	})
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ref, nil
}

// Transfer moves req.Amount when the source can cover it. Otherwise, with
// AllowPartial and a positive available balance, it moves what is available
// and returns an *InsufficientFundsError carrying the moved amount and ref.
func (s *Store) Transfer(ctx context.Context, req billing.TransferRequest) (billing.TransactionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := duplicateTx(ctx, tx, req.IdempotencyKey); err != nil {
		return "", err
	}
	fromCurrency, err := accountCurrency(ctx, tx, req.From)
	if err != nil {
		return "", err
	}
	toCurrency, err := accountCurrency(ctx, tx, req.To)
	if err != nil {
		return "", err
	}
	if err := checkAmount(req.From, fromCurrency, req.Amount); err != nil {
		return "", err
	}
	if err := checkAmount(req.To, toCurrency, req.Amount); err != nil {
		return "", err
	}

	available, err := availableFunds(ctx, tx, req.From)
	if err != nil {
		return "", err
	}

	entry := billing.Transaction{
		AccountID:        req.From,
		CounterAccountID: req.To,
		Kind:             billing.TxTransfer,
		Amount:           req.Amount,
		OccurredOn:       req.OccurredOn,
		Notes:            req.Notes,
		StatementID:      req.StatementID,
		IdempotencyKey:   req.IdempotencyKey,
	}

	if !available.LessThan(req.Amount.Value) {
		ref, err := insertTx(ctx, tx, entry)
		if err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit transfer: %w", err)
		}
		return ref, nil
	}

	short := &billing.InsufficientFundsError{
		AccountID: req.From,
		Available: available,
		Requested: req.Amount.Value,
		Moved:     decimal.Zero,
	}
	if !req.AllowPartial || !available.IsPositive() {
		return "", short
	}

	entry.Amount = billing.NewMoney(available, req.Amount.Currency)
	ref, err := insertTx(ctx, tx, entry)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transfer: %w", err)
	}
	short.Moved = available
	short.Ref = ref
	return "", short
}

// Available returns the spendable balance of an account.
func (s *Store) Available(ctx context.Context, id billing.AccountID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return availableFunds(ctx, s.db, id)
}

// ListTransactions returns the transactions booked on or into an account,
// oldest first.
func (s *Store) ListTransactions(ctx context.Context, id billing.AccountID) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? OR counter_account_id = ?
		ORDER BY occurred_on, created_at
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []billing.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER HELPERS
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func duplicateTx(ctx context.Context, q querier, key string) error {
	if key == "" {
		return nil
	}
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = ?`, key)
	existing, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return &billing.DuplicateTransactionError{Key: key, Ref: existing.Ref, Amount: existing.Amount.Value}
}

func accountCurrency(ctx context.Context, q querier, id billing.AccountID) (string, error) {
	var currency string
	err := q.QueryRowContext(ctx, `SELECT currency_code FROM accounts WHERE id = ?`, id).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &billing.NotFoundError{Kind: "account", ID: string(id)}
	}
	if err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	return currency, nil
}

func availableFunds(ctx context.Context, q querier, id billing.AccountID) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT account_id, counter_account_id, kind, amount FROM transactions
		WHERE account_id = ? OR counter_account_id = ?
	`, id, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load funds: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var (
			t       billing.Transaction
			counter sql.NullString
			amount  string
		)
		if err := rows.Scan(&t.AccountID, &counter, &t.Kind, &amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t.Amount.Value, err = parseDecimal(amount); err != nil {
			return decimal.Zero, err
		}
		t.CounterAccountID = billing.AccountID(counter.String)
		sum = sum.Add(billing.FundsDelta(t, id))
	}
	return sum, rows.Err()
}

func insertTx(ctx context.Context, q querier, t billing.Transaction) (billing.TransactionRef, error) {
	t.Ref = billing.TransactionRef(uuid.NewString())
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Ref, t.AccountID, nullString(string(t.CounterAccountID)), nullString(string(t.CategoryID)),
		t.Kind, t.Amount.Value.String(), t.Amount.Currency, t.OccurredOn.String(), nullString(t.Notes),
		nullString(string(t.StatementID)), nullString(string(t.RecurrenceID)),
		nullString(t.IdempotencyKey), formatTime(time.Now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("%w: %s", billing.ErrDuplicateIdempotencyKey, t.IdempotencyKey)
		}
		return "", fmt.Errorf("failed to insert transaction: %w", err)
	}
	return t.Ref, nil
}

func scanTransaction(row scanner) (*billing.Transaction, error) {
	var (
		t                                        billing.Transaction
		counter, category, notes, stmt, rec, key sql.NullString
		amount, currency, occurredOn, createdAt  string
	)
	if err := row.Scan(&t.Ref, &t.AccountID, &counter, &category, &t.Kind, &amount,
		&currency, &occurredOn, &notes, &stmt, &rec, &key, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if t.Amount, err = billing.ParseMoney(amount, currency); err != nil {
		return nil, err
	}
	if t.OccurredOn, err = calendar.ParseDate(occurredOn); err != nil {
		return nil, err
	}
	t.CounterAccountID = billing.AccountID(counter.String)
	t.CategoryID = billing.CategoryID(category.String)
	t.Notes = notes.String
	t.StatementID = billing.StatementID(stmt.String)
	t.RecurrenceID = billing.RecurrenceID(rec.String)
	t.IdempotencyKey = key.String
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func checkAmount(id billing.AccountID, currency string, amount billing.Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", billing.ErrConfiguration, amount.Value)
	}
	if amount.Currency != currency {
		return fmt.Errorf("%w: account %s is %s, amount is %s",
			billing.ErrCurrencyMismatch, id, currency, amount.Currency)
	}
	return nil
}
