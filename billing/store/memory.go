// Package store provides an in-memory implementation of the billing
// repositories, the Ledger collaborator and the holiday calendar.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	accounts     map[billing.AccountID]billing.Account
	statements   map[billing.StatementID]billing.Statement
	periods      map[periodKey]billing.StatementID
	recurrences  map[billing.RecurrenceID]billing.Recurrence
	generations  map[generationKey]billing.Generation
	transactions []billing.Transaction
	idempotency  map[string]int // key -> index in transactions
	holidays     *calendar.HolidaySet
	now          func() time.Time
}

type periodKey struct {
	AccountID billing.AccountID
	PeriodEnd string
}

type generationKey struct {
	RecurrenceID billing.RecurrenceID
	Period       calendar.YearMonth
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[billing.AccountID]billing.Account),
		statements:  make(map[billing.StatementID]billing.Statement),
		periods:     make(map[periodKey]billing.StatementID),
		recurrences: make(map[billing.RecurrenceID]billing.Recurrence),
		generations: make(map[generationKey]billing.Generation),
		idempotency: make(map[string]int),
		holidays:    calendar.NewHolidaySet(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id billing.AccountID) (*billing.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "account", ID: string(id)}
	}
	a = copyAccount(a)
	return &a, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]billing.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveAccount(_ context.Context, a billing.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = copyAccount(a)
	return nil
}

func copyAccount(a billing.Account) billing.Account {
	if a.Billing != nil {
		cfg := *a.Billing
		a.Billing = &cfg
	}
	return a
}

// =============================================================================
// STATEMENTS
// =============================================================================

func (m *Memory) GetStatement(_ context.Context, id billing.StatementID) (*billing.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statements[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "statement", ID: string(id)}
	}
	return &s, nil
}

func (m *Memory) FindStatementCovering(_ context.Context, accountID billing.AccountID, d calendar.Date) (*billing.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.statements {
		if s.AccountID == accountID && s.Period().Contains(d) {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindOpenStatement(_ context.Context, accountID billing.AccountID) (*billing.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.statements {
		if s.AccountID == accountID && s.Status == billing.StatusOpen {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) LatestStatementBefore(_ context.Context, accountID billing.AccountID, d calendar.Date) (*billing.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *billing.Statement
	for _, s := range m.statements {
		if s.AccountID != accountID || !s.PeriodEnd.Before(d) {
			continue
		}
		if latest == nil || s.PeriodEnd.After(latest.PeriodEnd) {
			s := s
			latest = &s
		}
	}
	return latest, nil
}

func (m *Memory) EarliestStatementAfter(_ context.Context, accountID billing.AccountID, d calendar.Date) (*billing.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var earliest *billing.Statement
	for _, s := range m.statements {
		if s.AccountID != accountID || !s.PeriodStart.After(d) {
			continue
		}
		if earliest == nil || s.PeriodStart.Before(earliest.PeriodStart) {
			s := s
			earliest = &s
		}
	}
	return earliest, nil
}

func (m *Memory) ListStatements(_ context.Context, accountID billing.AccountID) ([]billing.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Statement
	for _, s := range m.statements {
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (m *Memory) ListDueUnpaidStatements(_ context.Context, asOf calendar.Date) ([]billing.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Statement
	for _, s := range m.statements {
		if s.IsDueUnpaid(asOf) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (m *Memory) CreateStatement(_ context.Context, s billing.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := periodKey{AccountID: s.AccountID, PeriodEnd: s.PeriodEnd.String()}
	if _, exists := m.periods[k]; exists {
		return billing.ErrDuplicateStatement
	}
	if _, exists := m.statements[s.ID]; exists {
		return billing.ErrDuplicateStatement
	}
	m.statements[s.ID] = s
	m.periods[k] = s.ID
	return nil
}

func (m *Memory) UpdateStatement(_ context.Context, s billing.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statements[s.ID]; !ok {
		return &billing.NotFoundError{Kind: "statement", ID: string(s.ID)}
	}
	m.statements[s.ID] = s
	return nil
}

// =============================================================================
// RECURRENCES
// =============================================================================

func (m *Memory) GetRecurrence(_ context.Context, id billing.RecurrenceID) (*billing.Recurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recurrences[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "recurrence", ID: string(id)}
	}
	return &r, nil
}

func (m *Memory) ListRecurrences(_ context.Context) ([]billing.Recurrence, error) {
	return m.listRecurrences(false), nil
}

func (m *Memory) ListActiveRecurrences(_ context.Context) ([]billing.Recurrence, error) {
	return m.listRecurrences(true), nil
}

func (m *Memory) listRecurrences(activeOnly bool) []billing.Recurrence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Recurrence
	for _, r := range m.recurrences {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) SaveRecurrence(_ context.Context, r billing.Recurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recurrences[r.ID] = r
	return nil
}

func (m *Memory) FindGeneration(_ context.Context, id billing.RecurrenceID, period calendar.YearMonth) (*billing.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.generations[generationKey{RecurrenceID: id, Period: period}]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *Memory) SaveGeneration(_ context.Context, g billing.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := generationKey{RecurrenceID: g.RecurrenceID, Period: g.Period}
	if _, exists := m.generations[k]; exists {
		return billing.ErrDuplicateGeneration
	}
	m.generations[k] = g
	if r, ok := m.recurrences[g.RecurrenceID]; ok && r.LastGenerated.Before(g.Period) {
		r.LastGenerated = g.Period
		m.recurrences[g.RecurrenceID] = r
	}
	return nil
}

// Generations returns the generation records of a recurrence ordered by period.
func (m *Memory) Generations(id billing.RecurrenceID) []billing.Generation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Generation
	for k, g := range m.generations {
		if k.RecurrenceID == id {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) SumTransactions(_ context.Context, accountID billing.AccountID, from, to calendar.Date) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, tx := range m.transactions {
		if tx.AccountID != accountID {
			continue
		}
		if from.BeforeOrEqual(tx.OccurredOn) && tx.OccurredOn.BeforeOrEqual(to) {
			sum = sum.Add(billing.StatementDelta(tx.Kind, tx.Amount.Value))
		}
	}
	return sum, nil
}

func (m *Memory) CreateTransaction(_ context.Context, spec billing.TransactionSpec) (billing.TransactionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dup := m.duplicateLocked(spec.IdempotencyKey); dup != nil {
		return "", dup
	}
	acct, ok := m.accounts[spec.AccountID]
	if !ok {
		return "", &billing.NotFoundError{Kind: "account", ID: string(spec.AccountID)}
	}
	if err := checkAmount(acct, spec.Amount); err != nil {
		return "", err
	}

	return m.appendLocked(billing.Transaction{
		AccountID:      spec.AccountID,
		CategoryID:     spec.CategoryID,
		Kind:           spec.Kind,
		Amount:         spec.Amount,
		OccurredOn:     spec.OccurredOn,
		Notes:          spec.Notes,
		StatementID:    spec.StatementID,
		RecurrenceID:   spec.RecurrenceID,
		IdempotencyKey: spec.IdempotencyKey,
	}), nil
}

// Transfer moves req.Amount when the source can cover it. Otherwise, with
// AllowPartial and a positive available balance, it moves what is available
// and reports the shortfall.
func (m *Memory) Transfer(_ context.Context, req billing.TransferRequest) (billing.TransactionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dup := m.duplicateLocked(req.IdempotencyKey); dup != nil {
		return "", dup
	}
	from, ok := m.accounts[req.From]
	if !ok {
		return "", &billing.NotFoundError{Kind: "account", ID: string(req.From)}
	}
	to, ok := m.accounts[req.To]
	if !ok {
		return "", &billing.NotFoundError{Kind: "account", ID: string(req.To)}
	}
	if err := checkAmount(from, req.Amount); err != nil {
		return "", err
	}
	if err := checkAmount(to, req.Amount); err != nil {
		return "", err
	}

	available := m.availableLocked(req.From)
	amount := req.Amount
	if available.LessThan(req.Amount.Value) {
		short := &billing.InsufficientFundsError{
			AccountID: req.From,
			Available: available,
			Requested: req.Amount.Value,
			Moved:     decimal.Zero,
		}
		if !req.AllowPartial || !available.IsPositive() {
			return "", short
		}
		amount = billing.NewMoney(available, req.Amount.Currency)
		short.Moved = available
		short.Ref = m.appendLocked(transferTx(req, amount))
		return "", short
	}
	return m.appendLocked(transferTx(req, amount)), nil
}

// Available returns the spendable balance of an account.
func (m *Memory) Available(_ context.Context, id billing.AccountID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableLocked(id), nil
}

// Transactions returns a copy of every recorded transaction.
func (m *Memory) Transactions() []billing.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.Transaction(nil), m.transactions...)
}

func (m *Memory) availableLocked(id billing.AccountID) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range m.transactions {
		sum = sum.Add(billing.FundsDelta(tx, id))
	}
	return sum
}

func (m *Memory) duplicateLocked(key string) error {
	if key == "" {
		return nil
	}
	i, ok := m.idempotency[key]
	if !ok {
		return nil
	}
	tx := m.transactions[i]
	return &billing.DuplicateTransactionError{Key: key, Ref: tx.Ref, Amount: tx.Amount.Value}
}

func (m *Memory) appendLocked(tx billing.Transaction) billing.TransactionRef {
	tx.Ref = billing.TransactionRef(uuid.NewString())
	tx.CreatedAt = m.now()
	m.transactions = append(m.transactions, tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = len(m.transactions) - 1
	}
	return tx.Ref
}

func transferTx(req billing.TransferRequest, amount billing.Money) billing.Transaction {
	return billing.Transaction{
		AccountID:        req.From,
		CounterAccountID: req.To,
		Kind:             billing.TxTransfer,
		Amount:           amount,
		OccurredOn:       req.OccurredOn,
		Notes:            req.Notes,
		StatementID:      req.StatementID,
		IdempotencyKey:   req.IdempotencyKey,
	}
}

func checkAmount(acct billing.Account, amount billing.Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", billing.ErrConfiguration, amount.Value)
	}
	if amount.Currency != acct.CurrencyCode {
		return fmt.Errorf("%w: account %s is %s, amount is %s",
			billing.ErrCurrencyMismatch, acct.ID, acct.CurrencyCode, amount.Currency)
	}
	return nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (m *Memory) IsHoliday(d calendar.Date) bool { return m.holidays.IsHoliday(d) }

func (m *Memory) ListHolidays(_ context.Context) ([]calendar.Holiday, error) {
	return m.holidays.List(), nil
}

func (m *Memory) SaveHoliday(_ context.Context, h calendar.Holiday) error {
	m.holidays.Remove(h.ID)
	m.holidays.Add(h)
	return nil
}

func (m *Memory) DeleteHoliday(_ context.Context, id string) error {
	if !m.holidays.Remove(id) {
		return fmt.Errorf("%w: %s", calendar.ErrHolidayNotFound, id)
	}
	return nil
}

var (
	_ billing.Store              = (*Memory)(nil)
	_ billing.Ledger             = (*Memory)(nil)
	_ calendar.HolidayRepository = (*Memory)(nil)
)
