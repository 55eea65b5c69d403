package billing

import (
	"context"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// REPOSITORY INTERFACES
// =============================================================================
//
// Get* methods return a *NotFoundError for missing entities.
// Find* and Latest* methods return (nil, nil) when nothing matches.

type AccountRepository interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SaveAccount(ctx context.Context, a Account) error
}

type StatementRepository interface {
	GetStatement(ctx context.Context, id StatementID) (*Statement, error)

	// FindStatementCovering returns the statement whose period contains d.
	FindStatementCovering(ctx context.Context, accountID AccountID, d calendar.Date) (*Statement, error)

	// FindOpenStatement returns the account's OPEN statement, if any.
	FindOpenStatement(ctx context.Context, accountID AccountID) (*Statement, error)

	// LatestStatementBefore returns the statement with the greatest period
	// end strictly before d.
	LatestStatementBefore(ctx context.Context, accountID AccountID, d calendar.Date) (*Statement, error)

	// EarliestStatementAfter returns the statement with the smallest period
	// start strictly after d.
	EarliestStatementAfter(ctx context.Context, accountID AccountID, d calendar.Date) (*Statement, error)

	// ListStatements returns the account's statements ordered by period.
	ListStatements(ctx context.Context, accountID AccountID) ([]Statement, error)

	// ListDueUnpaidStatements returns CLOSED statements with no payment whose
	// due date is on or before asOf, ordered by due date.
	ListDueUnpaidStatements(ctx context.Context, asOf calendar.Date) ([]Statement, error)

	// CreateStatement fails with ErrDuplicateStatement when a statement with
	// the same (account, period end) exists.
	CreateStatement(ctx context.Context, s Statement) error

	UpdateStatement(ctx context.Context, s Statement) error
}

type RecurrenceRepository interface {
	GetRecurrence(ctx context.Context, id RecurrenceID) (*Recurrence, error)
	ListRecurrences(ctx context.Context) ([]Recurrence, error)
	ListActiveRecurrences(ctx context.Context) ([]Recurrence, error)
	SaveRecurrence(ctx context.Context, r Recurrence) error

	FindGeneration(ctx context.Context, id RecurrenceID, period calendar.YearMonth) (*Generation, error)

	// SaveGeneration records the generation and advances the recurrence's
	// LastGenerated marker when g.Period is later. A second record for the
	// same (recurrence, period) fails with ErrDuplicateGeneration.
	SaveGeneration(ctx context.Context, g Generation) error
}

// Store combines the repositories the engine needs.
type Store interface {
	AccountRepository
	StatementRepository
	RecurrenceRepository
}
