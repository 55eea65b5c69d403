package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

type EventType string

const (
	EventStatementClosed     EventType = "statement.closed"
	EventStatementSettled    EventType = "statement.settled"
	EventStatementPartial    EventType = "statement.partial"
	EventRecurrenceGenerated EventType = "recurrence.generated"
)

// Event is emitted after a state change has been persisted.
type Event struct {
	Type           EventType
	AccountID      AccountID
	StatementID    StatementID
	RecurrenceID   RecurrenceID
	TransactionRef TransactionRef
	Amount         Money
	Date           calendar.Date
	Period         string
	OccurredAt     time.Time
}

// Notifier receives domain events. Delivery is best effort: a failure is
// logged and never rolls back the state change.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

func notify(ctx context.Context, n Notifier, logger *slog.Logger, e Event) {
	if n == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := n.Notify(ctx, e); err != nil {
		logger.Warn("event publish failed",
			"event", string(e.Type),
			"account_id", string(e.AccountID),
			"error", err)
	}
}
