package billing

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// BATCH REPORTS
// =============================================================================

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeClosed  Outcome = "closed"
	OutcomeSettled Outcome = "settled"
	OutcomePartial Outcome = "partial"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Batch operation names, as reported in Report.Operation.
const (
	OpRecurrences = "recurrences"
	OpCloseDue    = "close_due"
	OpAutopay     = "autopay"
)

// ItemResult is the outcome of one entity in a batch. A failure here never
// aborts the rest of the batch.
type ItemResult struct {
	EntityID       string
	AccountID      AccountID
	Outcome        Outcome
	TransactionRef TransactionRef
	Amount         Money
	Reason         string
	Err            error
}

// Report is the result of a batch operation for one run date.
type Report struct {
	Operation string
	RunDate   calendar.Date
	Items     []ItemResult
	Cancelled bool
	Duration  time.Duration
}

func (r Report) Count(o Outcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the failed items.
func (r Report) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Outcome == OutcomeFailed {
			out = append(out, it)
		}
	}
	return out
}

func failed(entityID string, accountID AccountID, err error) ItemResult {
	return ItemResult{EntityID: entityID, AccountID: accountID, Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

func skipped(entityID string, accountID AccountID, reason string) ItemResult {
	return ItemResult{EntityID: entityID, AccountID: accountID, Outcome: OutcomeSkipped, Reason: reason}
}

// runBatch applies fn to items with at most limit in flight. Cancellation of
// ctx stops enumeration; items already started run to completion. The
// returned bool reports whether enumeration was cut short.
func runBatch[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) ItemResult) ([]ItemResult, bool) {
	results := make([]ItemResult, len(items))
	started := 0
	cancelled := false

	work := context.WithoutCancel(ctx)
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		i, item := i, item
		g.Go(func() error {
			results[i] = fn(work, item)
			return nil
		})
		started++
	}
	_ = g.Wait()

	return results[:started], cancelled
}
