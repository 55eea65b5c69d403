package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// RECURRENCE ENGINE
// =============================================================================
//
// Each active recurrence yields at most one transaction per period. The
// period is the nominal month of the occurrence, so a holiday shift that
// moves the occurrence across a month boundary still maps to one period.
// Idempotence is layered:
//   1. a generation record per (recurrence, period) in the store
//   2. a ledger idempotency key per (recurrence, period)
// A crash between (2) and (1) heals on the next run: the ledger reports the
// existing transaction and the record is written then.

type RecurrenceEngine struct {
	recurrences RecurrenceRepository
	ledger      Ledger
	adjuster    *calendar.Adjuster
	notifier    Notifier
	logger      *slog.Logger
	locks       *keyedMutex
	now         func() time.Time
	concurrency int
}

func NewRecurrenceEngine(recurrences RecurrenceRepository, ledger Ledger, adjuster *calendar.Adjuster, opts Options) *RecurrenceEngine {
	opts = opts.withDefaults()
	if adjuster == nil {
		adjuster = calendar.NewAdjuster(calendar.NewWeekdayCalendar(nil))
	}
	return &RecurrenceEngine{
		recurrences: recurrences,
		ledger:      ledger,
		adjuster:    adjuster,
		notifier:    opts.Notifier,
		logger:      opts.Logger.With("component", "recurrences"),
		locks:       newKeyedMutex(),
		now:         opts.Now,
		concurrency: opts.Concurrency,
	}
}

// OccurrenceFor returns the adjusted occurrence date of r in ym.
func (e *RecurrenceEngine) OccurrenceFor(r Recurrence, ym calendar.YearMonth) (calendar.Date, error) {
	nominal, err := calendar.Resolve(r.DayOfMonth, ym)
	if err != nil {
		return calendar.Date{}, configError("day_of_month", int(r.DayOfMonth), err)
	}
	policy := r.HolidayPolicy
	if policy == "" {
		policy = calendar.PolicyNone
	}
	return e.adjuster.Adjust(nominal, policy)
}

// DuePeriod reports which period, if any, has its occurrence on runDate.
// runDate's own month is checked first, then the neighbouring months whose
// occurrence may have been shifted into it.
func (e *RecurrenceEngine) DuePeriod(r Recurrence, runDate calendar.Date) (calendar.YearMonth, bool, error) {
	ym := runDate.YearMonth()
	for _, candidate := range []calendar.YearMonth{ym, ym.AddMonths(1), ym.AddMonths(-1)} {
		occurrence, err := e.OccurrenceFor(r, candidate)
		if err != nil {
			return calendar.YearMonth{}, false, err
		}
		if occurrence.Equal(runDate) {
			return candidate, true, nil
		}
	}
	return calendar.YearMonth{}, false, nil
}

// RunForDate generates the transactions of every active recurrence due on
// runDate. Each recurrence has its own failure boundary. Generations are
// keyed by the occurrence's nominal month rather than runDate's month, so an
// occurrence shifted into a neighbouring month (day 1 ADVANCE landing on
// Jan 31) is generated on its shifted date under its own month (see
// DuePeriod).
func (e *RecurrenceEngine) RunForDate(ctx context.Context, runDate calendar.Date) (Report, error) {
	start := time.Now()
	report := Report{Operation: OpRecurrences, RunDate: runDate}

	active, err := e.recurrences.ListActiveRecurrences(ctx)
	if err != nil {
		return report, fmt.Errorf("list active recurrences: %w", err)
	}

	items, cancelled := runBatch(ctx, e.concurrency, active, func(ctx context.Context, r Recurrence) ItemResult {
		return e.process(ctx, r, runDate)
	})
	report.Items = items
	report.Cancelled = cancelled
	report.Duration = time.Since(start)

	e.logger.Info("recurrence run finished",
		"run_date", runDate.String(),
		"created", report.Count(OutcomeCreated),
		"skipped", report.Count(OutcomeSkipped),
		"failed", report.Count(OutcomeFailed))
	return report, nil
}

// RunOne generates r's transaction for runDate if due.
func (e *RecurrenceEngine) RunOne(ctx context.Context, r Recurrence, runDate calendar.Date) ItemResult {
	return e.process(ctx, r, runDate)
}

func (e *RecurrenceEngine) process(ctx context.Context, r Recurrence, runDate calendar.Date) ItemResult {
	id := string(r.ID)
	if !r.Active {
		return skipped(id, r.AccountID, "inactive")
	}

	period, due, err := e.DuePeriod(r, runDate)
	if err != nil {
		e.logger.Error("occurrence failed", "recurrence_id", id, "error", err)
		return failed(id, r.AccountID, err)
	}
	if !due {
		return skipped(id, r.AccountID, "not due")
	}
	if r.LastGenerated == period {
		return skipped(id, r.AccountID, "already generated for "+period.String())
	}

	unlock := e.locks.Lock(recurrenceKey(r.ID, period))
	defer unlock()

	gen, err := e.recurrences.FindGeneration(ctx, r.ID, period)
	if err != nil {
		return failed(id, r.AccountID, err)
	}
	if gen != nil {
		return skipped(id, r.AccountID, "already generated for "+period.String())
	}

	ref, err := e.ledger.CreateTransaction(ctx, TransactionSpec{
		AccountID:      r.AccountID,
		CategoryID:     r.CategoryID,
		Kind:           r.Kind.TransactionKind(),
		Amount:         r.Amount,
		OccurredOn:     runDate,
		Notes:          "Recurrence: " + r.Name,
		RecurrenceID:   r.ID,
		IdempotencyKey: recurrenceKey(r.ID, period),
	})
	var dup *DuplicateTransactionError
	if errors.As(err, &dup) {
		ref, err = dup.Ref, nil
	}
	if err != nil {
		e.logger.Error("recurrence transaction failed", "recurrence_id", id, "error", err)
		return failed(id, r.AccountID, err)
	}

	err = e.recurrences.SaveGeneration(ctx, Generation{
		ID:             uuid.NewString(),
		RecurrenceID:   r.ID,
		Period:         period,
		TransactionRef: ref,
		OccurredOn:     runDate,
		CreatedAt:      e.now(),
	})
	if errors.Is(err, ErrDuplicateGeneration) {
		return skipped(id, r.AccountID, "already generated for "+period.String())
	}
	if err != nil {
		return failed(id, r.AccountID, fmt.Errorf("save generation: %w", err))
	}

	e.logger.Info("recurrence generated",
		"recurrence_id", id,
		"period", period.String(),
		"tx", string(ref))
	notify(ctx, e.notifier, e.logger, Event{
		Type:           EventRecurrenceGenerated,
		AccountID:      r.AccountID,
		RecurrenceID:   r.ID,
		TransactionRef: ref,
		Amount:         r.Amount,
		Date:           runDate,
		Period:         period.String(),
	})
	return ItemResult{
		EntityID:       id,
		AccountID:      r.AccountID,
		Outcome:        OutcomeCreated,
		TransactionRef: ref,
		Amount:         r.Amount,
	}
}
