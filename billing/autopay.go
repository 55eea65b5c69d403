package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// AUTOPAY DISPATCHER
// =============================================================================

// AutopayDispatcher settles every due, unpaid statement of autopay accounts.
type AutopayDispatcher struct {
	accounts    AccountRepository
	statements  StatementRepository
	manager     *StatementManager
	logger      *slog.Logger
	concurrency int
}

func NewAutopayDispatcher(accounts AccountRepository, statements StatementRepository, manager *StatementManager, opts Options) *AutopayDispatcher {
	opts = opts.withDefaults()
	return &AutopayDispatcher{
		accounts:    accounts,
		statements:  statements,
		manager:     manager,
		logger:      opts.Logger.With("component", "autopay"),
		concurrency: opts.Concurrency,
	}
}

// Run settles statements due on or before asOf. One statement's failure
// never blocks the rest; each gets its own result.
func (d *AutopayDispatcher) Run(ctx context.Context, asOf calendar.Date) (Report, error) {
	start := time.Now()
	report := Report{Operation: OpAutopay, RunDate: asOf}

	due, err := d.statements.ListDueUnpaidStatements(ctx, asOf)
	if err != nil {
		return report, fmt.Errorf("list due statements: %w", err)
	}

	accounts := make(map[AccountID]*Account)
	var eligible []Statement
	for _, s := range due {
		acct, ok := accounts[s.AccountID]
		if !ok {
			acct, err = d.accounts.GetAccount(ctx, s.AccountID)
			if err != nil {
				report.Items = append(report.Items, failed(string(s.ID), s.AccountID, err))
				continue
			}
			accounts[s.AccountID] = acct
		}
		if acct.HasAutopay() {
			eligible = append(eligible, s)
		}
	}

	items, cancelled := runBatch(ctx, d.concurrency, eligible, func(ctx context.Context, s Statement) ItemResult {
		return d.settle(ctx, s, asOf)
	})
	report.Items = append(report.Items, items...)
	report.Cancelled = cancelled
	report.Duration = time.Since(start)

	d.logger.Info("autopay run finished",
		"as_of", asOf.String(),
		"settled", report.Count(OutcomeSettled),
		"partial", report.Count(OutcomePartial),
		"failed", report.Count(OutcomeFailed))
	return report, nil
}

func (d *AutopayDispatcher) settle(ctx context.Context, s Statement, asOf calendar.Date) ItemResult {
	stmt, err := d.manager.Settle(ctx, s.ID, asOf)
	if err != nil {
		d.logger.Warn("autopay failed", "statement_id", string(s.ID), "error", err)
		return failed(string(s.ID), s.AccountID, err)
	}

	result := ItemResult{
		EntityID:       string(stmt.ID),
		AccountID:      stmt.AccountID,
		Outcome:        OutcomeSettled,
		TransactionRef: stmt.PaidTxRef,
		Amount:         stmt.PaidAmount,
	}
	if stmt.Status == StatusPartial {
		result.Outcome = OutcomePartial
		result.Reason = fmt.Sprintf("paid %s of %s", stmt.PaidAmount, stmt.Balance)
	}
	return result
}
