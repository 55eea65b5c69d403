/*
scheduler.go - Daily billing run

PURPOSE:
  Runs the daily billing steps for "today" in the billing time zone:
  recurrences first, then auto-close, then autopay. Recurrences run first
  so that a charge generated today lands in the statement closed today.

DESIGN:
  - A background goroutine wakes every CheckInterval
  - A date whose run completed without failures is not run again
  - Every step is idempotent, so a re-run after a crash or a partial failure
    only retries what is left
  - Each step's report is recorded in metrics and logged

USAGE:
  scheduler := NewDailyScheduler(engine, recorder, logger, loc)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: manual triggers for the same steps
  - cmd/billing-run: one-shot run for an external cron
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
	"github.com/pocketfolio/billing-engine/logging"
	"github.com/pocketfolio/billing-engine/metrics"
)

// =============================================================================
// STEPS
// =============================================================================

// Step is one batch operation of the daily run.
type Step struct {
	Name string
	Run  func(ctx context.Context, date calendar.Date) (billing.Report, error)
}

// DailySteps returns the steps of a daily run, in execution order.
func DailySteps(engine *billing.Engine) []Step {
	return []Step{
		{Name: billing.OpRecurrences, Run: engine.RunRecurrencesForDate},
		{Name: billing.OpCloseDue, Run: engine.CloseDueStatements},
		{Name: billing.OpAutopay, Run: engine.RunAutopay},
	}
}

// RunSteps runs steps in order for date. A step that cannot run at all is
// logged and the next one still runs; the joined errors are returned.
// Per-entity failures stay in the reports.
func RunSteps(ctx context.Context, steps []Step, date calendar.Date, recorder *metrics.Recorder, logger *slog.Logger) ([]billing.Report, error) {
	var (
		reports []billing.Report
		errs    []error
	)
	for _, step := range steps {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := step.Run(ctx, date)
		if err != nil {
			logger.Error("billing step failed",
				logging.FieldOperation, step.Name,
				logging.FieldRunDate, date.String(),
				logging.FieldError, err)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}
		if recorder != nil {
			recorder.Record(report)
		}
		logReport(logger, report)
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func logReport(logger *slog.Logger, report billing.Report) {
	level := slog.LevelInfo
	if len(report.Failed()) > 0 || report.Cancelled {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "billing step completed",
		logging.FieldOperation, report.Operation,
		logging.FieldRunDate, report.RunDate.String(),
		"items", len(report.Items),
		"failed", report.Count(billing.OutcomeFailed),
		"cancelled", report.Cancelled,
		"duration", report.Duration,
	)
	for _, item := range report.Failed() {
		logger.Warn("billing item failed",
			logging.FieldOperation, report.Operation,
			logging.FieldAccountID, string(item.AccountID),
			"entity_id", item.EntityID,
			logging.FieldError, item.Reason)
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

// DailyScheduler runs DailySteps once per billing day.
type DailyScheduler struct {
	Steps         []Step
	Metrics       *metrics.Recorder
	Logger        *slog.Logger
	Location      *time.Location
	CheckInterval time.Duration
	Enabled       bool

	// Now is the clock; defaults to time.Now.
	Now func() time.Time

	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	runMu    sync.Mutex
	lastDone calendar.Date
}

func NewDailyScheduler(engine *billing.Engine, recorder *metrics.Recorder, logger *slog.Logger, loc *time.Location) *DailyScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DailyScheduler{
		Steps:         DailySteps(engine),
		Metrics:       recorder,
		Logger:        logger,
		Location:      loc,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *DailyScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("scheduler started",
		"interval", s.CheckInterval,
		"timezone", s.Location.String())
}

// Stop stops the scheduler and waits for an in-flight run.
func (s *DailyScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("scheduler stopped")
	}
}

func (s *DailyScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.tick(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *DailyScheduler) tick(ctx context.Context) {
	today := calendar.DateOf(s.Now().In(s.Location))
	if s.completed(today) {
		return
	}
	if _, err := s.RunOnce(ctx, today); err != nil {
		s.Logger.Error("daily billing run incomplete",
			logging.FieldRunDate, today.String(),
			logging.FieldError, err)
	}
}

// RunOnce runs every step for date, even when date already completed. A run
// with no step error and no failed item marks date as completed.
func (s *DailyScheduler) RunOnce(ctx context.Context, date calendar.Date) ([]billing.Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	reports, err := RunSteps(ctx, s.Steps, date, s.Metrics, s.Logger)
	if err != nil {
		return reports, err
	}
	for _, r := range reports {
		if r.Cancelled || len(r.Failed()) > 0 {
			return reports, nil
		}
	}
	if s.lastDone.Before(date) {
		s.lastDone = date
	}
	return reports, nil
}

func (s *DailyScheduler) completed(date calendar.Date) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return !s.lastDone.IsZero() && !s.lastDone.Before(date)
}
