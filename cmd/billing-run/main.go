/*
main.go - One-shot billing run

PURPOSE:
  Runs the daily billing steps once and exits, for deployments that drive
  billing from an external cron instead of the server's scheduler.

FLAGS:
  -date   Run date YYYY-MM-DD (default: today in SCHEDULER_TIMEZONE)
  -op     all | recurrences | close_due | autopay (default: all)
  -db     SQLite database path (default: SQLITE_DB_PATH)

EXIT STATUS:
  0  every step ran and no item failed
  1  configuration or startup error
  2  a step could not run, or at least one item failed

EXAMPLES:
  # Catch up a missed day
  ./billing-run -date=2024-03-15

  # Retry autopay only
  ./billing-run -op=autopay
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pocketfolio/billing-engine/api"
	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
	"github.com/pocketfolio/billing-engine/config"
	"github.com/pocketfolio/billing-engine/events"
	"github.com/pocketfolio/billing-engine/logging"
	"github.com/pocketfolio/billing-engine/store/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg := config.Load()
	dateFlag := flag.String("date", "", "run date YYYY-MM-DD (default: today)")
	opFlag := flag.String("op", "all", "all | recurrences | close_due | autopay")
	dbPath := flag.String("db", cfg.SQLiteDBPath, "SQLite database path")
	flag.Parse()
	cfg.SQLiteDBPath = *dbPath

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := logging.New(logging.Config{Level: level, Format: cfg.LogFormat, Component: logging.ComponentRunner})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", logging.FieldError, err)
		return 1
	}

	date := calendar.Today(cfg.Location())
	if *dateFlag != "" {
		d, err := calendar.ParseDate(*dateFlag)
		if err != nil {
			logger.Error("invalid -date", logging.FieldError, err)
			return 1
		}
		date = d
	}

	store, err := sqlite.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("failed to initialize database", logging.FieldError, err)
		return 1
	}
	defer store.Close()

	var notifier billing.Notifier = billing.NopNotifier{}
	if cfg.AMQPURL != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey,
			logging.WithComponent(logger, logging.ComponentEvents))
		if err != nil {
			// Events are best effort; billing still runs.
			logger.Warn("event publisher unavailable", logging.FieldError, err)
		} else {
			defer publisher.Close()
			notifier = publisher
		}
	}

	engine := billing.NewEngine(store, store, billing.Options{
		Calendar:            calendar.NewWeekdayCalendar(store),
		MaxAdjustSteps:      cfg.HolidayMaxSteps,
		Notifier:            notifier,
		Logger:              logging.WithComponent(logger, logging.ComponentEngine),
		Concurrency:         cfg.BatchConcurrency,
		AllowPartialAutopay: cfg.AutopayAllowPartial,
	})

	steps, err := selectSteps(api.DailySteps(engine), *opFlag)
	if err != nil {
		logger.Error("invalid -op", logging.FieldError, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, err := api.RunSteps(ctx, steps, date, nil, logger)
	if err != nil {
		return 2
	}
	for _, r := range reports {
		if r.Cancelled || len(r.Failed()) > 0 {
			return 2
		}
	}
	return 0
}

func selectSteps(all []api.Step, op string) ([]api.Step, error) {
	if op == "all" {
		return all, nil
	}
	for _, s := range all {
		if s.Name == op {
			return []api.Step{s}, nil
		}
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}
