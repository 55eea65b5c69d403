/*
main.go - Billing engine server

PURPOSE:
  Starts the trigger API and the daily billing scheduler over a SQLite
  database. Handles configuration, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and the environment configuration
  2. Initialize SQLite store (migrations run on open)
  3. Connect the AMQP event publisher when AMQP_URL is set
  4. Build the engine, handler and router
  5. Start the scheduler and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight run is cancelled between entities)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the event publisher and the database

ENVIRONMENT:
  See config/config.go. Flags override PORT and SQLITE_DB_PATH.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily run
  - cmd/billing-run: one-shot run for an external cron
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pocketfolio/billing-engine/api"
	"github.com/pocketfolio/billing-engine/billing"
	"github.com/pocketfolio/billing-engine/calendar"
	"github.com/pocketfolio/billing-engine/config"
	"github.com/pocketfolio/billing-engine/events"
	"github.com/pocketfolio/billing-engine/logging"
	"github.com/pocketfolio/billing-engine/metrics"
	"github.com/pocketfolio/billing-engine/store/sqlite"
)

func main() {
	// A missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	cfg := config.Load()
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLiteDBPath, "SQLite database path (\":memory:\" for in-memory)")
	flag.Parse()
	cfg.Port = *port
	cfg.SQLiteDBPath = *dbPath

	level, levelErr := config.ParseLevel(cfg.LogLevel)
	logger := logging.New(logging.Config{Level: level, Format: cfg.LogFormat, Component: logging.ComponentServer})
	if levelErr != nil {
		logger.Warn("invalid log level, using info", logging.FieldError, levelErr)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", logging.FieldError, err)
		os.Exit(1)
	}

	// Initialize store
	if cfg.SQLiteDBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLiteDBPath), 0o755); err != nil {
			logger.Error("failed to create data directory", logging.FieldError, err)
			os.Exit(1)
		}
	}
	store, err := sqlite.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("failed to initialize database", logging.FieldError, err)
		os.Exit(1)
	}
	defer store.Close()

	// Events
	var notifier billing.Notifier = billing.NopNotifier{}
	if cfg.AMQPURL != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey,
			logging.WithComponent(logger, logging.ComponentEvents))
		if err != nil {
			logger.Error("failed to connect event publisher", logging.FieldError, err)
			os.Exit(1)
		}
		defer publisher.Close()
		notifier = publisher
	}

	loc := cfg.Location()
	engine := billing.NewEngine(store, store, billing.Options{
		Calendar:            calendar.NewWeekdayCalendar(store),
		MaxAdjustSteps:      cfg.HolidayMaxSteps,
		Notifier:            notifier,
		Logger:              logging.WithComponent(logger, logging.ComponentEngine),
		Concurrency:         cfg.BatchConcurrency,
		AllowPartialAutopay: cfg.AutopayAllowPartial,
	})
	recorder := metrics.NewRecorder()

	handler := api.NewHandler(engine, store, recorder, logging.WithComponent(logger, logging.ComponentHTTP), loc)
	handler.Resetter = store
	router := api.NewRouter(handler)

	scheduler := api.NewDailyScheduler(engine, recorder, logging.WithComponent(logger, logging.ComponentScheduler), loc)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr, "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", logging.FieldError, err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logging.FieldError, err)
	}

	logger.Info("server stopped")
}
