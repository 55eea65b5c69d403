// Package logging builds the service's slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Common field names for structured logging.
const (
	FieldComponent   = "component"
	FieldAccountID   = "account_id"
	FieldStatementID = "statement_id"
	FieldOperation   = "operation"
	FieldOutcome     = "outcome"
	FieldRunDate     = "run_date"
	FieldError       = "error"
)

// Component names.
const (
	ComponentServer    = "server"
	ComponentHTTP      = "http"
	ComponentEngine    = "engine"
	ComponentScheduler = "scheduler"
	ComponentEvents    = "events"
	ComponentRunner    = "billing-run"
)

type Config struct {
	Level     slog.Level
	Format    string // "text" or "json"
	Component string
	Output    io.Writer
}

// New returns a logger tagged with the component name.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With(FieldComponent, cfg.Component)
	}
	return logger
}

// WithComponent derives a logger for a sub-component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(FieldComponent, component)
}
