// Package nxlog builds the structured zerolog logger used across Nexo and
// provides panic-recovery helpers for long-running goroutines.
package nxlog

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's level and output format.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|text|pretty
}

// New builds a zerolog.Logger stamped with a timestamp, caller info, and a
// "service" field. Format "pretty" writes human-readable console output;
// anything else writes JSON (Loki-compatible).
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "nexo").
		Logger()
}

// RecoverPanic recovers a panic in the calling goroutine, logs it with a
// stack trace, and lets execution continue instead of crashing the process.
// Every long-running goroutine (connection pumps, worker pool slots,
// schedulers) defers this first.
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))

		for k, v := range fields {
			event = event.Interface(k, v)
		}

		event.Msg("goroutine panic recovered")
	}
}
