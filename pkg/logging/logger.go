// Package logging provides structured logging configuration using zerolog.
//
// All log output goes to stderr by default: stdout is reserved for the
// emitted message stream.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual retry attempts and backoff durations
//   - Checkpoint snapshots written per page
//   - Record filter decisions
//
// Info: Normal operation events
//   - Stream sync start/completion with row counts
//   - Successful page fetches
//   - Resume point detection at startup
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts after transient failures
//   - Checkpoint store fallback behavior
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Fatal client/protocol errors aborting the run
//   - Configuration errors
//
// Context Fields:
//   - stream: stream name (addresses, parcels, ...)
//   - url: page URL in flight
//   - status_code: HTTP status code
//   - duration: request duration
//   - error_class: error classification (transient, client, protocol)
//   - records: record count in a fetched page
//   - run_id: unique id for this sync run
