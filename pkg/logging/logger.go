// Package logging configures the zerolog logger shared by the proxy.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every request and cache decision.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs lifecycle events.
	LevelInfo LogLevel = "info"

	// LevelWarn logs degraded operation.
	LevelWarn LogLevel = "warn"

	// LevelError logs failures only.
	LevelError LogLevel = "error"
)

// Component names passed to NewLogger.
const (
	ComponentProxy  = "proxy"
	ComponentOrigin = "origin"
	ComponentStore  = "store"
	ComponentAdmin  = "admin"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
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

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a configured level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel falls back to info for unknown names.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-request detail
//   - Cache decisions (fresh hit, miss, stale revalidation)
//   - Origin fetches and their status
//   - Store mutations (store, touch)
//
// Info: lifecycle
//   - Listener and admin server startup
//   - Store connected
//   - Shutdown
//
// Warn: degraded but serving
//   - Origin unreachable (client gets 502/504)
//   - Store write failed after a successful fetch
//   - Store connect retries
//
// Error: needs attention
//   - Store unavailable on lookup (client gets 503)
//   - Origin status that cannot be relayed
//   - Fatal startup errors
//
// Context Fields:
//   - component: proxy, origin, store, admin
//   - remote: client address
//   - method, url: request line
//   - key: cache key
//   - status: status sent to the client
//   - cache: request result (hit, miss, revalidated, refreshed, passthrough, error)
//   - origin: origin address
//   - duration: time to serve
