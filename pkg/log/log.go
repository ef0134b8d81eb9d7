// Package log provides the shared logging setup for the host.
// Every subsystem obtains a child logger via Component so log lines
// carry a stable "component" field that a front end can filter on.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var root zerolog.Logger

func init() {
	root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if lvl := os.Getenv("CRFT_LOG_LEVEL"); lvl != "" {
		root = root.Level(ParseLevel(lvl))
	} else {
		root = root.Level(zerolog.InfoLevel)
	}
}

// Root returns the process-wide root logger.
func Root() zerolog.Logger {
	return root
}

// SetOutput redirects the root logger, primarily for tests.
func SetOutput(l zerolog.Logger) {
	root = l
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// SetLevel applies a process-wide level filter. It uses zerolog's global
// level so component loggers created before the call are covered too.
func SetLevel(s string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
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
