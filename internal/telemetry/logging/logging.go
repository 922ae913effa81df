// Package logging provides Chengis's logging infrastructure built on charmbracelet/log.
//
// It wraps charmbracelet/log to provide a centralized logger factory with component
// prefixes, level configuration, and stderr-only output. All log output goes to
// stderr; stdout is reserved for structured output (build status JSON, reports).
//
// Usage:
//
//	// During process startup:
//	logging.Setup(verbose, quiet, jsonFormat)
//
//	// In each package:
//	var log = logging.New("stepexec")
//	log.Info("step started", "stage", stageName, "step", stepName)
//
// Setup must be called before New to ensure child loggers inherit the correct
// level and formatter settings; charmbracelet/log copies state at creation
// time, so later changes to the default logger do not propagate to existing
// children.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases for charmbracelet/log levels, re-exported so consumers do
// not need to import charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// Setup configures the global logging defaults. Call once during process
// initialization, before any package-level logger is constructed with New.
//
// If both verbose and quiet are set, quiet wins: in scheduled/CI contexts
// --quiet should always suppress noise regardless of other flags.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix. An empty component
// string produces a logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Primarily
// useful in tests, where output is captured with a bytes.Buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
