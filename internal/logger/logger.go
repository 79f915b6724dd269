// Package logger provides a small, centralized logging facade with
// configurable verbosity levels, backed by logrus.
//
// Call sites only ever format a message:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("starting server on %s", addr)
//	logger.Debugf("spot=%f vol=%f", spot, vol)
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Warnings are printed whenever Info is.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

var std = newStd()

func newStd() *logrus.Logger {
	l := logrus.New()
	// Logs go to stderr so stdout stays clean for CLI output and pipes.
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetVerbosity sets the global logging verbosity. Values outside 0..3
// are clamped.
func SetVerbosity(v int) {
	std.SetLevel(toLogrus(Level(v)))
}

// Verbosity returns the active level.
func Verbosity() Level {
	switch lvl := std.GetLevel(); {
	case lvl >= logrus.TraceLevel:
		return Trace
	case lvl >= logrus.DebugLevel:
		return Debug
	case lvl >= logrus.InfoLevel:
		return Info
	default:
		return Error
	}
}

// SetOutput redirects all log output; tests use it to capture lines.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// SetJSON switches between logrus' JSON and text formatters.
func SetJSON(enabled bool) {
	if enabled {
		std.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// WithFields returns an entry carrying structured fields, for callers
// that want key/value context instead of a formatted message.
func WithFields(fields map[string]any) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}

func toLogrus(l Level) logrus.Level {
	switch {
	case l <= Error:
		return logrus.ErrorLevel
	case l == Info:
		return logrus.InfoLevel
	case l == Debug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// Errorf logs an error-level message.
// Use this for failures that require attention.
func Errorf(format string, args ...any) {
	std.Errorf(format, args...)
}

// Warnf logs a recoverable problem, such as a skipped quote.
func Warnf(format string, args ...any) {
	std.Warnf(format, args...)
}

// Infof logs an informational message.
// Use this for major lifecycle events.
func Infof(format string, args ...any) {
	std.Infof(format, args...)
}

// Debugf logs debugging information.
func Debugf(format string, args ...any) {
	std.Debugf(format, args...)
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	std.Tracef(format, args...)
}
