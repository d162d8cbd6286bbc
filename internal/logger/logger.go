// Package logger provides the small structured logger shared by every
// component of the replay server.
package logger

import (
	"fmt"
	"log"
	"os"
)

// Logger wraps the standard library logger with a component name prefix
// and leveled helpers.
type Logger struct {
	name   string
	logger *log.Logger
}

// New creates a Logger that writes to stdout, tagged with name.
func New(name string) *Logger {
	return &Logger{
		name:   name,
		logger: log.New(os.Stdout, "", log.LstdFlags),
	}
}

// -----------------------------------------------------------------------------

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger.Printf("[%s] DEBUG: %s", l.name, fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Warning logs a warning-level message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.logger.Printf("[%s] WARNING: %s", l.name, fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.logger.Printf("[%s] INFO: %s", l.name, fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger.Printf("[%s] ERROR: %s", l.name, fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Critical logs a fatal message and terminates the process.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.logger.Printf("[%s] CRITICAL: %s", l.name, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// -----------------------------------------------------------------------------

// Named returns a child logger sharing the same output but tagged with a
// sub-component name (e.g. "server.replay").
func (l *Logger) Named(sub string) *Logger {
	return &Logger{name: l.name + "." + sub, logger: l.logger}
}
