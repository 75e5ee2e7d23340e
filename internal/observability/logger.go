// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts a standard library logger to the Logger interface.
// Debug output is suppressed unless Verbose is set.
type StdLogger struct {
	Out     *log.Logger
	Verbose bool
}

// NewStdLogger wraps the provided standard library logger.
func NewStdLogger(out *log.Logger, verbose bool) *StdLogger {
	return &StdLogger{Out: out, Verbose: verbose}
}

func (l *StdLogger) Debug(msg string, fields ...Field) {
	if l == nil || l.Out == nil || !l.Verbose {
		return
	}
	l.Out.Printf("DEBUG %s%s", msg, formatFields(fields))
}

func (l *StdLogger) Info(msg string, fields ...Field) {
	if l == nil || l.Out == nil {
		return
	}
	l.Out.Printf("INFO %s%s", msg, formatFields(fields))
}

func (l *StdLogger) Error(msg string, fields ...Field) {
	if l == nil || l.Out == nil {
		return
	}
	l.Out.Printf("ERROR %s%s", msg, formatFields(fields))
}

func formatFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
