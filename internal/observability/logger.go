// Package observability defines shared logging primitives.
package observability

import "log"

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

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
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

// StdLogger routes structured entries through the standard library logger.
type StdLogger struct{}

func (StdLogger) Debug(msg string, fields ...Field) { logLine("DEBUG", msg, fields) }
func (StdLogger) Info(msg string, fields ...Field)  { logLine("INFO", msg, fields) }
func (StdLogger) Error(msg string, fields ...Field) { logLine("ERROR", msg, fields) }

func logLine(level, msg string, fields []Field) {
	if len(fields) == 0 {
		log.Printf("%s %s", level, msg)
		return
	}
	args := make([]any, 0, len(fields)*2)
	format := "%s %s"
	for _, f := range fields {
		format += " %s=%v"
		args = append(args, f.Key, f.Value)
	}
	all := append([]any{level, msg}, args...)
	log.Printf(format, all...)
}
