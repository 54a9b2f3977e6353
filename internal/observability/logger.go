// Package observability provides structured logging for the rake service.
package observability

import (
	"fmt"
	"log"
	"time"
)

// LogLevel identifies the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Logger is the logging interface used throughout the service
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	WithPrefix(prefix string) Logger
}

// StandardLogger is a Logger implementation on the standard log package
type StandardLogger struct {
	prefix string
	level  LogLevel
}

// NewStandardLogger creates a new StandardLogger with the given prefix
func NewStandardLogger(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
	}
}

// WithLevel returns a new logger with the specified minimum log level
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	return &StandardLogger{
		prefix: l.prefix,
		level:  level,
	}
}

// Debug logs a debug message
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelDebug) {
		l.log(LogLevelDebug, msg, fields)
	}
}

// Info logs an info message
func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelInfo) {
		l.log(LogLevelInfo, msg, fields)
	}
}

// Warn logs a warning message
func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelWarn) {
		l.log(LogLevelWarn, msg, fields)
	}
}

// Error logs an error message
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

// WithPrefix returns a new logger with the given prefix
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  l.level,
	}
}

func (l *StandardLogger) formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	result := ""
	for k, v := range fields {
		result += fmt.Sprintf(" %s=%v", k, v)
	}
	return result
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	levelHierarchy := map[LogLevel]int{
		LogLevelDebug: 0,
		LogLevelInfo:  1,
		LogLevelWarn:  2,
		LogLevelError: 3,
	}
	return levelHierarchy[level] >= levelHierarchy[l.level]
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	logPrefix := fmt.Sprintf("%s [%s] [%s]", timestamp, level, l.prefix)
	log.Printf("%s %s%s", logPrefix, msg, l.formatFields(fields))
}

// NoopLogger is a logger that does nothing
type NoopLogger struct{}

// NewNoopLogger creates a new NoopLogger
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

// Debug implements Logger.Debug
func (l *NoopLogger) Debug(msg string, fields map[string]interface{}) {}

// Info implements Logger.Info
func (l *NoopLogger) Info(msg string, fields map[string]interface{}) {}

// Warn implements Logger.Warn
func (l *NoopLogger) Warn(msg string, fields map[string]interface{}) {}

// Error implements Logger.Error
func (l *NoopLogger) Error(msg string, fields map[string]interface{}) {}

// WithPrefix implements Logger.WithPrefix
func (l *NoopLogger) WithPrefix(prefix string) Logger {
	return l
}
