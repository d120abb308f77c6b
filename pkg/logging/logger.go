// Package logging provides the structured JSON logger used across the query
// engine. Planners log at Debug, steps log recovered conditions at Warn and the
// engine logs completed statements with their latency.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// With returns a child logger that adds fields to every entry
	With(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
	Enabled(level Level) bool
}

// Entry is one JSON line written by JSONLogger.
type Entry struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// JSONLogger writes one JSON object per line. Child loggers created through
// With share the parent's writer, lock and level.
type JSONLogger struct {
	out    *output
	fields []Field
}

type output struct {
	mu     sync.Mutex
	writer io.Writer
	level  Level
}

// NewJSONLogger creates a logger writing to w at the given level.
func NewJSONLogger(w io.Writer, level Level) *JSONLogger {
	return &JSONLogger{out: &output{writer: w, level: level}}
}

func (l *JSONLogger) write(level Level, msg string, fields []Field) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if level < l.out.level {
		return
	}

	entry := Entry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	if n := len(l.fields) + len(fields); n > 0 {
		entry.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			entry.Fields[f.Key] = f.Value
		}
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out.writer, "{\"level\":\"ERROR\",\"msg\":\"unencodable log entry\",\"error\":%q}\n", err.Error())
		return
	}
	data = append(data, '\n')
	_, _ = l.out.writer.Write(data)
}

func (l *JSONLogger) Debug(msg string, fields ...Field) { l.write(DebugLevel, msg, fields) }
func (l *JSONLogger) Info(msg string, fields ...Field)  { l.write(InfoLevel, msg, fields) }
func (l *JSONLogger) Warn(msg string, fields ...Field)  { l.write(WarnLevel, msg, fields) }
func (l *JSONLogger) Error(msg string, fields ...Field) { l.write(ErrorLevel, msg, fields) }

// With creates a child logger with the given fields pre-set
func (l *JSONLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &JSONLogger{out: l.out, fields: merged}
}

func (l *JSONLogger) SetLevel(level Level) {
	l.out.mu.Lock()
	l.out.level = level
	l.out.mu.Unlock()
}

func (l *JSONLogger) GetLevel() Level {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level
}

// Enabled reports whether entries at level would be written.
func (l *JSONLogger) Enabled(level Level) bool {
	return level >= l.GetLevel()
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field)   {}
func (NopLogger) Info(string, ...Field)    {}
func (NopLogger) Warn(string, ...Field)    {}
func (NopLogger) Error(string, ...Field)   {}
func (n NopLogger) With(...Field) Logger   { return n }
func (NopLogger) SetLevel(Level)           {}
func (NopLogger) GetLevel() Level          { return ErrorLevel + 1 }
func (NopLogger) Enabled(level Level) bool { return false }

// NewNopLogger creates a logger that discards all output
func NewNopLogger() Logger {
	return NopLogger{}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
	defaultOnce   sync.Once
)

// DefaultLogger returns the process logger writing to stderr at the level
// named by LOG_LEVEL.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = NewJSONLogger(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")))
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process logger.
func SetDefaultLogger(logger Logger) {
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// TimedOperation measures the duration of an operation and logs it on End.
type TimedOperation struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}

// StartTimer begins timing an operation
func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{logger: logger, msg: msg, start: time.Now(), fields: fields}
}

// Elapsed returns the time since StartTimer.
func (t *TimedOperation) Elapsed() time.Duration {
	return time.Since(t.start)
}

// End logs the operation at Info with its latency
func (t *TimedOperation) End(extra ...Field) {
	t.logger.Info(t.msg, t.withLatency(extra)...)
}

// EndDebug logs the operation at Debug with its latency
func (t *TimedOperation) EndDebug(extra ...Field) {
	t.logger.Debug(t.msg, t.withLatency(extra)...)
}

// EndError logs the operation as failed
func (t *TimedOperation) EndError(err error, extra ...Field) {
	t.logger.Error(t.msg, append(t.withLatency(extra), Error(err))...)
}

func (t *TimedOperation) withLatency(extra []Field) []Field {
	fields := make([]Field, 0, len(t.fields)+len(extra)+1)
	fields = append(fields, t.fields...)
	fields = append(fields, extra...)
	return append(fields, Latency(time.Since(t.start)))
}
