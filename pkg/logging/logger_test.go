package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{" info ", InfoLevel},
		{"warning", WarnLevel},
		{"WARN", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []Entry {
	t.Helper()
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("plan built")
	logger.Info("statement done")
	logger.Warn("timeout reached", Step("TimeoutStep"))
	logger.Error("statement failed", Error(errors.New("boom")))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != "WARN" || entries[0].Fields["step"] != "TimeoutStep" {
		t.Errorf("unexpected warn entry: %+v", entries[0])
	}
	if entries[1].Fields["error"] != "boom" {
		t.Errorf("unexpected error entry: %+v", entries[1])
	}
}

func TestJSONLoggerWithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	child := parent.With(Plan("p-1"), Statement("MATCH"))

	parent.SetLevel(ErrorLevel)
	child.Info("dropped")
	parent.SetLevel(DebugLevel)
	child.Debug("kept", Alias("p"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	got := entries[0].Fields
	if got["plan_id"] != "p-1" || got["statement"] != "MATCH" || got["alias"] != "p" {
		t.Errorf("child fields not merged: %+v", got)
	}
	if !child.Enabled(DebugLevel) {
		t.Error("child should observe parent level change")
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Error("ignored")
	if l.Enabled(ErrorLevel) {
		t.Error("NopLogger should never be enabled")
	}
	if l.With(Rows(3)) == nil {
		t.Error("With should return a logger")
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	op := StartTimer(logger, "pull", Step("LimitStep"))
	time.Sleep(time.Millisecond)
	op.End(Rows(10))
	op.EndError(errors.New("conflict"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Fields["rows"] != float64(10) {
		t.Errorf("rows field = %v", entries[0].Fields["rows"])
	}
	if _, ok := entries[0].Fields["latency"]; !ok {
		t.Error("latency missing")
	}
	if entries[1].Level != "ERROR" || entries[1].Fields["error"] != "conflict" {
		t.Errorf("unexpected error entry: %+v", entries[1])
	}
	if op.Elapsed() <= 0 {
		t.Error("Elapsed should be positive")
	}
}

func TestSetDefaultLogger(t *testing.T) {
	orig := DefaultLogger()
	defer SetDefaultLogger(orig)

	var buf bytes.Buffer
	SetDefaultLogger(NewJSONLogger(&buf, InfoLevel))
	DefaultLogger().Info("hello", Component("engine"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Fields["component"] != "engine" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
