package logging

import "strings"

// Level is a log severity.
type Level int

const (
	// DebugLevel is used for plan construction and per-step tracing
	DebugLevel Level = iota
	// InfoLevel is the default
	InfoLevel
	// WarnLevel reports recovered conditions such as timeouts and retries
	WarnLevel
	// ErrorLevel reports failed statements
	ErrorLevel
)

// String returns the upper-case name of the level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseLevel converts a level name to a Level. Unknown names map to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	}
	return InfoLevel
}
