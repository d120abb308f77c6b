package logging

import (
	"fmt"
	"time"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Query-engine field helpers

func Component(name string) Field {
	return String("component", name)
}

// Step names the execution step emitting the entry.
func Step(name string) Field {
	return String("step", name)
}

// Plan identifies a plan instance.
func Plan(id string) Field {
	return String("plan_id", id)
}

// Statement carries the statement kind (SELECT, MATCH, ...).
func Statement(kind string) Field {
	return String("statement", kind)
}

// Alias names a pattern alias.
func Alias(name string) Field {
	return String("alias", name)
}

// RID records a record identity; anything with a String method is accepted.
func RID(r fmt.Stringer) Field {
	return String("rid", r.String())
}

func Rows(n int) Field {
	return Int("rows", n)
}

func Attempt(n int) Field {
	return Int("attempt", n)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}
