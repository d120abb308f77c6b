// Package qerr defines the error taxonomy of the query engine.
//
// Every error leaving a step is either a plain error from a collaborator or an
// *Error carrying one of five kinds. Only KindRetry is recovered locally (by
// the RETRY step); KindTimeout is recovered or raised depending on the
// timeout strategy; everything else aborts the pull chain.
package qerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies query errors.
type Kind int

const (
	// KindExecution is a non-retryable, user-visible failure
	KindExecution Kind = iota + 1
	// KindTimeout reports an expired statement budget
	KindTimeout
	// KindRetry signals optimistic-concurrency contention
	KindRetry
	// KindProtocol is a programming error in the pull protocol
	KindProtocol
	// KindInterrupted reports cooperative cancellation
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindExecution:
		return "execution"
	case KindTimeout:
		return "timeout"
	case KindRetry:
		return "retry"
	case KindProtocol:
		return "protocol"
	case KindInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Kind sentinels; errors.Is(err, ErrTimeout) matches any *Error of that kind.
var (
	ErrExecution   = errors.New("execution error")
	ErrTimeout     = errors.New("query timed out")
	ErrRetry       = errors.New("retryable conflict")
	ErrProtocol    = errors.New("pull protocol misuse")
	ErrInterrupted = errors.New("query interrupted")
)

// Common execution causes
var (
	ErrUnknownClass        = errors.New("class not found")
	ErrUnknownCluster      = errors.New("cluster not found")
	ErrUnknownIndex        = errors.New("index not found")
	ErrUnsupportedIndexOp  = errors.New("unsupported index condition")
	ErrUnsafeDelete        = errors.New("vertex or edge delete requires UNSAFE")
	ErrInvalidCast         = errors.New("record cannot be cast")
	ErrInvalidExpand       = errors.New("expand requires exactly one projection")
	ErrIncompatibleClasses = errors.New("incompatible classes for alias")
	ErrOptionalNotLast     = errors.New("optional alias must end its path")
	ErrExhausted           = errors.New("row set exhausted")
)

var kindSentinels = map[Kind]error{
	KindExecution:   ErrExecution,
	KindTimeout:     ErrTimeout,
	KindRetry:       ErrRetry,
	KindProtocol:    ErrProtocol,
	KindInterrupted: ErrInterrupted,
}

// Error is a classified query error.
type Error struct {
	Kind    Kind
	Op      string // operation or step that failed (e.g. "FetchFromClass", "BuildRange")
	Subject string // class, index, alias or record the error is about
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Subject != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Subject)
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	switch {
	case e.Cause != nil:
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	case e.Detail == "":
		sb.WriteString(": ")
		sb.WriteString(kindSentinels[e.Kind].Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinel of e, then falls back to the cause chain.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if s, ok := kindSentinels[e.Kind]; ok && s == target {
		return true
	}
	return errors.Is(e.Cause, target)
}

// Builder provides a fluent interface for building errors.
type Builder struct {
	err Error
}

// New starts an execution error for op.
func New(op string) *Builder {
	return &Builder{err: Error{Kind: KindExecution, Op: op}}
}

func (b *Builder) Kind(k Kind) *Builder {
	b.err.Kind = k
	return b
}

func (b *Builder) Subject(s string) *Builder {
	b.err.Subject = s
	return b
}

func (b *Builder) Detail(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Build returns the constructed *Error.
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Err returns the constructed error.
func (b *Builder) Err() error {
	return b.Build()
}

// Execution creates a KindExecution error.
func Execution(op string, cause error, format string, args ...any) error {
	return New(op).Cause(cause).Detail(format, args...).Err()
}

// Timeout creates a KindTimeout error.
func Timeout(op, detail string) error {
	return &Error{Kind: KindTimeout, Op: op, Detail: detail}
}

// Retry wraps a conflict cause as retryable.
func Retry(op string, cause error) error {
	return &Error{Kind: KindRetry, Op: op, Cause: cause}
}

// Interrupted wraps a cancellation cause.
func Interrupted(op string, cause error) error {
	return &Error{Kind: KindInterrupted, Op: op, Cause: cause}
}

// Misuse panics with a KindProtocol error. Protocol misuse is a bug in the
// caller and is never returned as a value.
func Misuse(op, format string, args ...any) {
	panic(&Error{Kind: KindProtocol, Op: op, Detail: fmt.Sprintf(format, args...)})
}

// KindOf classifies err. Context cancellation maps to KindInterrupted and an
// expired context deadline to KindTimeout. Unclassified errors are
// KindExecution; nil is 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindInterrupted
	}
	return KindExecution
}

func IsRetryable(err error) bool {
	return KindOf(err) == KindRetry
}

func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

func IsInterrupted(err error) bool {
	return KindOf(err) == KindInterrupted
}
