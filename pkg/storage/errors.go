package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/rid"
)

// Common sentinel errors
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrClusterNotFound  = errors.New("cluster not found")
	ErrIndexNotFound    = errors.New("index not found")
	ErrConflict         = errors.New("concurrent modification")
	ErrDuplicateKey     = errors.New("duplicate key in unique index")
	ErrNoTransaction    = errors.New("no active transaction")
	ErrNestedTx         = errors.New("nested transactions are not supported")
	ErrStorageClosed    = errors.New("storage is closed")
	ErrNotVertex        = errors.New("record is not a vertex")
	ErrVertexHasEdges   = errors.New("vertex still has edges")
	ErrInvalidKeyFormat = errors.New("invalid index key encoding")
)

// StorageError provides structured error information for record operations.
type StorageError struct {
	Op     string  // Operation that failed (e.g., "load", "save", "commit")
	Entity string  // Entity type (e.g., "record", "cluster", "index")
	RID    rid.RID // Record identity when applicable
	Name   string  // Cluster, class or index name
	Cause  error
}

func (e *StorageError) Error() string {
	switch {
	case e.RID.IsValid():
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.RID, e.Cause)
	case e.Name != "":
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.Name, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches the cause chain. Conflicts also
// match the retryable kind of the query error taxonomy.
func (e *StorageError) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == qerr.ErrRetry && IsConflict(e.Cause) {
		return true
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building StorageErrors.
type ErrorBuilder struct {
	err StorageError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: StorageError{Op: op, RID: rid.Invalid}}
}

func (b *ErrorBuilder) Record(r rid.RID) *ErrorBuilder {
	b.err.Entity = "record"
	b.err.RID = r
	return b
}

func (b *ErrorBuilder) Cluster(name string) *ErrorBuilder {
	b.err.Entity = "cluster"
	b.err.Name = name
	return b
}

func (b *ErrorBuilder) Index(name string) *ErrorBuilder {
	b.err.Entity = "index"
	b.err.Name = name
	return b
}

func (b *ErrorBuilder) Tx() *ErrorBuilder {
	b.err.Entity = "transaction"
	return b
}

func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error. Conflicts are wrapped as retryable query errors so
// that RETRY blocks recognize them without importing this package.
func (b *ErrorBuilder) Err() error {
	e := b.err
	if IsConflict(e.Cause) {
		return qerr.Retry(e.Op, &e)
	}
	return &e
}

// RecordNotFoundError creates a record not found error.
func RecordNotFoundError(r rid.RID) error {
	return NewError("load").Record(r).Cause(ErrRecordNotFound).Err()
}

// ConflictError creates a retryable version conflict error.
func ConflictError(op string, r rid.RID, stored, expected int64) error {
	return NewError(op).Record(r).Cause(fmt.Errorf("%w: version %d, expected %d", ErrConflict, stored, expected)).Err()
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsConflict reports optimistic-concurrency conflicts from the memory store
// or from badger.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, badger.ErrConflict)
}
