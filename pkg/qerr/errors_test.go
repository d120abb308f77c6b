package qerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "subject and cause",
			err:  New("FetchFromClass").Subject("Person").Cause(ErrUnknownClass).Err(),
			want: "FetchFromClass Person: class not found",
		},
		{
			name: "detail only",
			err:  New("BuildRange").Detail("%d terms", 3).Err(),
			want: "BuildRange: 3 terms",
		},
		{
			name: "kind fallback",
			err:  &Error{Kind: KindRetry, Op: "commit"},
			want: "commit: retryable conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsMatchesKindAndCause(t *testing.T) {
	err := Execution("Expand", ErrInvalidExpand, "got %d", 2)
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, ErrInvalidExpand)
	assert.NotErrorIs(t, err, ErrTimeout)

	wrapped := fmt.Errorf("statement: %w", Timeout("Timeout", "after 10ms"))
	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.True(t, IsTimeout(wrapped))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, 0},
		{"plain", errors.New("x"), KindExecution},
		{"retry", Retry("save", errors.New("version mismatch")), KindRetry},
		{"canceled", context.Canceled, KindInterrupted},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), KindTimeout},
		{"interrupted", Interrupted("While", context.Canceled), KindInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.True(t, IsRetryable(Retry("x", nil)))
	assert.True(t, IsInterrupted(context.Canceled))
}

func TestMisusePanicsWithProtocolError(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*Error)
		require.True(t, ok)
		assert.Equal(t, KindProtocol, err.Kind)
		assert.ErrorIs(t, err, ErrProtocol)
	}()
	Misuse("RowSet.Next", "no more rows")
}

func TestBuilderDoesNotAlias(t *testing.T) {
	b := New("op").Subject("a")
	first := b.Build()
	b.Subject("b")
	assert.Equal(t, "a", first.Subject)
}
