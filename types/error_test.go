package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrExecutionFailed, "backend failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithDetail("engine", "gemini")

	assert.Equal(t, ErrExecutionFailed, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "gemini", err.Details["engine"])
	assert.Contains(t, err.Error(), "EXECUTION_FAILED")
	assert.Contains(t, err.Error(), "root")
}

func TestError_WrappedCodeLookup(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrTaskNotFound, "task %s not found", "t-1")
	wrapped := fmt.Errorf("load task: %w", inner)

	assert.True(t, IsErrorCode(wrapped, ErrTaskNotFound))
	assert.Equal(t, "task t-1 not found", inner.Message)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestLoopError_CarriesChain(t *testing.T) {
	t.Parallel()

	chain := []string{"claude", "hub", "gemini"}
	err := NewLoopError(ErrLoopDetected, "gemini already in chain", chain)
	chain[0] = "mutated"

	var target error = fmt.Errorf("dispatch: %w", err)

	le, ok := AsLoopError(target)
	require.True(t, ok)
	assert.Equal(t, []string{"claude", "hub", "gemini"}, le.CallChain)
	assert.Equal(t, ErrLoopDetected, GetErrorCode(target))

	base, ok := AsError(target)
	require.True(t, ok)
	assert.Equal(t, ErrLoopDetected, base.Code)
	assert.Equal(t, le.CallChain, base.Details["call_chain"])
}

func TestIsLoopCode(t *testing.T) {
	t.Parallel()

	for _, code := range []ErrorCode{ErrLoopDetected, ErrDepthExceeded, ErrChainTooLong, ErrBlockedPattern} {
		assert.True(t, IsLoopCode(code), code)
	}
	assert.False(t, IsLoopCode(ErrExecutionFailed))
}
