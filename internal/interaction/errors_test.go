package interaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorIsMatchesByCode verifies errors.Is compares Code, not pointer identity.
func TestErrorIsMatchesByCode(t *testing.T) {
	wrapped := WithMessage(ErrNotFound, "interaction abc123 not found")
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrTimeout))
}

// TestErrorStringIncludesMessageWhenPresent checks Error() formatting.
func TestErrorStringIncludesMessageWhenPresent(t *testing.T) {
	bare := &Error{Code: CodeInternal}
	assert.Equal(t, "INTERNAL", bare.Error())

	withMsg := WithMessage(ErrQuotaExceeded, "session at capacity")
	assert.Equal(t, "QUOTA_EXCEEDED: session at capacity", withMsg.Error())
}

// TestWithMessagePreservesCode ensures a re-messaged sentinel still compares
// equal under errors.Is to the original sentinel.
func TestWithMessagePreservesCode(t *testing.T) {
	custom := WithMessage(ErrCancelled, "human rejected the plan")
	assert.Equal(t, CodeCancelled, custom.Code)
	assert.True(t, errors.Is(custom, ErrCancelled))
}
