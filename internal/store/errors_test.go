package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"ErrNotFound", ErrNotFound, true},
		{"wrapped ErrNotFound", fmt.Errorf("load failed: %w", ErrNotFound), true},
		{"ErrOperationNotFound", ErrOperationNotFound, true},
		{"ErrItemNotFound", ErrItemNotFound, true},
		{"ErrClaimLost", ErrClaimLost, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, IsNotFoundError(tc.err))
		})
	}
}

func TestIsClaimLost(t *testing.T) {
	t.Parallel()

	assert.True(t, IsClaimLost(ErrClaimLost))
	assert.True(t, IsClaimLost(fmt.Errorf("claim %d: %w", int64(7), ErrClaimLost)))
	assert.False(t, IsClaimLost(ErrLockNotHeld))
	assert.False(t, IsClaimLost(nil))
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	t.Run("with wrapped error", func(t *testing.T) {
		t.Parallel()

		inner := errors.New("connection reset")
		err := NewStoreError("operation", "claim", "conditional update failed", inner)

		assert.Contains(t, err.Error(), "claim operation on operation failed")
		assert.Contains(t, err.Error(), "connection reset")
		assert.ErrorIs(t, err, inner)
	})

	t.Run("without wrapped error", func(t *testing.T) {
		t.Parallel()

		err := NewStoreError("item", "save", "no rows affected", nil)
		assert.Equal(t, "save operation on item failed: no rows affected", err.Error())
		assert.Nil(t, errors.Unwrap(err))
	})
}
