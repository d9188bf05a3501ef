package payerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(KindUserRejected, "user denied transaction signature"))

	assert.True(t, errors.Is(err, ErrUserRejected))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, KindUserRejected, KindOf(err))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "kind and message",
			err:      New(KindValidation, "amount must be positive"),
			expected: "validation_error: amount must be positive",
		},
		{
			name:     "backend code",
			err:      Backend("500", "internal error"),
			expected: "backend_error(500): internal error",
		},
		{
			name:     "wrapped cause",
			err:      Wrap(KindNetwork, errors.New("connection refused"), "failed to send request"),
			expected: "network_error: failed to send request: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := Wrap(KindNetwork, cause, "receipt query failed")

	assert.ErrorIs(t, err, cause)
}

func TestEnsure(t *testing.T) {
	assert.NoError(t, Ensure(KindNetwork, nil, "noop"))

	typed := New(KindUserRejected, "denied")
	assert.Same(t, typed, Ensure(KindNetwork, typed, "ignored"))

	assert.Equal(t, context.Canceled, Ensure(KindNetwork, context.Canceled, "ignored"))

	wrapped := Ensure(KindNetwork, errors.New("boom"), "send failed")
	assert.Equal(t, KindNetwork, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "boom")
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
