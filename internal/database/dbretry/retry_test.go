package dbretry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("syntax error at or near"), want: false},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "wrapped refused", err: fmt.Errorf("dial: %w", errors.New("connection refused")), want: true},
		{name: "io timeout", err: errors.New("read: i/o timeout"), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestOperation(t *testing.T) {
	initialInterval = time.Millisecond
	maxInterval = 5 * time.Millisecond

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0

		got, err := Operation(t.Context(), func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("broken pipe")
			}

			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent failure", func(t *testing.T) {
		calls := 0
		permanent := errors.New("unique violation")

		_, err := Operation(t.Context(), func(context.Context) (int, error) {
			calls++
			return 0, permanent
		})

		require.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		transient := errors.New("connection refused")

		err := NoResult(t.Context(), func(context.Context) error {
			calls++
			return transient
		})

		require.ErrorIs(t, err, transient)
		assert.Equal(t, int(maxRetries)+1, calls)
	})
}
