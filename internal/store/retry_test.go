package store

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable_TransientErrors(t *testing.T) {
	for _, msg := range []string{
		"database is locked",
		"disk I/O error",
		"cannot operate on a closed database",
		"connection was invalidated by a reconnect",
		"timed out waiting for connection",
		"operation interrupted",
		"SQLITE_BUSY: busy",
	} {
		assert.True(t, IsRetryable(errors.New(msg)), "expected retryable: %q", msg)
	}
}

func TestIsRetryable_SessionStateErrors(t *testing.T) {
	for _, msg := range []string{
		"instance is not persisted",
		"a transaction has already begun",
		"this transaction has been rolled back",
		"detached instance refresh failed",
	} {
		assert.False(t, IsRetryable(errors.New(msg)), "expected non-retryable: %q", msg)
	}
}

func TestIsRetryable_NonRetryableWinsOverRetryable(t *testing.T) {
	// Both fragment lists match; the session-state classification wins.
	err := errors.New("detached instance: database is locked")
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable_NilAndUnknown(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("syntax error near SELECT")))
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	p := newRetryPolicy(3, time.Millisecond, slog.Default())

	calls := 0
	err := p.run(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	p := newRetryPolicy(3, time.Millisecond, slog.Default())

	calls := 0
	err := p.run(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_NonRetryableReturnsImmediately(t *testing.T) {
	p := newRetryPolicy(3, time.Millisecond, slog.Default())

	calls := 0
	err := p.run(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("transaction has been rolled back")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	p := newRetryPolicy(5, 50*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.run(ctx, "test", func(context.Context) error {
		calls++
		return errors.New("database is locked")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
