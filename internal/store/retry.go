package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/metrics"
)

const defaultMaxAttempts = 3

// retryableFragments match transient engine errors worth retrying.
var retryableFragments = []string{
	"database is locked",
	"database table is locked",
	"disk i/o error",
	"cannot operate on a closed database",
	"connection was invalidated",
	"timed out waiting for connection",
	"interrupted",
	"busy",
}

// nonRetryableFragments match session-state errors that a retry can never
// fix; they always win over the retryable list.
var nonRetryableFragments = []string{
	"is not persisted",
	"transaction has already begun",
	"transaction has been rolled back",
	"detached",
}

// IsRetryable reports whether an error is a transient store error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range nonRetryableFragments {
		if strings.Contains(msg, frag) {
			return false
		}
	}
	for _, frag := range retryableFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// retryPolicy controls backoff for transient store errors.
type retryPolicy struct {
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger
}

func newRetryPolicy(maxAttempts int, baseBackoff time.Duration, logger *slog.Logger) retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}
	return retryPolicy{maxAttempts: maxAttempts, baseBackoff: baseBackoff, logger: logger}
}

// run executes fn, retrying transient errors with base*2^attempt backoff.
// Non-retryable errors return immediately.
func (p retryPolicy) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
			backoff := p.baseBackoff * (1 << (attempt - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		p.logger.Warn("transient store error, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return err
}
