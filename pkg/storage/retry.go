package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vgraph/vgraph/pkg/verrors"
)

// WithRetry retries fn up to 3 attempts with exponential backoff when it
// fails with TransientIO, per spec §7: "TransientIO... retried with
// exponential backoff (max 3 attempts) in C2 and C5; surfaced on
// exhaustion." Any other error kind returns immediately.
func WithRetry(ctx context.Context, fn func() error) error {
	const maxAttempts = 3
	attempt := 0

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), maxAttempts-1,
	), ctx)

	var lastErr error
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !verrors.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// RetryDelay is exposed for tests that want to assert on the shape of
// the backoff schedule without waiting for it in real time.
func RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
