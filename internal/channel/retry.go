package channel

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries around a single channel send.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NormalizeRetryPolicy fills zero fields with defaults.
func NormalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 500 * time.Millisecond
	}
	return policy
}

// WithRetry wraps a Sender with bounded, jittered exponential backoff. Retry
// stays at the send call site so reply sequencing logic never sees it.
func WithRetry(log *slog.Logger, sender Sender, policy RetryPolicy) Sender {
	policy = NormalizeRetryPolicy(policy)
	if log == nil {
		log = slog.Default()
	}
	return SendFunc(func(ctx context.Context, recipientID string, part Part) error {
		var lastErr error
		backoff := policy.Backoff
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			lastErr = sender.Send(ctx, recipientID, part)
			if lastErr == nil {
				return nil
			}
			if attempt == policy.MaxAttempts {
				break
			}
			log.Warn("send failed, retrying",
				slog.String("recipient_id", recipientID),
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr),
			)
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
			backoff *= 2
		}
		return lastErr
	})
}
