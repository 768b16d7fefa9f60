// Package ratelimit bounds per-sender inbound message rates with a Redis
// sliding window. The window is a sorted set of arrival timestamps; each
// check prunes entries older than the window, counts what remains, and only
// then records the new arrival.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DenialNotice is the message sent back to a sender whose request was denied.
const DenialNotice = "You're sending messages too quickly. Please wait a moment."

// Limiter enforces a sliding-window message rate per sender key.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter creates a limiter allowing limit events per window per sender.
func NewLimiter(log *slog.Logger, client *redis.Client, limit int, window time.Duration) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		client: client,
		logger: log.With(slog.String("service", "ratelimit")),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether the sender may proceed and, if so, records the event.
// Redis being unreachable fails open: limiting is protection, not a
// correctness requirement, so an infrastructure fault must not drop traffic.
func (l *Limiter) Allow(ctx context.Context, senderID string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	key := "rate_limit:" + senderID
	now := l.now()
	cutoff := now.Add(-l.window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixMilli(), 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limit check failed, allowing",
			slog.String("sender_id", senderID),
			slog.Any("error", err),
		)
		return true, nil
	}

	if card.Val() >= int64(l.limit) {
		l.logger.Info("rate limit exceeded",
			slog.String("sender_id", senderID),
			slog.Int64("count", card.Val()),
			slog.Int("limit", l.limit),
		)
		return false, nil
	}

	record := l.client.Pipeline()
	record.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), senderID),
	})
	// Twice the window so an idle key expires instead of lingering forever.
	record.Expire(ctx, key, 2*l.window)
	if _, err := record.Exec(ctx); err != nil {
		l.logger.Warn("rate limit record failed",
			slog.String("sender_id", senderID),
			slog.Any("error", err),
		)
	}
	return true, nil
}

// Remaining reports how many events the sender has left in the current
// window. Redis errors report the full limit, consistent with Allow.
func (l *Limiter) Remaining(ctx context.Context, senderID string) (int, error) {
	if l.client == nil {
		return l.limit, nil
	}
	key := "rate_limit:" + senderID
	cutoff := l.now().Add(-l.window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixMilli(), 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.limit, nil
	}
	remaining := l.limit - int(card.Val())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
