// Package delivery pushes multi-part replies to a channel sender, pacing the
// parts and abandoning the remainder when the recipient has already sent a
// newer message.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/channel"
)

// Reply is an ordered set of parts forming one logical response.
type Reply struct {
	Parts []channel.Part
}

// TextReply wraps a plain text response into a single-part reply.
func TextReply(text string) Reply {
	return Reply{Parts: []channel.Part{channel.TextPart(text)}}
}

// Stats summarizes one delivery run.
type Stats struct {
	Sent        int
	Failed      int
	Interrupted bool
	Total       int
}

// MessageChecker reports whether a conversation received a newer message from
// the given sender role after a reference instant.
type MessageChecker interface {
	HasNewMessagesSince(ctx context.Context, conversationID string, since time.Time, role string) (bool, error)
}

// Coordinator sends reply parts in order with a configurable pause between
// them. Before each part it probes for a newer client message and stops early
// if one arrived, so a stale multi-part answer never talks over the user.
type Coordinator struct {
	sender   channel.Sender
	checker  MessageChecker
	logger   *slog.Logger
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a delivery coordinator. interval is the pause
// between consecutive parts.
func NewCoordinator(log *slog.Logger, sender channel.Sender, checker MessageChecker, interval time.Duration) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Coordinator{
		sender:   sender,
		checker:  checker,
		logger:   log.With(slog.String("service", "delivery")),
		interval: interval,
		sleep:    sleepCtx,
	}
}

// SendResponse delivers the reply parts to recipientID. startedAt is the
// instant the response became current; client messages after it interrupt the
// remaining parts. Individual send failures are logged and skipped so one bad
// part does not sink the rest.
func (c *Coordinator) SendResponse(ctx context.Context, recipientID, conversationID string, reply Reply, startedAt time.Time) Stats {
	stats := Stats{Total: len(reply.Parts)}
	for i, part := range reply.Parts {
		interrupted, err := c.interrupted(ctx, conversationID, startedAt)
		if err != nil {
			c.logger.Warn("interruption check failed, continuing",
				slog.String("conversation_id", conversationID),
				slog.Any("error", err),
			)
		} else if interrupted {
			c.logger.Info("response interrupted by newer message",
				slog.String("conversation_id", conversationID),
				slog.Int("sent", stats.Sent),
				slog.Int("total", stats.Total),
			)
			stats.Interrupted = true
			return stats
		}

		if err := c.sender.Send(ctx, recipientID, part); err != nil {
			if ctx.Err() != nil {
				stats.Interrupted = true
				return stats
			}
			c.logger.Error("part send failed",
				slog.String("recipient_id", recipientID),
				slog.Int("part", i),
				slog.Any("error", err),
			)
			stats.Failed++
		} else {
			stats.Sent++
		}

		if i < len(reply.Parts)-1 {
			if err := c.sleep(ctx, c.interval); err != nil {
				stats.Interrupted = true
				return stats
			}
		}
	}
	return stats
}

func (c *Coordinator) interrupted(ctx context.Context, conversationID string, since time.Time) (bool, error) {
	if c.checker == nil || conversationID == "" {
		return false, nil
	}
	return c.checker.HasNewMessagesSince(ctx, conversationID, since, "client")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
