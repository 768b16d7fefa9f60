// Package ingest accepts normalized inbound channel events and drives them
// through admission control, the chat handler, and reply delivery on a
// bounded worker pool.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/delivery"
	"github.com/parleyhq/parley/internal/ratelimit"
)

var ErrQueueFull = errors.New("inbound queue full")

type task struct {
	ctx   context.Context
	event channel.InboundEvent
}

// Processor is the inbound pipeline: validate, admit, handle, deliver.
// Submissions are queued and drained by a fixed pool of workers so a slow
// generator cannot back-pressure webhook responses.
type Processor struct {
	logger      *slog.Logger
	limiter     *ratelimit.Limiter
	registry    *chat.Registry
	coordinator *delivery.Coordinator
	sender      channel.Sender

	queue     chan task
	workers   int
	startOnce sync.Once
	workerCtx context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewProcessor creates an inbound processor with the given pool size and
// queue capacity.
func NewProcessor(log *slog.Logger, limiter *ratelimit.Limiter, registry *chat.Registry, coordinator *delivery.Coordinator, sender channel.Sender, workers, queueSize int) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Processor{
		logger:      log.With(slog.String("service", "ingest")),
		limiter:     limiter,
		registry:    registry,
		coordinator: coordinator,
		sender:      sender,
		queue:       make(chan task, queueSize),
		workers:     workers,
	}
}

// Start launches the worker pool. Safe to call once; later calls are no-ops.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		p.workerCtx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(p.workerCtx)
		}
		p.logger.Info("inbound workers started", slog.Int("workers", p.workers))
	})
}

// Stop cancels the workers and waits for in-flight events to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit validates and enqueues one inbound event. A full queue is reported
// to the caller rather than blocking the webhook.
func (p *Processor) Submit(ctx context.Context, event channel.InboundEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid inbound event: %w", err)
	}
	if p.workerCtx == nil {
		return errors.New("ingest processor not started")
	}
	if p.workerCtx.Err() != nil {
		return errors.New("ingest processor stopped")
	}
	// Detach the request-scoped cancellation; processing outlives the webhook.
	select {
	case p.queue <- task{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	default:
		p.logger.Warn("inbound queue full, dropping event",
			slog.String("channel", event.Channel.String()),
			slog.String("sender_id", event.SenderID),
		)
		return ErrQueueFull
	}
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			if err := p.process(t.ctx, t.event); err != nil {
				p.logger.Error("inbound processing failed",
					slog.String("channel", t.event.Channel.String()),
					slog.String("sender_id", t.event.SenderID),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (p *Processor) process(ctx context.Context, event channel.InboundEvent) error {
	allowed, err := p.limiter.Allow(ctx, event.SenderID)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		// The denial notice bypasses the handler pipeline entirely.
		if err := p.sender.Send(ctx, event.SenderID, channel.TextPart(ratelimit.DenialNotice)); err != nil {
			p.logger.Warn("denial notice send failed",
				slog.String("sender_id", event.SenderID),
				slog.Any("error", err),
			)
		}
		return nil
	}

	handler, err := p.registry.Handler()
	if err != nil {
		return err
	}
	result, err := handler.HandleMessage(ctx, chat.Request{
		SenderID:              event.SenderID,
		Content:               event.Text,
		ChannelType:           event.Channel,
		ChannelConversationID: event.ConversationID,
	})
	if err != nil {
		return fmt.Errorf("handle message: %w", err)
	}

	// The reply is persisted by now; client messages after this instant mean
	// the user moved on and the remaining parts should be abandoned.
	startedAt := time.Now().UTC()
	stats := p.coordinator.SendResponse(ctx, event.SenderID, result.ConversationID, result.Reply, startedAt)
	p.logger.Info("response delivered",
		slog.String("conversation_id", result.ConversationID),
		slog.Int("sent", stats.Sent),
		slog.Int("failed", stats.Failed),
		slog.Int("total", stats.Total),
		slog.Bool("interrupted", stats.Interrupted),
	)
	return nil
}
