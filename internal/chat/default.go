package chat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/delivery"
	"github.com/parleyhq/parley/internal/message"
)

const historyLimit = 50

// DefaultHandler is the built-in chat handler: it persists the inbound
// message, feeds recent history to the generator, persists the reply under
// the ai role, and returns it split into parts on blank lines.
type DefaultHandler struct {
	logger     *slog.Logger
	messages   *message.Service
	generator  Generator
	maxRetries int
}

// NewDefaultHandler creates the built-in handler.
func NewDefaultHandler(log *slog.Logger, messages *message.Service, generator Generator, maxRetries int) *DefaultHandler {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &DefaultHandler{
		logger:     log.With(slog.String("handler", "default")),
		messages:   messages,
		generator:  generator,
		maxRetries: maxRetries,
	}
}

func (h *DefaultHandler) Name() string { return "default" }

// HandleMessage answers one inbound message.
func (h *DefaultHandler) HandleMessage(ctx context.Context, req Request) (Result, error) {
	inbound, err := h.messages.Create(ctx, message.CreateRequest{
		Content:               req.Content,
		SenderRole:            message.RoleClient,
		ChannelID:             req.SenderID,
		ChannelType:           req.ChannelType,
		ChannelConversationID: req.ChannelConversationID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("persist inbound message: %w", err)
	}

	history, err := h.messages.History(ctx, inbound.ConversationID, historyLimit)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}

	reply, err := h.generate(ctx, history)
	if err != nil {
		return Result{}, fmt.Errorf("generate reply: %w", err)
	}

	// The reply row stays attributed to the conversation owner; the ai role
	// marks who authored it.
	if _, err := h.messages.Create(ctx, message.CreateRequest{
		Content:        reply,
		SenderRole:     message.RoleAI,
		UserID:         inbound.SenderID,
		ConversationID: inbound.ConversationID,
	}); err != nil {
		return Result{}, fmt.Errorf("persist reply: %w", err)
	}

	return Result{
		Reply:          splitReply(reply),
		ConversationID: inbound.ConversationID,
	}, nil
}

func (h *DefaultHandler) generate(ctx context.Context, history []message.Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		reply, err := h.generator.Generate(ctx, history)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		h.logger.Warn("generation attempt failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt < h.maxRetries {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", lastErr
}

// splitReply turns blank-line separated paragraphs into ordered parts so long
// answers arrive as a paced sequence instead of one wall of text.
func splitReply(reply string) delivery.Reply {
	chunks := strings.Split(reply, "\n\n")
	parts := make([]channel.Part, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		parts = append(parts, channel.TextPart(chunk))
	}
	if len(parts) == 0 {
		return delivery.TextReply(reply)
	}
	return delivery.Reply{Parts: parts}
}
