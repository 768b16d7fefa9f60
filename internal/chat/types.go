// Package chat routes inbound messages to a response handler. Handlers are
// registered during startup, the registry is finalized once, and exactly one
// active handler serves all traffic afterwards.
package chat

import (
	"context"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/delivery"
)

// Request is one inbound message for a handler to answer.
type Request struct {
	SenderID              string
	Content               string
	ChannelType           channel.Type
	ChannelConversationID string
}

// Result carries the handler's reply and the conversation it belongs to, so
// delivery can watch that conversation for interruptions.
type Result struct {
	Reply          delivery.Reply
	ConversationID string
}

// Handler produces a reply for one inbound message. Implementations own
// persistence of both the inbound message and their reply.
type Handler interface {
	Name() string
	HandleMessage(ctx context.Context, req Request) (Result, error)
}
