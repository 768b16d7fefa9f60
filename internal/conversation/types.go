package conversation

import (
	"time"

	"github.com/parleyhq/parley/internal/channel"
)

// Conversation is a message thread owned by exactly one user. UpdatedAt is
// bumped on every new message and serves as the recency cursor for listing.
type Conversation struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	Title                 string     `json:"title,omitempty"`
	ChannelConversationID string     `json:"channel_conversation_id,omitempty"`
	AISummary             string     `json:"ai_summary,omitempty"`
	AISummaryUpdatedAt    *time.Time `json:"ai_summary_updated_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ResolveRequest looks up or creates a conversation for a user. Lookup
// prefers ConversationID (internal) over ChannelConversationID (external).
type ResolveRequest struct {
	UserID                string
	ConversationID        string
	ChannelConversationID string
	ChannelType           channel.Type
	Title                 string
	AutoCreate            bool
}
