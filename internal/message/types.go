package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/channel"
)

// SenderRole identifies who authored a message.
const (
	RoleClient = "client"
	RoleAI     = "ai"
	RoleAdmin  = "admin"
)

// MaxContentLength bounds message content, matching the table constraint.
const MaxContentLength = 10000

// Message is a single persisted conversation message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateRequest persists one message. Exactly one addressing mode applies:
// channel mode (ChannelID + ChannelType set) auto-provisions the user and
// conversation, internal mode (UserID set) requires an existing conversation
// owned by that user.
type CreateRequest struct {
	Content    string `json:"content"`
	SenderRole string `json:"sender_role,omitempty"`

	// Channel mode.
	ChannelID             string       `json:"channel_id,omitempty"`
	ChannelType           channel.Type `json:"channel_type,omitempty"`
	ChannelConversationID string       `json:"channel_conversation_id,omitempty"`

	// Internal mode.
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Mode is the resolved addressing mode of a CreateRequest.
type Mode int

const (
	ModeChannel Mode = iota + 1
	ModeInternal
)

// ValidationError is a request rejection with a human-readable reason.
// Handlers map it to a 400 response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateMode checks the request and reports which addressing mode it uses.
func (r CreateRequest) ValidateMode() (Mode, error) {
	content := strings.TrimSpace(r.Content)
	if content == "" {
		return 0, invalid("content is required")
	}
	if len(content) > MaxContentLength {
		return 0, invalid("content exceeds %d characters", MaxContentLength)
	}
	switch r.SenderRole {
	case "", RoleClient, RoleAI, RoleAdmin:
	default:
		return 0, invalid("invalid sender role %q", r.SenderRole)
	}

	hasChannel := strings.TrimSpace(r.ChannelID) != "" && r.ChannelType != ""
	hasInternal := strings.TrimSpace(r.UserID) != ""
	switch {
	case hasChannel && hasInternal:
		return 0, invalid("channel_id and user_id are mutually exclusive")
	case hasChannel:
		return ModeChannel, nil
	case hasInternal:
		return ModeInternal, nil
	default:
		return 0, invalid("either channel_id with channel_type or user_id is required")
	}
}

// ListRequest pages through a conversation's messages with a keyset cursor.
// The conversation is addressed by internal id or external channel
// conversation id; at least one must be set.
type ListRequest struct {
	ConversationID        string
	ChannelConversationID string
	Limit                 int
	Order                 string
	BeforeMessageID       string
	Reverse               bool
}

const (
	MinListLimit     = 1
	MaxListLimit     = 100
	DefaultListLimit = 50
	DefaultOrder     = "created_at.desc"
)

// orderClause validates an "field.direction" order expression against the small
// allowed set and returns the SQL fragment.
func orderClause(order string) (field, direction string, err error) {
	if order == "" {
		order = DefaultOrder
	}
	parts := strings.SplitN(order, ".", 2)
	if len(parts) != 2 {
		return "", "", invalid("invalid order %q, expected field.direction", order)
	}
	field, direction = parts[0], strings.ToLower(parts[1])
	switch field {
	case "created_at", "id":
	default:
		return "", "", invalid("invalid order field %q", field)
	}
	switch direction {
	case "asc", "desc":
	default:
		return "", "", invalid("invalid order direction %q", direction)
	}
	return field, direction, nil
}

func normalizeLimit(limit int) int {
	if limit < MinListLimit {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Page is one page of messages plus a cursor for the next page.
type Page struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ConversationSummary is one row of a conversation listing, denormalized with
// owner and recency details for display.
type ConversationSummary struct {
	ID                    string       `json:"id"`
	Title                 string       `json:"title,omitempty"`
	ChannelConversationID string       `json:"channel_conversation_id,omitempty"`
	UpdatedAt             time.Time    `json:"updated_at"`
	UserID                string       `json:"user_id"`
	UserName              string       `json:"user_name"`
	PrimaryChannelID      string       `json:"primary_channel_id,omitempty"`
	PrimaryChannelType    channel.Type `json:"primary_channel_type,omitempty"`
	LastMessage           string       `json:"last_message,omitempty"`
	LastMessageAt         *time.Time   `json:"last_message_at,omitempty"`
	MessageCount          int64        `json:"message_count,omitempty"`
}

// ConversationPage is one page of conversation summaries.
type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	HasMore       bool                  `json:"has_more"`
	NextCursor    string                `json:"next_cursor,omitempty"`
}
