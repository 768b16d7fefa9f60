package users

import (
	"time"

	"github.com/parleyhq/parley/internal/channel"
)

// Role is the account-level role of a user.
const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
	RoleClient   = "client"
	RoleAI       = "ai"
)

// User is a durable identity, created explicitly or auto-provisioned on
// first channel contact.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Profile   map[string]any `json:"profile,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// UserChannel links a user to one external channel identity.
// (channel_id, channel_type) is globally unique.
type UserChannel struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	ChannelID   string       `json:"channel_id"`
	ChannelType channel.Type `json:"channel_type"`
	IsPrimary   bool         `json:"is_primary"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CreateRequest creates a user through the internal API.
type CreateRequest struct {
	Email   string         `json:"email,omitempty"`
	Name    string         `json:"name"`
	Role    string         `json:"role,omitempty"`
	Profile map[string]any `json:"profile,omitempty"`
}
