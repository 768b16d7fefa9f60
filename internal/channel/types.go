// Package channel defines the external messaging channel surface: channel
// types, normalized inbound events, outbound reply parts, and the Sender
// contract adapters implement.
package channel

import (
	"fmt"
	"strings"
)

// Type identifies an external messaging platform.
type Type string

const (
	TypeTelegram  Type = "telegram"
	TypeWhatsApp  Type = "whatsapp"
	TypeMessenger Type = "messenger"
	TypeZalo      Type = "zalo"
	TypeInstagram Type = "instagram"
	TypeTikTok    Type = "tiktok"
	TypeDirect    Type = "direct"
)

var knownTypes = map[Type]struct{}{
	TypeTelegram:  {},
	TypeWhatsApp:  {},
	TypeMessenger: {},
	TypeZalo:      {},
	TypeInstagram: {},
	TypeTikTok:    {},
	TypeDirect:    {},
}

func (t Type) String() string {
	return string(t)
}

// Title returns the channel name with the first letter upper-cased, for
// user-facing strings like auto-generated display names and titles.
func (t Type) Title() string {
	s := string(t)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseType normalizes and validates a channel type string.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownTypes[t]; !ok {
		return "", fmt.Errorf("unknown channel type: %s", raw)
	}
	return t, nil
}

// InboundEvent is a normalized inbound message from a channel webhook or
// listener. Attachments and other channel payloads are pre-rendered into Text
// by the ingestion collaborator.
type InboundEvent struct {
	Channel        Type   `json:"channel"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"message_text"`
	ConversationID string `json:"conversation_id"`
}

// Validate reports the first missing field of an inbound event.
func (e InboundEvent) Validate() error {
	if _, err := ParseType(string(e.Channel)); err != nil {
		return err
	}
	if strings.TrimSpace(e.SenderID) == "" {
		return fmt.Errorf("sender_id is required")
	}
	if strings.TrimSpace(e.ConversationID) == "" {
		return fmt.Errorf("conversation_id is required")
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("message_text is required")
	}
	return nil
}
