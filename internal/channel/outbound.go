package channel

import (
	"context"
	"strings"
)

// PartKind discriminates the sendable kinds of a reply part.
type PartKind string

const (
	PartText    PartKind = "text"
	PartButtons PartKind = "buttons"
	PartCards   PartKind = "cards"
)

// Button is one tappable choice offered to the recipient.
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
}

// Card is one element of a rich card set.
type Card struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Part is one independently sendable unit of an outbound reply.
type Part struct {
	Kind    PartKind `json:"kind"`
	Text    string   `json:"text,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
	Cards   []Card   `json:"cards,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// Summary renders a part as plain text for persistence and logging.
func (p Part) Summary() string {
	switch p.Kind {
	case PartButtons:
		titles := make([]string, 0, len(p.Buttons))
		for _, b := range p.Buttons {
			titles = append(titles, b.Title)
		}
		return strings.TrimSpace(p.Text + " [" + strings.Join(titles, " | ") + "]")
	case PartCards:
		titles := make([]string, 0, len(p.Cards))
		for _, c := range p.Cards {
			titles = append(titles, c.Title)
		}
		return "[Cards: " + strings.Join(titles, " | ") + "]"
	default:
		return p.Text
	}
}

// Sender delivers a single reply part to a channel recipient.
type Sender interface {
	Send(ctx context.Context, recipientID string, part Part) error
}

// SendFunc adapts a function to the Sender interface.
type SendFunc func(ctx context.Context, recipientID string, part Part) error

func (f SendFunc) Send(ctx context.Context, recipientID string, part Part) error {
	return f(ctx, recipientID, part)
}
