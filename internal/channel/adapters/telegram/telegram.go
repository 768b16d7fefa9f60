// Package telegram implements the channel.Sender contract over the Telegram
// Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/parleyhq/parley/internal/channel"
)

// Sender delivers reply parts to Telegram chats.
type Sender struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewSender creates a Telegram sender from a bot token.
func NewSender(log *slog.Logger, botToken string) (*Sender, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(botToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Sender{
		bot:    bot,
		logger: log.With(slog.String("adapter", "telegram")),
	}, nil
}

// Send delivers one reply part to the chat identified by recipientID.
func (s *Sender) Send(ctx context.Context, recipientID string, part channel.Part) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, "")
	switch part.Kind {
	case channel.PartButtons:
		msg.Text = part.Text
		if msg.Text == "" {
			msg.Text = "Please choose:"
		}
		msg.ReplyMarkup = buttonsMarkup(part.Buttons)
	case channel.PartCards:
		// Telegram has no generic-template analogue; cards render as text.
		msg.Text = renderCards(part.Cards)
	default:
		msg.Text = strings.TrimSpace(part.Text)
	}
	if msg.Text == "" {
		return fmt.Errorf("empty telegram message")
	}

	if _, err := s.bot.Send(msg); err != nil {
		s.logger.Error("send failed",
			slog.String("chat_id", recipientID),
			slog.String("kind", string(part.Kind)),
			slog.Any("error", err),
		)
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func parseChatID(recipientID string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", recipientID, err)
	}
	return chatID, nil
}

func buttonsMarkup(buttons []channel.Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		payload := b.Payload
		if payload == "" {
			payload = b.Title
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Title, payload))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func renderCards(cards []channel.Card) string {
	lines := make([]string, 0, len(cards)*2)
	for _, c := range cards {
		line := strings.TrimSpace(c.Title)
		if c.Subtitle != "" {
			line += ": " + strings.TrimSpace(c.Subtitle)
		}
		if line != "" {
			lines = append(lines, line)
		}
		for _, b := range c.Buttons {
			lines = append(lines, "  - "+b.Title)
		}
	}
	return strings.Join(lines, "\n")
}
