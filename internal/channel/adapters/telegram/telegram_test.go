package telegram

import (
	"testing"

	"github.com/parleyhq/parley/internal/channel"
)

func TestParseChatID(t *testing.T) {
	t.Parallel()

	id, err := parseChatID(" 123456789 ")
	if err != nil {
		t.Fatalf("parseChatID: %v", err)
	}
	if id != 123456789 {
		t.Fatalf("expected 123456789, got %d", id)
	}

	if _, err := parseChatID("not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestButtonsMarkup(t *testing.T) {
	t.Parallel()

	markup := buttonsMarkup([]channel.Button{
		{Title: "Yes", Payload: "yes"},
		{Title: "No"},
	})
	if len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected keyboard shape: %+v", markup.InlineKeyboard)
	}
	// A button without payload falls back to its title as callback data.
	second := markup.InlineKeyboard[0][1]
	if second.CallbackData == nil || *second.CallbackData != "No" {
		t.Fatalf("unexpected callback data: %+v", second)
	}
}

func TestRenderCards(t *testing.T) {
	t.Parallel()

	got := renderCards([]channel.Card{
		{Title: "Plan A", Subtitle: "cheap", Buttons: []channel.Button{{Title: "Pick"}}},
		{Title: "Plan B"},
	})
	want := "Plan A: cheap\n  - Pick\nPlan B"
	if got != want {
		t.Fatalf("renderCards = %q, want %q", got, want)
	}
}

func TestNewSenderRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewSender(nil, "  "); err == nil {
		t.Fatal("expected error for empty bot token")
	}
}
