package chat_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/message"
	"github.com/parleyhq/parley/internal/users"
)

type scriptedGenerator struct {
	reply    string
	failures int
	calls    int
}

func (g *scriptedGenerator) Generate(_ context.Context, history []message.Message) (string, error) {
	g.calls++
	if g.calls <= g.failures {
		return "", fmt.Errorf("scripted failure %d", g.calls)
	}
	if len(history) == 0 {
		return "", fmt.Errorf("empty history")
	}
	return g.reply, nil
}

func setupChatIntegrationTest(t *testing.T) (*message.Service, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	userSvc := users.NewService(logger, pool)
	convSvc := conversation.NewService(logger, pool)
	return message.NewService(logger, pool, userSvc, convSvc), func() { pool.Close() }
}

func TestDefaultHandlerRoundTrip(t *testing.T) {
	messages, cleanup := setupChatIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	gen := &scriptedGenerator{reply: "first paragraph\n\nsecond paragraph"}
	handler := chat.NewDefaultHandler(nil, messages, gen, 3)

	channelID := fmt.Sprintf("it-chat-%d", time.Now().UnixNano())
	result, err := handler.HandleMessage(ctx, chat.Request{
		SenderID:              channelID,
		Content:               "what are my options?",
		ChannelType:           channel.TypeTelegram,
		ChannelConversationID: channelID,
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if result.ConversationID == "" {
		t.Fatal("missing conversation id")
	}
	if len(result.Reply.Parts) != 2 {
		t.Fatalf("expected reply split into 2 parts, got %d", len(result.Reply.Parts))
	}

	history, err := messages.History(ctx, result.ConversationID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected inbound plus reply, got %d messages", len(history))
	}
	if history[0].SenderRole != message.RoleClient || history[1].SenderRole != message.RoleAI {
		t.Fatalf("unexpected roles: %s, %s", history[0].SenderRole, history[1].SenderRole)
	}
	// The reply row belongs to the conversation owner, flagged by role only.
	if history[1].SenderID != history[0].SenderID {
		t.Fatalf("reply not attributed to the owner: %s != %s", history[1].SenderID, history[0].SenderID)
	}
}

func TestDefaultHandlerRetriesGeneration(t *testing.T) {
	messages, cleanup := setupChatIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	gen := &scriptedGenerator{reply: "eventually fine", failures: 2}
	handler := chat.NewDefaultHandler(nil, messages, gen, 3)

	channelID := fmt.Sprintf("it-retry-%d", time.Now().UnixNano())
	result, err := handler.HandleMessage(ctx, chat.Request{
		SenderID:              channelID,
		Content:               "retry me",
		ChannelType:           channel.TypeTelegram,
		ChannelConversationID: channelID,
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if gen.calls != 3 {
		t.Fatalf("expected 3 generation attempts, got %d", gen.calls)
	}
	if len(result.Reply.Parts) != 1 || result.Reply.Parts[0].Text != "eventually fine" {
		t.Fatalf("unexpected reply: %+v", result.Reply.Parts)
	}
}
