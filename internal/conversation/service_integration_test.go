package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/users"
)

func setupConversationIntegrationTest(t *testing.T) (*users.Service, *conversation.Service, func()) {
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
	return users.NewService(logger, pool), conversation.NewService(logger, pool), func() { pool.Close() }
}

func TestResolveOrCreateByChannelConversation(t *testing.T) {
	userSvc, convSvc, cleanup := setupConversationIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	channelID := fmt.Sprintf("it-conv-%d", time.Now().UnixNano())
	user, err := userSvc.ResolveByChannel(ctx, channelID, channel.TypeTelegram)
	if err != nil {
		t.Fatalf("resolve user: %v", err)
	}

	req := conversation.ResolveRequest{
		UserID:                user.ID,
		ChannelConversationID: channelID,
		ChannelType:           channel.TypeTelegram,
		AutoCreate:            true,
	}
	first, err := convSvc.ResolveOrCreate(ctx, req)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.Title != "Chat via Telegram" {
		t.Fatalf("unexpected synthesized title: %q", first.Title)
	}

	second, err := convSvc.ResolveOrCreate(ctx, req)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resolve is not idempotent: %s != %s", second.ID, first.ID)
	}
}

func TestResolveOrCreateForeignOwner(t *testing.T) {
	userSvc, convSvc, cleanup := setupConversationIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	suffix := time.Now().UnixNano()
	owner, err := userSvc.ResolveByChannel(ctx, fmt.Sprintf("it-owner-%d", suffix), channel.TypeTelegram)
	if err != nil {
		t.Fatalf("resolve owner: %v", err)
	}
	intruder, err := userSvc.ResolveByChannel(ctx, fmt.Sprintf("it-intruder-%d", suffix), channel.TypeTelegram)
	if err != nil {
		t.Fatalf("resolve intruder: %v", err)
	}

	conv, err := convSvc.ResolveOrCreate(ctx, conversation.ResolveRequest{
		UserID:     owner.ID,
		Title:      "owned thread",
		AutoCreate: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Someone else's conversation reads as not found, never as forbidden.
	_, err = convSvc.ResolveOrCreate(ctx, conversation.ResolveRequest{
		UserID:         intruder.ID,
		ConversationID: conv.ID,
		AutoCreate:     false,
	})
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestResolveWithoutAutoCreate(t *testing.T) {
	userSvc, convSvc, cleanup := setupConversationIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	user, err := userSvc.ResolveByChannel(ctx, fmt.Sprintf("it-noauto-%d", time.Now().UnixNano()), channel.TypeTelegram)
	if err != nil {
		t.Fatalf("resolve user: %v", err)
	}

	_, err = convSvc.ResolveOrCreate(ctx, conversation.ResolveRequest{
		UserID:                user.ID,
		ChannelConversationID: "it-missing-thread",
		AutoCreate:            false,
	})
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
