package users_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/users"
)

func setupUsersIntegrationTest(t *testing.T) (*users.Service, func()) {
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
	return users.NewService(logger, pool), func() { pool.Close() }
}

func uniqueChannelID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("it-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestResolveByChannelCreatesOnce(t *testing.T) {
	svc, cleanup := setupUsersIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	channelID := uniqueChannelID(t)

	first, err := svc.ResolveByChannel(ctx, channelID, channel.TypeTelegram)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.Role != users.RoleClient {
		t.Fatalf("expected client role, got %s", first.Role)
	}

	second, err := svc.ResolveByChannel(ctx, channelID, channel.TypeTelegram)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resolve is not idempotent: %s != %s", second.ID, first.ID)
	}

	channels, err := svc.ListChannels(ctx, first.ID)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 || !channels[0].IsPrimary {
		t.Fatalf("expected one primary channel, got %+v", channels)
	}
}

func TestResolveByChannelConcurrent(t *testing.T) {
	svc, cleanup := setupUsersIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	channelID := uniqueChannelID(t)

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := svc.ResolveByChannel(ctx, channelID, channel.TypeTelegram)
			ids[i], errs[i] = user.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolves created distinct users: %s != %s", ids[i], ids[0])
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	svc, cleanup := setupUsersIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	created, err := svc.Create(ctx, users.CreateRequest{
		Name:    "Integration Tester",
		Role:    users.RoleEmployee,
		Profile: map[string]any{"team": "support"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Integration Tester" || got.Role != users.RoleEmployee {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.Profile["team"] != "support" {
		t.Fatalf("profile not round-tripped: %+v", got.Profile)
	}
}
