package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestAllowWithoutClient(t *testing.T) {
	t.Parallel()

	l := NewLimiter(nil, nil, 5, time.Minute)
	allowed, err := l.Allow(context.Background(), "sender-1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !allowed {
		t.Fatal("nil client must allow")
	}
}

func TestAllowFailsOpenOnRedisError(t *testing.T) {
	t.Parallel()

	// Nothing listens here; every command fails fast.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewLimiter(nil, client, 5, time.Minute)
	allowed, err := l.Allow(context.Background(), "sender-1")
	if err != nil {
		t.Fatalf("Allow must not surface redis errors: %v", err)
	}
	if !allowed {
		t.Fatal("redis failure must fail open")
	}
}

func TestRemainingWithoutClient(t *testing.T) {
	t.Parallel()

	l := NewLimiter(nil, nil, 7, time.Minute)
	remaining, err := l.Remaining(context.Background(), "sender-1")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 7 {
		t.Fatalf("expected full limit, got %d", remaining)
	}
}

func TestSlidingWindowIntegration(t *testing.T) {
	addr := redisAddr(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	now := time.Now()
	l := NewLimiter(nil, client, 3, time.Minute)
	l.now = func() time.Time { return now }

	sender := "window-test-" + now.Format("150405.000000000")
	client.Del(context.Background(), "rate_limit:"+sender)

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(context.Background(), sender)
		if err != nil || !allowed {
			t.Fatalf("request %d should pass: allowed=%v err=%v", i+1, allowed, err)
		}
	}
	allowed, err := l.Allow(context.Background(), sender)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatal("fourth request inside the window must be denied")
	}

	// Advance past the window; old entries age out and admission resumes.
	l.now = func() time.Time { return now.Add(61 * time.Second) }
	allowed, err = l.Allow(context.Background(), sender)
	if err != nil || !allowed {
		t.Fatalf("request after window should pass: allowed=%v err=%v", allowed, err)
	}
}

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skip integration test: TEST_REDIS_ADDR is not set")
	}
	return addr
}
