package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/delivery"
	"github.com/parleyhq/parley/internal/ratelimit"
)

type captureSender struct {
	mu    sync.Mutex
	parts []channel.Part
	done  chan struct{}
}

func (s *captureSender) Send(_ context.Context, _ string, part channel.Part) error {
	s.mu.Lock()
	s.parts = append(s.parts, part)
	s.mu.Unlock()
	if s.done != nil {
		select {
		case s.done <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *captureSender) sent() []channel.Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]channel.Part, len(s.parts))
	copy(out, s.parts)
	return out
}

type echoHandler struct {
	requests chan chat.Request
}

func (h *echoHandler) Name() string { return "echo" }
func (h *echoHandler) HandleMessage(_ context.Context, req chat.Request) (chat.Result, error) {
	if h.requests != nil {
		h.requests <- req
	}
	return chat.Result{Reply: delivery.TextReply("echo: " + req.Content)}, nil
}

func newTestProcessor(t *testing.T, handler chat.Handler, sender channel.Sender) *Processor {
	t.Helper()
	registry := chat.NewRegistry(nil)
	if err := registry.SetDefault(handler); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err := registry.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	limiter := ratelimit.NewLimiter(nil, nil, 10, time.Minute)
	coordinator := delivery.NewCoordinator(nil, sender, nil, time.Millisecond)
	p := NewProcessor(nil, limiter, registry, coordinator, sender, 2, 8)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func TestProcessorDeliversReply(t *testing.T) {
	t.Parallel()

	sender := &captureSender{done: make(chan struct{}, 1)}
	handler := &echoHandler{requests: make(chan chat.Request, 1)}
	p := newTestProcessor(t, handler, sender)

	err := p.Submit(context.Background(), channel.InboundEvent{
		Channel:        channel.TypeTelegram,
		SenderID:       "42",
		Text:           "hello",
		ConversationID: "chat-42",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case req := <-handler.requests:
		if req.Content != "hello" || req.ChannelType != channel.TypeTelegram {
			t.Fatalf("unexpected handler request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
	select {
	case <-sender.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not delivered")
	}
	parts := sender.sent()
	if len(parts) != 1 || parts[0].Text != "echo: hello" {
		t.Fatalf("unexpected delivered parts: %+v", parts)
	}
}

func TestSubmitRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	sender := &captureSender{}
	p := newTestProcessor(t, &echoHandler{}, sender)

	err := p.Submit(context.Background(), channel.InboundEvent{
		Channel:  channel.TypeTelegram,
		SenderID: "42",
		// missing text and conversation id
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	t.Parallel()

	registry := chat.NewRegistry(nil)
	_ = registry.SetDefault(&echoHandler{})
	_ = registry.Finalize()
	limiter := ratelimit.NewLimiter(nil, nil, 10, time.Minute)
	sender := &captureSender{}
	coordinator := delivery.NewCoordinator(nil, sender, nil, time.Millisecond)
	p := NewProcessor(nil, limiter, registry, coordinator, sender, 1, 1)

	err := p.Submit(context.Background(), channel.InboundEvent{
		Channel:        channel.TypeTelegram,
		SenderID:       "42",
		Text:           "hello",
		ConversationID: "chat-42",
	})
	if err == nil {
		t.Fatal("expected error before Start")
	}
}
