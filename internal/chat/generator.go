package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/message"
)

// Generator produces the assistant's reply text from conversation history.
// The newest message is the last element of history.
type Generator interface {
	Generate(ctx context.Context, history []message.Message) (string, error)
}

// HTTPGenerator calls an OpenAI-compatible chat completion endpoint.
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPGenerator creates a generator from configuration.
func NewHTTPGenerator(cfg config.GeneratorConfig) (*HTTPGenerator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("generator base_url is required")
	}
	return &HTTPGenerator{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout()},
	}, nil
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate maps the conversation history onto chat-completion roles and
// returns the model's reply text.
func (g *HTTPGenerator) Generate(ctx context.Context, history []message.Message) (string, error) {
	msgs := make([]completionMessage, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.SenderRole == message.RoleAI {
			role = "assistant"
		}
		msgs = append(msgs, completionMessage{Role: role, Content: m.Content})
	}
	body, err := json.Marshal(completionRequest{Model: g.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generator request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read generator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generator error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generator returned no choices")
	}
	reply := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("generator returned empty reply")
	}
	return reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
