package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/ingest"
)

// WebhookHandler accepts normalized inbound events from channel webhooks and
// hands them to the ingest pipeline. Processing is asynchronous; the webhook
// acknowledges as soon as the event is queued.
type WebhookHandler struct {
	processor *ingest.Processor
	secret    string
}

func NewWebhookHandler(processor *ingest.Processor, secret string) *WebhookHandler {
	return &WebhookHandler{processor: processor, secret: secret}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/:channel", h.Receive)
}

type webhookPayload struct {
	SenderID       string `json:"sender_id"`
	Text           string `json:"message_text"`
	ConversationID string `json:"conversation_id"`
}

func (h *WebhookHandler) Receive(c echo.Context) error {
	if !h.authorized(c) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}
	channelType, err := channel.ParseType(c.Param("channel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	event := channel.InboundEvent{
		Channel:        channelType,
		SenderID:       payload.SenderID,
		Text:           payload.Text,
		ConversationID: payload.ConversationID,
	}
	if err := h.processor.Submit(c.Request().Context(), event); err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "inbound queue full")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *WebhookHandler) authorized(c echo.Context) bool {
	if h.secret == "" {
		return true
	}
	got := strings.TrimSpace(c.Request().Header.Get("X-Webhook-Secret"))
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}
