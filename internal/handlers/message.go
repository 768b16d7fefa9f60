package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/message"
	"github.com/parleyhq/parley/internal/users"
)

// MessageHandler serves message creation and conversation reads.
type MessageHandler struct {
	messages *message.Service
}

func NewMessageHandler(messages *message.Service) *MessageHandler {
	return &MessageHandler{messages: messages}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	e.POST("/messages", h.Create)
	e.GET("/conversations", h.ListConversations)
	e.GET("/conversations/:id/messages", h.ListMessages)
	e.GET("/users/:id/conversations", h.ListUserConversations)
}

func (h *MessageHandler) Create(c echo.Context) error {
	var req message.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := req.ValidateMode(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := h.messages.Create(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrConversationAccess),
			errors.Is(err, conversation.ErrConversationNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "Conversation not found or access denied")
		case errors.Is(err, users.ErrUserNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) ListMessages(c echo.Context) error {
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	req, err := listRequestFromQuery(c, conversationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	page, err := h.messages.List(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		}
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Reason)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, page)
}

// listRequestFromQuery builds a ListRequest from the route id and query
// parameters. An id that parses as a UUID addresses the conversation
// internally; anything else is treated as an external channel conversation
// id. Reverse defaults to true so the default page reads chronologically.
func listRequestFromQuery(c echo.Context, id string) (message.ListRequest, error) {
	req := message.ListRequest{
		Order:           c.QueryParam("order"),
		BeforeMessageID: c.QueryParam("before_message_id"),
		Reverse:         true,
	}
	if uuid.Validate(id) == nil {
		req.ConversationID = id
	} else {
		req.ChannelConversationID = id
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return message.ListRequest{}, fmt.Errorf("invalid limit")
		}
		req.Limit = limit
	}
	if raw := c.QueryParam("reverse"); raw != "" {
		reverse, err := strconv.ParseBool(raw)
		if err != nil {
			return message.ListRequest{}, fmt.Errorf("invalid reverse")
		}
		req.Reverse = reverse
	}
	return req, nil
}

func (h *MessageHandler) ListConversations(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	page, err := h.messages.ListAllConversations(c.Request().Context(), limit, c.QueryParam("cursor"))
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, page)
}

func (h *MessageHandler) ListUserConversations(c echo.Context) error {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	items, err := h.messages.ListUserConversations(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}
