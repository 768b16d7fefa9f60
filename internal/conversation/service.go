// Package conversation provides conversation lifecycle operations with
// idempotent auto-provisioning from external channel conversation ids.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/db"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
)

// Service provides conversation lookup and creation.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "conversation")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const conversationColumns = "id, user_id, title, channel_conversation_id, ai_summary, ai_summary_updated_at, created_at, updated_at"

// ResolveOrCreate finds a conversation by internal id or external channel
// conversation id, scoped to the requesting user. A conversation owned by a
// different user is treated as not found. With AutoCreate, a miss inserts a
// new conversation; a concurrent duplicate insert on the external id is
// absorbed by a single re-read scoped to (channel_conversation_id, user_id).
func (s *Service) ResolveOrCreate(ctx context.Context, req ResolveRequest) (Conversation, error) {
	if s.pool == nil {
		return Conversation{}, fmt.Errorf("conversation store not configured")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return Conversation{}, fmt.Errorf("user id is required")
	}

	conv, err := s.Find(ctx, req.ConversationID, req.ChannelConversationID)
	if err == nil && conv.UserID == req.UserID {
		return conv, nil
	}
	if err != nil && !errors.Is(err, ErrConversationNotFound) {
		return Conversation{}, err
	}

	if !req.AutoCreate {
		return Conversation{}, ErrConversationNotFound
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = s.generateTitle(req)
	}

	conv, err = s.insert(ctx, req.UserID, title, req.ChannelConversationID)
	if err == nil {
		return conv, nil
	}
	return db.RecoverUnique(err, func() (Conversation, error) {
		if strings.TrimSpace(req.ChannelConversationID) == "" {
			return Conversation{}, err
		}
		s.logger.Debug("concurrent conversation insert, re-reading",
			slog.String("channel_conversation_id", req.ChannelConversationID),
			slog.String("user_id", req.UserID),
		)
		return s.findByChannelForUser(ctx, req.ChannelConversationID, req.UserID)
	})
}

// Find looks a conversation up by internal id, external channel conversation
// id, or both. Returns ErrConversationNotFound when neither matches.
func (s *Service) Find(ctx context.Context, conversationID, channelConversationID string) (Conversation, error) {
	if s.pool == nil {
		return Conversation{}, fmt.Errorf("conversation store not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	channelConversationID = strings.TrimSpace(channelConversationID)
	if conversationID == "" && channelConversationID == "" {
		return Conversation{}, ErrConversationNotFound
	}

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if conversationID != "" {
		pgID, err := db.ParseUUID(conversationID)
		if err != nil {
			return Conversation{}, err
		}
		args = append(args, pgID)
		conditions = append(conditions, fmt.Sprintf("id = $%d", len(args)))
	}
	if channelConversationID != "" {
		args = append(args, channelConversationID)
		conditions = append(conditions, fmt.Sprintf("channel_conversation_id = $%d", len(args)))
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE `+strings.Join(conditions, " AND "),
		args...,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

func (s *Service) generateTitle(req ResolveRequest) string {
	if req.ChannelConversationID != "" && req.ChannelType != "" {
		return fmt.Sprintf("Chat via %s", req.ChannelType.Title())
	}
	return fmt.Sprintf("Conversation %s", s.now().Format("2006-01-02 15:04"))
}

func (s *Service) insert(ctx context.Context, userID, title, channelConversationID string) (Conversation, error) {
	pgUserID, err := db.ParseUUID(userID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_id, title, channel_conversation_id)
		 VALUES ($1, $2, $3) RETURNING `+conversationColumns,
		pgUserID, db.ToPgText(title), db.ToPgText(channelConversationID),
	)
	return scanConversation(row)
}

func (s *Service) findByChannelForUser(ctx context.Context, channelConversationID, userID string) (Conversation, error) {
	pgUserID, err := db.ParseUUID(userID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE channel_conversation_id = $1 AND user_id = $2`,
		channelConversationID, pgUserID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		id, userID           pgtype.UUID
		title, channelConvID pgtype.Text
		aiSummary            pgtype.Text
		aiSummaryUpdatedAt   pgtype.Timestamptz
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &userID, &title, &channelConvID, &aiSummary, &aiSummaryUpdatedAt, &createdAt, &updatedAt); err != nil {
		return Conversation{}, err
	}
	conv := Conversation{
		ID:                    id.String(),
		UserID:                userID.String(),
		Title:                 db.TextToString(title),
		ChannelConversationID: db.TextToString(channelConvID),
		AISummary:             db.TextToString(aiSummary),
		CreatedAt:             db.TimeFromPg(createdAt),
		UpdatedAt:             db.TimeFromPg(updatedAt),
	}
	if aiSummaryUpdatedAt.Valid {
		t := aiSummaryUpdatedAt.Time
		conv.AISummaryUpdatedAt = &t
	}
	return conv, nil
}
