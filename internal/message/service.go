// Package message persists conversation messages and serves paged reads over
// them. Writes resolve their addressing through the users and conversation
// services; reads use keyset cursors so deep pages stay cheap.
package message

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

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/db"
	"github.com/parleyhq/parley/internal/users"
)

var (
	// ErrConversationAccess covers both a missing conversation and one owned
	// by another user, so callers cannot probe for existence.
	ErrConversationAccess = errors.New("conversation not found or access denied")
)

// Service persists and reads conversation messages.
type Service struct {
	pool          *pgxpool.Pool
	logger        *slog.Logger
	users         *users.Service
	conversations *conversation.Service
}

// NewService creates a message service.
func NewService(log *slog.Logger, pool *pgxpool.Pool, userSvc *users.Service, convSvc *conversation.Service) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:          pool,
		logger:        log.With(slog.String("service", "message")),
		users:         userSvc,
		conversations: convSvc,
	}
}

const messageColumns = "id, conversation_id, user_id, sender_role, content, created_at"

// Create persists one message. Channel mode resolves (and if needed creates)
// the user and conversation from the external identity; internal mode
// requires an existing conversation owned by the given user. The insert and
// the conversation recency bump share one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Message, error) {
	if s.pool == nil {
		return Message{}, fmt.Errorf("message store not configured")
	}
	mode, err := req.ValidateMode()
	if err != nil {
		return Message{}, err
	}

	var (
		senderID string
		conv     conversation.Conversation
	)
	switch mode {
	case ModeChannel:
		user, err := s.users.ResolveByChannel(ctx, req.ChannelID, req.ChannelType)
		if err != nil {
			return Message{}, fmt.Errorf("resolve user: %w", err)
		}
		channelConvID := strings.TrimSpace(req.ChannelConversationID)
		if channelConvID == "" {
			channelConvID = strings.TrimSpace(req.ChannelID)
		}
		conv, err = s.conversations.ResolveOrCreate(ctx, conversation.ResolveRequest{
			UserID:                user.ID,
			ConversationID:        req.ConversationID,
			ChannelConversationID: channelConvID,
			ChannelType:           req.ChannelType,
			AutoCreate:            true,
		})
		if err != nil {
			return Message{}, fmt.Errorf("resolve conversation: %w", err)
		}
		senderID = user.ID
	case ModeInternal:
		conv, err = s.conversations.ResolveOrCreate(ctx, conversation.ResolveRequest{
			UserID:                req.UserID,
			ConversationID:        req.ConversationID,
			ChannelConversationID: req.ChannelConversationID,
			AutoCreate:            false,
		})
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return Message{}, ErrConversationAccess
		}
		if err != nil {
			return Message{}, err
		}
		senderID = req.UserID
	}

	role := req.SenderRole
	if role == "" {
		role = RoleClient
	}
	return s.insert(ctx, conv.ID, senderID, role, strings.TrimSpace(req.Content))
}

func (s *Service) insert(ctx context.Context, conversationID, senderID, role, content string) (Message, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Message{}, err
	}
	pgSenderID, err := db.ParseUUID(senderID)
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, user_id, sender_role, content)
		 VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		pgConvID, pgSenderID, role, content,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, pgConvID); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// List returns one page of a conversation's messages. The conversation is
// resolved first, so an unknown id fails with
// conversation.ErrConversationNotFound instead of an empty page. Paging is
// keyset: the cursor names the last message of the previous page and the
// query fetches limit+1 rows to learn whether more remain. Reverse flips the
// final page in memory so callers can render oldest-first from a newest-first
// scan.
func (s *Service) List(ctx context.Context, req ListRequest) (Page, error) {
	if s.pool == nil {
		return Page{}, fmt.Errorf("message store not configured")
	}
	conv, err := s.conversations.Find(ctx, req.ConversationID, req.ChannelConversationID)
	if err != nil {
		return Page{}, err
	}
	pgConvID, err := db.ParseUUID(conv.ID)
	if err != nil {
		return Page{}, err
	}
	field, direction, err := orderClause(req.Order)
	if err != nil {
		return Page{}, err
	}
	limit := normalizeLimit(req.Limit)

	args := []any{pgConvID}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1`
	if req.BeforeMessageID != "" {
		cursor, err := s.get(ctx, req.BeforeMessageID)
		if err != nil {
			return Page{}, fmt.Errorf("cursor message: %w", err)
		}
		cmp := "<"
		if direction == "asc" {
			cmp = ">"
		}
		pgCursorID, err := db.ParseUUID(cursor.ID)
		if err != nil {
			return Page{}, err
		}
		if field == "id" {
			args = append(args, pgCursorID)
			query += fmt.Sprintf(" AND id %s $%d", cmp, len(args))
		} else {
			args = append(args, cursor.CreatedAt, pgCursorID)
			query += fmt.Sprintf(" AND (created_at, id) %s ($%d, $%d)", cmp, len(args)-1, len(args))
		}
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT %d", field, direction, direction, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit+1)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return Page{}, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	page := Page{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.HasMore = true
		page.NextCursor = page.Messages[limit-1].ID
	}
	if req.Reverse {
		for i, j := 0, len(page.Messages)-1; i < j; i, j = i+1, j-1 {
			page.Messages[i], page.Messages[j] = page.Messages[j], page.Messages[i]
		}
	}
	return page, nil
}

// History returns the most recent messages of a conversation in chronological
// order, the shape handlers feed to the reply generator.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	page, err := s.List(ctx, ListRequest{
		ConversationID: conversationID,
		Limit:          limit,
		Order:          "created_at.desc",
		Reverse:        true,
	})
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// HasNewMessagesSince reports whether the conversation has any message after
// the given instant, optionally restricted to one sender role.
func (s *Service) HasNewMessagesSince(ctx context.Context, conversationID string, since time.Time, role string) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("message store not configured")
	}
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return false, err
	}
	query := `SELECT EXISTS (SELECT 1 FROM messages WHERE conversation_id = $1 AND created_at > $2`
	args := []any{pgConvID, since}
	if role != "" {
		args = append(args, role)
		query += fmt.Sprintf(" AND sender_role = $%d", len(args))
	}
	query += ")"

	var exists bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListAllConversations pages every conversation by recency, newest first,
// joined with owner identity, primary channel, and last message preview.
func (s *Service) ListAllConversations(ctx context.Context, limit int, cursorConversationID string) (ConversationPage, error) {
	if s.pool == nil {
		return ConversationPage{}, fmt.Errorf("message store not configured")
	}
	limit = normalizeLimit(limit)

	args := []any{}
	query := `
		SELECT c.id, c.title, c.channel_conversation_id, c.updated_at,
		       u.id, u.name,
		       COALESCE(uc.channel_id, ''), COALESCE(uc.channel_type, ''),
		       COALESCE(lm.content, ''), lm.created_at
		FROM conversations c
		JOIN users u ON u.id = c.user_id
		LEFT JOIN LATERAL (
			SELECT channel_id, channel_type FROM user_channels
			WHERE user_id = u.id ORDER BY is_primary DESC, created_at LIMIT 1
		) uc ON true
		LEFT JOIN LATERAL (
			SELECT content, created_at FROM messages
			WHERE conversation_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1
		) lm ON true`
	if cursorConversationID != "" {
		cursor, err := s.conversations.Find(ctx, cursorConversationID, "")
		if err != nil {
			return ConversationPage{}, fmt.Errorf("cursor conversation: %w", err)
		}
		pgCursorID, err := db.ParseUUID(cursor.ID)
		if err != nil {
			return ConversationPage{}, err
		}
		args = append(args, cursor.UpdatedAt, pgCursorID)
		query += fmt.Sprintf(" WHERE (c.updated_at, c.id) < ($%d, $%d)", len(args)-1, len(args))
	}
	query += fmt.Sprintf(" ORDER BY c.updated_at DESC, c.id DESC LIMIT %d", limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ConversationPage{}, err
	}
	defer rows.Close()

	summaries := make([]ConversationSummary, 0, limit+1)
	for rows.Next() {
		var (
			id, userID             pgtype.UUID
			title, channelConvID   pgtype.Text
			updatedAt              pgtype.Timestamptz
			userName               string
			chanID, chanType, last string
			lastAt                 pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &title, &channelConvID, &updatedAt, &userID, &userName,
			&chanID, &chanType, &last, &lastAt); err != nil {
			return ConversationPage{}, err
		}
		sum := ConversationSummary{
			ID:                    id.String(),
			Title:                 db.TextToString(title),
			ChannelConversationID: db.TextToString(channelConvID),
			UpdatedAt:             db.TimeFromPg(updatedAt),
			UserID:                userID.String(),
			UserName:              userName,
			PrimaryChannelID:      chanID,
			PrimaryChannelType:    channel.Type(chanType),
			LastMessage:           last,
		}
		if lastAt.Valid {
			t := lastAt.Time
			sum.LastMessageAt = &t
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return ConversationPage{}, err
	}

	page := ConversationPage{Conversations: summaries}
	if len(summaries) > limit {
		page.Conversations = summaries[:limit]
		page.HasMore = true
		page.NextCursor = page.Conversations[limit-1].ID
	}
	return page, nil
}

// ListUserConversations returns one user's conversations by recency with
// per-conversation message counts.
func (s *Service) ListUserConversations(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("message store not configured")
	}
	pgUserID, err := db.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.channel_conversation_id, c.updated_at,
		       u.id, u.name,
		       COALESCE(mc.n, 0),
		       COALESCE(lm.content, ''), lm.created_at
		FROM conversations c
		JOIN users u ON u.id = c.user_id
		LEFT JOIN LATERAL (
			SELECT count(*) AS n FROM messages WHERE conversation_id = c.id
		) mc ON true
		LEFT JOIN LATERAL (
			SELECT content, created_at FROM messages
			WHERE conversation_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1
		) lm ON true
		WHERE c.user_id = $1
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT $2`,
		pgUserID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]ConversationSummary, 0)
	for rows.Next() {
		var (
			id, owner            pgtype.UUID
			title, channelConvID pgtype.Text
			updatedAt            pgtype.Timestamptz
			userName, last       string
			count                int64
			lastAt               pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &title, &channelConvID, &updatedAt, &owner, &userName,
			&count, &last, &lastAt); err != nil {
			return nil, err
		}
		sum := ConversationSummary{
			ID:                    id.String(),
			Title:                 db.TextToString(title),
			ChannelConversationID: db.TextToString(channelConvID),
			UpdatedAt:             db.TimeFromPg(updatedAt),
			UserID:                owner.String(),
			UserName:              userName,
			MessageCount:          count,
			LastMessage:           last,
		}
		if lastAt.Valid {
			t := lastAt.Time
			sum.LastMessageAt = &t
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *Service) get(ctx context.Context, messageID string) (Message, error) {
	pgID, err := db.ParseUUID(messageID)
	if err != nil {
		return Message{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, pgID)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("message %s not found", messageID)
	}
	return msg, err
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id, convID, senderID pgtype.UUID
		role, content        string
		createdAt            pgtype.Timestamptz
	)
	if err := row.Scan(&id, &convID, &senderID, &role, &content, &createdAt); err != nil {
		return Message{}, err
	}
	return Message{
		ID:             id.String(),
		ConversationID: convID.String(),
		SenderID:       senderID.String(),
		SenderRole:     role,
		Content:        content,
		CreatedAt:      db.TimeFromPg(createdAt),
	}, nil
}
