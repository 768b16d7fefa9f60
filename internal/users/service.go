// Package users provides user identity lifecycle operations, including
// idempotent auto-provisioning from external channel identities.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/db"
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// Service provides user lookup, creation, and channel identity resolution.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a user service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "users")),
	}
}

const userColumns = "id, email, name, role, profile, created_at, updated_at"

// ResolveByChannel finds or creates the user owning the given external
// channel identity. Creation inserts the user and its user_channel row in one
// transaction; a concurrent duplicate insert is absorbed by a single re-read
// of the unique (channel_id, channel_type) key.
func (s *Service) ResolveByChannel(ctx context.Context, channelID string, channelType channel.Type) (User, error) {
	if s.pool == nil {
		return User{}, fmt.Errorf("user store not configured")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return User{}, fmt.Errorf("channel id is required")
	}
	if _, err := channel.ParseType(channelType.String()); err != nil {
		return User{}, err
	}

	user, err := s.findByChannel(ctx, channelID, channelType)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	user, err = s.createWithChannel(ctx, channelID, channelType)
	if err == nil {
		return user, nil
	}
	return db.RecoverUnique(err, func() (User, error) {
		s.logger.Debug("concurrent channel identity insert, re-reading",
			slog.String("channel_id", channelID),
			slog.String("channel_type", channelType.String()),
		)
		return s.findByChannel(ctx, channelID, channelType)
	})
}

// Create creates a user through the internal API.
func (s *Service) Create(ctx context.Context, req CreateRequest) (User, error) {
	if s.pool == nil {
		return User{}, fmt.Errorf("user store not configured")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return User{}, fmt.Errorf("name is required")
	}
	role := strings.TrimSpace(req.Role)
	switch role {
	case "":
		role = RoleClient
	case RoleAdmin, RoleEmployee, RoleClient, RoleAI:
	default:
		return User{}, fmt.Errorf("invalid role %q", role)
	}
	profile, err := json.Marshal(nonNilMap(req.Profile))
	if err != nil {
		return User{}, fmt.Errorf("marshal profile: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, role, profile) VALUES ($1, $2, $3, $4) RETURNING `+userColumns,
		db.ToPgText(req.Email), name, role, profile,
	)
	return scanUser(row)
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	if s.pool == nil {
		return User{}, fmt.Errorf("user store not configured")
	}
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return User{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, pgID)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// GetByEmail returns a user by email address.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	if s.pool == nil {
		return User{}, fmt.Errorf("user store not configured")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// ListChannels returns all channel identities linked to a user, primary first.
func (s *Service) ListChannels(ctx context.Context, userID string) ([]UserChannel, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("user store not configured")
	}
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, channel_id, channel_type, is_primary, created_at
		 FROM user_channels WHERE user_id = $1 ORDER BY is_primary DESC, created_at`,
		pgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := make([]UserChannel, 0)
	for rows.Next() {
		var (
			id, owner           pgtype.UUID
			channelID, chanType string
			isPrimary           bool
			createdAt           pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &owner, &channelID, &chanType, &isPrimary, &createdAt); err != nil {
			return nil, err
		}
		channels = append(channels, UserChannel{
			ID:          id.String(),
			UserID:      owner.String(),
			ChannelID:   channelID,
			ChannelType: channel.Type(chanType),
			IsPrimary:   isPrimary,
			CreatedAt:   db.TimeFromPg(createdAt),
		})
	}
	return channels, rows.Err()
}

func (s *Service) findByChannel(ctx context.Context, channelID string, channelType channel.Type) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT u.id, u.email, u.name, u.role, u.profile, u.created_at, u.updated_at
		 FROM users u
		 JOIN user_channels uc ON uc.user_id = u.id
		 WHERE uc.channel_id = $1 AND uc.channel_type = $2`,
		channelID, channelType.String(),
	)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

func (s *Service) createWithChannel(ctx context.Context, channelID string, channelType channel.Type) (User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO users (email, name, role, profile) VALUES (NULL, $1, $2, '{}'::jsonb) RETURNING `+userColumns,
		derivedDisplayName(channelID, channelType), RoleClient,
	)
	user, err := scanUser(row)
	if err != nil {
		return User{}, err
	}

	pgUserID, err := db.ParseUUID(user.ID)
	if err != nil {
		return User{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO user_channels (user_id, channel_id, channel_type, is_primary) VALUES ($1, $2, $3, true)`,
		pgUserID, channelID, channelType.String(),
	); err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	s.logger.Info("auto-provisioned user",
		slog.String("user_id", user.ID),
		slog.String("channel_type", channelType.String()),
	)
	return user, nil
}

// derivedDisplayName builds a deterministic display name from the channel
// type and the last 4 characters of the external channel id.
func derivedDisplayName(channelID string, channelType channel.Type) string {
	suffix := channelID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("%s User %s", channelType.Title(), suffix)
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id                   pgtype.UUID
		email                pgtype.Text
		name, role           string
		profile              []byte
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &email, &name, &role, &profile, &createdAt, &updatedAt); err != nil {
		return User{}, err
	}
	var profileMap map[string]any
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &profileMap); err != nil {
			slog.Warn("unmarshal user profile failed", slog.String("id", id.String()), slog.Any("error", err))
		}
	}
	if profileMap == nil {
		profileMap = map[string]any{}
	}
	return User{
		ID:        id.String(),
		Email:     db.TextToString(email),
		Name:      name,
		Role:      role,
		Profile:   profileMap,
		CreatedAt: db.TimeFromPg(createdAt),
		UpdatedAt: db.TimeFromPg(updatedAt),
	}, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
