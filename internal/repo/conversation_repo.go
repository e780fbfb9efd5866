// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStaleConversation is returned by SaveConversation when the optimistic
// concurrency check on last_activity fails (another writer got there first).
var ErrStaleConversation = errors.New("conversation modified concurrently")

// CreateConversation inserts a new conversation row. The caller provides a
// fully initialized aggregate (id, progress vector, greeting message).
func CreateConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation) error {
	return db.WithContext(ctx).Create(c).Error
}

// FindOpenConversation returns the single active-or-paused conversation for
// (userID, scenarioID), or ErrNotFound. The unique-open invariant is enforced
// by the service layer at Start time; this query simply fetches it.
func FindOpenConversation(ctx context.Context, db *gorm.DB, userID, scenarioID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND scenario_id = ? AND status IN ?",
			userID, scenarioID, []string{domain.ConversationActive, domain.ConversationPaused}).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LatestConversation returns the most recent conversation for
// (userID, scenarioID) regardless of status, or ErrNotFound.
func LatestConversation(ctx context.Context, db *gorm.DB, userID, scenarioID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND scenario_id = ?", userID, scenarioID).
		Order("started_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a conversation by ID ensuring it belongs to userID.
func GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConversation persists the full aggregate (message log, progress,
// checkpoints, score, status, timestamps) using last_activity as an
// optimistic concurrency token: the row is only written when its stored
// last_activity still equals prevActivity. The aggregate's LastActivity must
// already be advanced by the caller.
func SaveConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation, prevActivity time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND last_activity = ?", c.ID, prevActivity).
		Select("Status", "Messages", "Progress", "Score", "Checkpoints",
			"LastCheckpointID", "LastActivity", "PausedAt", "CompletedAt").
		Updates(c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleConversation
	}
	return nil
}

// ListConversations returns all conversations for a user, most recent first.
func ListConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Find(&out).Error
	return out, err
}

// ListAbandonableConversations returns paused conversations whose paused_at
// is older than cutoff. The engine transitions them to abandoned.
func ListAbandonableConversations(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("status = ? AND paused_at IS NOT NULL AND paused_at < ?", domain.ConversationPaused, cutoff).
		Find(&out).Error
	return out, err
}
