// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ReviewCard
// model, including due-card selection and aggregate statistics used by the
// spaced-repetition scheduler.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
)

// CreateCard inserts a card. The primary key is deterministic per
// (type, content key, user); a unique violation maps to ErrDuplicate.
func CreateCard(ctx context.Context, db *gorm.DB, card *domain.ReviewCard) error {
	if err := db.WithContext(ctx).Create(card).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetCard fetches a card by ID ensuring it belongs to userID.
func GetCard(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ReviewCard, error) {
	var card domain.ReviewCard
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// ListDueCards returns cards with next_review <= now, sorted ascending by
// repetitions (new and struggling cards first) and, within equal repetitions,
// ascending by next_review (longest-overdue first). cardType filters by the
// persisted discriminator when non-empty. limit <= 0 yields an empty result.
func ListDueCards(ctx context.Context, db *gorm.DB, userID string, now time.Time, limit int, cardType string) ([]domain.ReviewCard, error) {
	if limit <= 0 {
		return []domain.ReviewCard{}, nil
	}
	q := db.WithContext(ctx).
		Where("user_id = ? AND next_review <= ?", userID, now)
	if cardType != "" {
		q = q.Where("type = ?", cardType)
	}
	var out []domain.ReviewCard
	err := q.Order("repetitions ASC, next_review ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateCardReview persists the post-review state of a card inside fn's
// transaction scope: the prior-state read and the write form one transaction
// so concurrent submissions for the same card cannot lose updates.
func UpdateCardReview(ctx context.Context, db *gorm.DB, id, userID string, apply func(*domain.ReviewCard)) (*domain.ReviewCard, error) {
	var card domain.ReviewCard
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&card).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		apply(&card)
		return tx.Model(&domain.ReviewCard{}).
			Where("id = ?", card.ID).
			Select("Repetitions", "Easiness", "IntervalDays", "NextReview", "LastReviewed").
			Updates(&card).Error
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// ListCards returns all of a user's cards, optionally filtered by type.
// Used by workload prediction and daily statistics.
func ListCards(ctx context.Context, db *gorm.DB, userID, cardType string) ([]domain.ReviewCard, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if cardType != "" {
		q = q.Where("type = ?", cardType)
	}
	var out []domain.ReviewCard
	err := q.Order("created_at ASC").Find(&out).Error
	return out, err
}

// CountCards returns the total number of cards owned by userID.
func CountCards(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ReviewCard{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// DeleteCard removes a card owned by userID. Missing rows map to ErrNotFound.
func DeleteCard(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.ReviewCard{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountReviewedSince returns the number of cards last reviewed at or after t.
// Used for the reviewed_today daily statistic.
func CountReviewedSince(ctx context.Context, db *gorm.DB, userID, cardType string, t time.Time) (int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.ReviewCard{}).
		Where("user_id = ? AND last_reviewed IS NOT NULL AND last_reviewed >= ?", userID, t)
	if cardType != "" {
		q = q.Where("type = ?", cardType)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}
