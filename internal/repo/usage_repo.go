// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the UsageRecord
// model used by the quota gate.
//
// Usage counters are the only contested write in the system. Increments are
// performed with an upsert plus an atomic column expression so concurrent
// writers never read-modify-write from the application.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
)

// GetUsage returns the usage record for (userID, day), or a zero-valued
// record when none exists yet. day is the canonical "2006-01-02" UTC key.
func GetUsage(ctx context.Context, db *gorm.DB, userID, day string) (*domain.UsageRecord, error) {
	var rec domain.UsageRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.UsageRecord{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IncrementUsage upserts today's record for userID and atomically adds the
// given deltas. Negative deltas are clamped to zero so counters stay
// monotone within a day.
func IncrementUsage(ctx context.Context, db *gorm.DB, userID, day string, aiMinutes float64, scenarioStarts, reviewsAdded int) error {
	if aiMinutes < 0 {
		aiMinutes = 0
	}
	if scenarioStarts < 0 {
		scenarioStarts = 0
	}
	if reviewsAdded < 0 {
		reviewsAdded = 0
	}
	rec := &domain.UsageRecord{
		ID:               uuid.NewString(),
		UserID:           userID,
		Day:              day,
		AIMinutesUsed:    aiMinutes,
		ScenariosStarted: scenarioStarts,
		ReviewsAdded:     reviewsAdded,
		UpdatedAt:        time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]any{
				"ai_minutes_used":   gorm.Expr("ai_minutes_used + ?", aiMinutes),
				"scenarios_started": gorm.Expr("scenarios_started + ?", scenarioStarts),
				"reviews_added":     gorm.Expr("reviews_added + ?", reviewsAdded),
				"updated_at":        time.Now().UTC(),
			}),
		}).
		Create(rec).Error
}

// GetUserProfile returns the read-only subscription view for userID.
// Unknown users default to the free tier rather than failing, because the
// profile collection is owned by an external collaborator.
func GetUserProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := db.WithContext(ctx).Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.UserProfile{ID: userID, Tier: domain.TierFree}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
