// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read access to authored content
// (scenarios, seed words, grammar rules) and prior quiz sessions. Authored
// collections are written by external tooling and read-only to the core.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
)

// GetScenario fetches a scenario by ID, or ErrNotFound.
func GetScenario(ctx context.Context, db *gorm.DB, id string) (*domain.Scenario, error) {
	var s domain.Scenario
	err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListScenarios returns scenarios, optionally filtered by difficulty and
// category, ordered by name.
func ListScenarios(ctx context.Context, db *gorm.DB, difficulty, category string) ([]domain.Scenario, error) {
	q := db.WithContext(ctx).Model(&domain.Scenario{})
	if difficulty != "" {
		q = q.Where("difficulty = ?", difficulty)
	}
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var out []domain.Scenario
	err := q.Order("name ASC").Find(&out).Error
	return out, err
}

// ListSeedWords returns up to limit seed words ordered by id (stable across
// ingestion runs). limit <= 0 returns all words.
func ListSeedWords(ctx context.Context, db *gorm.DB, limit int) ([]domain.SeedWord, error) {
	q := db.WithContext(ctx).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.SeedWord
	err := q.Find(&out).Error
	return out, err
}

// ListGrammarRules returns all grammar rules ordered by id.
func ListGrammarRules(ctx context.Context, db *gorm.DB) ([]domain.GrammarRule, error) {
	var out []domain.GrammarRule
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// ListQuizSessions returns a user's quiz sessions, oldest first, so card
// ingestion sees mistakes in a deterministic order.
func ListQuizSessions(ctx context.Context, db *gorm.DB, userID string) ([]domain.QuizSession, error) {
	var out []domain.QuizSession
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
