// Package services – QuotaService
//
// This file implements the admission gate for quota-limited work. Limits are
// checked before a conversation turn or scenario start begins and usage is
// recorded after the work succeeds. Check-then-record is deliberately not
// atomic; a brief over-quota window under concurrency is tolerated.
//
// The subscription tier is read from the user profile store, which is owned
// by an external collaborator. Admins bypass every limit.
package services

import (
	"context"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averbeck/go-deutsch-backend/internal/config"
	"github.com/averbeck/go-deutsch-backend/internal/domain"
	"github.com/averbeck/go-deutsch-backend/internal/repo"
)

// Unlimited marks a feature without a daily cap.
const Unlimited = -1

// TierFeatures is the per-tier feature vector. Negative values mean
// unlimited. Extras are advisory and not enforced here.
type TierFeatures struct {
	AIMinutesPerDay int
	ScenariosPerDay int
	MaxReviewCards  int
	Extras          []string
}

// QuotaService enforces daily per-tier limits on AI minutes, scenario
// starts, and review card capacity.
type QuotaService struct {
	// DB is the GORM handle used for usage and profile reads.
	DB *gorm.DB

	// Free holds the configured free-tier limits. Paid tiers are unlimited.
	Free config.QuotaConfig

	// Clock returns the current time; overridable in tests.
	Clock Clock
}

// NewQuotaService constructs a QuotaService with the configured free-tier
// limits.
func NewQuotaService(db *gorm.DB, free config.QuotaConfig) *QuotaService {
	return &QuotaService{DB: db, Free: free, Clock: systemClock{}}
}

// Features returns the feature vector for a subscription tier. Unknown tiers
// fall back to free.
func (s *QuotaService) Features(tier string) TierFeatures {
	switch tier {
	case domain.TierPremium:
		return TierFeatures{
			AIMinutesPerDay: Unlimited, ScenariosPerDay: Unlimited, MaxReviewCards: Unlimited,
			Extras: []string{"offline", "analytics", "cert_prep", "priority"},
		}
	case domain.TierPlus:
		return TierFeatures{
			AIMinutesPerDay: Unlimited, ScenariosPerDay: Unlimited, MaxReviewCards: Unlimited,
			Extras: []string{"offline", "analytics", "cert_prep", "priority", "custom_ai", "business", "api"},
		}
	case domain.TierEnterprise:
		return TierFeatures{
			AIMinutesPerDay: Unlimited, ScenariosPerDay: Unlimited, MaxReviewCards: Unlimited,
			Extras: []string{"offline", "analytics", "cert_prep", "priority", "custom_ai", "business", "api", "sso", "white_label", "sla"},
		}
	default:
		return TierFeatures{
			AIMinutesPerDay: s.Free.FreeAIMinutesPerDay,
			ScenariosPerDay: s.Free.FreeScenariosPerDay,
			MaxReviewCards:  s.Free.FreeMaxReviewCards,
		}
	}
}

// profile loads the user's subscription view; missing rows resolve to a
// non-admin free tier.
func (s *QuotaService) profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return repo.GetUserProfile(ctx, s.DB, userID)
}

// usage loads today's usage record for the user (zero-valued when absent).
func (s *QuotaService) usage(ctx context.Context, userID string) (*domain.UsageRecord, error) {
	return repo.GetUsage(ctx, s.DB, userID, domain.UsageDay(s.Clock.Now()))
}

// CheckAI reports whether the user may start AI-minute-consuming work today.
// Returns ErrQuotaExceeded on denial.
func (s *QuotaService) CheckAI(ctx context.Context, userID string) error {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "CheckAI",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	p, err := s.profile(ctx, userID)
	if err != nil {
		return err
	}
	if p.IsAdmin {
		return nil
	}
	limit := s.Features(p.Tier).AIMinutesPerDay
	if limit < 0 {
		return nil
	}
	u, err := s.usage(ctx, userID)
	if err != nil {
		return err
	}
	if u.AIMinutesUsed >= float64(limit) {
		return ErrQuotaExceeded
	}
	return nil
}

// CheckScenario reports whether the user may start another scenario today.
// The limit gates starts, not completions. Returns ErrQuotaExceeded on
// denial.
func (s *QuotaService) CheckScenario(ctx context.Context, userID string) error {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "CheckScenario",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	p, err := s.profile(ctx, userID)
	if err != nil {
		return err
	}
	if p.IsAdmin {
		return nil
	}
	limit := s.Features(p.Tier).ScenariosPerDay
	if limit < 0 {
		return nil
	}
	u, err := s.usage(ctx, userID)
	if err != nil {
		return err
	}
	if u.ScenariosStarted >= limit {
		return ErrQuotaExceeded
	}
	return nil
}

// RemainingCardCapacity returns how many more review cards the user may
// hold, or Unlimited for admins and paid tiers. Never negative.
func (s *QuotaService) RemainingCardCapacity(ctx context.Context, userID string) (int, error) {
	p, err := s.profile(ctx, userID)
	if err != nil {
		return 0, err
	}
	if p.IsAdmin {
		return Unlimited, nil
	}
	limit := s.Features(p.Tier).MaxReviewCards
	if limit < 0 {
		return Unlimited, nil
	}
	total, err := repo.CountCards(ctx, s.DB, userID)
	if err != nil {
		return 0, err
	}
	if remaining := limit - int(total); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// CheckCardCapacity reports whether the user may hold n more review cards.
// Returns ErrQuotaExceeded on denial.
func (s *QuotaService) CheckCardCapacity(ctx context.Context, userID string, n int) error {
	remaining, err := s.RemainingCardCapacity(ctx, userID)
	if err != nil {
		return err
	}
	if remaining != Unlimited && n > remaining {
		return ErrQuotaExceeded
	}
	return nil
}

// RecordAIMinutes adds consumed AI minutes to today's usage record with an
// atomic increment. Negative values are ignored by the repository.
func (s *QuotaService) RecordAIMinutes(ctx context.Context, userID string, minutes float64) error {
	return repo.IncrementUsage(ctx, s.DB, userID, domain.UsageDay(s.Clock.Now()), minutes, 0, 0)
}

// RecordScenarioStart counts one scenario start against today's usage.
func (s *QuotaService) RecordScenarioStart(ctx context.Context, userID string) error {
	return repo.IncrementUsage(ctx, s.DB, userID, domain.UsageDay(s.Clock.Now()), 0, 1, 0)
}

// RecordReviewsAdded counts newly ingested review cards against today's
// usage.
func (s *QuotaService) RecordReviewsAdded(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	return repo.IncrementUsage(ctx, s.DB, userID, domain.UsageDay(s.Clock.Now()), 0, 0, n)
}

// Usage returns today's usage record together with the user's feature
// vector, for the usage endpoint.
func (s *QuotaService) Usage(ctx context.Context, userID string) (*domain.UsageRecord, TierFeatures, error) {
	p, err := s.profile(ctx, userID)
	if err != nil {
		return nil, TierFeatures{}, err
	}
	u, err := s.usage(ctx, userID)
	if err != nil {
		return nil, TierFeatures{}, err
	}
	return u, s.Features(p.Tier), nil
}
