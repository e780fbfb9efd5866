package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/averbeck/go-deutsch-backend/internal/config"
	"github.com/averbeck/go-deutsch-backend/internal/domain"
	"github.com/averbeck/go-deutsch-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func freeQuota() config.QuotaConfig {
	return config.QuotaConfig{
		FreeAIMinutesPerDay: 30,
		FreeScenariosPerDay: 2,
		FreeMaxReviewCards:  50,
	}
}

func TestQuota_FreeTierScenarioLimit(t *testing.T) {
	db := newTestDB(t)
	q := NewQuotaService(db, freeQuota())
	q.Clock = FixedClock{T: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	if err := q.CheckScenario(ctx, "u1"); err != nil {
		t.Fatalf("fresh user must be allowed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := q.RecordScenarioStart(ctx, "u1"); err != nil {
			t.Fatalf("RecordScenarioStart: %v", err)
		}
	}
	if err := q.CheckScenario(ctx, "u1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded after 2 starts, got %v", err)
	}
}

func TestQuota_FreeTierAIMinutes(t *testing.T) {
	db := newTestDB(t)
	q := NewQuotaService(db, freeQuota())
	q.Clock = FixedClock{T: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	if err := q.RecordAIMinutes(ctx, "u1", 29.5); err != nil {
		t.Fatalf("RecordAIMinutes: %v", err)
	}
	if err := q.CheckAI(ctx, "u1"); err != nil {
		t.Fatalf("29.5 of 30 minutes must still be allowed: %v", err)
	}
	if err := q.RecordAIMinutes(ctx, "u1", 0.5); err != nil {
		t.Fatalf("RecordAIMinutes: %v", err)
	}
	if err := q.CheckAI(ctx, "u1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded at 30 minutes, got %v", err)
	}
}

func TestQuota_UTCDayBoundaryResets(t *testing.T) {
	db := newTestDB(t)
	q := NewQuotaService(db, freeQuota())
	q.Clock = FixedClock{T: time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC)}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.RecordScenarioStart(ctx, "u1"); err != nil {
			t.Fatalf("RecordScenarioStart: %v", err)
		}
	}
	if err := q.CheckScenario(ctx, "u1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected denial before midnight, got %v", err)
	}

	q.Clock = FixedClock{T: time.Date(2026, 8, 29, 0, 1, 0, 0, time.UTC)}
	if err := q.CheckScenario(ctx, "u1"); err != nil {
		t.Fatalf("new UTC day must reset the limit: %v", err)
	}
}

func TestQuota_PaidTiersUnlimited(t *testing.T) {
	db := newTestDB(t)
	q := NewQuotaService(db, freeQuota())
	ctx := context.Background()

	for i, tier := range []string{domain.TierPremium, domain.TierPlus, domain.TierEnterprise} {
		user := string(rune('a' + i))
		if err := db.Create(&domain.UserProfile{ID: user, Tier: tier}).Error; err != nil {
			t.Fatalf("seed profile: %v", err)
		}
		if err := q.RecordAIMinutes(ctx, user, 10_000); err != nil {
			t.Fatalf("RecordAIMinutes: %v", err)
		}
		if err := q.CheckAI(ctx, user); err != nil {
			t.Fatalf("tier %s must be unlimited: %v", tier, err)
		}
		if err := q.CheckScenario(ctx, user); err != nil {
			t.Fatalf("tier %s scenarios must be unlimited: %v", tier, err)
		}
	}
}

func TestQuota_AdminBypass(t *testing.T) {
	db := newTestDB(t)
	q := NewQuotaService(db, freeQuota())
	ctx := context.Background()

	if err := db.Create(&domain.UserProfile{ID: "root", Tier: domain.TierFree, IsAdmin: true}).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	if err := q.RecordAIMinutes(ctx, "root", 500); err != nil {
		t.Fatalf("RecordAIMinutes: %v", err)
	}
	if err := q.CheckAI(ctx, "root"); err != nil {
		t.Fatalf("admin must bypass limits: %v", err)
	}
	if err := q.CheckCardCapacity(ctx, "root", 10_000); err != nil {
		t.Fatalf("admin must bypass card capacity: %v", err)
	}
}

func TestQuota_UsageCountersMonotone(t *testing.T) {
	db := newTestDB(t)
	q := NewQuotaService(db, freeQuota())
	q.Clock = FixedClock{T: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	if err := q.RecordAIMinutes(ctx, "u1", 5); err != nil {
		t.Fatalf("RecordAIMinutes: %v", err)
	}
	// Negative deltas are clamped by the repository.
	if err := q.RecordAIMinutes(ctx, "u1", -3); err != nil {
		t.Fatalf("RecordAIMinutes: %v", err)
	}
	u, _, err := q.Usage(ctx, "u1")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.AIMinutesUsed != 5 {
		t.Fatalf("ai_minutes_used = %v; want 5 (monotone)", u.AIMinutesUsed)
	}
}

func TestQuota_RemainingCardCapacity(t *testing.T) {
	db := newTestDB(t)
	q := NewQuotaService(db, config.QuotaConfig{FreeMaxReviewCards: 2})
	ctx := context.Background()

	remaining, err := q.RemainingCardCapacity(ctx, "u1")
	if err != nil || remaining != 2 {
		t.Fatalf("RemainingCardCapacity = (%d, %v); want 2", remaining, err)
	}
	for i, id := range []string{"vocabulary:haus:u1", "vocabulary:katze:u1"} {
		card := &domain.ReviewCard{ID: id, UserID: "u1", Type: domain.CardVocabulary, NextReview: time.Now().UTC()}
		if err := db.Create(card).Error; err != nil {
			t.Fatalf("seed card %d: %v", i, err)
		}
	}
	remaining, err = q.RemainingCardCapacity(ctx, "u1")
	if err != nil || remaining != 0 {
		t.Fatalf("RemainingCardCapacity = (%d, %v); want 0", remaining, err)
	}
	if err := q.CheckCardCapacity(ctx, "u1", 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestQuota_UnknownTierFallsBackToFree(t *testing.T) {
	q := &QuotaService{Free: freeQuota()}
	f := q.Features("gold")
	if f.AIMinutesPerDay != 30 || f.ScenariosPerDay != 2 || f.MaxReviewCards != 50 {
		t.Fatalf("unknown tier features = %+v; want free limits", f)
	}
}
