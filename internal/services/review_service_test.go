package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/averbeck/go-deutsch-backend/internal/config"
	"github.com/averbeck/go-deutsch-backend/internal/domain"
)

func newReviewService(t *testing.T) (*ReviewService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewReviewService(db, nil)
	svc.Clock = FixedClock{T: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	return svc, db
}

func TestAddCard_DeterministicIDAndDuplicate(t *testing.T) {
	svc, _ := newReviewService(t)
	ctx := context.Background()

	card, err := svc.AddCard(ctx, "u1", domain.CardVocabulary, map[string]any{
		"word": "Haus", "translation": "house",
	})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	if card.ID != "vocabulary:haus:u1" {
		t.Fatalf("card id = %q; want vocabulary:haus:u1", card.ID)
	}
	if card.Repetitions != 0 || card.Easiness != 2.5 || card.IntervalDays != 0 {
		t.Fatalf("initial state = %+v", card)
	}

	if _, err := svc.AddCard(ctx, "u1", domain.CardVocabulary, map[string]any{"word": "haus"}); !errors.Is(err, ErrDuplicateCard) {
		t.Fatalf("expected ErrDuplicateCard, got %v", err)
	}
}

func TestSubmitReview_SM2ProgressionAndReset(t *testing.T) {
	svc, _ := newReviewService(t)
	ctx := context.Background()

	card, err := svc.AddCard(ctx, "u1", domain.CardVocabulary, map[string]any{"word": "Katze"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	steps := []struct {
		quality      string
		q            int
		wantReps     int
		wantInterval int
	}{
		{"first pass", 5, 1, 1},
		{"second pass", 5, 2, 6},
		{"third pass", 5, 3, 15}, // round(6 * 2.5)
	}
	for _, st := range steps {
		card, err = svc.SubmitReview(ctx, "u1", card.ID, st.q)
		if err != nil {
			t.Fatalf("%s: %v", st.quality, err)
		}
		if card.Repetitions != st.wantReps || card.IntervalDays != st.wantInterval {
			t.Fatalf("%s: (n=%d, I=%d); want (%d, %d)",
				st.quality, card.Repetitions, card.IntervalDays, st.wantReps, st.wantInterval)
		}
		if card.Easiness < 1.3 || card.Easiness > 2.5 {
			t.Fatalf("%s: EF %v out of bounds", st.quality, card.Easiness)
		}
	}

	card, err = svc.SubmitReview(ctx, "u1", card.ID, 2)
	if err != nil {
		t.Fatalf("failed review: %v", err)
	}
	if card.Repetitions != 0 || card.IntervalDays != 1 {
		t.Fatalf("q=2 must reset: (n=%d, I=%d)", card.Repetitions, card.IntervalDays)
	}
	if card.LastReviewed == nil {
		t.Fatalf("last_reviewed not set")
	}
}

func TestSubmitReview_InvalidQualityAndMissingCard(t *testing.T) {
	svc, _ := newReviewService(t)
	ctx := context.Background()

	if _, err := svc.SubmitReview(ctx, "u1", "x", 6); !errors.Is(err, ErrInvalidQuality) {
		t.Fatalf("q=6: expected ErrInvalidQuality, got %v", err)
	}
	if _, err := svc.SubmitReview(ctx, "u1", "x", -1); !errors.Is(err, ErrInvalidQuality) {
		t.Fatalf("q=-1: expected ErrInvalidQuality, got %v", err)
	}
	if _, err := svc.SubmitReview(ctx, "u1", "missing", 4); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
}

func TestGetDue_OrderingAndLimit(t *testing.T) {
	svc, db := newReviewService(t)
	ctx := context.Background()
	now := svc.Clock.Now().UTC()

	seed := []domain.ReviewCard{
		{ID: "vocabulary:a:u1", UserID: "u1", Type: domain.CardVocabulary, Repetitions: 2, NextReview: now.Add(-48 * time.Hour)},
		{ID: "vocabulary:b:u1", UserID: "u1", Type: domain.CardVocabulary, Repetitions: 0, NextReview: now.Add(-1 * time.Hour)},
		{ID: "vocabulary:c:u1", UserID: "u1", Type: domain.CardVocabulary, Repetitions: 0, NextReview: now.Add(-24 * time.Hour)},
		{ID: "vocabulary:d:u1", UserID: "u1", Type: domain.CardVocabulary, Repetitions: 1, NextReview: now.Add(24 * time.Hour)}, // not due
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	due, err := svc.GetDue(ctx, "u1", 10, "")
	if err != nil {
		t.Fatalf("GetDue: %v", err)
	}
	wantOrder := []string{"vocabulary:c:u1", "vocabulary:b:u1", "vocabulary:a:u1"}
	if len(due) != len(wantOrder) {
		t.Fatalf("got %d due cards; want %d", len(due), len(wantOrder))
	}
	for i, id := range wantOrder {
		if due[i].ID != id {
			t.Fatalf("due[%d] = %s; want %s", i, due[i].ID, id)
		}
	}

	empty, err := svc.GetDue(ctx, "u1", 0, "")
	if err != nil || len(empty) != 0 {
		t.Fatalf("GetDue(limit=0) = (%d, %v); want empty", len(empty), err)
	}
}

func TestBulkIngest_VocabularyIdempotent(t *testing.T) {
	svc, db := newReviewService(t)
	ctx := context.Background()

	words := []domain.SeedWord{
		{ID: "w1", Word: "Haus", Translation: "house", Level: "A1"},
		{ID: "w2", Word: "Katze", Translation: "cat", Level: "A1"},
		{ID: "w3", Word: "Brot", Translation: "bread", Level: "A1"},
	}
	for i := range words {
		if err := db.Create(&words[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	res, err := svc.BulkIngest(ctx, "u1", SourceVocabulary)
	if err != nil {
		t.Fatalf("BulkIngest: %v", err)
	}
	if res.Added != 3 || res.Skipped != 0 {
		t.Fatalf("first run = %+v; want 3 added", res)
	}

	res, err = svc.BulkIngest(ctx, "u1", SourceVocabulary)
	if err != nil {
		t.Fatalf("BulkIngest (rerun): %v", err)
	}
	if res.Added != 0 || res.Skipped != 3 {
		t.Fatalf("second run = %+v; want 0 added, 3 skipped", res)
	}
}

func TestBulkIngest_QuizMistakes(t *testing.T) {
	svc, db := newReviewService(t)
	ctx := context.Background()

	sess := domain.QuizSession{
		ID: "q1", UserID: "u1", Topic: "Artikel",
		Questions: datatypes.JSONSlice[domain.QuizQuestion]{
			{Question: "Der oder das Haus?", CorrectAnswer: "das", UserAnswer: "der", Correct: false},
			{Question: "Der oder die Katze?", CorrectAnswer: "die", UserAnswer: "die", Correct: true},
		},
	}
	if err := db.Create(&sess).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := svc.BulkIngest(ctx, "u1", SourceQuizMistakes)
	if err != nil {
		t.Fatalf("BulkIngest: %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("added = %d; want only the incorrect answer", res.Added)
	}
	cards, err := svc.ListCards(ctx, "u1", domain.CardQuizMistake)
	if err != nil || len(cards) != 1 {
		t.Fatalf("ListCards = (%d, %v)", len(cards), err)
	}
	if cards[0].Content["correct_answer"] != "das" || cards[0].Content["user_answer"] != "der" {
		t.Fatalf("card content = %v", cards[0].Content)
	}
}

func TestBulkIngest_ScenarioObjectives(t *testing.T) {
	svc, db := newReviewService(t)
	ctx := context.Background()

	sc := domain.Scenario{
		ID: "cafe", Name: "Im Café", Difficulty: domain.DifficultyBeginner,
		Objectives: datatypes.JSONSlice[domain.Objective]{
			{ID: "greet", Description: "Begrüßung", Keywords: []string{"hallo"}, Required: true, XP: 10, Hint: "Sag hallo"},
			{ID: "order", Description: "Bestellen", Keywords: []string{"kaffee"}, Required: true, XP: 20},
		},
		Characters: datatypes.JSONSlice[domain.Character]{{ID: "anna", Greeting: "Hallo!"}},
	}
	if err := db.Create(&sc).Error; err != nil {
		t.Fatalf("seed scenario: %v", err)
	}
	conv := domain.Conversation{
		ID: "c1", UserID: "u1", ScenarioID: "cafe", CharacterID: "anna",
		Status: domain.ConversationCompleted,
		Progress: datatypes.JSONSlice[domain.ObjectiveProgress]{
			{ObjectiveID: "greet", Completed: true},
			{ObjectiveID: "order", Completed: false},
		},
		StartedAt: time.Now().UTC(), LastActivity: time.Now().UTC(),
	}
	if err := db.Create(&conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	res, err := svc.BulkIngest(ctx, "u1", SourceScenarioObjectives)
	if err != nil {
		t.Fatalf("BulkIngest: %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("added = %d; want only the unmet objective", res.Added)
	}
	cards, _ := svc.ListCards(ctx, "u1", domain.CardScenario)
	if len(cards) != 1 || cards[0].Content["objective_id"] != "order" || cards[0].Content["scenario_name"] != "Im Café" {
		t.Fatalf("cards = %+v", cards)
	}
}

func TestBulkIngest_UnknownSource(t *testing.T) {
	svc, _ := newReviewService(t)
	if _, err := svc.BulkIngest(context.Background(), "u1", "dreams"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestBulkIngest_CapacityTruncates(t *testing.T) {
	db := newTestDB(t)
	quota := NewQuotaService(db, config.QuotaConfig{FreeMaxReviewCards: 2, FreeAIMinutesPerDay: 30, FreeScenariosPerDay: 2})
	svc := NewReviewService(db, quota)
	svc.Clock = FixedClock{T: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	quota.Clock = svc.Clock
	ctx := context.Background()

	for i, w := range []string{"Haus", "Katze", "Brot", "Milch"} {
		if err := db.Create(&domain.SeedWord{ID: string(rune('a' + i)), Word: w}).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	res, err := svc.BulkIngest(ctx, "u1", SourceVocabulary)
	if err != nil {
		t.Fatalf("BulkIngest: %v", err)
	}
	if res.Added != 2 || res.Skipped != 2 {
		t.Fatalf("result = %+v; want capacity-truncated 2/2", res)
	}
}

func TestStats_ClassificationAndRetention(t *testing.T) {
	svc, db := newReviewService(t)
	ctx := context.Background()
	now := svc.Clock.Now().UTC()
	earlier := now.Add(-2 * time.Hour)

	seed := []domain.ReviewCard{
		{ID: "vocabulary:a:u1", UserID: "u1", Type: domain.CardVocabulary, Repetitions: 0, NextReview: now.Add(-time.Hour)},
		{ID: "vocabulary:b:u1", UserID: "u1", Type: domain.CardVocabulary, Repetitions: 1, NextReview: now.Add(72 * time.Hour)},
		{ID: "vocabulary:c:u1", UserID: "u1", Type: domain.CardVocabulary, Repetitions: 3, NextReview: now.Add(240 * time.Hour), LastReviewed: &earlier},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	st, err := svc.Stats(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 3 || st.New != 1 || st.Learning != 1 || st.Mature != 1 {
		t.Fatalf("classification = %+v", st)
	}
	if st.DueToday != 1 {
		t.Fatalf("due_today = %d; want 1", st.DueToday)
	}
	if st.ReviewedToday != 1 {
		t.Fatalf("reviewed_today = %d; want 1", st.ReviewedToday)
	}
	if st.RetentionRate != 33.3 {
		t.Fatalf("retention_rate = %v; want 33.3", st.RetentionRate)
	}
}

func TestStats_EmptyCollection(t *testing.T) {
	svc, _ := newReviewService(t)
	st, err := svc.Stats(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 0 || st.RetentionRate != 0 {
		t.Fatalf("empty stats = %+v", st)
	}
}

func TestPredictWorkload_WindowsAndClamp(t *testing.T) {
	svc, db := newReviewService(t)
	ctx := context.Background()
	dayStart := svc.Clock.Now().UTC().Truncate(24 * time.Hour)

	seed := []domain.ReviewCard{
		{ID: "vocabulary:a:u1", UserID: "u1", Type: domain.CardVocabulary, NextReview: dayStart.Add(6 * time.Hour)},
		{ID: "vocabulary:b:u1", UserID: "u1", Type: domain.CardVocabulary, NextReview: dayStart.Add(30 * time.Hour)},
		{ID: "vocabulary:c:u1", UserID: "u1", Type: domain.CardVocabulary, NextReview: dayStart.Add(31 * time.Hour)},
		{ID: "vocabulary:d:u1", UserID: "u1", Type: domain.CardVocabulary, NextReview: dayStart.AddDate(0, 0, 40)}, // beyond horizon
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	days, err := svc.PredictWorkload(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("PredictWorkload: %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("len = %d; want 7", len(days))
	}
	if days[0].DueCards != 1 || days[1].DueCards != 2 {
		t.Fatalf("day counts = %+v", days[:2])
	}
	if days[0].Date != dayStart.Format("2006-01-02") {
		t.Fatalf("day 0 date = %s", days[0].Date)
	}

	empty, err := svc.PredictWorkload(ctx, "u1", 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("days=0 must be empty, got (%d, %v)", len(empty), err)
	}
	clamped, err := svc.PredictWorkload(ctx, "u1", 90)
	if err != nil || len(clamped) != 30 {
		t.Fatalf("days=90 must clamp to 30, got (%d, %v)", len(clamped), err)
	}
}

func TestDeleteCard(t *testing.T) {
	svc, _ := newReviewService(t)
	ctx := context.Background()

	card, err := svc.AddCard(ctx, "u1", domain.CardGrammar, map[string]any{"topic": "Dativ"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	if err := svc.DeleteCard(ctx, "u1", card.ID); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	if err := svc.DeleteCard(ctx, "u1", card.ID); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
}
