// Package services – ReviewService
//
// This file implements the spaced-repetition card lifecycle: due-card
// selection, graded reviews via the SM-2 scheduler, single-card creation,
// bulk ingestion from heterogeneous sources, daily statistics, and workload
// prediction. Card ids are deterministic per (type, content key, user) so
// re-ingesting an unchanged source adds zero cards.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// user and card identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
	"github.com/averbeck/go-deutsch-backend/internal/lang"
	"github.com/averbeck/go-deutsch-backend/internal/repo"
	"github.com/averbeck/go-deutsch-backend/internal/srs"
)

// Ingestion sources accepted by BulkIngest.
const (
	SourceVocabulary         = "vocabulary"
	SourceGrammar            = "grammar"
	SourceQuizMistakes       = "quiz_mistakes"
	SourceScenarioObjectives = "scenario_objectives"
)

// defaultSeedWordLimit caps how many seed words one vocabulary ingestion run
// considers.
const defaultSeedWordLimit = 50

// maxWorkloadDays bounds PredictWorkload horizons.
const maxWorkloadDays = 30

// DailyStats summarizes a user's card collection for one day.
type DailyStats struct {
	Total         int     `json:"total"`
	New           int     `json:"new"`
	Learning      int     `json:"learning"`
	Mature        int     `json:"mature"`
	DueToday      int     `json:"due_today"`
	ReviewedToday int     `json:"reviewed_today"`
	RetentionRate float64 `json:"retention_rate"`
}

// WorkloadDay is one entry of a workload forecast.
type WorkloadDay struct {
	Date     string `json:"date"` // "2006-01-02" (UTC)
	DueCards int    `json:"due_cards"`
}

// IngestResult reports the outcome of one BulkIngest run.
type IngestResult struct {
	Source     string `json:"source"`
	Candidates int    `json:"candidates"`
	Added      int    `json:"added"`
	Skipped    int    `json:"skipped"`
}

// ReviewService owns the review-card lifecycle and SM-2 scheduling.
type ReviewService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Quota gates card capacity; nil disables capacity checks.
	Quota *QuotaService
	// Clock returns the current time; overridable in tests.
	Clock Clock

	// SeedWordLimit caps the vocabulary ingestion source (default 50).
	SeedWordLimit int
}

// NewReviewService constructs a ReviewService with default limits.
func NewReviewService(db *gorm.DB, quota *QuotaService) *ReviewService {
	return &ReviewService{DB: db, Quota: quota, Clock: systemClock{}, SeedWordLimit: defaultSeedWordLimit}
}

// CardID builds the deterministic primary key for a card.
func CardID(cardType, contentKey, userID string) string {
	return cardType + ":" + contentKey + ":" + userID
}

// contentKey canonicalizes free text into a stable card key: case-folded
// words joined by underscores.
func contentKey(s string) string {
	return strings.Join(strings.Fields(lang.Fold(s)), "_")
}

// keyForContent derives the content key for a card from its payload.
// An explicit content_key wins; otherwise the type-specific primary field is
// used.
func keyForContent(cardType string, content map[string]any) string {
	pick := func(fields ...string) string {
		for _, f := range fields {
			if v, ok := content[f].(string); ok && strings.TrimSpace(v) != "" {
				return contentKey(v)
			}
		}
		return ""
	}
	if k := pick("content_key"); k != "" {
		return k
	}
	switch cardType {
	case domain.CardVocabulary:
		return pick("word")
	case domain.CardGrammar:
		return pick("topic")
	case domain.CardQuizMistake:
		return pick("question")
	case domain.CardScenario:
		return pick("objective_id")
	}
	return ""
}

// GetDue returns up to limit due cards ordered by (repetitions asc,
// next_review asc). limit <= 0 yields an empty result. cardType filters by
// card type when non-empty.
func (s *ReviewService) GetDue(ctx context.Context, userID string, limit int, cardType string) ([]domain.ReviewCard, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "GetDue",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	return repo.ListDueCards(ctx, s.DB, userID, s.Clock.Now().UTC(), limit, cardType)
}

// SubmitReview grades a card and persists the SM-2 post-state atomically.
// Quality outside [0,5] is rejected with ErrInvalidQuality.
func (s *ReviewService) SubmitReview(ctx context.Context, userID, cardID string, quality int) (*domain.ReviewCard, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "SubmitReview",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("card.id", cardID),
			attribute.Int("quality", quality),
		),
	)
	defer span.End()

	if !srs.ValidQuality(quality) {
		return nil, ErrInvalidQuality
	}

	now := s.Clock.Now().UTC()
	card, err := repo.UpdateCardReview(ctx, s.DB, cardID, userID, func(c *domain.ReviewCard) {
		next, due := srs.Review(srs.State{
			Repetitions:  c.Repetitions,
			Easiness:     c.Easiness,
			IntervalDays: c.IntervalDays,
		}, quality, now)
		c.Repetitions = next.Repetitions
		c.Easiness = next.Easiness
		c.IntervalDays = next.IntervalDays
		c.NextReview = due
		c.LastReviewed = &now
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCardNotFound
	}
	return card, err
}

// AddCard creates a single card with initial SM-2 state. The id is
// deterministic, so adding the same content twice fails with
// ErrDuplicateCard. Capacity is gated by the quota service when configured.
func (s *ReviewService) AddCard(ctx context.Context, userID, cardType string, content map[string]any) (*domain.ReviewCard, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "AddCard",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("card.type", cardType),
		),
	)
	defer span.End()

	key := keyForContent(cardType, content)
	if key == "" {
		return nil, fmt.Errorf("%w: card content has no usable key", ErrEmptyMessage)
	}
	if s.Quota != nil {
		if err := s.Quota.CheckCardCapacity(ctx, userID, 1); err != nil {
			return nil, err
		}
	}

	card := s.newCard(userID, cardType, key, content)
	if err := repo.CreateCard(ctx, s.DB, card); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateCard
		}
		return nil, err
	}
	if s.Quota != nil {
		if err := s.Quota.RecordReviewsAdded(ctx, userID, 1); err != nil {
			return nil, err
		}
	}
	return card, nil
}

// DeleteCard removes a user-owned card.
func (s *ReviewService) DeleteCard(ctx context.Context, userID, cardID string) error {
	err := repo.DeleteCard(ctx, s.DB, cardID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrCardNotFound
	}
	return err
}

// newCard builds a card in the initial learning state (n=0, EF=2.5, I=0,
// due immediately).
func (s *ReviewService) newCard(userID, cardType, key string, content map[string]any) *domain.ReviewCard {
	now := s.Clock.Now().UTC()
	return &domain.ReviewCard{
		ID:           CardID(cardType, key, userID),
		UserID:       userID,
		Type:         cardType,
		Content:      datatypes.JSONMap(content),
		Repetitions:  0,
		Easiness:     srs.MaxEasiness,
		IntervalDays: 0,
		NextReview:   now,
		CreatedAt:    now,
	}
}

// candidate is one ingestible card before deduplication.
type candidate struct {
	key     string
	content map[string]any
	typ     string
}

// BulkIngest creates cards for every item of the source the user does not
// already have. The run is idempotent: duplicates are skipped, and a second
// run over unchanged sources adds nothing. Free-tier capacity truncates the
// candidate list.
func (s *ReviewService) BulkIngest(ctx context.Context, userID, source string) (*IngestResult, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "BulkIngest",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("source", source),
		),
	)
	defer span.End()

	var (
		cands []candidate
		err   error
	)
	switch source {
	case SourceVocabulary:
		cands, err = s.vocabularyCandidates(ctx)
	case SourceGrammar:
		cands, err = s.grammarCandidates(ctx)
	case SourceQuizMistakes:
		cands, err = s.quizMistakeCandidates(ctx, userID)
	case SourceScenarioObjectives:
		cands, err = s.scenarioObjectiveCandidates(ctx, userID)
	default:
		return nil, ErrUnknownSource
	}
	if err != nil {
		return nil, err
	}

	res := &IngestResult{Source: source, Candidates: len(cands)}

	capacity := Unlimited
	if s.Quota != nil {
		capacity, err = s.Quota.RemainingCardCapacity(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	for _, c := range cands {
		if capacity != Unlimited && res.Added >= capacity {
			res.Skipped++
			continue
		}
		card := s.newCard(userID, c.typ, c.key, c.content)
		switch err := repo.CreateCard(ctx, s.DB, card); {
		case err == nil:
			res.Added++
		case errors.Is(err, repo.ErrDuplicate):
			res.Skipped++
		default:
			return nil, err
		}
	}

	if s.Quota != nil && res.Added > 0 {
		if err := s.Quota.RecordReviewsAdded(ctx, userID, res.Added); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// vocabularyCandidates pulls the first N seed words from the content store.
func (s *ReviewService) vocabularyCandidates(ctx context.Context) ([]candidate, error) {
	limit := s.SeedWordLimit
	if limit <= 0 {
		limit = defaultSeedWordLimit
	}
	words, err := repo.ListSeedWords(ctx, s.DB, limit)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(words))
	for _, w := range words {
		if strings.TrimSpace(w.Word) == "" {
			continue
		}
		out = append(out, candidate{
			typ: domain.CardVocabulary,
			key: contentKey(w.Word),
			content: map[string]any{
				"word":        w.Word,
				"translation": w.Translation,
				"example":     w.Example,
				"level":       w.Level,
			},
		})
	}
	return out, nil
}

// grammarCandidates pulls all authored grammar rules.
func (s *ReviewService) grammarCandidates(ctx context.Context) ([]candidate, error) {
	rules, err := repo.ListGrammarRules(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Topic) == "" {
			continue
		}
		out = append(out, candidate{
			typ: domain.CardGrammar,
			key: contentKey(r.Topic),
			content: map[string]any{
				"topic":       r.Topic,
				"explanation": r.Explanation,
				"example":     r.Example,
				"level":       r.Level,
			},
		})
	}
	return out, nil
}

// quizMistakeCandidates pulls incorrectly answered questions from the user's
// prior quiz sessions.
func (s *ReviewService) quizMistakeCandidates(ctx context.Context, userID string) ([]candidate, error) {
	sessions, err := repo.ListQuizSessions(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, sess := range sessions {
		for _, q := range sess.Questions {
			if q.Correct || strings.TrimSpace(q.Question) == "" {
				continue
			}
			out = append(out, candidate{
				typ: domain.CardQuizMistake,
				key: contentKey(q.Question),
				content: map[string]any{
					"question":       q.Question,
					"correct_answer": q.CorrectAnswer,
					"user_answer":    q.UserAnswer,
					"explanation":    q.Explanation,
					"topic":          sess.Topic,
				},
			})
		}
	}
	return out, nil
}

// scenarioObjectiveCandidates pulls objectives the user did not complete in
// prior conversations, annotated with the scenario name and the objective's
// hint and keywords.
func (s *ReviewService) scenarioObjectiveCandidates(ctx context.Context, userID string) ([]candidate, error) {
	convs, err := repo.ListConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}

	scenarios := make(map[string]*domain.Scenario)
	var out []candidate
	for i := range convs {
		conv := &convs[i]
		sc, ok := scenarios[conv.ScenarioID]
		if !ok {
			sc, err = repo.GetScenario(ctx, s.DB, conv.ScenarioID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					continue
				}
				return nil, err
			}
			scenarios[conv.ScenarioID] = sc
		}

		completed := make(map[string]bool, len(conv.Progress))
		for _, p := range conv.Progress {
			completed[p.ObjectiveID] = p.Completed
		}
		for _, obj := range sc.Objectives {
			if completed[obj.ID] {
				continue
			}
			out = append(out, candidate{
				typ: domain.CardScenario,
				key: contentKey(conv.ScenarioID + " " + obj.ID),
				content: map[string]any{
					"scenario_id":   conv.ScenarioID,
					"scenario_name": sc.Name,
					"objective_id":  obj.ID,
					"description":   obj.Description,
					"hint":          obj.Hint,
					"keywords":      obj.Keywords,
				},
			})
		}
	}
	return out, nil
}

// Stats computes daily statistics over the user's collection. cardType
// filters by type when non-empty.
//
// Classification: new (n=0), learning (0<n<3), mature (n>=3).
// retention_rate = mature / max(total,1) * 100, rounded to one decimal.
func (s *ReviewService) Stats(ctx context.Context, userID, cardType string) (*DailyStats, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "Stats",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	cards, err := repo.ListCards(ctx, s.DB, userID, cardType)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now().UTC()
	dayStart := now.Truncate(24 * time.Hour)

	st := &DailyStats{Total: len(cards)}
	for _, c := range cards {
		switch srs.Phase(c.Repetitions) {
		case srs.PhaseNew:
			st.New++
		case srs.PhaseLearning:
			st.Learning++
		default:
			st.Mature++
		}
		if !c.NextReview.After(now) {
			st.DueToday++
		}
	}

	reviewed, err := repo.CountReviewedSince(ctx, s.DB, userID, cardType, dayStart)
	if err != nil {
		return nil, err
	}
	st.ReviewedToday = int(reviewed)

	total := st.Total
	if total < 1 {
		total = 1
	}
	st.RetentionRate = float64(int(float64(st.Mature)/float64(total)*1000+0.5)) / 10
	return st, nil
}

// PredictWorkload forecasts how many cards fall due on each of the next
// days UTC days. days <= 0 yields an empty forecast; days > 30 is clamped.
func (s *ReviewService) PredictWorkload(ctx context.Context, userID string, days int) ([]WorkloadDay, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "PredictWorkload",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("days", days),
		),
	)
	defer span.End()

	if days <= 0 {
		return []WorkloadDay{}, nil
	}
	if days > maxWorkloadDays {
		days = maxWorkloadDays
	}

	cards, err := repo.ListCards(ctx, s.DB, userID, "")
	if err != nil {
		return nil, err
	}

	start := s.Clock.Now().UTC().Truncate(24 * time.Hour)
	out := make([]WorkloadDay, days)
	for i := range out {
		out[i] = WorkloadDay{Date: start.AddDate(0, 0, i).Format("2006-01-02")}
	}
	for _, c := range cards {
		idx := int(c.NextReview.UTC().Sub(start).Hours() / 24)
		if c.NextReview.UTC().Before(start) || idx < 0 || idx >= days {
			continue
		}
		out[idx].DueCards++
	}
	return out, nil
}

// ListCards returns all of a user's cards, optionally filtered by type.
func (s *ReviewService) ListCards(ctx context.Context, userID, cardType string) ([]domain.ReviewCard, error) {
	return repo.ListCards(ctx, s.DB, userID, cardType)
}
