// Review HTTP handlers.
//
// This file exposes REST endpoints for the spaced-repetition scheduler:
//   - GET    /review/due               (due cards, ordered for study)
//   - GET    /review/cards             (full collection, filterable)
//   - POST   /review/cards             (add one card)
//   - DELETE /review/cards/{id}        (remove a card)
//   - POST   /review/cards/{id}/review (grade a card, 0..5)
//   - POST   /review/ingest            (bulk-ingest a card source)
//   - GET    /review/stats             (daily statistics)
//   - GET    /review/workload          (due-card forecast)
//
// Handlers are transport-thin: parse and bound query parameters, delegate to
// the ReviewService, and translate sentinel errors.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
	"github.com/averbeck/go-deutsch-backend/internal/services"
	"github.com/averbeck/go-deutsch-backend/internal/utils"
)

//
// DTOs
//

// AddCardRequest is the JSON payload for creating a single review card.
type AddCardRequest struct {
	// Type discriminates the card shape.
	Type string `json:"type" binding:"required" enums:"vocabulary,grammar,quiz_mistake,scenario" example:"vocabulary"`
	// Content is the card payload; the key field depends on the type
	// (word, topic, question or objective_id).
	Content map[string]any `json:"content" binding:"required"`
}

// SubmitReviewRequest is the JSON payload for grading a card.
type SubmitReviewRequest struct {
	// Quality is the SM-2 recall grade: 0 (blackout) to 5 (perfect).
	Quality *int `json:"quality" binding:"required" minimum:"0" maximum:"5" example:"4"`
}

// IngestRequest is the JSON payload for bulk ingestion.
type IngestRequest struct {
	Source string `json:"source" binding:"required" enums:"vocabulary,grammar,quiz_mistakes,scenario_objectives" example:"quiz_mistakes"`
}

// CardListResponse wraps a list of review cards.
type CardListResponse struct {
	Cards []domain.ReviewCard `json:"cards"`
}

// WorkloadResponse wraps a due-card forecast.
type WorkloadResponse struct {
	Days []services.WorkloadDay `json:"days"`
}

//
// Handlers
//

// GetDueCards godoc
// @ID          getDueCards
// @Summary     List cards due for review
// @Description Returns up to `limit` due cards ordered by repetitions ascending,
// @Description then longest-overdue first.
// @Tags        Review
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       limit      query   int     false "Maximum cards returned" minimum(0) default(20)
// @Param       type       query   string  false "Filter by card type"    Enums(vocabulary, grammar, quiz_mistake, scenario)
//
// @Success     200  {object}  handlers.CardListResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /review/due [get]
func (h *Handlers) GetDueCards(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 20)
	cards, err := h.reviewSvc.GetDue(c.Request.Context(), userID(c), limit, c.Query("type"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, CardListResponse{Cards: cards})
}

// ListCards godoc
// @ID          listCards
// @Summary     List the user's review cards
// @Tags        Review
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       type       query   string  false "Filter by card type"    Enums(vocabulary, grammar, quiz_mistake, scenario)
// @Success     200  {object}  handlers.CardListResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /review/cards [get]
func (h *Handlers) ListCards(c *gin.Context) {
	cards, err := h.reviewSvc.ListCards(c.Request.Context(), userID(c), c.Query("type"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, CardListResponse{Cards: cards})
}

// AddCard godoc
// @ID          addCard
// @Summary     Add a review card
// @Description Creates one card with initial scheduling state. Card ids are
// @Description deterministic per (type, content, user); re-adding the same content
// @Description returns 409.
// @Tags        Review
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.AddCardRequest  true  "Card payload"
//
// @Success     201  {object}  domain.ReviewCard
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse "Card already exists"
// @Failure     429  {object}  handlers.ErrorResponse "Card limit reached"
// @Router      /review/cards [post]
func (h *Handlers) AddCard(c *gin.Context) {
	var req AddCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type and content required")
		return
	}
	cardType := strings.TrimSpace(req.Type)
	switch cardType {
	case domain.CardVocabulary, domain.CardGrammar, domain.CardQuizMistake, domain.CardScenario:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown card type")
		return
	}

	card, err := h.reviewSvc.AddCard(c.Request.Context(), userID(c), cardType, req.Content)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, card)
}

// DeleteCard godoc
// @ID          deleteCard
// @Summary     Delete a review card
// @Tags        Review
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Card ID"  example(vocabulary:haus:user123)
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse "Card not found"
// @Router      /review/cards/{id} [delete]
func (h *Handlers) DeleteCard(c *gin.Context) {
	if err := h.reviewSvc.DeleteCard(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// SubmitReview godoc
// @ID          submitReview
// @Summary     Grade a card
// @Description Applies one SM-2 review to the card and returns the rescheduled state.
// @Tags        Review
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Card ID"  example(vocabulary:haus:user123)
// @Param       body       body    handlers.SubmitReviewRequest  true  "Recall grade"
//
// @Success     200  {object}  domain.ReviewCard
// @Failure     400  {object}  handlers.ErrorResponse "Quality out of range"
// @Failure     404  {object}  handlers.ErrorResponse "Card not found"
// @Router      /review/cards/{id}/review [post]
func (h *Handlers) SubmitReview(c *gin.Context) {
	var req SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quality == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quality required (0..5)")
		return
	}

	card, err := h.reviewSvc.SubmitReview(c.Request.Context(), userID(c), c.Param("id"), *req.Quality)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, card)
}

// IngestCards godoc
// @ID          ingestCards
// @Summary     Bulk-ingest review cards from a source
// @Description Creates cards for every item of the source the user does not already
// @Description have. Idempotent: re-running over unchanged sources adds nothing.
// @Tags        Review
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.IngestRequest  true  "Ingestion source"
//
// @Success     200  {object}  services.IngestResult
// @Failure     400  {object}  handlers.ErrorResponse "Unknown source"
// @Router      /review/ingest [post]
func (h *Handlers) IngestCards(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "source required")
		return
	}

	res, err := h.reviewSvc.BulkIngest(c.Request.Context(), userID(c), strings.TrimSpace(req.Source))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// GetReviewStats godoc
// @ID          getReviewStats
// @Summary     Daily review statistics
// @Description Returns collection totals by learning phase, today's due and reviewed
// @Description counts, and the retention rate.
// @Tags        Review
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       type       query   string  false "Filter by card type"    Enums(vocabulary, grammar, quiz_mistake, scenario)
// @Success     200  {object}  services.DailyStats
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /review/stats [get]
func (h *Handlers) GetReviewStats(c *gin.Context) {
	stats, err := h.reviewSvc.Stats(c.Request.Context(), userID(c), c.Query("type"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// GetWorkload godoc
// @ID          getWorkload
// @Summary     Forecast upcoming review workload
// @Description Returns how many cards fall due on each of the next UTC days.
// @Description Horizons above 30 days are clamped.
// @Tags        Review
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       days       query   int     false "Forecast horizon in days"  minimum(1) maximum(30) default(7)
// @Success     200  {object}  handlers.WorkloadResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /review/workload [get]
func (h *Handlers) GetWorkload(c *gin.Context) {
	days := utils.AtoiDefault(c.Query("days"), 7)
	forecast, err := h.reviewSvc.PredictWorkload(c.Request.Context(), userID(c), days)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, WorkloadResponse{Days: forecast})
}
