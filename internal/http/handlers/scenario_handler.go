// Scenario conversation HTTP handlers.
//
// This file exposes REST endpoints for the scenario conversation engine:
//   - GET  /scenarios                                (catalog, filterable)
//   - POST /scenarios/{id}/conversation              (start)
//   - GET  /scenarios/{id}/conversation              (current state)
//   - POST /scenarios/{id}/conversation/messages     (text turn)
//   - POST /scenarios/{id}/conversation/messages/stream (SSE text turn)
//   - POST /scenarios/{id}/conversation/voice        (voice turn)
//   - GET  /scenarios/{id}/conversation/hint         (next-objective hint)
//   - POST /scenarios/{id}/conversation/checkpoints  (snapshot progress)
//   - POST /scenarios/{id}/conversation/restore      (rewind to checkpoint)
//   - POST /scenarios/{id}/conversation/pause|resume|complete
//   - GET  /conversations                            (history)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (content sanitization, length caps)
//   - delegate to application services (ScenarioService)
//   - translate sentinel errors into the stable error taxonomy
//
// Idempotency:
// If the client supplies an Idempotency-Key header on the text-turn endpoint
// and a previous successful result exists for (user, conversation, key), the
// handler replays the recorded character reply and sets
// `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
	"github.com/averbeck/go-deutsch-backend/internal/http/middleware"
	"github.com/averbeck/go-deutsch-backend/internal/repo"
	"github.com/averbeck/go-deutsch-backend/internal/services"
	"github.com/averbeck/go-deutsch-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ScenarioService defines the conversation engine operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ScenarioService interface {
	// ListScenarios returns the scenario catalog, optionally filtered.
	ListScenarios(ctx context.Context, difficulty, category string) ([]domain.Scenario, error)
	// SearchScenarios ranks the catalog against a free-text query.
	SearchScenarios(ctx context.Context, query string, limit int) ([]domain.Scenario, error)
	// Start creates a new conversation for (user, scenario).
	Start(ctx context.Context, userID, scenarioID, characterID string) (*domain.Conversation, error)
	// GetState returns the most recent conversation for (user, scenario).
	GetState(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error)
	// SendMessage runs one text turn and returns the character reply.
	SendMessage(ctx context.Context, userID, scenarioID, text string) (*services.Reply, error)
	// SendMessageStream runs one text turn with a streamed reply.
	SendMessageStream(ctx context.Context, userID, scenarioID, text string) (<-chan services.StreamEvent, error)
	// SendVoiceMessage runs one voice turn over raw audio bytes.
	SendVoiceMessage(ctx context.Context, userID, scenarioID string, audio []byte) (*services.Reply, error)
	// Hint returns guidance for the first incomplete objective.
	Hint(ctx context.Context, userID, scenarioID string) (string, error)
	// Checkpoint snapshots the current conversation progress.
	Checkpoint(ctx context.Context, userID, scenarioID string) (string, error)
	// Restore rewinds the conversation to a prior checkpoint.
	Restore(ctx context.Context, userID, scenarioID, checkpointID string) (*domain.Conversation, error)
	// Pause, Resume and Complete drive the conversation state machine.
	Pause(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error)
	Resume(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error)
	Complete(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error)
	// ListConversations returns the user's conversation history.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
}

// ReviewService defines the spaced-repetition operations consumed by HTTP
// handlers.
type ReviewService interface {
	GetDue(ctx context.Context, userID string, limit int, cardType string) ([]domain.ReviewCard, error)
	SubmitReview(ctx context.Context, userID, cardID string, quality int) (*domain.ReviewCard, error)
	AddCard(ctx context.Context, userID, cardType string, content map[string]any) (*domain.ReviewCard, error)
	DeleteCard(ctx context.Context, userID, cardID string) error
	BulkIngest(ctx context.Context, userID, source string) (*services.IngestResult, error)
	Stats(ctx context.Context, userID, cardType string) (*services.DailyStats, error)
	PredictWorkload(ctx context.Context, userID string, days int) ([]services.WorkloadDay, error)
	ListCards(ctx context.Context, userID, cardType string) ([]domain.ReviewCard, error)
}

// QuotaService defines the usage reporting operations consumed by HTTP
// handlers. Enforcement happens inside the other services; this surface only
// reads.
type QuotaService interface {
	Usage(ctx context.Context, userID string) (*domain.UsageRecord, services.TierFeatures, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for scenarios, reviews, and usage.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	scenSvc   ScenarioService
	reviewSvc ReviewService
	quotaSvc  QuotaService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(scenSvc ScenarioService, reviewSvc ReviewService, quotaSvc QuotaService) *Handlers {
	return &Handlers{scenSvc: scenSvc, reviewSvc: reviewSvc, quotaSvc: quotaSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// StartConversationRequest is the JSON payload for starting a conversation.
type StartConversationRequest struct {
	// CharacterID optionally picks one of the scenario's characters; the
	// scenario's first character is used when empty.
	CharacterID string `json:"character_id" example:"anna"`
}

// PostMessageRequest is the JSON payload for sending a text turn.
type PostMessageRequest struct {
	// Content is the user's German utterance. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Hallo, einen Kaffee bitte!"`
}

// PostVoiceRequest is the JSON payload for sending a voice turn.
type PostVoiceRequest struct {
	// Audio is the base64-encoded recording (WAV or raw PCM).
	Audio string `json:"audio" binding:"required" example:"UklGRi4AAABXQVZF..."`
}

// RestoreRequest is the JSON payload for rewinding to a checkpoint.
type RestoreRequest struct {
	CheckpointID string `json:"checkpoint_id" binding:"required" format:"uuid"`
}

// CheckpointResponse carries the id of a newly created checkpoint.
type CheckpointResponse struct {
	CheckpointID string `json:"checkpoint_id"`
}

// HintResponse carries objective guidance for the learner.
type HintResponse struct {
	Hint string `json:"hint"`
}

// ConversationStateResponse wraps a conversation with derived completion.
type ConversationStateResponse struct {
	Conversation      *domain.Conversation `json:"conversation"`
	CompletionPercent float64              `json:"completion_percent"`
}

// ListScenariosResponse wraps the scenario catalog.
type ListScenariosResponse struct {
	Scenarios []domain.Scenario `json:"scenarios"`
}

// ListConversationsResponse wraps a user's conversation history.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
}

//
// Helpers
//

// maxMessageRunes caps user messages at the edge; the engine applies its own
// turn-level limits downstream.
const maxMessageRunes = 2000

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// bindMessage validates and sanitizes a text-turn payload, failing the
// request on bad input. The boolean reports success.
func bindMessage(c *gin.Context) (string, bool) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return "", false
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return "", false
	}
	if utf8.RuneCountInString(content) > maxMessageRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxMessageRunes))
		return "", false
	}
	return content, true
}

// stateResponse builds the conversation envelope with derived completion.
func stateResponse(conv *domain.Conversation) ConversationStateResponse {
	return ConversationStateResponse{
		Conversation:      conv,
		CompletionPercent: conv.CompletionPercent(),
	}
}

//
// Handlers
//

// ListScenarios godoc
// @ID          listScenarios
// @Summary     List available scenarios
// @Description Returns the scenario catalog, optionally filtered by difficulty and
// @Description category. When `q` is given, results are instead ranked by relevance
// @Description to the query (German umlauts may be typed as ae/oe/ue/ss).
// @Tags        Scenarios
// @Produce     json
//
// @Param       difficulty  query  string  false "Filter by difficulty"  Enums(beginner, intermediate, advanced)
// @Param       category    query  string  false "Filter by category"    example(restaurant)
// @Param       q           query  string  false "Free-text search"      example(kaffee bestellen)
// @Param       limit       query  int     false "Maximum search results" minimum(1) default(10)
//
// @Success     200  {object}  handlers.ListScenariosResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /scenarios [get]
func (h *Handlers) ListScenarios(c *gin.Context) {
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		items, err := h.scenSvc.SearchScenarios(c.Request.Context(), q, utils.AtoiDefault(c.Query("limit"), 10))
		if err != nil {
			failService(c, err)
			return
		}
		ok(c, http.StatusOK, ListScenariosResponse{Scenarios: items})
		return
	}
	items, err := h.scenSvc.ListScenarios(c.Request.Context(), c.Query("difficulty"), c.Query("category"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListScenariosResponse{Scenarios: items})
}

// StartConversation godoc
// @ID          startConversation
// @Summary     Start a scenario conversation
// @Description Creates a new conversation with the scenario character. At most one
// @Description conversation per (user, scenario) may be active or paused at a time.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
// @Param       body       body    handlers.StartConversationRequest  false "Character selection"
//
// @Success     201  {object}  handlers.ConversationStateResponse
// @Failure     404  {object}  handlers.ErrorResponse "Scenario not found"
// @Failure     409  {object}  handlers.ErrorResponse "Conversation already in progress"
// @Failure     429  {object}  handlers.ErrorResponse "Daily scenario limit reached"
// @Router      /scenarios/{id}/conversation [post]
func (h *Handlers) StartConversation(c *gin.Context) {
	var req StartConversationRequest
	// Body is optional; ignore bind errors for an empty body.
	_ = c.ShouldBindJSON(&req)

	conv, err := h.scenSvc.Start(c.Request.Context(), userID(c), c.Param("id"), strings.TrimSpace(req.CharacterID))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, stateResponse(conv))
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get conversation state
// @Description Returns the most recent conversation for the scenario, including
// @Description message log, objective progress, score and derived completion.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
//
// @Success     200  {object}  handlers.ConversationStateResponse
// @Failure     404  {object}  handlers.ErrorResponse "No conversation for this scenario"
// @Router      /scenarios/{id}/conversation [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	conv, err := h.scenSvc.GetState(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, stateResponse(conv))
}

// GetHint godoc
// @ID          getHint
// @Summary     Get a hint for the next objective
// @Description Returns guidance for the first incomplete objective of the active
// @Description conversation. Authored hints are served directly; otherwise one is
// @Description generated by the language model and cached, so repeated requests
// @Description for the same objective return the same hint.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
//
// @Success     200  {object}  handlers.HintResponse
// @Failure     404  {object}  handlers.ErrorResponse "No active conversation"
// @Failure     409  {object}  handlers.ErrorResponse "Conversation not active"
// @Router      /scenarios/{id}/conversation/hint [get]
func (h *Handlers) GetHint(c *gin.Context) {
	hint, err := h.scenSvc.Hint(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, HintResponse{Hint: hint})
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message and get the character reply
// @Description Appends a user message to the active conversation, scores objectives,
// @Description and generates the character reply. Supports idempotency via the
// @Description Idempotency-Key header (same key → same recorded reply).
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Scenario ID"            example(cafe)
// @Param       body             body    handlers.PostMessageRequest  true  "User message payload"
//
// @Success     200  {object}  services.Reply "Character reply"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "No active conversation"
// @Failure     409  {object}  handlers.ErrorResponse "Conversation not active or turn in progress"
// @Failure     429  {object}  handlers.ErrorResponse "Daily AI limit reached"
// @Failure     502  {object}  handlers.ErrorResponse "Language service unavailable"
// @Router      /scenarios/{id}/conversation/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	scenarioID := c.Param("id")

	content, okBind := bindMessage(c)
	if !okBind {
		return
	}
	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey == "" {
		idemKey = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}
	db := h.serviceDB()
	if idemKey != "" && db != nil {
		if prev := h.replayReply(ctx, currentUser, scenarioID, idemKey); prev != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, prev)
			return
		}
	}

	reply, err := h.scenSvc.SendMessage(ctx, currentUser, scenarioID, content)
	if err != nil {
		failService(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && db != nil {
		if conv, cerr := repo.GetConversation(ctx, db, reply.ConversationID, currentUser); cerr == nil && len(conv.Messages) > 0 {
			replyRef := strconv.Itoa(len(conv.Messages) - 1)
			_, _ = repo.CreateIdempotency(ctx, db, currentUser, conv.ID, idemKey, replyRef, http.StatusOK, 24*time.Hour)
		}
	}

	ok(c, http.StatusOK, reply)
}

// serviceDB exposes the engine's DB handle for transport-level concerns
// (idempotency records). Returns nil when the concrete service is not wired.
func (h *Handlers) serviceDB() *gorm.DB {
	if svc, okSvc := h.scenSvc.(*services.ScenarioService); okSvc {
		return svc.DB
	}
	return nil
}

// replayReply reconstructs a previously returned character reply from the
// recorded message-log index, or nil when no valid record exists.
func (h *Handlers) replayReply(ctx context.Context, user, scenarioID, key string) *services.Reply {
	db := h.serviceDB()
	conv, err := repo.LatestConversation(ctx, db, user, scenarioID)
	if err != nil {
		return nil
	}
	rec, err := repo.GetIdempotency(ctx, db, user, conv.ID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return nil
	}
	idx, err := strconv.Atoi(rec.ReplyID)
	if err != nil || idx < 0 || idx >= len(conv.Messages) {
		return nil
	}
	return &services.Reply{
		ConversationID:       conv.ID,
		CharacterText:        conv.Messages[idx].Content,
		ConversationComplete: conv.Status == domain.ConversationCompleted,
	}
}

// StreamMessage godoc
// @ID          streamMessage
// @Summary     Send a message and stream the character reply
// @Description Runs one text turn and streams the reply over Server-Sent Events.
// @Description Events arrive in order: one metadata event (objectives, score delta),
// @Description token events, then exactly one complete or error event.
// @Tags        Conversations
// @Accept      json
// @Produce     text/event-stream
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
// @Param       body       body    handlers.PostMessageRequest  true  "User message payload"
//
// @Success     200  {string}  string "SSE stream of services.StreamEvent"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "No active conversation"
// @Failure     409  {object}  handlers.ErrorResponse "Conversation not active or turn in progress"
// @Failure     429  {object}  handlers.ErrorResponse "Daily AI limit reached"
// @Router      /scenarios/{id}/conversation/messages/stream [post]
func (h *Handlers) StreamMessage(c *gin.Context) {
	content, okBind := bindMessage(c)
	if !okBind {
		return
	}

	events, err := h.scenSvc.SendMessageStream(c.Request.Context(), userID(c), c.Param("id"), content)
	if err != nil {
		failService(c, err)
		return
	}
	middleware.StreamStarted()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for ev := range events {
		payload, merr := json.Marshal(ev)
		if merr != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
	}
}

// PostVoice godoc
// @ID          postVoice
// @Summary     Send a voice message and get a spoken reply
// @Description Transcribes the audio, runs one short conversation turn, and returns
// @Description the reply with synthesized audio. Non-German input is answered with a
// @Description canonical German-only reminder without invoking the language model.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
// @Param       body       body    handlers.PostVoiceRequest  true  "Base64 audio payload"
//
// @Success     200  {object}  services.Reply "Character reply with audio"
// @Failure     400  {object}  handlers.ErrorResponse "Bad audio or no speech detected"
// @Failure     409  {object}  handlers.ErrorResponse "Conversation not active"
// @Failure     429  {object}  handlers.ErrorResponse "Daily AI limit reached"
// @Failure     502  {object}  handlers.ErrorResponse "Speech service unavailable"
// @Router      /scenarios/{id}/conversation/voice [post]
func (h *Handlers) PostVoice(c *gin.Context) {
	var req PostVoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "audio required (base64)")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "audio must be valid base64")
		return
	}

	start := time.Now()
	reply, err := h.scenSvc.SendVoiceMessage(c.Request.Context(), userID(c), c.Param("id"), audio)
	if err != nil {
		failService(c, err)
		return
	}
	middleware.ObserveVoiceTurn(time.Since(start))
	ok(c, http.StatusOK, reply)
}

// CreateCheckpoint godoc
// @ID          createCheckpoint
// @Summary     Checkpoint the active conversation
// @Description Snapshots the current message count, score and completed objectives.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
//
// @Success     201  {object}  handlers.CheckpointResponse
// @Failure     404  {object}  handlers.ErrorResponse "No active conversation"
// @Failure     409  {object}  handlers.ErrorResponse "Conversation not active"
// @Router      /scenarios/{id}/conversation/checkpoints [post]
func (h *Handlers) CreateCheckpoint(c *gin.Context) {
	id, err := h.scenSvc.Checkpoint(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, CheckpointResponse{CheckpointID: id})
}

// RestoreCheckpoint godoc
// @ID          restoreCheckpoint
// @Summary     Restore a conversation checkpoint
// @Description Rewinds the message log, score and objective progress to the snapshot
// @Description and reactivates the conversation.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
// @Param       body       body    handlers.RestoreRequest  true  "Checkpoint selection"
//
// @Success     200  {object}  handlers.ConversationStateResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Checkpoint not found"
// @Router      /scenarios/{id}/conversation/restore [post]
func (h *Handlers) RestoreCheckpoint(c *gin.Context) {
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.CheckpointID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "checkpoint_id required")
		return
	}

	conv, err := h.scenSvc.Restore(c.Request.Context(), userID(c), c.Param("id"), req.CheckpointID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, stateResponse(conv))
}

// PauseConversation godoc
// @ID          pauseConversation
// @Summary     Pause the active conversation
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
// @Success     200  {object}  handlers.ConversationStateResponse
// @Failure     409  {object}  handlers.ErrorResponse "Conversation not active"
// @Router      /scenarios/{id}/conversation/pause [post]
func (h *Handlers) PauseConversation(c *gin.Context) {
	conv, err := h.scenSvc.Pause(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, stateResponse(conv))
}

// ResumeConversation godoc
// @ID          resumeConversation
// @Summary     Resume a paused conversation
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
// @Success     200  {object}  handlers.ConversationStateResponse
// @Failure     409  {object}  handlers.ErrorResponse "Conversation not paused"
// @Router      /scenarios/{id}/conversation/resume [post]
func (h *Handlers) ResumeConversation(c *gin.Context) {
	conv, err := h.scenSvc.Resume(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, stateResponse(conv))
}

// CompleteConversation godoc
// @ID          completeConversation
// @Summary     Manually complete the conversation
// @Description Finishes the conversation early. The final score is scaled by the
// @Description share of required objectives completed.
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Scenario ID"            example(cafe)
// @Success     200  {object}  handlers.ConversationStateResponse
// @Failure     404  {object}  handlers.ErrorResponse "No open conversation"
// @Router      /scenarios/{id}/conversation/complete [post]
func (h *Handlers) CompleteConversation(c *gin.Context) {
	conv, err := h.scenSvc.Complete(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, stateResponse(conv))
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List the user's conversations
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Success     200  {object}  handlers.ListConversationsResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	items, err := h.scenSvc.ListConversations(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items})
}
