// Package services – ScenarioService
//
// This file implements the scenario conversation engine: a per-user,
// per-scenario state machine that advances a dialogue with an LLM-backed
// character, scores user messages against scenario objectives, persists
// checkpoints, and produces text and optional audio replies.
//
// Turn ordering: SendMessage calls for one conversation are serialized with
// an in-process keyed lock; a concurrent call observes ErrConversationBusy.
// The user message and any score update are committed before the LLM call;
// the character message is committed after generation succeeds, so a
// cancelled stream never persists a partial reply.
//
// Observability: public methods are OpenTelemetry-instrumented and the voice
// path records its end-to-end latency in a Prometheus histogram. Missing the
// latency budget is logged, never surfaced as an error.
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averbeck/go-deutsch-backend/internal/cache"
	"github.com/averbeck/go-deutsch-backend/internal/config"
	"github.com/averbeck/go-deutsch-backend/internal/domain"
	"github.com/averbeck/go-deutsch-backend/internal/lang"
	"github.com/averbeck/go-deutsch-backend/internal/llm"
	"github.com/averbeck/go-deutsch-backend/internal/repo"
	"github.com/averbeck/go-deutsch-backend/internal/search"
	"github.com/averbeck/go-deutsch-backend/internal/speech"
)

var (
	// voiceTurnLat records end-to-end voice turn latency (STT + LLM + TTS).
	voiceTurnLat = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_turn_duration_seconds",
		Help:    "End-to-end duration of voice conversation turns in seconds.",
		Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15, 30, 60},
	})

	// voiceBudgetMisses counts voice turns that exceeded the latency budget.
	voiceBudgetMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voice_turn_budget_misses_total",
		Help: "Voice turns that exceeded the configured latency budget.",
	})
)

func init() {
	prometheus.MustRegister(voiceTurnLat, voiceBudgetMisses)
}

// ChatModel is the completion contract required by the engine.
type ChatModel interface {
	Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error)
	ChatStream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan string, <-chan error)
	CheckGrammar(ctx context.Context, sentence, level string) (*llm.GrammarVerdict, error)
}

// Transcriber is the STT contract required by the voice path.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*speech.Transcript, error)
}

// Synthesizer is the TTS contract required by the voice path. Silence is the
// local fallback used when synthesis fails.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	Silence(text string) []byte
}

// HintGenerator produces one-shot completions for objective hints. The
// production implementation is llm.CachedGenerator, so identical hint
// requests within the TTL never reach the model twice.
type HintGenerator interface {
	GenerateCached(ctx context.Context, prompt, system string, ttl time.Duration) (string, error)
}

// Reply is the outcome of one conversation turn.
type Reply struct {
	ConversationID          string              `json:"conversation_id"`
	CharacterText           string              `json:"character_text"`
	CharacterAudio          string              `json:"character_audio,omitempty"` // base64 WAV
	TranscribedText         string              `json:"transcribed_text,omitempty"`
	ObjectivesJustCompleted []string            `json:"objectives_just_completed"`
	GrammarFeedback         *llm.GrammarVerdict `json:"grammar_feedback,omitempty"`
	ScoreDelta              int                 `json:"score_delta"`
	ConversationComplete    bool                `json:"conversation_complete"`
}

// Stream event types. Events within one stream are totally ordered:
// metadata, then tokens in generation order, then exactly one complete or
// error.
const (
	EventMetadata = "metadata"
	EventToken    = "token"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one element of a SendMessageStream sequence.
type StreamEvent struct {
	Type                    string   `json:"type"`
	Token                   string   `json:"token,omitempty"`
	ObjectivesJustCompleted []string `json:"objectives_just_completed,omitempty"`
	ScoreDelta              int      `json:"score_delta,omitempty"`
	CharacterText           string   `json:"character_text,omitempty"`
	ConversationComplete    bool     `json:"conversation_complete,omitempty"`
	Error                   string   `json:"error,omitempty"`
}

// ScenarioService drives scenario conversations.
type ScenarioService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Model generates character replies and grammar verdicts.
	Model ChatModel
	// STT and TTS are the voice pipeline adapters.
	STT Transcriber
	TTS Synthesizer
	// Quota gates AI minutes and scenario starts; nil disables gating.
	Quota *QuotaService
	// Analytics holds per-day counters; nil disables them.
	Analytics cache.Store
	// Detector flags non-German input for the language guardrail.
	Detector *lang.Detector
	// Hints generates objective hints when the scenario authors none; nil
	// falls back to the objective description.
	Hints HintGenerator
	// Clock returns the current time; overridable in tests.
	Clock Clock

	// GrammarFeedback attaches a CheckGrammar verdict to text replies.
	GrammarFeedback bool
	// GrammarLevel is the CEFR level passed to the grammar checker.
	GrammarLevel string

	// Tuning, from config.QuotaConfig.
	HistoryPairs       int           // last K user/character pairs in prompts
	VoiceReplyMaxRunes int           // hard cap for voice-chat replies
	VoiceTurnBudget    time.Duration // logged-when-missed latency target

	// locks serializes turns per conversation.
	locks sync.Map // conversation id -> *sync.Mutex
}

// NewScenarioService wires the engine with its collaborators.
func NewScenarioService(db *gorm.DB, model ChatModel, stt Transcriber, tts Synthesizer, quota *QuotaService, analytics cache.Store, det *lang.Detector, q config.QuotaConfig) *ScenarioService {
	return &ScenarioService{
		DB:                 db,
		Model:              model,
		STT:                stt,
		TTS:                tts,
		Quota:              quota,
		Analytics:          analytics,
		Detector:           det,
		Clock:              systemClock{},
		GrammarLevel:       "B1",
		HistoryPairs:       q.HistoryExchangePairs,
		VoiceReplyMaxRunes: q.VoiceReplyMaxRunes,
		VoiceTurnBudget:    q.VoiceTurnBudget,
	}
}

// lockConversation acquires the per-conversation turn lock without blocking.
func (s *ScenarioService) lockConversation(id string) (unlock func(), ok bool) {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

// forgetLock drops a conversation's turn mutex once the conversation reaches
// a terminal state, keeping the lock map bounded by open conversations.
func (s *ScenarioService) forgetLock(id string) { s.locks.Delete(id) }

// Start creates a new conversation for (user, scenario) with the character
// greeting as the first message. Fails with ErrConversationActive when an
// active or paused conversation already exists and with ErrQuotaExceeded
// when the daily scenario limit is reached.
func (s *ScenarioService) Start(ctx context.Context, userID, scenarioID, characterID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "Start",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("scenario.id", scenarioID),
		),
	)
	defer span.End()

	scenario, err := repo.GetScenario(ctx, s.DB, scenarioID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrScenarioNotFound
		}
		return nil, err
	}
	character, ok := scenario.CharacterByID(characterID)
	if !ok {
		return nil, ErrScenarioNotFound
	}

	if _, err := repo.FindOpenConversation(ctx, s.DB, userID, scenarioID); err == nil {
		return nil, ErrConversationActive
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	if s.Quota != nil {
		if err := s.Quota.CheckScenario(ctx, userID); err != nil {
			return nil, err
		}
	}

	now := s.Clock.Now().UTC()
	progress := make([]domain.ObjectiveProgress, 0, len(scenario.Objectives))
	for _, o := range scenario.Objectives {
		progress = append(progress, domain.ObjectiveProgress{ObjectiveID: o.ID})
	}

	conv := &domain.Conversation{
		ID:          uuid.NewString(),
		UserID:      userID,
		ScenarioID:  scenarioID,
		CharacterID: character.ID,
		Status:      domain.ConversationActive,
		Messages: datatypes.JSONSlice[domain.ConversationMessage]{
			{Role: domain.RoleCharacter, Content: character.Greeting, Timestamp: now},
		},
		Progress:     datatypes.JSONSlice[domain.ObjectiveProgress](progress),
		MaxScore:     scenario.MaxScore(),
		StartedAt:    now,
		LastActivity: now,
	}
	if err := repo.CreateConversation(ctx, s.DB, conv); err != nil {
		return nil, err
	}
	if s.Quota != nil {
		if err := s.Quota.RecordScenarioStart(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("recording scenario start failed")
		}
	}
	return conv, nil
}

// GetState returns the most recent conversation for (user, scenario).
func (s *ScenarioService) GetState(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error) {
	conv, err := repo.LatestConversation(ctx, s.DB, userID, scenarioID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

// activeConversation loads the open conversation and its scenario, rejecting
// terminal and paused states for message sends.
func (s *ScenarioService) activeConversation(ctx context.Context, userID, scenarioID string) (*domain.Conversation, *domain.Scenario, error) {
	conv, err := repo.FindOpenConversation(ctx, s.DB, userID, scenarioID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Distinguish "never started / finished" from "paused".
			if latest, lerr := repo.LatestConversation(ctx, s.DB, userID, scenarioID); lerr == nil && latest.Terminal() {
				return nil, nil, ErrConversationTerminal
			}
			return nil, nil, ErrConversationNotFound
		}
		return nil, nil, err
	}
	if conv.Status != domain.ConversationActive {
		return nil, nil, ErrConversationTerminal
	}
	scenario, err := repo.GetScenario(ctx, s.DB, conv.ScenarioID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrScenarioNotFound
		}
		return nil, nil, err
	}
	return conv, scenario, nil
}

// scoreObjectives marks objectives completed by text and returns their ids
// plus the score delta. Each objective's XP counts at most once per
// conversation and the delta is capped so score never exceeds max_score.
func scoreObjectives(conv *domain.Conversation, scenario *domain.Scenario, text string, now time.Time) (completed []string, delta int) {
	byID := make(map[string]*domain.Objective, len(scenario.Objectives))
	for i := range scenario.Objectives {
		byID[scenario.Objectives[i].ID] = &scenario.Objectives[i]
	}
	for i := range conv.Progress {
		p := &conv.Progress[i]
		if p.Completed {
			continue
		}
		obj := byID[p.ObjectiveID]
		if obj == nil || !lang.ContainsAnyWord(text, obj.Keywords) {
			continue
		}
		p.Completed = true
		t := now
		p.CompletedAt = &t
		completed = append(completed, obj.ID)
		delta += obj.XP
	}
	if room := conv.MaxScore - conv.Score; delta > room {
		delta = room
	}
	conv.Score += delta
	return completed, delta
}

// requiredComplete reports whether every required objective is completed.
func requiredComplete(conv *domain.Conversation, scenario *domain.Scenario) bool {
	done := make(map[string]bool, len(conv.Progress))
	for _, p := range conv.Progress {
		done[p.ObjectiveID] = p.Completed
	}
	for _, o := range scenario.Objectives {
		if o.Required && !done[o.ID] {
			return false
		}
	}
	return true
}

// buildPrompt assembles the chat transcript: the scenario system prompt plus
// the character fragment, the last K user/character exchange pairs, and the
// new user message.
func (s *ScenarioService) buildPrompt(conv *domain.Conversation, scenario *domain.Scenario, userText string) []llm.Message {
	character, _ := scenario.CharacterByID(conv.CharacterID)

	system := strings.TrimSpace(scenario.SystemPrompt)
	if frag := strings.TrimSpace(character.PromptFragment); frag != "" {
		if system != "" {
			system += "\n"
		}
		system += frag
	}
	if len(character.Personality) > 0 {
		system += "\nPersönlichkeit: " + strings.Join(character.Personality, ", ")
	}

	pairs := s.HistoryPairs
	if pairs <= 0 {
		pairs = 3
	}
	var history []llm.Message
	for _, m := range conv.Messages {
		switch m.Role {
		case domain.RoleUser:
			history = append(history, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case domain.RoleCharacter:
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	if keep := pairs * 2; len(history) > keep {
		history = history[len(history)-keep:]
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
}

// turnState is the per-turn bookkeeping shared by the text, streaming, and
// voice paths after the user message is committed.
type turnState struct {
	conv      *domain.Conversation
	scenario  *domain.Scenario
	completed []string
	delta     int
	prompt    []llm.Message
	unlock    func()
}

// beginTurn validates the input, serializes the turn, appends the user
// message, scores objectives, and commits before any model call. The caller
// must invoke st.unlock when the turn ends.
func (s *ScenarioService) beginTurn(ctx context.Context, userID, scenarioID, text string) (*turnState, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.Quota != nil {
		if err := s.Quota.CheckAI(ctx, userID); err != nil {
			return nil, err
		}
	}

	conv, scenario, err := s.activeConversation(ctx, userID, scenarioID)
	if err != nil {
		return nil, err
	}
	unlock, ok := s.lockConversation(conv.ID)
	if !ok {
		return nil, ErrConversationBusy
	}

	now := s.Clock.Now().UTC()
	prev := conv.LastActivity
	conv.Messages = append(conv.Messages, domain.ConversationMessage{
		Role: domain.RoleUser, Content: text, Timestamp: now,
	})
	completed, delta := scoreObjectives(conv, scenario, text, now)
	conv.LastActivity = now

	// Prompt is assembled before the append so history excludes the new
	// user message (it is supplied separately as the final user turn).
	prompt := s.buildPrompt(&domain.Conversation{
		CharacterID: conv.CharacterID,
		Messages:    conv.Messages[:len(conv.Messages)-1],
	}, scenario, text)

	if err := repo.SaveConversation(ctx, s.DB, conv, prev); err != nil {
		unlock()
		if errors.Is(err, repo.ErrStaleConversation) {
			return nil, ErrConversationBusy
		}
		return nil, err
	}

	return &turnState{
		conv:      conv,
		scenario:  scenario,
		completed: completed,
		delta:     delta,
		prompt:    prompt,
		unlock:    unlock,
	}, nil
}

// finishTurn appends the character reply, completes the conversation when
// every required objective is met, and commits.
func (s *ScenarioService) finishTurn(ctx context.Context, st *turnState, replyText string) (bool, error) {
	now := s.Clock.Now().UTC()
	prev := st.conv.LastActivity
	st.conv.Messages = append(st.conv.Messages, domain.ConversationMessage{
		Role: domain.RoleCharacter, Content: replyText, Timestamp: now,
	})
	st.conv.LastActivity = now

	complete := requiredComplete(st.conv, st.scenario)
	if complete {
		st.conv.Status = domain.ConversationCompleted
		t := now
		st.conv.CompletedAt = &t
	}

	if err := repo.SaveConversation(ctx, s.DB, st.conv, prev); err != nil {
		return false, err
	}
	if complete {
		s.forgetLock(st.conv.ID)
	}
	return complete, nil
}

// chatOptions are the default generation knobs for text turns.
func chatOptions() llm.Options {
	return llm.Options{Temperature: 0.7, MaxTokens: 200}
}

// voiceOptions aggressively caps generation so a voice turn fits the latency
// budget: few tokens, stop at the first sentence end.
func voiceOptions() llm.Options {
	return llm.Options{Temperature: 0.7, MaxTokens: 30, Stop: []string{".", "!", "?"}}
}

// SendMessage runs one text turn: append the user message, score objectives,
// generate the character reply, and persist. Only active conversations
// accept messages.
func (s *ScenarioService) SendMessage(ctx context.Context, userID, scenarioID, text string) (*Reply, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("scenario.id", scenarioID),
		),
	)
	defer span.End()

	st, err := s.beginTurn(ctx, userID, scenarioID, text)
	if err != nil {
		return nil, err
	}
	defer st.unlock()

	replyText, err := s.Model.Chat(ctx, st.prompt, chatOptions())
	if err != nil {
		return nil, err
	}

	complete, err := s.finishTurn(ctx, st, replyText)
	if err != nil {
		return nil, err
	}

	reply := &Reply{
		ConversationID:          st.conv.ID,
		CharacterText:           replyText,
		ObjectivesJustCompleted: st.completed,
		ScoreDelta:              st.delta,
		ConversationComplete:    complete,
	}
	if s.GrammarFeedback {
		if verdict, gerr := s.Model.CheckGrammar(ctx, strings.TrimSpace(text), s.GrammarLevel); gerr == nil {
			reply.GrammarFeedback = verdict
		} else {
			log.Debug().Err(gerr).Msg("grammar feedback skipped")
		}
	}
	s.countTurn(ctx, userID)
	return reply, nil
}

// SendMessageStream runs one text turn with a streamed reply. The returned
// channel carries a metadata event, tokens in generation order, and a
// terminal complete or error event, then closes. Cancelling ctx aborts the
// upstream call; the character message is only persisted after the final
// token.
func (s *ScenarioService) SendMessageStream(ctx context.Context, userID, scenarioID, text string) (<-chan StreamEvent, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "SendMessageStream",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("scenario.id", scenarioID),
		),
	)

	st, err := s.beginTurn(ctx, userID, scenarioID, text)
	if err != nil {
		span.End()
		return nil, err
	}

	events := make(chan StreamEvent)
	// emit never blocks past cancellation, so an abandoned consumer cannot
	// leak this goroutine.
	emit := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(events)
		defer st.unlock()
		defer span.End()

		emit(StreamEvent{
			Type:                    EventMetadata,
			ObjectivesJustCompleted: st.completed,
			ScoreDelta:              st.delta,
		})

		tokens, errc := s.Model.ChatStream(ctx, st.prompt, chatOptions())
		var sb strings.Builder
		for tok := range tokens {
			sb.WriteString(tok)
			emit(StreamEvent{Type: EventToken, Token: tok})
		}
		if err := <-errc; err != nil {
			// Cancelled or broken stream: the character message is not
			// persisted and the score keeps only the user-turn delta.
			emit(StreamEvent{Type: EventError, Error: err.Error()})
			return
		}

		replyText := strings.TrimSpace(sb.String())
		if replyText == "" {
			emit(StreamEvent{Type: EventError, Error: llm.ErrEmptyCompletion.Error()})
			return
		}
		complete, err := s.finishTurn(ctx, st, replyText)
		if err != nil {
			emit(StreamEvent{Type: EventError, Error: err.Error()})
			return
		}
		s.countTurn(ctx, userID)
		emit(StreamEvent{
			Type:                 EventComplete,
			CharacterText:        replyText,
			ConversationComplete: complete,
		})
	}()
	return events, nil
}

// SendVoiceMessage runs one voice turn: transcribe the audio, guard the
// language, generate a short reply, synthesize audio, and persist. STT
// failures surface; TTS failures degrade to a silence clip. The elapsed
// time is recorded against the user's AI minutes.
func (s *ScenarioService) SendVoiceMessage(ctx context.Context, userID, scenarioID string, audio []byte) (*Reply, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "SendVoiceMessage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("scenario.id", scenarioID),
		),
	)
	defer span.End()

	started := s.Clock.Now()
	defer func() {
		elapsed := s.Clock.Now().Sub(started)
		voiceTurnLat.Observe(elapsed.Seconds())
		if s.VoiceTurnBudget > 0 && elapsed > s.VoiceTurnBudget {
			voiceBudgetMisses.Inc()
			log.Warn().
				Dur("elapsed", elapsed).
				Dur("budget", s.VoiceTurnBudget).
				Str("user_id", userID).
				Msg("voice turn exceeded latency budget")
		}
	}()

	transcript, err := s.STT.Transcribe(ctx, audio)
	if err != nil {
		return nil, err
	}

	// Non-German input short-circuits to the canonical reminder with zero
	// model calls.
	if s.Detector != nil && s.Detector.IsNonGerman(transcript.Text) {
		reply, err := s.guardedTurn(ctx, userID, scenarioID, transcript.Text)
		if err != nil {
			return nil, err
		}
		reply.TranscribedText = transcript.Text
		s.attachAudio(ctx, reply, "")
		s.recordVoiceUsage(ctx, userID, started)
		return reply, nil
	}

	st, err := s.beginTurn(ctx, userID, scenarioID, transcript.Text)
	if err != nil {
		return nil, err
	}
	defer st.unlock()

	raw, err := s.Model.Chat(ctx, st.prompt, voiceOptions())
	if err != nil {
		return nil, err
	}
	maxRunes := s.VoiceReplyMaxRunes
	if maxRunes <= 0 {
		maxRunes = 50
	}
	replyText := lang.CapVoiceReply(raw, maxRunes)

	complete, err := s.finishTurn(ctx, st, replyText)
	if err != nil {
		return nil, err
	}

	reply := &Reply{
		ConversationID:          st.conv.ID,
		CharacterText:           replyText,
		TranscribedText:         transcript.Text,
		ObjectivesJustCompleted: st.completed,
		ScoreDelta:              st.delta,
		ConversationComplete:    complete,
	}
	character, _ := st.scenario.CharacterByID(st.conv.CharacterID)
	s.attachAudio(ctx, reply, character.VoiceID)
	s.countTurn(ctx, userID)
	s.recordVoiceUsage(ctx, userID, started)
	return reply, nil
}

// guardedTurn appends the user message and the canonical German-only
// reminder without calling the model. Objectives are still scored so a
// mixed-language message cannot lose credit it earned.
func (s *ScenarioService) guardedTurn(ctx context.Context, userID, scenarioID, text string) (*Reply, error) {
	st, err := s.beginTurn(ctx, userID, scenarioID, text)
	if err != nil {
		return nil, err
	}
	defer st.unlock()

	complete, err := s.finishTurn(ctx, st, lang.GermanOnlyReminder)
	if err != nil {
		return nil, err
	}
	return &Reply{
		ConversationID:          st.conv.ID,
		CharacterText:           lang.GermanOnlyReminder,
		ObjectivesJustCompleted: st.completed,
		ScoreDelta:              st.delta,
		ConversationComplete:    complete,
	}, nil
}

// attachAudio synthesizes the reply text, falling back to a silence clip so
// TTS failures never fail the turn.
func (s *ScenarioService) attachAudio(ctx context.Context, reply *Reply, voice string) {
	if s.TTS == nil {
		return
	}
	audio, err := s.TTS.Synthesize(ctx, reply.CharacterText, voice)
	if err != nil {
		log.Warn().Err(err).Msg("tts synthesis failed, using silence fallback")
		audio = s.TTS.Silence(reply.CharacterText)
	}
	reply.CharacterAudio = base64.StdEncoding.EncodeToString(audio)
}

// recordVoiceUsage charges the elapsed wall time of a voice turn, in
// minutes, to today's usage record.
func (s *ScenarioService) recordVoiceUsage(ctx context.Context, userID string, started time.Time) {
	if s.Quota == nil {
		return
	}
	minutes := s.Clock.Now().Sub(started).Minutes()
	if err := s.Quota.RecordAIMinutes(ctx, userID, minutes); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("recording ai minutes failed")
	}
}

// countTurn bumps the per-day analytics counter. Failures are ignored; the
// counter is advisory.
func (s *ScenarioService) countTurn(ctx context.Context, userID string) {
	if s.Analytics == nil {
		return
	}
	key := fmt.Sprintf("analytics:turns:%s:%s", domain.UsageDay(s.Clock.Now()), userID)
	if n, err := s.Analytics.Incr(ctx, key); err == nil && n == 1 {
		_ = s.Analytics.Expire(ctx, key, 48*time.Hour)
	}
}

// hintSystemPrompt steers hint generation: short, German, no verbatim answer.
const hintSystemPrompt = "Du bist ein freundlicher Deutschlehrer. Gib einen kurzen Hinweis " +
	"auf Deutsch (höchstens zwei Sätze), wie der Lernende das Gesprächsziel erreichen kann, " +
	"ohne die Lösung wörtlich zu verraten."

// hintTTL caches generated hints. Objectives are authored offline, so a
// stale hint cannot drift from its objective within a day.
const hintTTL = 24 * time.Hour

// Hint returns guidance for the first incomplete objective of the open
// conversation. Authored hints are served verbatim; otherwise one is
// generated through the cached LLM path, falling back to the objective
// description when no generator is wired or generation fails.
func (s *ScenarioService) Hint(ctx context.Context, userID, scenarioID string) (string, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "Hint",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("scenario.id", scenarioID),
		),
	)
	defer span.End()

	conv, scenario, err := s.activeConversation(ctx, userID, scenarioID)
	if err != nil {
		return "", err
	}

	byID := make(map[string]*domain.Objective, len(scenario.Objectives))
	for i := range scenario.Objectives {
		byID[scenario.Objectives[i].ID] = &scenario.Objectives[i]
	}
	var obj *domain.Objective
	for _, p := range conv.Progress {
		if !p.Completed {
			if o := byID[p.ObjectiveID]; o != nil {
				obj = o
				break
			}
		}
	}
	if obj == nil {
		return "Alle Ziele sind erreicht!", nil
	}
	if h := strings.TrimSpace(obj.Hint); h != "" {
		return h, nil
	}
	if s.Hints == nil {
		return obj.Description, nil
	}

	prompt := fmt.Sprintf("Szenario: %s\nZiel: %s", scenario.Name, obj.Description)
	hint, err := s.Hints.GenerateCached(ctx, prompt, hintSystemPrompt, hintTTL)
	if err != nil || strings.TrimSpace(hint) == "" {
		log.Warn().Err(err).Str("objective_id", obj.ID).Msg("hint generation failed, using objective description")
		return obj.Description, nil
	}
	return strings.TrimSpace(hint), nil
}

// Checkpoint snapshots the current progress of the active conversation and
// returns the checkpoint id.
func (s *ScenarioService) Checkpoint(ctx context.Context, userID, scenarioID string) (string, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "Checkpoint",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("scenario.id", scenarioID),
		),
	)
	defer span.End()

	conv, _, err := s.activeConversation(ctx, userID, scenarioID)
	if err != nil {
		return "", err
	}
	unlock, ok := s.lockConversation(conv.ID)
	if !ok {
		return "", ErrConversationBusy
	}
	defer unlock()

	now := s.Clock.Now().UTC()
	var completed []string
	for _, p := range conv.Progress {
		if p.Completed {
			completed = append(completed, p.ObjectiveID)
		}
	}
	cp := domain.Checkpoint{
		ID:                  uuid.NewString(),
		StepIndex:           len(conv.Checkpoints),
		Score:               conv.Score,
		CompletedObjectives: completed,
		MessagesCount:       len(conv.Messages),
		CreatedAt:           now,
	}

	prev := conv.LastActivity
	conv.Checkpoints = append(conv.Checkpoints, cp)
	conv.LastCheckpointID = cp.ID
	conv.LastActivity = now
	if err := repo.SaveConversation(ctx, s.DB, conv, prev); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// Restore rewinds the conversation to a checkpoint: the message log is
// truncated to the recorded prefix, score and objective progress are reset
// to the recorded values, and the conversation becomes active.
func (s *ScenarioService) Restore(ctx context.Context, userID, scenarioID, checkpointID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "Restore",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("checkpoint.id", checkpointID),
		),
	)
	defer span.End()

	conv, err := repo.FindOpenConversation(ctx, s.DB, userID, scenarioID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	unlock, ok := s.lockConversation(conv.ID)
	if !ok {
		return nil, ErrConversationBusy
	}
	defer unlock()

	var cp *domain.Checkpoint
	for i := range conv.Checkpoints {
		if conv.Checkpoints[i].ID == checkpointID {
			cp = &conv.Checkpoints[i]
			break
		}
	}
	if cp == nil {
		return nil, ErrCheckpointNotFound
	}

	completed := make(map[string]bool, len(cp.CompletedObjectives))
	for _, id := range cp.CompletedObjectives {
		completed[id] = true
	}

	prev := conv.LastActivity
	if cp.MessagesCount <= len(conv.Messages) {
		conv.Messages = conv.Messages[:cp.MessagesCount]
	}
	conv.Score = cp.Score
	for i := range conv.Progress {
		p := &conv.Progress[i]
		p.Completed = completed[p.ObjectiveID]
		if !p.Completed {
			p.CompletedAt = nil
		}
	}
	conv.Status = domain.ConversationActive
	conv.PausedAt = nil
	conv.LastCheckpointID = cp.ID
	conv.LastActivity = s.Clock.Now().UTC()

	if err := repo.SaveConversation(ctx, s.DB, conv, prev); err != nil {
		return nil, err
	}
	return conv, nil
}

// Pause transitions an active conversation to paused.
func (s *ScenarioService) Pause(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error) {
	return s.transition(ctx, userID, scenarioID, domain.ConversationActive, domain.ConversationPaused)
}

// Resume transitions a paused conversation back to active.
func (s *ScenarioService) Resume(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error) {
	return s.transition(ctx, userID, scenarioID, domain.ConversationPaused, domain.ConversationActive)
}

// transition moves the open conversation between active and paused.
func (s *ScenarioService) transition(ctx context.Context, userID, scenarioID, from, to string) (*domain.Conversation, error) {
	conv, err := repo.FindOpenConversation(ctx, s.DB, userID, scenarioID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	unlock, ok := s.lockConversation(conv.ID)
	if !ok {
		return nil, ErrConversationBusy
	}
	defer unlock()

	if conv.Status != from {
		return nil, ErrConversationTerminal
	}
	now := s.Clock.Now().UTC()
	prev := conv.LastActivity
	conv.Status = to
	if to == domain.ConversationPaused {
		t := now
		conv.PausedAt = &t
	} else {
		conv.PausedAt = nil
	}
	conv.LastActivity = now
	if err := repo.SaveConversation(ctx, s.DB, conv, prev); err != nil {
		return nil, err
	}
	return conv, nil
}

// Complete finishes the open conversation manually. The final score is
// max_score scaled by the share of required objectives completed.
func (s *ScenarioService) Complete(ctx context.Context, userID, scenarioID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ScenarioService")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("scenario.id", scenarioID),
		),
	)
	defer span.End()

	conv, err := repo.FindOpenConversation(ctx, s.DB, userID, scenarioID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	unlock, ok := s.lockConversation(conv.ID)
	if !ok {
		return nil, ErrConversationBusy
	}
	defer unlock()

	scenario, err := repo.GetScenario(ctx, s.DB, conv.ScenarioID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrScenarioNotFound
		}
		return nil, err
	}

	requiredTotal, requiredDone := 0, 0
	done := make(map[string]bool, len(conv.Progress))
	for _, p := range conv.Progress {
		done[p.ObjectiveID] = p.Completed
	}
	for _, o := range scenario.Objectives {
		if !o.Required {
			continue
		}
		requiredTotal++
		if done[o.ID] {
			requiredDone++
		}
	}

	now := s.Clock.Now().UTC()
	prev := conv.LastActivity
	if requiredTotal > 0 {
		conv.Score = conv.MaxScore * requiredDone / requiredTotal
	}
	conv.Status = domain.ConversationCompleted
	t := now
	conv.CompletedAt = &t
	conv.PausedAt = nil
	conv.LastActivity = now

	if err := repo.SaveConversation(ctx, s.DB, conv, prev); err != nil {
		return nil, err
	}
	s.forgetLock(conv.ID)
	return conv, nil
}

// AbandonStale transitions paused conversations idle since before cutoff to
// abandoned. Intended for a periodic sweep; returns how many were closed.
func (s *ScenarioService) AbandonStale(ctx context.Context, cutoff time.Time) (int, error) {
	convs, err := repo.ListAbandonableConversations(ctx, s.DB, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range convs {
		conv := &convs[i]
		prev := conv.LastActivity
		conv.Status = domain.ConversationAbandoned
		conv.LastActivity = s.Clock.Now().UTC()
		if err := repo.SaveConversation(ctx, s.DB, conv, prev); err != nil {
			if errors.Is(err, repo.ErrStaleConversation) {
				continue
			}
			return n, err
		}
		s.forgetLock(conv.ID)
		n++
	}
	return n, nil
}

// ListScenarios returns the scenario catalog, optionally filtered.
func (s *ScenarioService) ListScenarios(ctx context.Context, difficulty, category string) ([]domain.Scenario, error) {
	return repo.ListScenarios(ctx, s.DB, difficulty, category)
}

// SearchScenarios ranks the catalog against a free-text query. The index is
// rebuilt per call; the catalog is small and authored offline.
func (s *ScenarioService) SearchScenarios(ctx context.Context, query string, limit int) ([]domain.Scenario, error) {
	all, err := repo.ListScenarios(ctx, s.DB, "", "")
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(all))
	byID := make(map[string]domain.Scenario, len(all))
	for _, sc := range all {
		docs = append(docs, search.Document{ID: sc.ID, Text: catalogText(sc)})
		byID[sc.ID] = sc
	}
	if limit <= 0 {
		limit = 10
	}
	idx := search.New(docs, search.WithStopwords(search.DefaultGermanStopwords()))
	hits := idx.TopK(query, limit)
	out := make([]domain.Scenario, 0, len(hits))
	for _, h := range hits {
		if sc, found := byID[h.ID]; found {
			out = append(out, sc)
		}
	}
	return out, nil
}

// catalogText composes the searchable text of a scenario: name, category,
// objective descriptions and keywords, and character roles.
func catalogText(sc domain.Scenario) string {
	var b strings.Builder
	b.WriteString(sc.Name)
	b.WriteByte(' ')
	b.WriteString(sc.Category)
	for _, o := range sc.Objectives {
		b.WriteByte(' ')
		b.WriteString(o.Description)
		for _, k := range o.Keywords {
			b.WriteByte(' ')
			b.WriteString(k)
		}
	}
	for _, ch := range sc.Characters {
		b.WriteByte(' ')
		b.WriteString(ch.Role)
	}
	return b.String()
}

// ListConversations returns the user's conversation history.
func (s *ScenarioService) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return repo.ListConversations(ctx, s.DB, userID)
}
