// Package domain defines the persistence models for scenarios, conversations,
// review cards, usage records, and supporting content. These types are mapped
// with GORM and form the core data layer of the application.
//
// Loosely-shaped documents (message logs, objective progress, card content,
// checkpoints) are stored as JSON columns via gorm.io/datatypes so the schema
// stays stable while the embedded shapes evolve.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Conversation statuses. Transitions form a DAG:
// active ↔ paused, active → completed, paused → abandoned.
// Completed and abandoned are terminal.
const (
	ConversationActive    = "active"
	ConversationPaused    = "paused"
	ConversationCompleted = "completed"
	ConversationAbandoned = "abandoned"
)

// Scenario difficulty levels.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Message roles within a conversation log. System messages are never exposed
// in the client-visible log.
const (
	RoleUser      = "user"
	RoleCharacter = "character"
	RoleSystem    = "system"
)

// ReviewCard types (the persisted discriminator for heterogeneous cards).
const (
	CardVocabulary  = "vocabulary"
	CardGrammar     = "grammar"
	CardQuizMistake = "quiz_mistake"
	CardScenario    = "scenario"
)

// Subscription tiers, strictly ordered free < premium < plus < enterprise.
const (
	TierFree       = "free"
	TierPremium    = "premium"
	TierPlus       = "plus"
	TierEnterprise = "enterprise"
)

// Objective is a unit of progress within a scenario. It is completed by a
// whole-word keyword match against the user's message (or, optionally, an
// LLM judge). Completion is monotonic within a conversation.
type Objective struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Required    bool     `json:"required"`
	XP          int      `json:"xp"`
	Difficulty  int      `json:"difficulty"` // 1..5
	Hint        string   `json:"hint,omitempty"`
}

// Character is an AI persona embedded in a scenario. The voice id must be
// resolvable by the TTS service.
type Character struct {
	ID             string   `json:"id"`
	Role           string   `json:"role"`
	Personality    []string `json:"personality,omitempty"`
	VoiceID        string   `json:"voice_id"`
	Greeting       string   `json:"greeting"`
	PromptFragment string   `json:"prompt_fragment"`
}

// Scenario is an authored conversation exercise. Scenarios are immutable
// while a conversation against them is in flight.
type Scenario struct {
	ID           string                         `json:"id"            gorm:"type:TEXT;primaryKey"`
	Name         string                         `json:"name"          gorm:"type:TEXT;not null"`
	Difficulty   string                         `json:"difficulty"    gorm:"type:TEXT;not null;index"`
	Category     string                         `json:"category"      gorm:"type:TEXT;index"`
	SystemPrompt string                         `json:"system_prompt" gorm:"type:TEXT"`
	XPReward     int                            `json:"xp_reward"`
	TimeLimitSec int                            `json:"time_limit_sec,omitempty"`
	Objectives   datatypes.JSONSlice[Objective] `json:"objectives"`
	Characters   datatypes.JSONSlice[Character] `json:"characters"`
	CreatedAt    time.Time                      `json:"created_at"`
	UpdatedAt    time.Time                      `json:"-"`
}

// TableName returns the database table name for Scenario.
func (Scenario) TableName() string { return "scenarios" }

// CharacterByID returns the embedded character with the given id, or the
// first character when id is empty. The boolean reports whether a character
// was found.
func (s *Scenario) CharacterByID(id string) (Character, bool) {
	chars := []Character(s.Characters)
	if id == "" && len(chars) > 0 {
		return chars[0], true
	}
	for _, ch := range chars {
		if ch.ID == id {
			return ch, true
		}
	}
	return Character{}, false
}

// MaxScore is the authored maximum score for the scenario (XPReward) or,
// when no reward is authored, the sum of all objective XP.
func (s *Scenario) MaxScore() int {
	if s.XPReward > 0 {
		return s.XPReward
	}
	total := 0
	for _, o := range s.Objectives {
		total += o.XP
	}
	return total
}

// ConversationMessage is a single utterance in a conversation log.
// Messages are appended in order and never rewritten; a checkpoint restore
// may truncate the log to a recorded prefix length.
type ConversationMessage struct {
	Role      string    `json:"role"` // user|character|system
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AudioRef  string    `json:"audio_ref,omitempty"`
}

// ObjectiveProgress tracks per-objective completion within a conversation.
// Completion is monotonic: only a checkpoint restore may reset it.
type ObjectiveProgress struct {
	ObjectiveID string     `json:"objective_id"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Checkpoint is a snapshot of conversation progress that may be restored.
// MessagesCount records the log prefix length at creation time.
type Checkpoint struct {
	ID                  string            `json:"id"`
	StepIndex           int               `json:"step_index"`
	Score               int               `json:"score"`
	CompletedObjectives []string          `json:"completed_objectives"`
	MessagesCount       int               `json:"messages_count"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

// Conversation is a per-user, per-scenario dialogue with an AI character.
// At most one conversation per (user, scenario) may be active or paused.
// The conversation exclusively owns its message log and objective progress.
type Conversation struct {
	ID               string                                   `json:"id"          gorm:"type:TEXT;primaryKey"`
	UserID           string                                   `json:"user_id"     gorm:"type:TEXT;not null;index:idx_user_scenario,priority:1"`
	ScenarioID       string                                   `json:"scenario_id" gorm:"type:TEXT;not null;index:idx_user_scenario,priority:2"`
	CharacterID      string                                   `json:"character_id" gorm:"type:TEXT;not null"`
	Status           string                                   `json:"status"      gorm:"type:TEXT;not null;index;check:status IN ('active','paused','completed','abandoned')"`
	Messages         datatypes.JSONSlice[ConversationMessage] `json:"messages"`
	Progress         datatypes.JSONSlice[ObjectiveProgress]   `json:"progress"`
	Score            int                                      `json:"score"`
	MaxScore         int                                      `json:"max_score"`
	Checkpoints      datatypes.JSONSlice[Checkpoint]          `json:"checkpoints,omitempty"`
	LastCheckpointID string                                   `json:"last_checkpoint_id,omitempty" gorm:"type:TEXT"`
	StartedAt        time.Time                                `json:"started_at"`
	LastActivity     time.Time                                `json:"last_activity" gorm:"index"`
	PausedAt         *time.Time                               `json:"paused_at,omitempty"`
	CompletedAt      *time.Time                               `json:"completed_at,omitempty"`
	DeletedAt        gorm.DeletedAt                           `json:"-" gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Terminal reports whether the conversation is in a terminal status.
func (c *Conversation) Terminal() bool {
	return c.Status == ConversationCompleted || c.Status == ConversationAbandoned
}

// CompletionPercent derives the share of objectives completed, in [0,100].
func (c *Conversation) CompletionPercent() float64 {
	if len(c.Progress) == 0 {
		return 0
	}
	done := 0
	for _, p := range c.Progress {
		if p.Completed {
			done++
		}
	}
	return float64(done) / float64(len(c.Progress)) * 100
}

// ReviewCard is a spaced-repetition item scheduled with SM-2. The primary
// key is deterministic per (type, content key, user) so re-ingesting the
// same source never duplicates cards.
//
// Invariants: 1.3 <= Easiness <= 2.5; Repetitions >= 0; IntervalDays >= 0.
type ReviewCard struct {
	ID           string            `json:"id"            gorm:"type:TEXT;primaryKey"`
	UserID       string            `json:"user_id"       gorm:"type:TEXT;not null;index:idx_user_cards,priority:1"`
	Type         string            `json:"type"          gorm:"type:TEXT;not null;index:idx_user_cards,priority:2;check:type IN ('vocabulary','grammar','quiz_mistake','scenario')"`
	Content      datatypes.JSONMap `json:"content"`
	Repetitions  int               `json:"repetitions"`
	Easiness     float64           `json:"easiness_factor"`
	IntervalDays int               `json:"interval_days"`
	NextReview   time.Time         `json:"next_review"   gorm:"index"`
	LastReviewed *time.Time        `json:"last_reviewed,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// TableName returns the database table name for ReviewCard.
func (ReviewCard) TableName() string { return "review_cards" }

// UsageRecord tracks daily quota-relevant counters for one user. There is
// exactly one record per (user, UTC date); counters only ever increase
// within a day and are updated with atomic increments.
type UsageRecord struct {
	ID               string    `json:"-"                 gorm:"type:TEXT;primaryKey"`
	UserID           string    `json:"user_id"           gorm:"type:TEXT;not null;uniqueIndex:ux_usage_user_day,priority:1"`
	Day              string    `json:"day"               gorm:"type:TEXT;not null;uniqueIndex:ux_usage_user_day,priority:2"` // "2006-01-02" (UTC)
	AIMinutesUsed    float64   `json:"ai_minutes_used"`
	ScenariosStarted int       `json:"scenarios_started"`
	ReviewsAdded     int       `json:"reviews_added"`
	UpdatedAt        time.Time `json:"-"`
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string { return "usage_records" }

// UsageDay formats t as the canonical UTC day key used by UsageRecord.
func UsageDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

// UserProfile is the read-only subscription view owned by an external
// collaborator. The core only consults Tier and IsAdmin.
type UserProfile struct {
	ID        string    `json:"id"    gorm:"type:TEXT;primaryKey"`
	Tier      string    `json:"tier"  gorm:"type:TEXT;not null;default:'free'"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"-"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }

// QuizQuestion is one answered question inside a quiz session. Incorrectly
// answered questions feed the quiz_mistakes card source.
type QuizQuestion struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	UserAnswer    string `json:"user_answer"`
	Explanation   string `json:"explanation,omitempty"`
	Correct       bool   `json:"correct"`
}

// QuizSession is a completed quiz, read-only to the core. It exists so the
// review scheduler can ingest prior mistakes.
type QuizSession struct {
	ID        string                            `json:"id"      gorm:"type:TEXT;primaryKey"`
	UserID    string                            `json:"user_id" gorm:"type:TEXT;not null;index"`
	Topic     string                            `json:"topic"   gorm:"type:TEXT"`
	Questions datatypes.JSONSlice[QuizQuestion] `json:"questions"`
	CreatedAt time.Time                         `json:"created_at"`
}

// TableName returns the database table name for QuizSession.
func (QuizSession) TableName() string { return "quiz_sessions" }

// SeedWord is an authored vocabulary item (read-only to the core); it feeds
// the vocabulary card source.
type SeedWord struct {
	ID          string `json:"id"          gorm:"type:TEXT;primaryKey"`
	Word        string `json:"word"        gorm:"type:TEXT;not null"`
	Translation string `json:"translation" gorm:"type:TEXT"`
	Example     string `json:"example"     gorm:"type:TEXT"`
	Level       string `json:"level"       gorm:"type:TEXT;index"` // CEFR A1..C2
}

// TableName returns the database table name for SeedWord.
func (SeedWord) TableName() string { return "seed_words" }

// GrammarRule is an authored grammar topic (read-only to the core); it feeds
// the grammar card source.
type GrammarRule struct {
	ID          string `json:"id"          gorm:"type:TEXT;primaryKey"`
	Topic       string `json:"topic"       gorm:"type:TEXT;not null"`
	Explanation string `json:"explanation" gorm:"type:TEXT"`
	Example     string `json:"example"     gorm:"type:TEXT"`
	Level       string `json:"level"       gorm:"type:TEXT;index"`
}

// TableName returns the database table name for GrammarRule.
func (GrammarRule) TableName() string { return "grammar_rules" }
