package domain

import (
	"testing"
	"time"
)

func TestScenario_CharacterByID(t *testing.T) {
	s := &Scenario{
		Characters: []Character{
			{ID: "anna", Role: "waitress", VoiceID: "de_DE-thorsten-high"},
			{ID: "max", Role: "cook", VoiceID: "de_DE-thorsten-low"},
		},
	}

	// Empty id falls back to the first character.
	ch, ok := s.CharacterByID("")
	if !ok || ch.ID != "anna" {
		t.Fatalf("empty id = (%+v, %v); want anna", ch, ok)
	}

	ch, ok = s.CharacterByID("max")
	if !ok || ch.Role != "cook" {
		t.Fatalf("lookup max = (%+v, %v)", ch, ok)
	}

	if _, ok := s.CharacterByID("nobody"); ok {
		t.Fatalf("expected no match for unknown id")
	}

	empty := &Scenario{}
	if _, ok := empty.CharacterByID(""); ok {
		t.Fatalf("scenario without characters must report not found")
	}
}

func TestScenario_MaxScore(t *testing.T) {
	s := &Scenario{
		Objectives: []Objective{
			{ID: "greet", XP: 10},
			{ID: "order", XP: 25},
			{ID: "pay", XP: 15},
		},
	}
	if got := s.MaxScore(); got != 50 {
		t.Fatalf("MaxScore = %d; want 50", got)
	}
	if got := (&Scenario{}).MaxScore(); got != 0 {
		t.Fatalf("empty MaxScore = %d; want 0", got)
	}

	// An authored reward wins over the objective sum, in both directions.
	authored := &Scenario{
		XPReward:   100,
		Objectives: []Objective{{ID: "greet", XP: 40}},
	}
	if got := authored.MaxScore(); got != 100 {
		t.Fatalf("authored MaxScore = %d; want 100", got)
	}
	authored.XPReward = 30
	if got := authored.MaxScore(); got != 30 {
		t.Fatalf("authored MaxScore = %d; want 30", got)
	}
}

func TestConversation_Terminal(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{ConversationActive, false},
		{ConversationPaused, false},
		{ConversationCompleted, true},
		{ConversationAbandoned, true},
	}
	for _, tc := range cases {
		c := &Conversation{Status: tc.status}
		if got := c.Terminal(); got != tc.want {
			t.Errorf("Terminal(%s) = %v; want %v", tc.status, got, tc.want)
		}
	}
}

func TestConversation_CompletionPercent(t *testing.T) {
	c := &Conversation{}
	if got := c.CompletionPercent(); got != 0 {
		t.Fatalf("no progress = %v; want 0", got)
	}

	c.Progress = []ObjectiveProgress{
		{ObjectiveID: "greet", Completed: true},
		{ObjectiveID: "order", Completed: false},
		{ObjectiveID: "pay", Completed: true},
		{ObjectiveID: "farewell", Completed: false},
	}
	if got := c.CompletionPercent(); got != 50 {
		t.Fatalf("2 of 4 = %v; want 50", got)
	}
}

func TestUsageDay_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 2026-03-01 02:30 at UTC+5 is still 2026-02-28 in UTC.
	local := time.Date(2026, 3, 1, 2, 30, 0, 0, loc)
	if got := UsageDay(local); got != "2026-02-28" {
		t.Fatalf("UsageDay = %q; want 2026-02-28", got)
	}

	utc := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	if got := UsageDay(utc); got != "2026-03-01" {
		t.Fatalf("UsageDay = %q; want 2026-03-01", got)
	}
}

func TestTableNames(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{Scenario{}.TableName(), "scenarios"},
		{Conversation{}.TableName(), "conversations"},
		{ReviewCard{}.TableName(), "review_cards"},
		{UsageRecord{}.TableName(), "usage_records"},
		{UserProfile{}.TableName(), "user_profiles"},
		{QuizSession{}.TableName(), "quiz_sessions"},
		{SeedWord{}.TableName(), "seed_words"},
		{GrammarRule{}.TableName(), "grammar_rules"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("table name %q; want %q", tc.got, tc.want)
		}
	}
}
