package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func grammarServer(t *testing.T, reply string) *Client {
	t.Helper()
	return newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": reply},
			"done":    true,
		})
	})
}

func TestCheckGrammar_IncorrectSentence(t *testing.T) {
	c := grammarServer(t, `{"is_correct":false,"corrected":"Ich gehe nach Hause.","explanation":"Falsche Verbform.","tips":["Präsens üben"],"confidence":0.9}`)

	v, err := c.CheckGrammar(context.Background(), "Ich gehen nach Hause.", "A2")
	if err != nil {
		t.Fatalf("CheckGrammar: %v", err)
	}
	if v.IsCorrect {
		t.Fatalf("expected incorrect verdict")
	}
	if v.Corrected == "Ich gehen nach Hause." {
		t.Fatalf("corrected must differ from input when is_correct=false")
	}
	if v.Confidence != 0.9 || len(v.Tips) != 1 {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestCheckGrammar_CorrectSentenceEchoesInput(t *testing.T) {
	c := grammarServer(t, `{"is_correct":true,"corrected":"irrelevant","explanation":"","confidence":1.0}`)

	v, err := c.CheckGrammar(context.Background(), "Ich gehe nach Hause.", "B1")
	if err != nil {
		t.Fatalf("CheckGrammar: %v", err)
	}
	if !v.IsCorrect || v.Corrected != "Ich gehe nach Hause." {
		t.Fatalf("corrected must echo input when correct: %+v", v)
	}
}

func TestCheckGrammar_FlaggedWithoutCorrectionTreatedAsCorrect(t *testing.T) {
	c := grammarServer(t, `{"is_correct":false,"corrected":"","explanation":"?","confidence":0.2}`)

	v, err := c.CheckGrammar(context.Background(), "Hallo Welt.", "A1")
	if err != nil {
		t.Fatalf("CheckGrammar: %v", err)
	}
	if !v.IsCorrect || v.Corrected != "Hallo Welt." {
		t.Fatalf("unusable correction must normalize to correct: %+v", v)
	}
}

func TestCheckGrammar_JSONWrappedInProse(t *testing.T) {
	c := grammarServer(t, "Hier ist das Ergebnis:\n```json\n"+
		`{"is_correct":true,"corrected":"Na gut.","confidence":0.8}`+"\n```")

	v, err := c.CheckGrammar(context.Background(), "Na gut.", "C1")
	if err != nil {
		t.Fatalf("CheckGrammar: %v", err)
	}
	if !v.IsCorrect {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestCheckGrammar_InvalidLevel(t *testing.T) {
	c := grammarServer(t, `{}`)
	_, err := c.CheckGrammar(context.Background(), "Hallo.", "D7")
	if !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestCheckGrammar_ConfidenceClamped(t *testing.T) {
	c := grammarServer(t, `{"is_correct":true,"corrected":"x","confidence":7.5}`)
	v, err := c.CheckGrammar(context.Background(), "Hallo.", "A1")
	if err != nil {
		t.Fatalf("CheckGrammar: %v", err)
	}
	if v.Confidence != 1 {
		t.Fatalf("confidence = %v; want clamp to 1", v.Confidence)
	}
}
