// Structured grammar checking on top of the chat-completion service.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLevel is returned when the requested CEFR level is unknown.
var ErrInvalidLevel = errors.New("invalid CEFR level")

// cefrLevels enumerates the accepted proficiency levels.
var cefrLevels = map[string]struct{}{
	"A1": {}, "A2": {}, "B1": {}, "B2": {}, "C1": {}, "C2": {},
}

// GrammarVerdict is the structured result of a grammar check. Corrected
// differs from the input exactly when IsCorrect is false.
type GrammarVerdict struct {
	IsCorrect   bool     `json:"is_correct"`
	Corrected   string   `json:"corrected"`
	Explanation string   `json:"explanation"`
	Tips        []string `json:"tips,omitempty"`
	Confidence  float64  `json:"confidence"`
}

const grammarSystemPrompt = `Du bist ein präziser Deutschlehrer. Prüfe den Satz des Lernenden auf ` +
	`Grammatikfehler und antworte ausschließlich mit einem JSON-Objekt mit den Feldern ` +
	`"is_correct" (bool), "corrected" (string), "explanation" (string), ` +
	`"tips" (string array) und "confidence" (0.0-1.0). Keine weitere Ausgabe.`

// CheckGrammar asks the model for a structured verdict on sentence at the
// given CEFR level. The verdict is normalized so that Corrected echoes the
// input when the sentence is correct and always differs when it is not.
func (c *Client) CheckGrammar(ctx context.Context, sentence, level string) (*GrammarVerdict, error) {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return nil, fmt.Errorf("empty sentence")
	}
	level = strings.ToUpper(strings.TrimSpace(level))
	if _, ok := cefrLevels[level]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}

	prompt := fmt.Sprintf("Niveau: %s\nSatz: %s", level, sentence)
	raw, err := c.Chat(ctx, []Message{
		{Role: RoleSystem, Content: grammarSystemPrompt},
		{Role: RoleUser, Content: prompt},
	}, Options{Temperature: 0.1})
	if err != nil {
		return nil, err
	}

	verdict, err := parseGrammarVerdict(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Normalize the corrected/is_correct contract regardless of what the
	// model produced.
	if verdict.IsCorrect {
		verdict.Corrected = sentence
	} else if strings.TrimSpace(verdict.Corrected) == "" || verdict.Corrected == sentence {
		// The model flagged an error but produced no usable correction;
		// treat the sentence as correct rather than inventing one.
		verdict.IsCorrect = true
		verdict.Corrected = sentence
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return verdict, nil
}

// parseGrammarVerdict extracts the JSON object from a model reply that may
// carry surrounding prose or code fences.
func parseGrammarVerdict(raw string) (*GrammarVerdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in grammar reply")
	}
	var v GrammarVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
