// Package lang provides the German-language guardrails for the conversation
// engine: unicode-aware tokenization, whole-word keyword matching for the
// objective scorer, a heuristic non-German input detector, and the hard
// length cap applied to voice-chat character replies.
//
// The package is dependency-light and deterministic: identical inputs always
// produce identical outputs, which the engine relies on for idempotent
// objective scoring.
package lang

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// GermanOnlyReminder is the canonical reply sent when non-German input is
// detected. The LLM is never called in that case.
const GermanOnlyReminder = "Bitte nur auf Deutsch sprechen!"

// wordRE extracts letter sequences with optional trailing digits, matching
// words across the full unicode range (umlauts and ß included).
var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// folder performs unicode case folding, so "GROSS" and "groß" compare equal.
var folder = cases.Fold()

// Fold lowercases s with full unicode case folding.
func Fold(s string) string { return folder.String(s) }

// Tokenize splits s into a set of case-folded whole words.
func Tokenize(s string) map[string]struct{} {
	words := wordRE.FindAllString(folder.String(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

// ContainsAnyWord reports whether text contains at least one of the keywords
// as a whole-word, case-folded match. Multi-word keywords match when the
// folded text contains the folded phrase on word boundaries.
func ContainsAnyWord(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	tokens := Tokenize(text)
	folded := " " + strings.Join(wordRE.FindAllString(folder.String(text), -1), " ") + " "
	for _, kw := range keywords {
		k := strings.TrimSpace(folder.String(kw))
		if k == "" {
			continue
		}
		if strings.ContainsRune(k, ' ') {
			phrase := " " + strings.Join(strings.Fields(k), " ") + " "
			if strings.Contains(folded, phrase) {
				return true
			}
			continue
		}
		if _, ok := tokens[k]; ok {
			return true
		}
	}
	return false
}

// nonGermanChars are characters that never occur in German orthography.
// Any occurrence short-circuits straight to the German-only reminder.
var nonGermanChars = map[rune]struct{}{
	'é': {}, 'è': {}, 'ê': {}, 'ñ': {}, 'ç': {}, 'à': {}, 'ò': {},
	'ù': {}, 'í': {}, 'ó': {}, 'ú': {}, 'ã': {}, 'õ': {},
}

// Detector flags input that is probably not German. The word list is
// heuristic (it will false-positive on loanwords), so it is injected from
// configuration rather than hard-coded.
type Detector struct {
	words map[string]struct{}
}

// NewDetector builds a Detector from a non-German word list.
func NewDetector(words []string) *Detector {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimSpace(folder.String(w))
		if w != "" {
			m[w] = struct{}{}
		}
	}
	return &Detector{words: m}
}

// IsNonGerman reports whether text contains a character from the fixed
// non-German set or any whole word from the configured list.
func (d *Detector) IsNonGerman(text string) bool {
	for _, r := range folder.String(text) {
		if _, hit := nonGermanChars[r]; hit {
			return true
		}
	}
	if len(d.words) == 0 {
		return false
	}
	for tok := range Tokenize(text) {
		if _, hit := d.words[tok]; hit {
			return true
		}
	}
	return false
}

// minTruncateAt is the earliest rune position a voice reply may be cut at.
const minTruncateAt = 15

// sentenceEnd reports whether r terminates a sentence.
func sentenceEnd(r rune) bool { return r == '.' || r == '!' || r == '?' }

// CapVoiceReply enforces the voice-chat reply contract: the returned text is
// at most maxRunes runes long and ends with '.', '!' or '?'.
//
// Replies over the cap are truncated at the last sentence boundary at or
// after position minTruncateAt; failing that, at the last space at or after
// minTruncateAt (with "." appended); failing that, hard-cut with "."
// appended.
func CapVoiceReply(text string, maxRunes int) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		if !sentenceEnd(r[len(r)-1]) {
			if len(r) == maxRunes {
				r = r[:len(r)-1]
			}
			return strings.TrimRight(string(r), " ") + "."
		}
		return s
	}

	cut := r[:maxRunes]

	// Prefer a clean sentence boundary inside the cap.
	for i := len(cut) - 1; i >= minTruncateAt; i-- {
		if sentenceEnd(cut[i]) {
			return string(cut[:i+1])
		}
	}
	// Fall back to the last word boundary.
	for i := len(cut) - 1; i >= minTruncateAt; i-- {
		if cut[i] == ' ' {
			return string(cut[:i]) + "."
		}
	}
	// No usable boundary: hard cut.
	return string(cut[:maxRunes-1]) + "."
}

// RuneLen is a convenience wrapper used by callers validating the cap.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }
