// Package search provides a simple, deterministic, concurrency-safe in-memory
// search index over short documents (scenario catalog entries). It is
// intentionally small and dependency-free, but engineered with
// production-grade ergonomics:
//
//   - No logging in the library (callers decide how/what to log)
//   - Clear, documented types and functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - German-aware normalization (umlaut and ß folding) so ASCII queries
//     match native spellings ("strasse" finds "Straße")
//   - Immutable, read-only index after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|.
package search

import (
	"regexp"
	"sort"
	"strings"
)

// Document is one indexable catalog entry: a stable id plus the searchable
// text composed by the caller (name, category, objectives, roles).
type Document struct {
	ID   string
	Text string
}

// Result is a ranked document id with its similarity score.
type Result struct {
	ID    string
	Score float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	minScore  float64
	maxDocs   int
}

func defaultConfig() config {
	return config{
		stopwords: nil,
		minScore:  0,
		maxDocs:   0,
	}
}

// WithStopwords excludes the given words from both documents and queries.
// Words are compared after lowercasing and German folding.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = foldGerman(strings.ToLower(strings.TrimSpace(w)))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMinScore drops results scoring at or below the threshold.
func WithMinScore(s float64) Option {
	return func(c *config) {
		if s > 0 {
			c.minScore = s
		}
	}
}

// WithMaxDocs caps how many documents are indexed (in input order).
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// DefaultGermanStopwords are high-frequency German function words that carry
// no search signal in catalog queries.
func DefaultGermanStopwords() []string {
	return []string{
		"der", "die", "das", "den", "dem", "des",
		"ein", "eine", "einen", "einem", "einer", "eines",
		"und", "oder", "aber", "mit", "ohne", "für", "von", "zu", "zum", "zur",
		"im", "in", "am", "an", "auf", "bei", "ist", "sind", "ich", "du", "sie",
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id     string
	tokens map[string]struct{}
	tLen   int
}

type index struct {
	cfg  config
	docs []doc
}

// New builds an Index from the given documents. Documents with empty ids or
// no usable tokens are skipped.
func New(documents []Document, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	docs := make([]doc, 0, len(documents))
	for _, d := range documents {
		if d.ID == "" {
			continue
		}
		t := strings.TrimSpace(normalizeWhitespace(d.Text))
		if t == "" {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{id: d.ID, tokens: toks, tLen: len(toks)})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching document ids by Jaccard similarity.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		id    string
		score float64
		tLen  int
	}

	buf := make([]scored, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score <= i.cfg.minScore {
			continue
		}
		buf = append(buf, scored{id: d.id, score: score, tLen: d.tLen})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].tLen != buf[b].tLen {
			return buf[a].tLen < buf[b].tLen
		}
		return buf[a].id < buf[b].id
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{ID: buf[i].id, Score: buf[i].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = foldGerman(strings.ToLower(s))
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
