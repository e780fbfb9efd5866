// Deterministic response caching for one-shot generations.
//
// Cache keys are derived from a SHA-256 hash over
// (system ":" prompt ":" model), so identical inputs within the TTL always
// return byte-identical output.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/averbeck/go-deutsch-backend/internal/cache"
)

// CachedGenerator couples a Client with the shared cache store.
type CachedGenerator struct {
	Client *Client
	Store  cache.Store
	TTL    time.Duration // default TTL when the caller passes ttl <= 0
}

// cacheKey derives the deterministic cache address for (system, prompt).
func (g *CachedGenerator) cacheKey(system, prompt string) string {
	sum := sha256.Sum256([]byte(system + ":" + prompt + ":" + g.Client.Model()))
	return "llm:gen:" + hex.EncodeToString(sum[:])
}

// GenerateCached returns the completion for prompt (with an optional system
// prompt), serving byte-identical prior output on a cache hit. Misses call
// the model and populate the cache with the given TTL.
//
// Cache failures are deliberately non-fatal: a broken cache degrades to
// uncached generation rather than failing the request.
func (g *CachedGenerator) GenerateCached(ctx context.Context, prompt, system string, ttl time.Duration) (string, error) {
	key := g.cacheKey(system, prompt)
	if g.Store != nil {
		if v, ok, err := g.Store.Get(ctx, key); err == nil && ok {
			return v, nil
		}
	}

	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})

	out, err := g.Client.Chat(ctx, msgs, Options{})
	if err != nil {
		return "", err
	}

	if g.Store != nil {
		if ttl <= 0 {
			ttl = g.TTL
		}
		_ = g.Store.Set(ctx, key, out, ttl)
	}
	return out, nil
}
