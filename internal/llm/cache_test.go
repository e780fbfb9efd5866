package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/averbeck/go-deutsch-backend/internal/cache"
)

func TestGenerateCached_HitReturnsIdenticalOutput(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": fmt.Sprintf("Antwort %d", calls)},
			"done":    true,
		})
	})
	mr := miniredis.RunT(t)
	store := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	gen := &CachedGenerator{Client: c, Store: store, TTL: time.Hour}

	ctx := context.Background()
	first, err := gen.GenerateCached(ctx, "Wie heißt du?", "Du bist Anna.", time.Hour)
	if err != nil {
		t.Fatalf("GenerateCached: %v", err)
	}
	second, err := gen.GenerateCached(ctx, "Wie heißt du?", "Du bist Anna.", time.Hour)
	if err != nil {
		t.Fatalf("GenerateCached (hit): %v", err)
	}
	if first != second {
		t.Fatalf("cache hit must be byte-identical: %q vs %q", first, second)
	}
	if calls != 1 {
		t.Fatalf("model called %d times; want 1", calls)
	}
}

func TestGenerateCached_DistinctPromptsMiss(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "ok"},
			"done":    true,
		})
	})
	mr := miniredis.RunT(t)
	store := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	gen := &CachedGenerator{Client: c, Store: store, TTL: time.Hour}

	ctx := context.Background()
	if _, err := gen.GenerateCached(ctx, "eins", "", 0); err != nil {
		t.Fatalf("GenerateCached: %v", err)
	}
	if _, err := gen.GenerateCached(ctx, "zwei", "", 0); err != nil {
		t.Fatalf("GenerateCached: %v", err)
	}
	if calls != 2 {
		t.Fatalf("model called %d times; want 2", calls)
	}
}

func TestGenerateCached_TTLExpiryRepopulates(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "ok"},
			"done":    true,
		})
	})
	mr := miniredis.RunT(t)
	store := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	gen := &CachedGenerator{Client: c, Store: store}

	ctx := context.Background()
	if _, err := gen.GenerateCached(ctx, "p", "s", time.Second); err != nil {
		t.Fatalf("GenerateCached: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := gen.GenerateCached(ctx, "p", "s", time.Second); err != nil {
		t.Fatalf("GenerateCached after expiry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("model called %d times; want 2 after TTL expiry", calls)
	}
}

func TestGenerateCached_NilStoreStillGenerates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "ohne cache"},
			"done":    true,
		})
	})
	gen := &CachedGenerator{Client: c}
	out, err := gen.GenerateCached(context.Background(), "p", "", 0)
	if err != nil || out != "ohne cache" {
		t.Fatalf("GenerateCached = (%q, %v)", out, err)
	}
}
