// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/averbeck/go-deutsch-backend/internal/cache"
	"github.com/averbeck/go-deutsch-backend/internal/config"
	"github.com/averbeck/go-deutsch-backend/internal/http/handlers"
	"github.com/averbeck/go-deutsch-backend/internal/http/middleware"
	"github.com/averbeck/go-deutsch-backend/internal/lang"
	"github.com/averbeck/go-deutsch-backend/internal/repo"
	"github.com/averbeck/go-deutsch-backend/internal/services"
)

// ExternalClients carries the adapters for the external speech and language
// services plus the shared cache. They are constructed in main so tests can
// substitute fakes.
type ExternalClients struct {
	// Model generates character replies and grammar verdicts (Ollama-style).
	Model services.ChatModel
	// STT transcribes user audio (Whisper-style /asr).
	STT services.Transcriber
	// TTS synthesizes character audio (Wyoming-style framed TCP).
	TTS services.Synthesizer
	// Hints generates objective hints through the cached LLM path; nil
	// disables generated hints.
	Hints services.HintGenerator
	// Cache backs the LLM response cache and analytics counters.
	Cache cache.Store
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (voice payloads fit under the cap)
//  6. Gzip compression
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ext ExternalClients, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (bodies carry learner audio and
	// conversation text and are never logged)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (4 MiB; voice turns carry base64 audio)
	r.Use(limitBody(4 << 20))

	// 6) Compress JSON responses; SSE streams must stay uncompressed so
	// per-event flushes reach the client
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`.*/messages/stream$`}),
	))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting). The lookup resolves
	// the caller's open conversation for the scenario in the path.
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scenarioID, key string, now time.Time) (bool, error) {
			conv, err := repo.FindOpenConversation(ctx, db, userID, scenarioID)
			if err != nil {
				return false, nil
			}
			rec, err := repo.GetIdempotency(ctx, db, userID, conv.ID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness and readiness
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", readiness(db, ext.Cache))

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/external clients
	quotaSvc := services.NewQuotaService(db, cfg.Quota)
	detector := lang.NewDetector(cfg.NonGermanWords)
	scenSvc := services.NewScenarioService(db, ext.Model, ext.STT, ext.TTS, quotaSvc, ext.Cache, detector, cfg.Quota)
	scenSvc.Hints = ext.Hints
	reviewSvc := services.NewReviewService(db, quotaSvc)
	h := handlers.New(scenSvc, reviewSvc, quotaSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Scenarios & conversations
		api.GET("/scenarios", h.ListScenarios)
		api.POST("/scenarios/:id/conversation", h.StartConversation)
		api.GET("/scenarios/:id/conversation", h.GetConversation)
		api.POST("/scenarios/:id/conversation/messages", h.PostMessage)
		api.POST("/scenarios/:id/conversation/messages/stream", h.StreamMessage)
		api.POST("/scenarios/:id/conversation/voice", h.PostVoice)
		api.GET("/scenarios/:id/conversation/hint", h.GetHint)
		api.POST("/scenarios/:id/conversation/checkpoints", h.CreateCheckpoint)
		api.POST("/scenarios/:id/conversation/restore", h.RestoreCheckpoint)
		api.POST("/scenarios/:id/conversation/pause", h.PauseConversation)
		api.POST("/scenarios/:id/conversation/resume", h.ResumeConversation)
		api.POST("/scenarios/:id/conversation/complete", h.CompleteConversation)
		api.GET("/conversations", h.ListConversations)

		// Spaced repetition
		api.GET("/review/due", h.GetDueCards)
		api.GET("/review/cards", h.ListCards)
		api.POST("/review/cards", h.AddCard)
		api.DELETE("/review/cards/:id", h.DeleteCard)
		api.POST("/review/cards/:id/review", h.SubmitReview)
		api.POST("/review/ingest", h.IngestCards)
		api.GET("/review/stats", h.GetReviewStats)
		api.GET("/review/workload", h.GetWorkload)

		// Usage & limits
		api.GET("/usage", h.GetUsage)
	}
}

// readiness verifies the backing store and cache are reachable. Cache
// failures degrade to "degraded" without failing readiness; the DB is
// load-bearing and fails it.
func readiness(db *gorm.DB, store cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "db": err.Error()})
			return
		}

		status := "ok"
		if r, okCache := store.(*cache.Redis); okCache {
			if err := r.Ping(ctx); err != nil {
				status = "degraded"
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
