// Command server runs the language-learning backend: scenario conversations,
// the voice pipeline, spaced repetition, and usage accounting behind one HTTP
// API. Configuration comes from the environment (optionally a .env file);
// the process exits non-zero on invalid configuration or a failed bind.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/averbeck/go-deutsch-backend/internal/cache"
	"github.com/averbeck/go-deutsch-backend/internal/config"
	httpapi "github.com/averbeck/go-deutsch-backend/internal/http"
	"github.com/averbeck/go-deutsch-backend/internal/lang"
	"github.com/averbeck/go-deutsch-backend/internal/llm"
	"github.com/averbeck/go-deutsch-backend/internal/observability"
	"github.com/averbeck/go-deutsch-backend/internal/repo"
	"github.com/averbeck/go-deutsch-backend/internal/services"
	"github.com/averbeck/go-deutsch-backend/internal/speech"
	"github.com/averbeck/go-deutsch-backend/internal/sysutil"
)

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

// Paused conversations idle longer than staleAfter are swept to abandoned.
const (
	staleAfter    = 30 * time.Minute
	sweepInterval = 10 * time.Minute
)

func main() {
	// .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing first so the DB plugin and HTTP middleware pick up the provider.
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin")
		}
	}

	// External adapters. The cache degrades gracefully when Redis is down,
	// so connectivity is only probed, not required.
	store := cache.NewRedis(cfg.Redis)
	if err := store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; caching degraded")
	}
	model := llm.New(cfg.LLM)
	stt := speech.NewSTT(cfg.STT)
	tts := speech.NewTTS(cfg.TTS)
	hints := &llm.CachedGenerator{Client: model, Store: store, TTL: 24 * time.Hour}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.ExternalClients{
		Model: model,
		STT:   stt,
		TTS:   tts,
		Hints: hints,
		Cache: store,
	}, cfg)

	// Dedicated engine instance for the background sweep; it shares the DB
	// handle with the request path and touches nothing else.
	quotaSvc := services.NewQuotaService(db, cfg.Quota)
	sweeper := services.NewScenarioService(db, model, stt, tts, quotaSvc, store, lang.NewDetector(cfg.NonGermanWords), cfg.Quota)
	go sweepAbandoned(ctx, sweeper)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("stopped")
}

// sweepAbandoned periodically closes paused conversations that have been idle
// past staleAfter. Errors are logged and the next tick retries.
func sweepAbandoned(ctx context.Context, svc *services.ScenarioService) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := svc.AbandonStale(ctx, now.Add(-staleAfter))
			if err != nil {
				log.Warn().Err(err).Msg("abandon sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("closed", n).Msg("abandoned stale conversations")
			}
		}
	}
}
