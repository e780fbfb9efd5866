// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, external speech/LLM
// services, quota limits, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-deutsch-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// STTConfig defines settings for the external speech-to-text service
// (Whisper-compatible HTTP API exposing /asr).
type STTConfig struct {
	BaseURL  string        // STT_BASE_URL (e.g. "http://whisper:9000")
	Language string        // STT_LANGUAGE (BCP-47ish short code, default "de")
	Timeout  time.Duration // STT_TIMEOUT
}

// LLMConfig defines settings for the external chat-completion service
// (Ollama-compatible HTTP API exposing /api/chat and /api/generate).
type LLMConfig struct {
	BaseURL      string        // LLM_BASE_URL (e.g. "http://ollama:11434")
	Model        string        // LLM_MODEL (conversation model)
	GrammarModel string        // LLM_GRAMMAR_MODEL (falls back to Model)
	Timeout      time.Duration // LLM_TIMEOUT (non-streaming call budget)
	StreamGap    time.Duration // LLM_STREAM_GAP (max inter-token gap)
	KeepAlive    time.Duration // LLM_KEEP_ALIVE (keep model hot)
	CacheTTL     time.Duration // LLM_CACHE_TTL (GenerateCached entries)
}

// TTSConfig defines settings for the external text-to-speech service
// (Wyoming-style framed binary protocol over TCP).
type TTSConfig struct {
	Addr       string        // TTS_ADDR (host:port)
	Voice      string        // TTS_VOICE (default voice id)
	SampleRate int           // TTS_SAMPLE_RATE (Hz, for raw-PCM WAV framing)
	Timeout    time.Duration // TTS_TIMEOUT
}

// RedisConfig defines settings for the shared response cache and
// analytics counters.
type RedisConfig struct {
	Addr     string // REDIS_ADDR (host:port)
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// QuotaConfig defines free-tier daily limits. Paid tiers are unlimited and
// are resolved by the quota service from the subscription lookup.
type QuotaConfig struct {
	FreeAIMinutesPerDay  int // QUOTA_FREE_AI_MINUTES
	FreeScenariosPerDay  int // QUOTA_FREE_SCENARIOS
	FreeMaxReviewCards   int // QUOTA_FREE_MAX_CARDS
	VoiceTurnBudget      time.Duration
	VoiceReplyMaxRunes   int // hard cap for voice-chat character replies
	HistoryExchangePairs int // last K user/character pairs included in prompts
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	// External services
	STT   STTConfig
	LLM   LLMConfig
	TTS   TTSConfig
	Redis RedisConfig

	// Quotas & conversation tuning
	Quota QuotaConfig

	// NonGermanWords is the heuristic word list used by the language guard.
	// Kept configurable because the list will false-positive on loanwords.
	NonGermanWords []string

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// defaultNonGermanWords is the built-in heuristic list for the language
// guard, overridable via NON_GERMAN_WORDS (comma-separated).
var defaultNonGermanWords = []string{
	"the", "and", "you", "hello", "please", "thanks", "thank",
	"what", "where", "how", "yes", "merci", "bonjour", "gracias",
	"hola", "ciao", "grazie",
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// External services
		STT: STTConfig{
			BaseURL:  getenv("STT_BASE_URL", "http://localhost:9000"),
			Language: getenv("STT_LANGUAGE", "de"),
			Timeout:  getdur("STT_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:      getenv("LLM_BASE_URL", "http://localhost:11434"),
			Model:        getenv("LLM_MODEL", "llama3.2:3b"),
			GrammarModel: getenv("LLM_GRAMMAR_MODEL", ""),
			Timeout:      getdur("LLM_TIMEOUT", 120*time.Second),
			StreamGap:    getdur("LLM_STREAM_GAP", 30*time.Second),
			KeepAlive:    getdur("LLM_KEEP_ALIVE", 30*time.Minute),
			CacheTTL:     getdur("LLM_CACHE_TTL", time.Hour),
		},
		TTS: TTSConfig{
			Addr:       getenv("TTS_ADDR", "localhost:10200"),
			Voice:      getenv("TTS_VOICE", "de_DE-thorsten-medium"),
			SampleRate: getint("TTS_SAMPLE_RATE", 22050),
			Timeout:    getdur("TTS_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Quotas & conversation tuning
		Quota: QuotaConfig{
			FreeAIMinutesPerDay:  getint("QUOTA_FREE_AI_MINUTES", 30),
			FreeScenariosPerDay:  getint("QUOTA_FREE_SCENARIOS", 2),
			FreeMaxReviewCards:   getint("QUOTA_FREE_MAX_CARDS", 50),
			VoiceTurnBudget:      getdur("VOICE_TURN_BUDGET", 10*time.Second),
			VoiceReplyMaxRunes:   getint("VOICE_REPLY_MAX_RUNES", 50),
			HistoryExchangePairs: getint("HISTORY_EXCHANGE_PAIRS", 3),
		},

		NonGermanWords: splitCSVDefault(getenv("NON_GERMAN_WORDS", ""), defaultNonGermanWords),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-deutsch-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.LLM.GrammarModel == "" {
		cfg.LLM.GrammarModel = cfg.LLM.Model
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.STT.BaseURL) == "" {
		return cfg, errors.New("STT_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.LLM.BaseURL) == "" || strings.TrimSpace(cfg.LLM.Model) == "" {
		return cfg, errors.New("LLM_BASE_URL and LLM_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.TTS.Addr) == "" {
		return cfg, errors.New("TTS_ADDR must not be empty")
	}
	if cfg.TTS.SampleRate <= 0 {
		return cfg, errors.New("TTS_SAMPLE_RATE must be > 0")
	}
	if cfg.STT.Timeout <= 0 || cfg.LLM.Timeout <= 0 || cfg.TTS.Timeout <= 0 {
		return cfg, errors.New("external service timeouts must be positive durations")
	}
	if cfg.Quota.FreeAIMinutesPerDay < 0 || cfg.Quota.FreeScenariosPerDay < 0 || cfg.Quota.FreeMaxReviewCards < 0 {
		return cfg, errors.New("free-tier quota limits must be >= 0")
	}
	if cfg.Quota.VoiceReplyMaxRunes < 15 {
		return cfg, errors.New("VOICE_REPLY_MAX_RUNES must be >= 15")
	}
	if cfg.Quota.HistoryExchangePairs < 1 {
		return cfg, errors.New("HISTORY_EXCHANGE_PAIRS must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitCSVDefault parses a CSV list, falling back to def when empty.
func splitCSVDefault(s string, def []string) []string {
	if out := splitCSV(s); len(out) > 0 {
		return out
	}
	return def
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
