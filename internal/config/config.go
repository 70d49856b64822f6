// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the relational store and vector index, chunking, retrieval and
// embedding parameters, authentication, rate limiting, and observability.
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

// StoreConfig selects the relational store.
type StoreConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite file)
	DSN    string // DB_DSN (postgres)
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend string // INDEX_BACKEND: memory|bolt
	Path    string // INDEX_PATH (bolt file)
}

// ChunkConfig tunes the transcript chunker.
type ChunkConfig struct {
	TargetChars int           // CHUNK_TARGET_CHARS
	MaxDuration time.Duration // CHUNK_MAX_DURATION
	Overlap     time.Duration // CHUNK_OVERLAP
}

// RetrievalConfig tunes retrieval and answering.
type RetrievalConfig struct {
	TopK             int           // TOP_K
	MinScore         float64       // MIN_SCORE in [0,1]
	SnippetMaxRunes  int           // SNIPPET_MAX_RUNES
	MaxQuestionRunes int           // MAX_QUESTION_RUNES
	QueryTimeout     time.Duration // QUERY_TIMEOUT
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider       string        // EMBED_PROVIDER: hashing|openai
	Model          string        // EMBED_MODEL
	Dimension      int           // EMBED_DIMENSION
	BaseURL        string        // EMBED_BASE_URL
	BatchSize      int           // EMBED_BATCH_SIZE
	Concurrency    int           // EMBED_CONCURRENCY
	MaxAttempts    int           // EMBED_MAX_ATTEMPTS
	InitialBackoff time.Duration // EMBED_INITIAL_BACKOFF
	MaxBackoff     time.Duration // EMBED_MAX_BACKOFF
	RPS            float64       // EMBED_RPS per credential
	Burst          int           // EMBED_BURST
}

// GeneratorConfig enables model-written answers.
type GeneratorConfig struct {
	Enabled bool   // GENERATOR_ENABLED
	Model   string // GENERATOR_MODEL
}

// RedisConfig points the provider limiter at Redis. An empty Addr keeps the
// limiter in process.
type RedisConfig struct {
	Addr     string // REDIS_ADDR
	Password string // REDIS_PASSWORD
}

// AuthConfig verifies bearer tokens. Without a secret the X-User-ID header
// is trusted (development only).
type AuthConfig struct {
	JWTSecret string // JWT_SECRET
	JWTIssuer string // JWT_ISSUER
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "transcript-chat")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
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

	// Engine
	Store     StoreConfig
	Index     IndexConfig
	Chunk     ChunkConfig
	Retrieval RetrievalConfig
	Embedding EmbeddingConfig
	Generator GeneratorConfig
	Redis     RedisConfig
	Auth      AuthConfig

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

		// Engine
		Store: StoreConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "data/transcripts.db"),
			DSN:    getenv("DB_DSN", ""),
		},
		Index: IndexConfig{
			Backend: strings.ToLower(getenv("INDEX_BACKEND", "bolt")),
			Path:    getenv("INDEX_PATH", "data/vectors.db"),
		},
		Chunk: ChunkConfig{
			TargetChars: getint("CHUNK_TARGET_CHARS", 800),
			MaxDuration: getdur("CHUNK_MAX_DURATION", 60*time.Second),
			Overlap:     getdur("CHUNK_OVERLAP", 10*time.Second),
		},
		Retrieval: RetrievalConfig{
			TopK:             getint("TOP_K", 5),
			MinScore:         getfloat("MIN_SCORE", 0.25),
			SnippetMaxRunes:  getint("SNIPPET_MAX_RUNES", 280),
			MaxQuestionRunes: getint("MAX_QUESTION_RUNES", 2000),
			QueryTimeout:     getdur("QUERY_TIMEOUT", 20*time.Second),
		},
		Embedding: EmbeddingConfig{
			Provider:       strings.ToLower(getenv("EMBED_PROVIDER", "hashing")),
			Model:          getenv("EMBED_MODEL", "text-embedding-3-small"),
			Dimension:      getint("EMBED_DIMENSION", 0),
			BaseURL:        getenv("EMBED_BASE_URL", ""),
			BatchSize:      getint("EMBED_BATCH_SIZE", 64),
			Concurrency:    getint("EMBED_CONCURRENCY", 4),
			MaxAttempts:    getint("EMBED_MAX_ATTEMPTS", 4),
			InitialBackoff: getdur("EMBED_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     getdur("EMBED_MAX_BACKOFF", 8*time.Second),
			RPS:            getfloat("EMBED_RPS", 3),
			Burst:          getint("EMBED_BURST", 6),
		},
		Generator: GeneratorConfig{
			Enabled: getbool("GENERATOR_ENABLED", false),
			Model:   getenv("GENERATOR_MODEL", "gpt-4o-mini"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", ""),
			JWTIssuer: getenv("JWT_ISSUER", ""),
		},

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
			ServiceName: getenv("OTEL_SERVICE_NAME", "transcript-chat"),
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
	if cfg.Store.Driver == "postgresql" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Embedding.Dimension <= 0 {
		// text-embedding-3-small and the hashing embedder's defaults
		if cfg.Embedding.Provider == "openai" {
			cfg.Embedding.Dimension = 1536
		} else {
			cfg.Embedding.Dimension = 256
		}
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
	switch cfg.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	switch cfg.Index.Backend {
	case "memory":
	case "bolt":
		if strings.TrimSpace(cfg.Index.Path) == "" {
			return cfg, errors.New("INDEX_PATH must not be empty")
		}
	default:
		return cfg, errors.New("INDEX_BACKEND must be one of: memory, bolt")
	}
	if cfg.Chunk.TargetChars <= 0 || cfg.Chunk.MaxDuration <= 0 || cfg.Chunk.Overlap < 0 {
		return cfg, errors.New("CHUNK_TARGET_CHARS and CHUNK_MAX_DURATION must be positive, CHUNK_OVERLAP >= 0")
	}
	if cfg.Chunk.Overlap >= cfg.Chunk.MaxDuration {
		return cfg, errors.New("CHUNK_OVERLAP must be shorter than CHUNK_MAX_DURATION")
	}
	if cfg.Retrieval.TopK < 1 {
		return cfg, errors.New("TOP_K must be >= 1")
	}
	if cfg.Retrieval.MinScore < 0 || cfg.Retrieval.MinScore > 1 {
		return cfg, errors.New("MIN_SCORE must be between 0 and 1")
	}
	if cfg.Retrieval.SnippetMaxRunes <= 0 || cfg.Retrieval.MaxQuestionRunes <= 0 {
		return cfg, errors.New("SNIPPET_MAX_RUNES and MAX_QUESTION_RUNES must be > 0")
	}
	if cfg.Retrieval.QueryTimeout <= 0 {
		return cfg, errors.New("QUERY_TIMEOUT must be > 0")
	}
	switch cfg.Embedding.Provider {
	case "hashing", "openai":
	default:
		return cfg, errors.New("EMBED_PROVIDER must be one of: hashing, openai")
	}
	if cfg.Embedding.BatchSize < 1 || cfg.Embedding.Concurrency < 1 || cfg.Embedding.MaxAttempts < 1 {
		return cfg, errors.New("EMBED_BATCH_SIZE, EMBED_CONCURRENCY and EMBED_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Embedding.InitialBackoff <= 0 || cfg.Embedding.MaxBackoff < cfg.Embedding.InitialBackoff {
		return cfg, errors.New("EMBED_MAX_BACKOFF must be >= EMBED_INITIAL_BACKOFF > 0")
	}
	if cfg.Embedding.RPS < 0 || cfg.Embedding.Burst < 1 {
		return cfg, errors.New("EMBED_RPS must be >= 0 and EMBED_BURST >= 1")
	}
	if cfg.Generator.Enabled && cfg.Embedding.Provider != "openai" {
		return cfg, errors.New("GENERATOR_ENABLED requires EMBED_PROVIDER=openai")
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
