// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. A .env file, when
// present, is loaded into the process environment first. Environment
// variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example OPENAI_API_KEY becomes
// openai_api_key in YAML.
//
// The local runners (Ollama, LM Studio) need no credentials, so the gateway
// starts with zero cloud keys configured.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
	"github.com/nulpointcorp/llm-dashboard/internal/providers"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel is one of: debug, info, warn, error. Default: info.
	LogLevel string

	Ollama    ProviderConfig
	LMStudio  ProviderConfig
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Google    ProviderConfig
	Mistral   ProviderConfig

	Timeouts TimeoutConfig

	// Redis backs CACHE_MODE=redis and the RPM limiter.
	Redis RedisConfig

	Cache CacheConfig

	CircuitBreaker CircuitBreakerConfig

	RateLimit RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any.
	CORSOrigins []string

	// ClickHouseDSN, when set, sends the generation log to ClickHouse
	// instead of the process log.
	ClickHouseDSN string
}

// ProviderConfig holds configuration for a single LLM provider.
type ProviderConfig struct {
	// APIKey is the provider credential. Unused by the local runners.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string

	// DefaultModel is used by the caller services when a request names no
	// model.
	DefaultModel string
}

type TimeoutConfig struct {
	// Generate bounds one transport call. Default: 60s.
	Generate time.Duration
	// Health bounds a reachability probe. Default: 5s.
	Health time.Duration
	// Models bounds a model listing. Default: 10s.
	Models time.Duration
	// HealthInterval is the period of background probes. Default: 30s.
	HealthInterval time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "memory" in-process, bounded by MaxEntries (default)
	//   "redis"  shared across replicas (requires REDIS_URL)
	//   "sqlite" persistent across restarts (SQLitePath)
	//   "none"   disabled
	Mode string

	// TTL is the lifetime of a cached result. Default: 1h.
	TTL time.Duration

	// MaxEntries caps memory and sqlite caches; 0 means unbounded.
	// Default: 10000.
	MaxEntries int

	// SweepInterval is the period of expired-entry sweeps. Default: 5m.
	SweepInterval time.Duration

	// SQLitePath is the database file for CACHE_MODE=sqlite.
	// Default: gateway-cache.db.
	SQLitePath string

	// ExcludeExact lists provider/model pairs whose results are never
	// cached. Example: ["ollama/llama3.2"]
	ExcludeExact []string

	// ExcludePatterns lists Go regular expressions matched against
	// "provider/model". Example: ["^openai/.*-preview$"]
	ExcludePatterns []string
}

// CircuitBreakerConfig controls per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled bool

	// ErrorThreshold is the number of errors within TimeWindow that trips
	// the breaker. Default: 5.
	ErrorThreshold int

	// TimeWindow is the rolling window over which errors are counted.
	// Default: 60s.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request. Default: 30s.
	HalfOpenTimeout time.Duration
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute per client IP.
	// 0 disables rate limiting. Requires REDIS_URL.
	RPMLimit int
}

// Load reads configuration from .env, config.yaml and the environment in
// the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("GENERATE_TIMEOUT", providers.GenerateTimeout.String())
	v.SetDefault("HEALTH_TIMEOUT", providers.HealthTimeout.String())
	v.SetDefault("MODELS_TIMEOUT", providers.ModelsTimeout.String())
	v.SetDefault("HEALTH_INTERVAL", "30s")

	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CACHE_MAX_ENTRIES", 10_000)
	v.SetDefault("CACHE_SWEEP_INTERVAL", "5m")
	v.SetDefault("CACHE_SQLITE_PATH", "gateway-cache.db")

	v.SetDefault("CB_ENABLED", false)
	v.SetDefault("CB_ERROR_THRESHOLD", providers.CBErrorThreshold)
	v.SetDefault("CB_TIME_WINDOW", providers.CBTimeWindow.String())
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", providers.CBHalfOpenTimeout.String())

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Ollama:    providerConfig(v, "OLLAMA", "", "OLLAMA_BASE_URL"),
		LMStudio:  providerConfig(v, "LMSTUDIO", "LMSTUDIO_API_KEY", "LMSTUDIO_BASE_URL"),
		OpenAI:    providerConfig(v, "OPENAI", "OPENAI_API_KEY", "OPENAI_BASE_URL"),
		Anthropic: providerConfig(v, "ANTHROPIC", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"),
		Google:    providerConfig(v, "GOOGLE", "GOOGLE_API_KEY", "GEMINI_BASE_URL"),
		Mistral:   providerConfig(v, "MISTRAL", "MISTRAL_API_KEY", "MISTRAL_BASE_URL"),

		Timeouts: TimeoutConfig{
			Generate:       v.GetDuration("GENERATE_TIMEOUT"),
			Health:         v.GetDuration("HEALTH_TIMEOUT"),
			Models:         v.GetDuration("MODELS_TIMEOUT"),
			HealthInterval: v.GetDuration("HEALTH_INTERVAL"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			MaxEntries:      v.GetInt("CACHE_MAX_ENTRIES"),
			SweepInterval:   v.GetDuration("CACHE_SWEEP_INTERVAL"),
			SQLitePath:      v.GetString("CACHE_SQLITE_PATH"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		CircuitBreaker: CircuitBreakerConfig{
			Enabled:         v.GetBool("CB_ENABLED"),
			ErrorThreshold:  v.GetInt("CB_ERROR_THRESHOLD"),
			TimeWindow:      v.GetDuration("CB_TIME_WINDOW"),
			HalfOpenTimeout: v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
		},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		CORSOrigins:   v.GetStringSlice("CORS_ORIGINS"),
		ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func providerConfig(v *viper.Viper, prefix, keyVar, urlVar string) ProviderConfig {
	pc := ProviderConfig{
		BaseURL:      v.GetString(urlVar),
		DefaultModel: v.GetString(prefix + "_DEFAULT_MODEL"),
	}
	if keyVar != "" {
		pc.APIKey = v.GetString(keyVar)
	}
	return pc
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be in 1..65535, got %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	for name, pc := range c.Providers() {
		if pc.BaseURL != "" && !providers.ValidBaseURL(pc.BaseURL) {
			return fmt.Errorf("config: %s base URL %q must be an absolute http(s) URL", name, pc.BaseURL)
		}
	}

	if c.Timeouts.Generate <= 0 || c.Timeouts.Health <= 0 || c.Timeouts.Models <= 0 || c.Timeouts.HealthInterval <= 0 {
		return fmt.Errorf(
			"config: GENERATE_TIMEOUT, HEALTH_TIMEOUT, MODELS_TIMEOUT and HEALTH_INTERVAL must be positive durations",
		)
	}

	switch c.Cache.Mode {
	case "memory", "redis", "sqlite", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: memory, redis, sqlite, none",
			c.Cache.Mode,
		)
	}
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}
	if c.Cache.Mode == "sqlite" && c.Cache.SQLitePath == "" {
		return fmt.Errorf("config: CACHE_SQLITE_PATH is required when CACHE_MODE=sqlite")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be a positive duration")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: CACHE_MAX_ENTRIES must be ≥ 0, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("config: CACHE_SWEEP_INTERVAL must be a positive duration")
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.ErrorThreshold < 1 {
			return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.CircuitBreaker.ErrorThreshold)
		}
		if c.CircuitBreaker.TimeWindow <= 0 || c.CircuitBreaker.HalfOpenTimeout <= 0 {
			return fmt.Errorf("config: CB_TIME_WINDOW and CB_HALF_OPEN_TIMEOUT must be positive durations")
		}
	}

	if c.RateLimit.RPMLimit < 0 {
		return fmt.Errorf("config: RPM_LIMIT must be ≥ 0, got %d", c.RateLimit.RPMLimit)
	}
	if c.RateLimit.RPMLimit > 0 && c.Redis.URL == "" {
		return fmt.Errorf("config: REDIS_URL is required when RPM_LIMIT > 0")
	}

	return nil
}

// Providers returns the per-provider settings keyed by provider name.
func (c *Config) Providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		llm.ProviderOllama:    c.Ollama,
		llm.ProviderLMStudio:  c.LMStudio,
		llm.ProviderOpenAI:    c.OpenAI,
		llm.ProviderAnthropic: c.Anthropic,
		llm.ProviderGoogle:    c.Google,
		llm.ProviderMistral:   c.Mistral,
	}
}

// DefaultModels returns the configured default model per provider, omitting
// providers that have none.
func (c *Config) DefaultModels() map[string]string {
	out := make(map[string]string)
	for name, pc := range c.Providers() {
		if pc.DefaultModel != "" {
			out[name] = pc.DefaultModel
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
