package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llm-dashboard/internal/cache"
	"github.com/nulpointcorp/llm-dashboard/internal/config"
	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/logger"
	"github.com/nulpointcorp/llm-dashboard/internal/metrics"
	"github.com/nulpointcorp/llm-dashboard/internal/providers"
	anthropicprov "github.com/nulpointcorp/llm-dashboard/internal/providers/anthropic"
	googleprov "github.com/nulpointcorp/llm-dashboard/internal/providers/google"
	lmstudioprov "github.com/nulpointcorp/llm-dashboard/internal/providers/lmstudio"
	mistralprov "github.com/nulpointcorp/llm-dashboard/internal/providers/mistral"
	ollamaprov "github.com/nulpointcorp/llm-dashboard/internal/providers/ollama"
	openaiprov "github.com/nulpointcorp/llm-dashboard/internal/providers/openai"
	"github.com/nulpointcorp/llm-dashboard/internal/ratelimit"
	"github.com/nulpointcorp/llm-dashboard/internal/server"
	"github.com/nulpointcorp/llm-dashboard/internal/services"
)

// initInfra establishes optional external connections. Redis is needed for
// CACHE_MODE=redis and for the RPM limiter.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode != "redis" && a.cfg.RateLimit.RPMLimit == 0 {
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))
	rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.onClose(rdb.Close)
	a.log.Info("redis connected")

	return nil
}

// initProviders registers a transport for every known provider. Whether a
// provider can serve requests is decided per call by Configured.
func (a *App) initProviders(_ context.Context) error {
	reg, err := buildRegistry(a.baseCtx, a.cfg)
	if err != nil {
		return err
	}
	a.registry = reg
	a.log.Info("providers loaded",
		slog.Any("registered", reg.Names()),
		slog.Any("configured", reg.Configured()),
	)
	return nil
}

// initServices creates the metrics registry, the cache backend and the
// generation log.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	opts := cache.Options{TTL: a.cfg.Cache.TTL, MaxEntries: a.cfg.Cache.MaxEntries}

	switch a.cfg.Cache.Mode {
	case "memory":
		a.cache = cache.NewMemoryCache(opts)
		a.log.Info("cache backend: memory (in-process)", slog.Int("max_entries", opts.MaxEntries))

	case "redis":
		a.cache = cache.NewRedisCacheFromClient(a.rdb, opts, a.log)
		a.log.Info("cache backend: redis")

	case "sqlite":
		sc, err := cache.NewSQLiteCache(a.cfg.Cache.SQLitePath, opts)
		if err != nil {
			return fmt.Errorf("sqlite cache: %w", err)
		}
		a.cache = sc
		a.onClose(sc.Close)
		a.log.Info("cache backend: sqlite", slog.String("path", a.cfg.Cache.SQLitePath))

	case "none":
		a.cache = cache.Noop{}
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	var sink logger.Sink
	if a.cfg.ClickHouseDSN != "" {
		chSink, err := logger.NewClickHouseSink(ctx, a.cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("generation log: %w", err)
		}
		sink = chSink
		a.log.Info("generation log: clickhouse")
	}
	genLog, err := logger.New(a.baseCtx, a.log, sink)
	if err != nil {
		return fmt.Errorf("generation log: %w", err)
	}
	a.genLog = genLog
	a.onClose(genLog.Close)

	return nil
}

// initGateway wires the gateway, the health monitor and the HTTP server.
func (a *App) initGateway(_ context.Context) error {
	opts := gateway.Options{
		Logger:         a.log,
		Metrics:        a.prom,
		GenerationLog:  a.genLog,
		DefaultTimeout: a.cfg.Timeouts.Generate,
	}

	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := cache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		opts.Exclusions = el
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	if cb := a.cfg.CircuitBreaker; cb.Enabled {
		opts.CircuitBreaker = gateway.NewCircuitBreaker(gateway.CBConfig{
			ErrorThreshold:  cb.ErrorThreshold,
			TimeWindow:      cb.TimeWindow,
			HalfOpenTimeout: cb.HalfOpenTimeout,
		})
		a.log.Info("circuit breaker enabled", slog.Int("error_threshold", cb.ErrorThreshold))
	}

	a.gw = gateway.New(a.baseCtx, a.registry, a.cache, opts)

	a.health = gateway.NewHealthMonitor(a.registry, gateway.HealthOptions{
		HealthTimeout: a.cfg.Timeouts.Health,
		ModelsTimeout: a.cfg.Timeouts.Models,
		Interval:      a.cfg.Timeouts.HealthInterval,
		Logger:        a.log,
		Metrics:       a.prom,
	})

	srvOpts := server.Options{
		Generator:  a.gw,
		Health:     a.health,
		Configured: a.registry,
		Services: services.Config{
			Models:  a.cfg.DefaultModels(),
			Timeout: a.cfg.Timeouts.Generate,
		},
		Metrics:     a.prom,
		Logger:      a.log,
		CORSOrigins: a.cfg.CORSOrigins,
		Version:     a.version,
	}
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		srvOpts.Limiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit, a.log)
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	srv, err := server.New(srvOpts)
	if err != nil {
		return err
	}
	a.srv = srv

	return nil
}

// buildRegistry creates one transport per known provider from cfg.
func buildRegistry(ctx context.Context, cfg *config.Config) (*providers.Registry, error) {
	reg := providers.NewRegistry()

	reg.Register(ollamaprov.New(cfg.Ollama.BaseURL))
	reg.Register(lmstudioprov.New(cfg.LMStudio.BaseURL, cfg.LMStudio.APIKey))

	var openaiOpts []openaiprov.Option
	if cfg.OpenAI.BaseURL != "" {
		openaiOpts = append(openaiOpts, openaiprov.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	reg.Register(openaiprov.New(cfg.OpenAI.APIKey, openaiOpts...))

	var anthropicOpts []anthropicprov.Option
	if cfg.Anthropic.BaseURL != "" {
		anthropicOpts = append(anthropicOpts, anthropicprov.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	reg.Register(anthropicprov.New(cfg.Anthropic.APIKey, anthropicOpts...))

	var mistralOpts []mistralprov.Option
	if cfg.Mistral.BaseURL != "" {
		mistralOpts = append(mistralOpts, mistralprov.WithBaseURL(cfg.Mistral.BaseURL))
	}
	reg.Register(mistralprov.New(cfg.Mistral.APIKey, mistralOpts...))

	var googleOpts []googleprov.Option
	if cfg.Google.BaseURL != "" {
		googleOpts = append(googleOpts, googleprov.WithBaseURL(cfg.Google.BaseURL))
	}
	google, err := googleprov.New(ctx, cfg.Google.APIKey, googleOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	reg.Register(google)

	return reg, nil
}
