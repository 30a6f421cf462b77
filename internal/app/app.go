// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra      external connections (Redis when needed)
//  2. initProviders  provider transports and the registry
//  3. initServices   metrics, result cache, generation log
//  4. initGateway    gateway core, health monitor, HTTP server
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llm-dashboard/internal/cache"
	"github.com/nulpointcorp/llm-dashboard/internal/config"
	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/logger"
	"github.com/nulpointcorp/llm-dashboard/internal/metrics"
	"github.com/nulpointcorp/llm-dashboard/internal/providers"
	"github.com/nulpointcorp/llm-dashboard/internal/server"
)

const statsInterval = 15 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections, nil when not configured.
	rdb *redis.Client

	prom     *metrics.Registry
	registry *providers.Registry
	cache    cache.ResultCache
	genLog   *logger.Logger
	gw       *gateway.Gateway
	health   *gateway.HealthMonitor
	srv      *server.Server

	// closers run in reverse order on Close.
	closers   []func() error
	closeOnce sync.Once
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Gateway returns the generation core, for the CLI's one-shot commands.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Health returns the provider health monitor.
func (a *App) Health() *gateway.HealthMonitor { return a.health }

// Run starts the HTTP server and the background loops, and blocks until ctx
// is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.Any("configured_providers", a.registry.Configured()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.ListenAndServe(gctx, addr)
	})

	g.Go(func() error {
		a.health.Start(gctx)
		<-gctx.Done()
		a.health.Close()
		return nil
	})

	g.Go(func() error {
		cache.RunSweeper(gctx, a.cache, a.cfg.Cache.SweepInterval, a.log, a.prom)
		return nil
	})

	g.Go(func() error {
		a.reportStats(gctx)
		return nil
	})

	return g.Wait()
}

// reportStats exports counters that live outside the metrics registry.
func (a *App) reportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastDropped int64
	for {
		select {
		case <-ticker.C:
			dropped := a.genLog.DroppedLogs()
			if delta := dropped - lastDropped; delta > 0 {
				a.prom.AddLogDropped(delta)
				a.log.Warn("generation_log_dropped", slog.Int64("count", delta))
			}
			lastDropped = dropped
		case <-ctx.Done():
			return
		}
	}
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.health != nil {
			a.health.Close()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Error("close_failed", slog.String("error", err.Error()))
			}
		}
	})
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
