// Package server exposes the gateway and the caller services over HTTP
// using fasthttp and fasthttp/router.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
	"github.com/nulpointcorp/llm-dashboard/internal/metrics"
	"github.com/nulpointcorp/llm-dashboard/internal/services"
)

const routeKey = "route"

// Limiter is the per-client rate limit consulted before generation routes.
type Limiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// HealthSource is the part of *gateway.HealthMonitor the server needs.
type HealthSource interface {
	Probe(ctx context.Context, provider string) llm.ProviderHealth
	All() []llm.ProviderHealth
	Ready() bool
}

// ConfiguredChecker reports whether a provider can possibly serve requests.
type ConfiguredChecker interface {
	IsConfigured(name string) bool
}

type Options struct {
	Generator  services.Generator
	Health     HealthSource
	Configured ConfiguredChecker
	Services   services.Config

	// Limiter is optional; nil disables rate limiting.
	Limiter Limiter
	Metrics *metrics.Registry
	Logger  *slog.Logger

	CORSOrigins []string
	Version     string
}

// Server holds the HTTP handlers. It owns no goroutines until Serve.
type Server struct {
	gen        services.Generator
	health     HealthSource
	configured ConfiguredChecker
	translator *services.Translator
	chat       *services.Chat
	improver   *services.Improver
	summarizer *services.Summarizer
	timeout    time.Duration

	limiter Limiter
	metrics *metrics.Registry
	log     *slog.Logger
	cors    []string
	version string
	started time.Time

	handler fasthttp.RequestHandler
}

func New(opts Options) (*Server, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("server: generator is required")
	}
	if opts.Health == nil {
		return nil, fmt.Errorf("server: health source is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		gen:        opts.Generator,
		health:     opts.Health,
		configured: opts.Configured,
		translator: services.NewTranslator(opts.Generator, opts.Services),
		chat:       services.NewChat(opts.Generator, opts.Services),
		improver:   services.NewImprover(opts.Generator, opts.Services),
		summarizer: services.NewSummarizer(opts.Generator, opts.Services),
		timeout:    opts.Services.Timeout,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		log:        log,
		cors:       opts.CORSOrigins,
		version:    opts.Version,
		started:    time.Now(),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full handler including middleware.
func (s *Server) Handler() fasthttp.RequestHandler { return s.handler }

func (s *Server) routes() fasthttp.RequestHandler {
	r := router.New()

	limited := rateLimit(s.limiter, s.metrics, s.log)

	r.POST("/v1/generate", s.route("/v1/generate", limited(s.handleGenerate)))
	r.POST("/v1/translate", s.route("/v1/translate", limited(s.handleTranslate)))
	r.POST("/v1/chat", s.route("/v1/chat", limited(s.handleChat)))
	r.POST("/v1/improve", s.route("/v1/improve", limited(s.handleImprove)))
	r.POST("/v1/summarize", s.route("/v1/summarize", limited(s.handleSummarize)))

	r.GET("/v1/providers", s.route("/v1/providers", s.handleProviders))
	r.POST("/v1/providers/{name}/probe", s.route("/v1/providers/{name}/probe", s.handleProbe))

	r.GET("/health", s.route("/health", s.handleHealth))
	r.GET("/readiness", s.route("/readiness", s.handleReadiness))
	if s.metrics != nil {
		r.GET("/metrics", s.route("/metrics", s.metrics.Handler()))
	}

	return applyMiddleware(r.Handler,
		recovery(s.log),
		requestID,
		timing(s.metrics),
		corsHandler(s.cors),
		securityHeaders,
	)
}

// route tags the request with its pattern for metrics labels.
func (s *Server) route(pattern string, h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetUserValue(routeKey, pattern)
		h(ctx)
	}
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &fasthttp.Server{
		Handler:      s.handler,
		Name:         "llm-gateway",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
