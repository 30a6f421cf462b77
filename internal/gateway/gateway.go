// Package gateway is the synchronous generation core.
//
// Gateway.Generate validates a request, serves it from the result cache when
// possible, and otherwise coalesces identical concurrent requests into a
// single transport call whose outcome is broadcast to every waiter.
// Successful results are cached; failures never are and are never retried.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/nulpointcorp/llm-dashboard/internal/cache"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
	"github.com/nulpointcorp/llm-dashboard/internal/logger"
	"github.com/nulpointcorp/llm-dashboard/internal/metrics"
	"github.com/nulpointcorp/llm-dashboard/internal/providers"
)

// Source tells where a result came from.
type Source string

const (
	SourceHit    Source = "hit"
	SourceMiss   Source = "miss"
	SourceShared Source = "shared"
)

// Options holds optional collaborators. All fields may be left zero.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Registry

	// GenerationLog receives one entry per Generate call.
	GenerationLog *logger.Logger

	// Exclusions lists provider/model pairs whose results bypass the
	// cache. In-flight coalescing still applies to them.
	Exclusions *cache.ExclusionList

	// CircuitBreaker, when set, fails calls fast with ProviderUnavailable
	// while a provider's breaker is open.
	CircuitBreaker *CircuitBreaker

	// DefaultTimeout applies when Generate is called with timeout <= 0.
	// Default: providers.GenerateTimeout.
	DefaultTimeout time.Duration

	Now func() time.Time
}

// Outcome is a result together with how it was obtained.
type Outcome struct {
	Result llm.GenerationResult
	Source Source
}

// Gateway owns the in-flight table; the cache and registry are shared.
// Cancelling the context passed to New aborts every in-flight transport
// call.
type Gateway struct {
	registry *providers.Registry
	cache    cache.ResultCache
	flights  *flightTable

	baseCtx        context.Context
	log            *slog.Logger
	metrics        *metrics.Registry
	genLog         *logger.Logger
	exclusions     *cache.ExclusionList
	cb             *CircuitBreaker
	defaultTimeout time.Duration
	now            func() time.Time
}

// New creates a Gateway. A nil cache disables caching.
func New(ctx context.Context, reg *providers.Registry, c cache.ResultCache, opts Options) *Gateway {
	if ctx == nil {
		panic("gateway: context must not be nil")
	}
	if reg == nil {
		reg = providers.NewRegistry()
	}
	if c == nil {
		c = cache.Noop{}
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = providers.GenerateTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Gateway{
		registry:       reg,
		cache:          c,
		flights:        newFlightTable(),
		baseCtx:        ctx,
		log:            log,
		metrics:        opts.Metrics,
		genLog:         opts.GenerationLog,
		exclusions:     opts.Exclusions,
		cb:             opts.CircuitBreaker,
		defaultTimeout: timeout,
		now:            now,
	}
}

// Registry returns the provider registry the gateway dispatches to.
func (g *Gateway) Registry() *providers.Registry { return g.registry }

// Generate returns the result for req, waiting at most timeout for the
// transport. Every error is a *GatewayError.
func (g *Gateway) Generate(ctx context.Context, req llm.GenerationRequest, timeout time.Duration) (llm.GenerationResult, error) {
	out, err := g.GenerateDetailed(ctx, req, timeout)
	return out.Result, err
}

// GenerateDetailed is Generate that also reports the result Source.
func (g *Gateway) GenerateDetailed(ctx context.Context, req llm.GenerationRequest, timeout time.Duration) (Outcome, error) {
	start := g.now()
	req = req.Normalize()
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}

	transport, err := g.resolve(req)
	if err != nil {
		g.finish(req, Outcome{}, usage{}, err, start)
		return Outcome{}, err
	}

	key := req.Key()
	cacheable := !g.exclusions.Matches(req.Provider, req.Model)

	if cacheable {
		if cr, ok := g.cache.Get(ctx, key); ok {
			g.metrics.CacheGet(true)
			out := Outcome{Result: cr.Value, Source: SourceHit}
			g.finish(req, out, usage{output: cr.Value.TokenCount}, nil, start)
			return out, nil
		}
		g.metrics.CacheGet(false)
	} else {
		g.metrics.CacheGetBypass()
	}

	c, leader := g.flights.acquire(key)
	g.metrics.SetInflightKeys(g.flights.len())
	if leader {
		// The leader's work is detached so that its caller leaving early
		// never fails the joined waiters.
		go g.lead(context.WithoutCancel(ctx), key, c, req, transport, timeout, cacheable)
	} else {
		g.metrics.RecordShared(req.Provider)
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		err := &GatewayError{Kind: Canceled, Provider: req.Provider, Err: ctx.Err()}
		g.finish(req, Outcome{}, usage{}, err, start)
		return Outcome{}, err
	}

	if c.err != nil {
		g.finish(req, Outcome{}, usage{}, c.err, start)
		return Outcome{}, c.err
	}

	out := Outcome{Result: c.res, Source: c.source}
	u := c.usage
	if !leader {
		out.Source = SourceShared
		u = usage{output: c.res.TokenCount}
	}
	g.finish(req, out, u, nil, start)
	return out, nil
}

// resolve validates req and returns the transport that will serve it.
func (g *Gateway) resolve(req llm.GenerationRequest) (providers.Transport, error) {
	if req.Text == "" {
		return nil, newError(InvalidRequest, req.Provider, "text is empty")
	}
	if !llm.IsKnownProvider(req.Provider) {
		return nil, newError(InvalidRequest, req.Provider, "unknown provider %q", req.Provider)
	}
	if req.Model == "" {
		return nil, newError(InvalidRequest, req.Provider, "model is required")
	}
	if t := req.Params.Temperature; math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return nil, newError(InvalidRequest, req.Provider, "temperature must be a non-negative finite number")
	}
	if req.Params.MaxTokens < 0 {
		return nil, newError(InvalidRequest, req.Provider, "max_tokens must not be negative")
	}

	t, ok := g.registry.Get(req.Provider)
	if !ok || !t.Configured() {
		return nil, newError(ProviderUnconfigured, req.Provider, "provider %q is not configured", req.Provider)
	}
	return t, nil
}

// lead performs the single transport call for key and broadcasts its
// outcome. The cache is written before the call leaves the in-flight table,
// so any caller that misses the table afterwards finds the cached result.
func (g *Gateway) lead(
	ctx context.Context,
	key string,
	c *call,
	req llm.GenerationRequest,
	t providers.Transport,
	timeout time.Duration,
	cacheable bool,
) {
	defer g.metrics.SetInflightKeys(g.flights.len())
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("transport_panic",
				slog.String("provider", req.Provider),
				slog.String("model", req.Model),
				slog.Any("panic", r),
			)
			g.flights.release(key, c)
			c.finish(llm.GenerationResult{}, "", usage{}, &GatewayError{
				Kind:     TransportError,
				Provider: req.Provider,
				Err:      fmt.Errorf("transport panic: %v", r),
			})
		}
	}()

	// A previous leader may have populated the cache between our miss and
	// acquiring the table.
	if cacheable {
		if cr, ok := g.cache.Get(ctx, key); ok {
			g.flights.release(key, c)
			c.finish(cr.Value, SourceHit, usage{output: cr.Value.TokenCount}, nil)
			return
		}
	}

	if !g.cb.Allow(req.Provider) {
		g.metrics.RecordCircuitBreakerRejection(req.Provider)
		g.flights.release(key, c)
		c.finish(llm.GenerationResult{}, "", usage{}, newError(ProviderUnavailable, req.Provider, "circuit breaker open"))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(g.baseCtx, cancel)
	defer stop()

	start := g.now()
	resp, err := t.Generate(callCtx, buildTransportRequest(req))
	dur := g.now().Sub(start)

	if err != nil {
		gerr := classify(req.Provider, callCtx, err)
		g.recordBreaker(req.Provider, gerr.Kind)
		g.metrics.ObserveTransport(req.Provider, gerr.Kind.String(), dur)
		g.log.Warn("transport_error",
			slog.String("provider", req.Provider),
			slog.String("model", req.Model),
			slog.String("kind", gerr.Kind.String()),
			slog.Duration("duration", dur),
			slog.String("error", err.Error()),
		)

		g.flights.release(key, c)
		c.finish(llm.GenerationResult{}, "", usage{}, gerr)
		return
	}

	g.cb.RecordSuccess(req.Provider)
	g.metrics.ObserveTransport(req.Provider, "ok", dur)
	g.metrics.AddTokens(req.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	g.metrics.SetCircuitBreaker(req.Provider, int(g.cb.State(req.Provider)))

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	res := llm.GenerationResult{
		Text:       resp.Content,
		TokenCount: resp.Usage.OutputTokens,
		Model:      model,
	}

	if cacheable {
		putErr := g.cache.Put(ctx, key, res)
		g.metrics.CachePut(putErr)
		if putErr != nil {
			g.log.Warn("cache_put_failed",
				slog.String("provider", req.Provider),
				slog.String("error", putErr.Error()),
			)
		}
	}

	g.flights.release(key, c)
	c.finish(res, SourceMiss, usage{input: resp.Usage.InputTokens, output: resp.Usage.OutputTokens}, nil)
}

// recordBreaker feeds the breaker. Rejections prove the provider is up.
func (g *Gateway) recordBreaker(provider string, kind Kind) {
	switch kind {
	case Timeout, TransportError:
		g.cb.RecordFailure(provider)
	default:
		g.cb.RecordSuccess(provider)
	}
	g.metrics.SetCircuitBreaker(provider, int(g.cb.State(provider)))
}

// finish emits the per-call metrics, log line and generation log entry.
func (g *Gateway) finish(req llm.GenerationRequest, out Outcome, u usage, err error, start time.Time) {
	dur := g.now().Sub(start)
	outcome := "ok"
	source := string(out.Source)

	if err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) {
			outcome = ge.Kind.String()
		} else {
			outcome = "error"
		}
		source = "none"
		g.log.Debug("generate_failed",
			slog.String("provider", req.Provider),
			slog.String("model", req.Model),
			slog.String("kind", outcome),
			slog.String("error", err.Error()),
		)
	} else {
		g.log.Debug("generate_ok",
			slog.String("provider", req.Provider),
			slog.String("model", out.Result.Model),
			slog.String("source", source),
			slog.Duration("duration", dur),
		)
	}

	g.metrics.ObserveGenerate(req.Provider, source, outcome, dur)
	g.genLog.Log(logger.GenerationLog{
		Provider:     req.Provider,
		Model:        req.Model,
		Source:       source,
		Outcome:      outcome,
		InputTokens:  clampUint32(u.input),
		OutputTokens: clampUint32(u.output),
		LatencyMs:    clampUint32(int(dur.Milliseconds())),
		CreatedAt:    start,
	})
}

// buildTransportRequest flattens req into the message list every transport
// understands: system prompt (with the tone appended), prior turns, then the
// user text.
func buildTransportRequest(req llm.GenerationRequest) *providers.GenerateRequest {
	msgs := make([]providers.Message, 0, len(req.Context)+2)
	system := req.Params.System
	if tone := strings.TrimSpace(req.Params.Tone); tone != "" {
		if system != "" {
			system += " "
		}
		system += "Use a " + tone + " tone."
	}
	if system != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: system})
	}
	for _, turn := range req.Context {
		msgs = append(msgs, providers.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: req.Text})

	return &providers.GenerateRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	}
}

func clampUint32(v int) uint32 {
	switch {
	case v < 0:
		return 0
	case int64(v) > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(v)
	}
}
