// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
//
// Every method is safe to call on a nil *Registry, which records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_generate_total{provider,source,outcome}
	generateTotal *prometheus.CounterVec

	// gateway_generate_duration_seconds{provider,source}
	generateDuration *prometheus.HistogramVec

	// gateway_transport_calls_total{provider,outcome}
	transportCalls *prometheus.CounterVec

	// gateway_transport_duration_seconds{provider}
	transportDuration *prometheus.HistogramVec

	// gateway_tokens_total{provider,direction}
	tokensTotal *prometheus.CounterVec

	// gateway_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// gateway_cache_entries
	cacheEntries prometheus.Gauge

	// gateway_inflight_keys
	inflightKeys prometheus.Gauge

	// gateway_singleflight_shared_total{provider}
	sharedTotal *prometheus.CounterVec

	// gateway_provider_health{provider}: 1=reachable, 0=down
	providerHealth *prometheus.GaugeVec

	// gateway_probe_duration_seconds{provider}
	probeDuration *prometheus.HistogramVec

	// gateway_circuit_breaker_state{provider}: 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// gateway_circuit_breaker_rejections_total{provider}
	cbRejections *prometheus.CounterVec

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// gateway_generation_log_dropped_total
	logDropped prometheus.Counter

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		generateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_generate_total",
				Help: "Generate calls by provider, result source (hit|miss|shared) and outcome",
			},
			[]string{"provider", "source", "outcome"},
		),

		generateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_generate_duration_seconds",
				Help:    "Generate latency as seen by the caller",
				Buckets: latencyBuckets,
			},
			[]string{"provider", "source"},
		),

		transportCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_transport_calls_total",
				Help: "Upstream generate calls actually issued",
			},
			[]string{"provider", "outcome"},
		),

		transportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_transport_duration_seconds",
				Help:    "Upstream generate call duration",
				Buckets: latencyBuckets,
			},
			[]string{"provider"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Token usage reported by upstream providers",
			},
			[]string{"provider", "direction"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_cache_entries",
			Help: "Entries currently held by the result cache",
		}),

		inflightKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_keys",
			Help: "Distinct request keys with an upstream call in flight",
		}),

		sharedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_singleflight_shared_total",
				Help: "Callers that joined an in-flight call instead of issuing their own",
			},
			[]string{"provider"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_provider_health",
				Help: "Provider reachability from the last probe (1=ok, 0=down)",
			},
			[]string{"provider"},
		),

		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_probe_duration_seconds",
				Help:    "Health probe duration",
				Buckets: latencyBuckets,
			},
			[]string{"provider"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"provider"},
		),

		cbRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_rejections_total",
				Help: "Generate calls rejected because the breaker was open",
			},
			[]string{"provider"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"route"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		logDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_generation_log_dropped_total",
			Help: "Generation log entries dropped because the buffer was full",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.generateTotal,
		r.generateDuration,
		r.transportCalls,
		r.transportDuration,
		r.tokensTotal,
		r.cacheOps,
		r.cacheEntries,
		r.inflightKeys,
		r.sharedTotal,
		r.providerHealth,
		r.probeDuration,
		r.circuitBreakerState,
		r.cbRejections,
		r.httpRequestsTotal,
		r.httpDuration,
		r.rateLimitTotal,
		r.logDropped,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// ObserveGenerate records one completed Generate call.
func (r *Registry) ObserveGenerate(provider, source, outcome string, dur time.Duration) {
	if r == nil {
		return
	}
	r.generateTotal.WithLabelValues(provider, source, outcome).Inc()
	r.generateDuration.WithLabelValues(provider, source).Observe(dur.Seconds())
}

// ObserveTransport records one upstream generate call.
func (r *Registry) ObserveTransport(provider, outcome string, dur time.Duration) {
	if r == nil {
		return
	}
	r.transportCalls.WithLabelValues(provider, outcome).Inc()
	r.transportDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

func (r *Registry) AddTokens(provider string, inputTokens, outputTokens int) {
	if r == nil {
		return
	}
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

func (r *Registry) CacheGet(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.cacheOps.WithLabelValues("get", "hit").Inc()
		return
	}
	r.cacheOps.WithLabelValues("get", "miss").Inc()
}

func (r *Registry) CacheGetBypass() {
	if r == nil {
		return
	}
	r.cacheOps.WithLabelValues("get", "bypass").Inc()
}

func (r *Registry) CachePut(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.cacheOps.WithLabelValues("put", "error").Inc()
		return
	}
	r.cacheOps.WithLabelValues("put", "ok").Inc()
}

func (r *Registry) CacheSweep(removed int) {
	if r == nil {
		return
	}
	r.cacheOps.WithLabelValues("sweep", "removed").Add(float64(removed))
}

func (r *Registry) SetCacheEntries(n int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(n))
}

func (r *Registry) SetInflightKeys(n int) {
	if r == nil {
		return
	}
	r.inflightKeys.Set(float64(n))
}

func (r *Registry) RecordShared(provider string) {
	if r == nil {
		return
	}
	r.sharedTotal.WithLabelValues(provider).Inc()
}

// ObserveProbe records a health probe result.
func (r *Registry) ObserveProbe(provider string, reachable bool, dur time.Duration) {
	if r == nil {
		return
	}
	v := 0.0
	if reachable {
		v = 1
	}
	r.providerHealth.WithLabelValues(provider).Set(v)
	r.probeDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

func (r *Registry) SetCircuitBreaker(provider string, state int) {
	if r == nil {
		return
	}
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func (r *Registry) RecordCircuitBreakerRejection(provider string) {
	if r == nil {
		return
	}
	r.cbRejections.WithLabelValues(provider).Inc()
}

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

func (r *Registry) RecordRateLimit(result string) {
	if r == nil {
		return
	}
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) AddLogDropped(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.logDropped.Add(float64(n))
}

func (r *Registry) SetBuildInfo(version string) {
	if r == nil {
		return
	}
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
