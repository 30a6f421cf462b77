package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
	"github.com/nulpointcorp/llm-dashboard/internal/metrics"
	"github.com/nulpointcorp/llm-dashboard/internal/providers"
)

const DefaultHealthInterval = 30 * time.Second

// HealthOptions tunes a HealthMonitor. Zero values use the defaults.
type HealthOptions struct {
	// HealthTimeout bounds the reachability check. Default 5s.
	HealthTimeout time.Duration
	// ModelsTimeout bounds the model listing. Default 10s.
	ModelsTimeout time.Duration
	// Interval between background probes. Default 30s.
	Interval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

// HealthMonitor probes providers and keeps the latest snapshot of each.
// Probe failures are recorded in the snapshot, never returned as errors.
type HealthMonitor struct {
	registry      *providers.Registry
	healthTimeout time.Duration
	modelsTimeout time.Duration
	interval      time.Duration
	log           *slog.Logger
	metrics       *metrics.Registry
	now           func() time.Time

	mu   sync.RWMutex
	last map[string]llm.ProviderHealth

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewHealthMonitor(reg *providers.Registry, opts HealthOptions) *HealthMonitor {
	if reg == nil {
		reg = providers.NewRegistry()
	}
	m := &HealthMonitor{
		registry:      reg,
		healthTimeout: opts.HealthTimeout,
		modelsTimeout: opts.ModelsTimeout,
		interval:      opts.Interval,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
		last:          make(map[string]llm.ProviderHealth),
		done:          make(chan struct{}),
	}
	if m.healthTimeout <= 0 {
		m.healthTimeout = providers.HealthTimeout
	}
	if m.modelsTimeout <= 0 {
		m.modelsTimeout = providers.ModelsTimeout
	}
	if m.interval <= 0 {
		m.interval = DefaultHealthInterval
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Probe checks one provider now and stores the resulting snapshot.
func (m *HealthMonitor) Probe(ctx context.Context, provider string) llm.ProviderHealth {
	h := m.probe(ctx, provider)

	m.mu.Lock()
	m.last[provider] = h
	m.mu.Unlock()

	return h
}

// ProbeAll probes names concurrently, or every registered provider when
// names is empty. A slow provider never delays another one's snapshot.
func (m *HealthMonitor) ProbeAll(ctx context.Context, names ...string) map[string]llm.ProviderHealth {
	if len(names) == 0 {
		names = m.registry.Names()
	}

	out := make(map[string]llm.ProviderHealth, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := m.Probe(ctx, name)
			mu.Lock()
			out[name] = h
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// GetLast returns the latest snapshot without blocking on I/O.
func (m *HealthMonitor) GetLast(provider string) llm.ProviderHealth {
	m.mu.RLock()
	h, ok := m.last[provider]
	m.mu.RUnlock()
	if !ok {
		return llm.UnknownHealth(provider)
	}
	return h
}

// All returns the latest snapshot of every registered provider, sorted by
// name.
func (m *HealthMonitor) All() []llm.ProviderHealth {
	names := m.registry.Names()
	out := make([]llm.ProviderHealth, 0, len(names))
	for _, n := range names {
		out = append(out, m.GetLast(n))
	}
	return out
}

// Ready reports whether at least one provider was reachable on its last
// probe.
func (m *HealthMonitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.last {
		if h.Reachable {
			return true
		}
	}
	return false
}

// Start launches the background loop: an immediate ProbeAll, then one every
// Interval until ctx is done or Close is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.run(ctx)
	})
}

// Close stops the background loop and waits for it to exit.
func (m *HealthMonitor) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.ProbeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.ProbeAll(ctx)
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

func (m *HealthMonitor) probe(ctx context.Context, provider string) llm.ProviderHealth {
	start := m.now()
	h := llm.ProviderHealth{Provider: provider, Models: []string{}}

	t, ok := m.registry.Get(provider)
	switch {
	case !ok:
		h.Error = "provider not registered"
	case !t.Configured():
		h.Error = "provider not configured"
	default:
		m.check(ctx, t, &h)
	}

	h.LastCheckedAt = m.now()
	latency := h.LastCheckedAt.Sub(start).Milliseconds()
	h.LatencyMs = &latency

	m.metrics.ObserveProbe(provider, h.Reachable, h.LastCheckedAt.Sub(start))
	if h.Error != "" {
		m.log.Warn("probe_failed",
			slog.String("provider", provider),
			slog.Bool("reachable", h.Reachable),
			slog.String("error", h.Error),
		)
	} else {
		m.log.Debug("probe_ok",
			slog.String("provider", provider),
			slog.Int("models", len(h.Models)),
			slog.Int64("latency_ms", latency),
		)
	}
	return h
}

func (m *HealthMonitor) check(ctx context.Context, t providers.Transport, h *llm.ProviderHealth) {
	hctx, cancel := context.WithTimeout(ctx, m.healthTimeout)
	err := t.CheckHealth(hctx)
	cancel()
	if err != nil {
		h.Error = err.Error()
		return
	}
	h.Reachable = true

	mctx, cancel := context.WithTimeout(ctx, m.modelsTimeout)
	models, err := t.ListModels(mctx)
	cancel()
	if err != nil {
		h.Error = "list models: " + err.Error()
		return
	}
	if models != nil {
		h.Models = models
	}
}
