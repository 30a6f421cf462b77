// Package cache stores successful generation results keyed by request.
//
// Three backends implement ResultCache:
//   - MemoryCache: in-process, TTL plus optional max-entry cap.
//   - RedisCache: shared across replicas; Redis enforces the TTL.
//   - SQLiteCache: survives restarts on a single node.
//
// Every backend treats an entry older than the TTL as absent on Get, so a
// reader never observes a stale result even if a sweep has not yet run.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
	"github.com/nulpointcorp/llm-dashboard/internal/metrics"
)

const (
	DefaultTTL           = time.Hour
	DefaultMaxEntries    = 10_000
	DefaultSweepInterval = 5 * time.Minute
)

// ResultCache is a bounded-lifetime key→result store.
type ResultCache interface {
	// Get returns the live entry for key; expired entries are dropped and
	// reported as a miss.
	Get(ctx context.Context, key string) (llm.CachedResult, bool)
	// Put stores value with storedAt = now, replacing any previous entry.
	Put(ctx context.Context, key string, value llm.GenerationResult) error
	// SweepExpired removes every expired entry and returns how many it
	// removed.
	SweepExpired(ctx context.Context) int
}

// Options are shared by all backends.
type Options struct {
	TTL time.Duration
	// MaxEntries caps the number of entries; the oldest storedAt is evicted
	// first. Zero disables the cap.
	MaxEntries int
	// Now is the clock. Tests inject a fake one.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries < 0 {
		o.MaxEntries = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// expired reports whether an entry stored at storedAt is past ttl at now.
func expired(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) > ttl
}

// Noop never stores anything. Used when CACHE_MODE=none.
type Noop struct{}

func (Noop) Get(context.Context, string) (llm.CachedResult, bool)    { return llm.CachedResult{}, false }
func (Noop) Put(context.Context, string, llm.GenerationResult) error { return nil }
func (Noop) SweepExpired(context.Context) int                        { return 0 }

// RunSweeper calls c.SweepExpired every interval until ctx is cancelled.
// Backends that can count their entries also report the size to met.
func RunSweeper(ctx context.Context, c ResultCache, interval time.Duration, log *slog.Logger, met *metrics.Registry) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n := c.SweepExpired(ctx)
			met.CacheSweep(n)
			if n > 0 {
				log.Debug("cache_sweep", slog.Int("removed", n))
			}
			if l, ok := c.(interface{ Len() int }); ok {
				met.SetCacheEntries(l.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}
