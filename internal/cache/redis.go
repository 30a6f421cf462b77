package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

const (
	defaultCacheTimeout = 500 * time.Millisecond
	redisKeyPrefix      = "llmgw:result:"
)

// redisEntry is the stored JSON shape. StoredAt travels with the value so the
// age check on read does not depend on Redis' own expiry clock.
type redisEntry struct {
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Model      string    `json:"model"`
	StoredAt   time.Time `json:"stored_at"`
}

// RedisCache is a Redis-backed ResultCache shared by every gateway replica.
//
// All operations degrade gracefully when Redis is unavailable:
//   - Get reports a miss on any error.
//   - Put logs and returns nil so a generation never fails on cache writes.
//
// MaxEntries is not enforced here; bound memory with Redis' maxmemory policy.
type RedisCache struct {
	client       *redis.Client
	opts         Options
	queryTimeout time.Duration
	log          *slog.Logger
}

// NewRedisCacheFromClient wraps an existing Redis client. The caller owns
// the client lifecycle.
func NewRedisCacheFromClient(cli *redis.Client, opts Options, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{
		client:       cli,
		opts:         opts.withDefaults(),
		queryTimeout: defaultCacheTimeout,
		log:          log,
	}
}

// NewRedisCacheFromURL parses redisURL, connects, verifies the connection
// with a PING and returns a RedisCache that owns the client.
func NewRedisCacheFromURL(ctx context.Context, redisURL string, opts Options, log *slog.Logger) (*RedisCache, error) {
	if ctx == nil {
		return nil, fmt.Errorf("cache: context must not be nil")
	}

	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}

	cli := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return NewRedisCacheFromClient(cli, opts, log), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (llm.CachedResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WarnContext(ctx, "cache_get_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return llm.CachedResult{}, false
	}

	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.WarnContext(ctx, "cache_decode_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return llm.CachedResult{}, false
	}

	if expired(e.StoredAt, c.opts.Now(), c.opts.TTL) {
		_ = c.client.Del(ctx, redisKeyPrefix+key).Err()
		return llm.CachedResult{}, false
	}

	return llm.CachedResult{
		Value:    llm.GenerationResult{Text: e.Text, TokenCount: e.TokenCount, Model: e.Model},
		StoredAt: e.StoredAt,
	}, true
}

// Put stores value with the cache TTL. Always returns nil.
func (c *RedisCache) Put(ctx context.Context, key string, value llm.GenerationResult) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	raw, err := json.Marshal(redisEntry{
		Text:       value.Text,
		TokenCount: value.TokenCount,
		Model:      value.Model,
		StoredAt:   c.opts.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, c.opts.TTL).Err(); err != nil {
		c.log.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// SweepExpired is a no-op: Redis evicts keys on its own once their TTL
// passes.
func (c *RedisCache) SweepExpired(context.Context) int { return 0 }

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
