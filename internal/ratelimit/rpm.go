// Package ratelimit implements a per-client requests-per-minute limit using
// Redis sliding window counters with an atomic Lua script.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is an atomic Lua script that implements a sliding window
// rate limiter using a sorted set.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds as string)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// Returns: 1 if allowed, 0 if rate limited.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))  -- window is in ns; PEXPIRE wants ms
		return 1
`)

const keyPrefix = "llmgw:ratelimit:rpm:"

// RPMLimiter limits each subject (client IP) to rpmLimit requests in any
// one-minute window.
type RPMLimiter struct {
	rdb      *redis.Client
	rpmLimit int
	log      *slog.Logger
}

// NewRPMLimiter creates a limiter. rpmLimit must be > 0; values ≤ 0 block
// every request.
func NewRPMLimiter(rdb *redis.Client, rpmLimit int, log *slog.Logger) *RPMLimiter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &RPMLimiter{rdb: rdb, rpmLimit: rpmLimit, log: log}
}

// Limit returns the configured requests per minute.
func (r *RPMLimiter) Limit() int { return r.rpmLimit }

// Allow reports whether subject may make another request now. Redis
// failures allow the request.
func (r *RPMLimiter) Allow(ctx context.Context, subject string) (bool, error) {
	if subject == "" {
		subject = "anonymous"
	}
	now := time.Now().UnixNano()
	window := time.Minute.Nanoseconds()

	result, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{keyPrefix + subject},
		now, window, r.rpmLimit,
	).Int()
	if err != nil {
		r.log.Warn("ratelimit_degraded", slog.String("error", err.Error()))
		return true, nil
	}

	return result == 1, nil
}
