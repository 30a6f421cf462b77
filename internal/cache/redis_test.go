package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestRedisCache starts a miniredis server and returns a RedisCache backed
// by it.
func newTestRedisCache(t *testing.T, clk *fakeClock) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr(),
		Options{TTL: time.Hour, Now: clk.Now}, nil)
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newTestRedisCache(t, newFakeClock())

	if _, ok := c.Get(context.Background(), "nonexistent-key"); ok {
		t.Fatal("expected cache miss, got hit")
	}
}

func TestRedisCache_PutAndGet(t *testing.T) {
	clk := newFakeClock()
	c, mr := newTestRedisCache(t, clk)
	ctx := context.Background()

	if err := c.Put(ctx, "k", result("Hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Value != result("Hello") {
		t.Errorf("unexpected value %+v", got.Value)
	}
	if !got.StoredAt.Equal(clk.Now()) {
		t.Errorf("storedAt = %v, want %v", got.StoredAt, clk.Now())
	}

	if ttl := mr.TTL(redisKeyPrefix + "k"); ttl != time.Hour {
		t.Errorf("redis TTL = %v, want 1h", ttl)
	}
}

// TestRedisCache_RedisExpiry verifies that Redis itself drops the key once
// its TTL elapses.
func TestRedisCache_RedisExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t, newFakeClock())
	ctx := context.Background()

	_ = c.Put(ctx, "k", result("Hello"))
	mr.FastForward(time.Hour + time.Second)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("key should have expired after TTL")
	}
}

// TestRedisCache_AgeCheckOnRead verifies that an entry older than the TTL is
// never returned even if Redis has not expired it yet.
func TestRedisCache_AgeCheckOnRead(t *testing.T) {
	clk := newFakeClock()
	c, mr := newTestRedisCache(t, clk)
	ctx := context.Background()

	_ = c.Put(ctx, "k", result("Hello"))
	clk.Advance(time.Hour + time.Second)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("stale entry must be treated as absent")
	}
	if mr.Exists(redisKeyPrefix + "k") {
		t.Error("stale entry should be deleted on read")
	}
}

func TestRedisCache_GracefulDegradation(t *testing.T) {
	c, mr := newTestRedisCache(t, newFakeClock())
	ctx := context.Background()

	mr.Close()

	if _, ok := c.Get(ctx, "any-key"); ok {
		t.Fatal("expected miss when Redis is down")
	}
	if err := c.Put(ctx, "any-key", result("x")); err != nil {
		t.Fatalf("Put must return nil on Redis error, got: %v", err)
	}
}

func TestRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCacheFromURL(context.Background(), "not-a-valid-url", Options{}, nil)
	if err == nil {
		t.Fatal("expected error for invalid URL, got nil")
	}
}
