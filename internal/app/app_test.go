package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nulpointcorp/llm-dashboard/internal/config"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:     8080,
		LogLevel: "info",
		OpenAI:   config.ProviderConfig{APIKey: "sk-testkey123"},
		Cache: config.CacheConfig{
			Mode:       "memory",
			TTL:        time.Minute,
			MaxEntries: 100,
		},
		CORSOrigins: []string{"*"},
	}
}

func TestBuildRegistry_RegistersEveryProvider(t *testing.T) {
	reg, err := buildRegistry(context.Background(), testConfig())
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range llm.KnownProviders {
		if _, ok := reg.Get(p); !ok {
			t.Errorf("%s should be registered", p)
		}
	}
	if !reg.IsConfigured("openai") || !reg.IsConfigured("ollama") {
		t.Error("openai (key) and ollama (default URL) should be configured")
	}
	if reg.IsConfigured("anthropic") || reg.IsConfigured("google") {
		t.Error("providers without keys must not be configured")
	}
}

func TestNew_MemoryCache(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Gateway() == nil || a.Health() == nil {
		t.Fatal("gateway and health monitor must be initialised")
	}
	a.Close()
}

func TestNew_SQLiteCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Mode = "sqlite"
	cfg.Cache.SQLitePath = t.TempDir() + "/cache.db"

	a, err := New(context.Background(), cfg, nil, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Close()
}

func TestNew_RedisCacheAndLimiter(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Cache.Mode = "redis"
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.RateLimit.RPMLimit = 60

	a, err := New(context.Background(), cfg, nil, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.rdb == nil {
		t.Fatal("redis client should be connected")
	}
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Mode = "redis"
	cfg.Redis.URL = "redis://127.0.0.1:1"

	if _, err := New(context.Background(), cfg, nil, "test"); err == nil {
		t.Fatal("expected startup error when redis is unreachable")
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"redis://:secret@localhost:6379": "redis://***@localhost:6379",
		"redis://localhost:6379":         "redis://localhost:6379",
	}
	for in, want := range cases {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
