package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/streamfeed/server/internal/cache"
	"github.com/streamfeed/server/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{HTTPAddr: ":0"},
		Cache:   config.CacheConfig{Backend: "memory"},
		Logging: config.LoggingConfig{Level: "error"},
		Platforms: config.PlatformConfig{
			UpstreamTimeout: time.Second,
			UpstreamRetries: 0,
		},
		Feed: config.FeedConfig{TTLSec: 90, Concurrency: 4},
		Auth: config.AuthConfig{AdminToken: "admin"},
	}
}

func TestNew_MemoryWiring(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, ok := a.Cache.(*cache.MemoryStore); !ok {
		t.Errorf("Cache = %T, want *cache.MemoryStore", a.Cache)
	}
	if a.Registry == nil || a.Aggregator == nil || a.Broker == nil || a.MCPServer == nil {
		t.Fatal("New() left a component unwired")
	}

	h := a.HTTPServer.Handler()
	for _, path := range []string{"/api/health", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
}

func TestNew_BootstrapThenEmptyFeed(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	h := a.HTTPServer.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/bootstrap", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("bootstrap = %d", w.Code)
	}
	body := w.Body.String()
	i := strings.Index(body, `"readToken":"`)
	if i < 0 {
		t.Fatalf("no readToken in %s", body)
	}
	token := body[i+len(`"readToken":"`) : i+len(`"readToken":"`)+64]

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.Header.Set("X-USER-TOKEN", token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("feed = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Errorf("feed body = %s", w.Body.String())
	}
}

func TestNew_RedisUnavailableFallsBackToMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Cache.(*cache.MemoryStore); !ok {
		t.Errorf("Cache = %T, want memory fallback", a.Cache)
	}
}

func TestNew_RejectsBadTokenKey(t *testing.T) {
	cfg := testConfig()
	cfg.Crypto.TokenKey = "short"

	if _, err := New(cfg); err == nil {
		t.Error("New() should fail on an invalid TOKEN_ENCRYPTION_KEY")
	}
}

func TestUpstreamLimiter_BurstMatchesConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Platforms.RateLimit = time.Hour
	cfg.Feed.Concurrency = 6

	lim := upstreamLimiter(cfg)
	for i := 0; i < 6; i++ {
		if !lim.Allow("api.twitch.tv") {
			t.Fatalf("Allow() #%d refused inside the build burst", i+1)
		}
	}
	if lim.Allow("api.twitch.tv") {
		t.Error("Allow() should pace once the burst is spent")
	}
}

func TestShutdown_StopsClientLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ClientRateInterval = time.Millisecond
	cfg.Server.ClientRateBurst = 5

	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if a.clientLimiter == nil {
		t.Fatal("client limiter not wired")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	// A second Stop must not panic on the closed channel.
	a.clientLimiter.Stop()
}
