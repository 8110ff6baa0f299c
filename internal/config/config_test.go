package config

import (
	"flag"
	"io"
	"os"
	"testing"
	"time"
)

func loadWithArgs(t *testing.T, args ...string) *Config {
	t.Helper()

	if len(args) == 0 {
		args = []string{"test"}
	}

	oldCommandLine := flag.CommandLine
	oldArgs := os.Args

	flag.CommandLine = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flag.CommandLine.SetOutput(io.Discard)
	os.Args = args

	t.Cleanup(func() {
		flag.CommandLine = oldCommandLine
		os.Args = oldArgs
	})

	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadWithArgs(t, "test")

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Backend = %q", cfg.Cache.Backend)
	}
	if cfg.Feed.TTLSec != 90 || cfg.Feed.Concurrency != 8 {
		t.Errorf("Feed = %+v", cfg.Feed)
	}
	if cfg.Platforms.UpstreamTimeout != 8*time.Second || cfg.Platforms.UpstreamRetries != 2 {
		t.Errorf("Platforms = %+v", cfg.Platforms)
	}
	if cfg.Database.Enabled {
		t.Error("database should be off by default")
	}
	if cfg.Server.TrustProxy {
		t.Error("TrustProxy should be off by default")
	}
}

func TestLoad_EnvOverridesFlags(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("FEED_TTL", "30")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ADMIN_TOKEN", "admin")
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "k")

	cfg := loadWithArgs(t, "test", "-http", ":7000", "-feed-ttl", "60")

	if cfg.Server.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want env value", cfg.Server.HTTPAddr)
	}
	if cfg.Feed.TTLSec != 30 {
		t.Errorf("TTLSec = %d, want 30", cfg.Feed.TTLSec)
	}
	if cfg.Platforms.UpstreamTimeout != 3*time.Second {
		t.Errorf("UpstreamTimeout = %v", cfg.Platforms.UpstreamTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Auth.AdminToken != "admin" {
		t.Errorf("Logging = %+v, Auth = %+v", cfg.Logging, cfg.Auth)
	}
	if cfg.Platforms.TwitchClientID != "cid" || cfg.Crypto.TokenKey != "k" {
		t.Errorf("Platforms = %+v, Crypto = %+v", cfg.Platforms, cfg.Crypto)
	}
}

func TestLoad_FlagsApplyWithoutEnv(t *testing.T) {
	cfg := loadWithArgs(t, "test", "-feed-concurrency", "3", "-cache-backend", "redis")

	if cfg.Feed.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Feed.Concurrency)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("Backend = %q, want redis", cfg.Cache.Backend)
	}
}

func TestLoad_PostgresCacheEnablesDatabase(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "postgres")

	cfg := loadWithArgs(t, "test")

	if !cfg.Database.Enabled {
		t.Error("postgres cache backend should enable the database")
	}
}

func TestLoad_InvalidNumbersKeepDefaults(t *testing.T) {
	t.Setenv("FEED_TTL", "soon")
	t.Setenv("REDIS_DB", "x")

	cfg := loadWithArgs(t, "test")

	if cfg.Feed.TTLSec != 90 {
		t.Errorf("TTLSec = %d, want default 90", cfg.Feed.TTLSec)
	}
	if cfg.Cache.RedisDB != 0 {
		t.Errorf("RedisDB = %d, want 0", cfg.Cache.RedisDB)
	}
}

func TestLoad_MCPMode(t *testing.T) {
	t.Run("flag", func(t *testing.T) {
		cfg := loadWithArgs(t, "test", "-mcp")
		if !cfg.Server.MCPMode {
			t.Fatal("expected MCPMode=true when -mcp is provided")
		}
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("MCP_MODE", "1")
		cfg := loadWithArgs(t, "test")
		if !cfg.Server.MCPMode {
			t.Fatal("expected MCPMode=true when MCP_MODE=1")
		}
	})
}

func TestLoad_TrustProxy(t *testing.T) {
	if cfg := loadWithArgs(t, "test", "-trust-proxy"); !cfg.Server.TrustProxy {
		t.Error("-trust-proxy flag not applied")
	}

	t.Setenv("TRUST_PROXY", "true")
	if cfg := loadWithArgs(t, "test"); !cfg.Server.TrustProxy {
		t.Error("TRUST_PROXY env not applied")
	}
}
