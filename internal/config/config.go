package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Platforms PlatformConfig
	Feed      FeedConfig
	Auth      AuthConfig
	Crypto    CryptoConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string
	MCPMode  bool
	// ClientRateInterval is the steady-state gap allowed between requests
	// from one client; zero disables client limiting
	ClientRateInterval time.Duration
	ClientRateBurst    int
	// TrustProxy keys client limiting on the X-Forwarded-For hop appended by
	// the proxy in front of the server. Off means the peer address.
	TrustProxy bool
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Backend       string // "memory", "redis" or "postgres"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// PlatformConfig holds upstream credentials and call policy
type PlatformConfig struct {
	YouTubeAPIKey      string
	TwitchClientID     string
	TwitchClientSecret string
	UpstreamTimeout    time.Duration
	UpstreamRetries    int
	// RateLimit is the minimum delay between requests to the same host
	RateLimit time.Duration
}

// FeedConfig holds feed build settings
type FeedConfig struct {
	TTLSec      int
	Concurrency int
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// AdminToken guards the admin endpoints; empty disables them
	AdminToken string
}

// CryptoConfig holds encryption configuration for tokens at rest
type CryptoConfig struct {
	// TokenKey is 32 bytes as hex or base64. Empty stores tokens unsealed.
	TokenKey string
}

// Load parses flags and environment variables to build configuration
func Load() *Config {
	cfg := &Config{}

	// Define flags with defaults
	httpAddr := flag.String("http", ":8080", "HTTP server address")
	mcpMode := flag.Bool("mcp", false, "Run in MCP stdio mode")
	cacheBackend := flag.String("cache-backend", "memory", "Cache backend: memory, redis or postgres")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	rateLimitDur := flag.Duration("rate-limit", 200*time.Millisecond, "Minimum delay between requests to same upstream host")
	upstreamTimeout := flag.Duration("upstream-timeout", 8*time.Second, "Deadline for each upstream call")
	upstreamRetries := flag.Int("upstream-retries", 2, "Retries for transient upstream failures")
	clientRate := flag.Duration("client-rate-limit", 100*time.Millisecond, "Minimum gap between requests from one client (0 disables)")
	clientBurst := flag.Int("client-rate-burst", 20, "Requests a client may burst above the rate")
	trustProxy := flag.Bool("trust-proxy", false, "Identify clients by X-Forwarded-For (only behind a reverse proxy)")
	feedTTL := flag.Int("feed-ttl", 90, "Seconds a merged feed is served from cache")
	feedConcurrency := flag.Int("feed-concurrency", 8, "Sources fetched in parallel per feed build")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	dbEnabled := flag.Bool("db", false, "Store users and sources in PostgreSQL")
	dbHost := flag.String("db-host", "localhost", "PostgreSQL host")
	dbPort := flag.Int("db-port", 5432, "PostgreSQL port")
	dbUser := flag.String("db-user", "postgres", "PostgreSQL user")
	dbPassword := flag.String("db-password", "postgres", "PostgreSQL password")
	dbName := flag.String("db-name", "stream_feed", "PostgreSQL database name")
	dbSSLMode := flag.String("db-sslmode", "disable", "PostgreSQL SSL mode")

	flag.Parse()

	// Apply environment variable overrides
	setString(httpAddr, "HTTP_ADDR")
	setBool(mcpMode, "MCP_MODE")
	setString(cacheBackend, "CACHE_BACKEND")
	setString(redisAddr, "REDIS_ADDR")
	setDuration(rateLimitDur, "RATE_LIMIT")
	setDuration(upstreamTimeout, "UPSTREAM_TIMEOUT")
	setInt(upstreamRetries, "UPSTREAM_RETRIES")
	setDuration(clientRate, "CLIENT_RATE_LIMIT")
	setInt(clientBurst, "CLIENT_RATE_BURST")
	setBool(trustProxy, "TRUST_PROXY")
	setInt(feedTTL, "FEED_TTL")
	setInt(feedConcurrency, "FEED_CONCURRENCY")
	setString(logLevel, "LOG_LEVEL")
	setBool(dbEnabled, "DB_ENABLED")
	setString(dbHost, "DB_HOST")
	setInt(dbPort, "DB_PORT")
	setString(dbUser, "DB_USER")
	setString(dbPassword, "DB_PASSWORD")
	setString(dbName, "DB_NAME")
	setString(dbSSLMode, "DB_SSLMODE")

	// A postgres cache needs the database even when -db was not given
	if *cacheBackend == "postgres" {
		*dbEnabled = true
	}

	cfg.Server = ServerConfig{
		HTTPAddr:           *httpAddr,
		MCPMode:            *mcpMode,
		ClientRateInterval: *clientRate,
		ClientRateBurst:    *clientBurst,
		TrustProxy:         *trustProxy,
	}

	redisDB := 0
	setInt(&redisDB, "REDIS_DB")
	cfg.Cache = CacheConfig{
		Backend:       *cacheBackend,
		RedisAddr:     *redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisPrefix:   getEnvOrDefault("REDIS_PREFIX", "stream-feed:"),
	}

	cfg.Database = DatabaseConfig{
		Enabled:  *dbEnabled,
		Host:     *dbHost,
		Port:     *dbPort,
		User:     *dbUser,
		Password: *dbPassword,
		Database: *dbName,
		SSLMode:  *dbSSLMode,
	}

	cfg.Logging = LoggingConfig{
		Level: *logLevel,
	}

	// Credentials come from the environment only
	cfg.Platforms = PlatformConfig{
		YouTubeAPIKey:      os.Getenv("YOUTUBE_API_KEY"),
		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
		UpstreamTimeout:    *upstreamTimeout,
		UpstreamRetries:    *upstreamRetries,
		RateLimit:          *rateLimitDur,
	}

	cfg.Feed = FeedConfig{
		TTLSec:      *feedTTL,
		Concurrency: *feedConcurrency,
	}

	cfg.Auth = AuthConfig{
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	}

	cfg.Crypto = CryptoConfig{
		TokenKey: os.Getenv("TOKEN_ENCRYPTION_KEY"),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	switch os.Getenv(key) {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}
