package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/streamfeed/server/internal/aggregator"
	"github.com/streamfeed/server/internal/auth"
	"github.com/streamfeed/server/internal/cache"
	"github.com/streamfeed/server/internal/config"
	"github.com/streamfeed/server/internal/crypto"
	"github.com/streamfeed/server/internal/database"
	"github.com/streamfeed/server/internal/httpapi"
	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/maintenance"
	"github.com/streamfeed/server/internal/mcp"
	"github.com/streamfeed/server/internal/metrics"
	"github.com/streamfeed/server/internal/ratelimit"
	"github.com/streamfeed/server/internal/registry"
	"github.com/streamfeed/server/internal/sources"
	"github.com/streamfeed/server/internal/tokens"
)

// App holds all application dependencies
type App struct {
	Config         *config.Config
	Logger         *logging.Logger
	Cache          cache.Store
	Registry       *registry.Service
	Broker         *tokens.Broker
	Aggregator     *aggregator.Aggregator
	AuthMiddleware *auth.Middleware
	HTTPServer     *httpapi.Server
	MCPServer      *mcp.Server
	metricsReg     *prometheus.Registry
	collector      *metrics.Collector
	db             *database.DB
	redis          *cache.RedisStore
	clientLimiter  *ratelimit.Limiter
}

// limiterCleanupInterval is how often idle client limiters are pruned
const limiterCleanupInterval = 5 * time.Minute

// New creates and initializes a new App instance
func New(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	// Initialize logger. Stdout carries the protocol in MCP mode.
	if cfg.Server.MCPMode {
		app.Logger = logging.NewWithWriter(logging.ParseLevel(cfg.Logging.Level), os.Stderr)
	} else {
		app.Logger = logging.New(logging.ParseLevel(cfg.Logging.Level))
	}

	// Initialize metrics
	app.metricsReg = prometheus.NewRegistry()
	app.metricsReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.collector = metrics.NewCollector(app.metricsReg)

	// Database first: both the registry and the postgres cache use it
	app.initDatabase()

	app.Cache = app.initCache()
	app.Registry = app.initRegistry()

	sealer, err := app.initSealer()
	if err != nil {
		return nil, err
	}

	upstreamHTTP := &http.Client{Timeout: cfg.Platforms.UpstreamTimeout}
	app.Broker = tokens.NewBroker(app.Cache, tokens.Config{
		ClientID:     cfg.Platforms.TwitchClientID,
		ClientSecret: cfg.Platforms.TwitchClientSecret,
		HTTPClient:   upstreamHTTP,
		Sealer:       sealer,
	}, app.Logger)

	deps := sources.Deps{
		HTTPClient: upstreamHTTP,
		Limiter:    upstreamLimiter(cfg),
		Metrics:    app.collector,
		Logger:     app.Logger,
		HTTP: sources.HTTPConfig{
			Timeout:       cfg.Platforms.UpstreamTimeout,
			Retries:       cfg.Platforms.UpstreamRetries,
			RetryInterval: sources.DefaultHTTPConfig().RetryInterval,
			UserAgent:     sources.DefaultHTTPConfig().UserAgent,
		},
	}

	if cfg.Platforms.YouTubeAPIKey == "" {
		app.Logger.Warn("YOUTUBE_API_KEY not set, YouTube channels are read from public feeds")
	}
	adapters := sources.NewSet(
		sources.NewYouTubeAdapter(sources.YouTubeConfig{APIKey: cfg.Platforms.YouTubeAPIKey}, app.Cache, deps),
		sources.NewTwitchAdapter(sources.TwitchConfig{}, app.Broker, deps),
	)
	resolver := sources.NewChannelResolver(sources.ResolverConfig{APIKey: cfg.Platforms.YouTubeAPIKey}, deps)

	app.Aggregator = aggregator.New(app.Registry, adapters, app.Cache, app.Logger,
		aggregator.WithFeedTTL(cfg.Feed.TTLSec),
		aggregator.WithConcurrency(cfg.Feed.Concurrency),
		aggregator.WithMetrics(app.collector),
		aggregator.WithPipeline(sources.DefaultPipeline()),
	)

	if cfg.Auth.AdminToken == "" {
		app.Logger.Warn("ADMIN_TOKEN not set, admin endpoints are disabled")
	}
	app.AuthMiddleware = auth.NewMiddleware(app.Registry, cfg.Auth.AdminToken, app.Logger)

	if cfg.Server.ClientRateInterval > 0 {
		app.clientLimiter = ratelimit.NewWithBurst(cfg.Server.ClientRateInterval, cfg.Server.ClientRateBurst)
		app.clientLimiter.StartCleanup(limiterCleanupInterval)
	}

	app.HTTPServer = httpapi.New(httpapi.Deps{
		Feed:          app.Aggregator,
		Registry:      app.Registry,
		Resolver:      resolver,
		Maintenance:   maintenance.NewFlag(app.Cache),
		Auth:          app.AuthMiddleware,
		Metrics:       app.collector,
		Gatherer:      app.metricsReg,
		ClientLimiter: app.clientLimiter,
		TrustProxy:    cfg.Server.TrustProxy,
		Logger:        app.Logger,
	})

	app.MCPServer = mcp.NewServer(mcp.NewHandler(app.Aggregator, app.Registry, resolver, app.Logger), app.Logger)

	return app, nil
}

// upstreamLimiter paces calls per upstream host. The bucket holds one slot
// per concurrent fetch so a single cold feed build goes out at once.
func upstreamLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.NewWithBurst(cfg.Platforms.RateLimit, cfg.Feed.Concurrency)
}

// Run starts the application in the appropriate mode
func (a *App) Run(ctx context.Context) error {
	if a.Config.Server.MCPMode {
		a.Logger.Info("Starting MCP server in stdio mode")
		if err := a.MCPServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	a.Logger.Info("Starting HTTP server", logging.WithField("addr", a.Config.Server.HTTPAddr))

	if err := a.HTTPServer.Start(a.Config.Server.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	if a.clientLimiter != nil {
		a.clientLimiter.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", logging.WithField("error", err.Error()))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error("Redis close error", logging.WithField("error", err.Error()))
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error("Database close error", logging.WithField("error", err.Error()))
		}
	}

	return nil
}

func (a *App) initDatabase() {
	if !a.Config.Database.Enabled {
		return
	}

	dbConfig := database.DefaultConfig()
	dbConfig.Host = a.Config.Database.Host
	dbConfig.Port = a.Config.Database.Port
	dbConfig.User = a.Config.Database.User
	dbConfig.Password = a.Config.Database.Password
	dbConfig.Database = a.Config.Database.Database
	dbConfig.SSLMode = a.Config.Database.SSLMode

	db, err := database.New(dbConfig)
	if err != nil {
		a.Logger.Warn("Failed to connect to PostgreSQL, using in-memory registry", logging.WithField("error", err.Error()))
		return
	}

	a.Logger.Info("Connected to PostgreSQL")
	if err := db.Migrate(context.Background()); err != nil {
		a.Logger.Warn("Failed to run migrations, using in-memory registry", logging.WithField("error", err.Error()))
		_ = db.Close()
		return
	}

	a.db = db
}

func (a *App) initCache() cache.Store {
	switch a.Config.Cache.Backend {
	case "redis":
		a.Logger.Info("Using Redis cache backend", logging.WithField("addr", a.Config.Cache.RedisAddr))
		redisStore, err := cache.NewRedis(cache.RedisConfig{
			Addr:     a.Config.Cache.RedisAddr,
			Password: a.Config.Cache.RedisPassword,
			DB:       a.Config.Cache.RedisDB,
			Prefix:   a.Config.Cache.RedisPrefix,
		})
		if err != nil {
			a.Logger.Error("Failed to connect to Redis, falling back to memory cache", logging.WithField("error", err.Error()))
			return cache.NewMemory()
		}
		a.redis = redisStore
		return redisStore
	case "postgres":
		if a.db == nil {
			a.Logger.Error("PostgreSQL unavailable, falling back to memory cache")
			return cache.NewMemory()
		}
		a.Logger.Info("Using PostgreSQL cache backend")
		return database.NewCacheStore(a.db)
	default:
		a.Logger.Info("Using in-memory cache backend")
		return cache.NewMemory()
	}
}

func (a *App) initRegistry() *registry.Service {
	if a.db == nil {
		a.Logger.Warn("Users and sources are kept in memory and lost on restart")
		mem := registry.NewMemoryStore()
		return registry.NewService(mem, mem, a.Logger)
	}
	return registry.NewService(database.NewSourceStore(a.db), database.NewUserStore(a.db), a.Logger)
}

func (a *App) initSealer() (*crypto.Sealer, error) {
	if a.Config.Crypto.TokenKey == "" {
		a.Logger.Warn("TOKEN_ENCRYPTION_KEY not set, access tokens are cached unsealed")
		return nil, nil
	}
	key, err := crypto.ParseKey(a.Config.Crypto.TokenKey)
	if err != nil {
		return nil, err
	}
	return crypto.NewSealer(key)
}
