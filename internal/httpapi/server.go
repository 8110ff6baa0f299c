package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamfeed/server/internal/auth"
	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/maintenance"
	"github.com/streamfeed/server/internal/metrics"
	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/ratelimit"
	"github.com/streamfeed/server/internal/registry"
	"github.com/streamfeed/server/internal/sources"
)

const serviceName = "stream-feed-api"

// FeedService builds a user's merged feed
type FeedService interface {
	GetFeed(ctx context.Context, userID string) (*models.FeedResponse, error)
}

// ChannelResolver maps a channel url to its canonical id
type ChannelResolver interface {
	Resolve(ctx context.Context, raw string) (*sources.ResolvedChannel, error)
}

// Deps are the services the HTTP surface fronts. Metrics, Gatherer and
// ClientLimiter are optional. TrustProxy keys the client limiter on the last
// X-Forwarded-For hop instead of the peer address.
type Deps struct {
	Feed          FeedService
	Registry      *registry.Service
	Resolver      ChannelResolver
	Maintenance   *maintenance.Flag
	Auth          *auth.Middleware
	Metrics       metrics.Recorder
	Gatherer      prometheus.Gatherer
	ClientLimiter *ratelimit.Limiter
	TrustProxy    bool
	Logger        *logging.Logger
}

type Server struct {
	deps   Deps
	now    func() time.Time
	logger *logging.Logger
	server *http.Server
}

func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &Server{
		deps:   deps,
		now:    time.Now,
		logger: deps.Logger,
	}
}

// Handler builds the routed handler with the full middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)

	NewSourceAPI(s.deps.Registry, s.deps.Auth, s.logger).RegisterRoutes(mux)
	NewFeedAPI(s.deps.Feed, s.deps.Auth, s.logger).RegisterRoutes(mux)
	NewResolveAPI(s.deps.Resolver, s.deps.Auth, s.logger).RegisterRoutes(mux)
	NewAdminAPI(s.deps.Maintenance, s.deps.Auth, s.logger).RegisterRoutes(mux)

	if s.deps.Gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(s.deps.Gatherer))
	}

	var h http.Handler = mux
	h = s.rateLimitMiddleware(h)
	h = s.maintenanceMiddleware(h)
	h = corsMiddleware(h)
	h = s.logMiddleware(h)
	h = s.recoverMiddleware(h)
	return h
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("HTTP API server starting", logging.WithField("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": serviceName,
		"now":     s.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-ADMIN-TOKEN, X-USER-TOKEN, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maintenanceExempt lists the paths served while maintenance is on
var maintenanceExempt = map[string]bool{
	"/api/health":            true,
	"/api/admin/maintenance": true,
	"/metrics":               true,
}

func (s *Server) maintenanceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Maintenance == nil || maintenanceExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		on, err := s.deps.Maintenance.Enabled(r.Context())
		if err != nil {
			// Serve normally rather than lock everyone out on a cache outage.
			s.logger.Warn("Failed to read maintenance flag", logging.WithField("error", err))
		}
		if on {
			writeError(w, http.StatusServiceUnavailable, codeMaintenance, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.ClientLimiter == nil || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if !s.deps.ClientLimiter.Allow(clientIP(r, s.deps.TrustProxy)) {
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.deps.Metrics.RecordHTTPStatus(rec.status)
		s.logger.Debug("HTTP request", logging.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"durationMs": time.Since(start).Milliseconds(),
		}))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("Handler panic", logging.WithFields(map[string]interface{}{
					"path":  r.URL.Path,
					"panic": p,
				}))
				s.deps.Metrics.RecordHTTPStatus(http.StatusInternalServerError)
				writeError(w, http.StatusInternalServerError, codeInternal, "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// clientIP is the peer address. Behind a trusted proxy it is the hop that
// proxy appended, the last X-Forwarded-For entry; earlier entries are
// whatever the client sent.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
