package httpapi

import (
	"net/http"

	"github.com/streamfeed/server/internal/auth"
	"github.com/streamfeed/server/internal/logging"
)

// FeedAPI serves the merged per-user feed
type FeedAPI struct {
	feed           FeedService
	authMiddleware *auth.Middleware
	logger         *logging.Logger
}

func NewFeedAPI(feed FeedService, authMiddleware *auth.Middleware, logger *logging.Logger) *FeedAPI {
	return &FeedAPI{
		feed:           feed,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
}

func (api *FeedAPI) RegisterRoutes(mux *http.ServeMux) {
	if api.feed == nil || api.authMiddleware == nil {
		api.logger.Error("Feed API routes not registered: feed or authMiddleware is nil")
		return
	}
	mux.HandleFunc("/api/feed", api.authMiddleware.RequireUser(api.handleFeed))
}

// handleFeed handles GET /api/feed. Per-source failures are part of a 200
// body; only a failure to build the feed at all is a 500.
func (api *FeedAPI) handleFeed(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	userID := auth.GetUserID(r.Context())
	resp, err := api.feed.GetFeed(r.Context(), userID)
	if err != nil {
		api.logger.Error("Failed to build feed", logging.WithField("userId", userID), logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
