package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/streamfeed/server/internal/auth"
	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/sources"
)

// ResolveAPI maps pasted channel urls to channel ids
type ResolveAPI struct {
	resolver       ChannelResolver
	authMiddleware *auth.Middleware
	logger         *logging.Logger
}

func NewResolveAPI(resolver ChannelResolver, authMiddleware *auth.Middleware, logger *logging.Logger) *ResolveAPI {
	return &ResolveAPI{
		resolver:       resolver,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
}

func (api *ResolveAPI) RegisterRoutes(mux *http.ServeMux) {
	if api.resolver == nil || api.authMiddleware == nil {
		api.logger.Error("Resolve API routes not registered: resolver or authMiddleware is nil")
		return
	}
	mux.HandleFunc("/api/resolve/youtube", api.authMiddleware.RequireUser(api.handleResolveYouTube))
}

// handleResolveYouTube handles POST /api/resolve/youtube
func (api *ResolveAPI) handleResolveYouTube(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	ch, err := api.resolver.Resolve(ctx, req.URL)
	switch {
	case errors.Is(err, sources.ErrUnsupportedURL):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	case errors.Is(err, sources.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	case err != nil:
		api.logger.Warn("Channel resolve failed", logging.WithField("url", req.URL), logging.WithField("error", err.Error()))
		writeError(w, http.StatusBadGateway, codeUpstream, err.Error())
		return
	}

	resp := map[string]interface{}{
		"ok":        true,
		"channelId": ch.ChannelID,
	}
	if ch.Handle != "" {
		resp["handle"] = ch.Handle
	}
	writeJSON(w, http.StatusOK, resp)
}
